package config

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/elskow/boardguard/internal/apperr"
)

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	// Development exposes internal error detail to callers.
	Development bool `mapstructure:"development"`
}

type GRPCConfig struct {
	EnableReflection      bool `mapstructure:"enable_reflection"`
	MaxReceiveMessageSize int  `mapstructure:"max_receive_message_size"`
	MaxSendMessageSize    int  `mapstructure:"max_send_message_size"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	BindTo  string `mapstructure:"bind_to"`
	Path    string `mapstructure:"path"`
}

type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	Port     int    `mapstructure:"port"`
	SSLMode  string `mapstructure:"sslmode"`
	LogSQL   bool   `mapstructure:"log_sql"`
}

// DSN prefers an explicit URL over the discrete fields.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		c.Host,
		c.User,
		c.Password,
		c.Name,
		c.Port,
		c.SSLMode,
	)
}

type IdentityConfig struct {
	PermanentPepper string `mapstructure:"permanent_pepper"`
	DailySalt       string `mapstructure:"daily_salt"`
	Timezone        string `mapstructure:"timezone"`
}

type FingerprintConfig struct {
	DisableDedup bool          `mapstructure:"disable_dedup"`
	FullWindow   time.Duration `mapstructure:"full_window"`
	PairWindow   time.Duration `mapstructure:"pair_window"`
}

type CaptchaProviderConfig struct {
	URL    string `mapstructure:"url"`
	Secret string `mapstructure:"secret"`
}

type CaptchaConfig struct {
	Turnstile CaptchaProviderConfig `mapstructure:"turnstile"`
	HCaptcha  CaptchaProviderConfig `mapstructure:"hcaptcha"`
	Timeout   time.Duration         `mapstructure:"timeout"`
}

type ReputationToggles struct {
	LevelUp       bool `mapstructure:"level_up"`
	Registration  bool `mapstructure:"registration"`
	CreateBoard   bool `mapstructure:"create_board"`
	CreatePost    bool `mapstructure:"create_post"`
	CreateComment bool `mapstructure:"create_comment"`
}

type ReputationConfig struct {
	BaseURL   string            `mapstructure:"base_url"`
	APIKey    string            `mapstructure:"api_key"`
	Timeout   time.Duration     `mapstructure:"timeout"`
	RateLimit float64           `mapstructure:"rate_limit"`
	Burst     int               `mapstructure:"burst"`
	CacheTTL  time.Duration     `mapstructure:"cache_ttl"`
	Enabled   ReputationToggles `mapstructure:"enabled"`
}

type AttestationConfig struct {
	JWTSecret       string        `mapstructure:"jwt_secret"`
	TokenExpiration time.Duration `mapstructure:"token_expiration"`
	MaxLevel        int           `mapstructure:"max_level"`
	LinkingTokenTTL time.Duration `mapstructure:"linking_token_ttl"`
}

type RateLimitConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type EncryptionConfig struct {
	Key string `mapstructure:"key"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AppConfig struct {
	Server      ServerConfig      `mapstructure:"server"`
	GRPC        GRPCConfig        `mapstructure:"grpc"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Identity    IdentityConfig    `mapstructure:"identity"`
	Fingerprint FingerprintConfig `mapstructure:"fingerprint"`
	Captcha     CaptchaConfig     `mapstructure:"captcha"`
	Reputation  ReputationConfig  `mapstructure:"reputation"`
	Attestation AttestationConfig `mapstructure:"attestation"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Encryption  EncryptionConfig  `mapstructure:"encryption"`
	Redis       RedisConfig       `mapstructure:"redis"`
}

// Validate rejects configurations the process must not start with.
func (c *AppConfig) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"identity.permanent_pepper (PERMANENT_HASH_SALT)", c.Identity.PermanentPepper},
		{"identity.daily_salt (USER_ID_SALT)", c.Identity.DailySalt},
		{"attestation.jwt_secret (JWT_SECRET)", c.Attestation.JWTSecret},
		{"encryption.key (ENCRYPTION_KEY)", c.Encryption.Key},
	}
	for _, r := range required {
		if r.value == "" {
			return apperr.Configuration(r.name + " must be set")
		}
	}
	if c.Identity.PermanentPepper == c.Identity.DailySalt {
		return apperr.Configuration("permanent pepper and daily salt must differ")
	}
	if len(c.Encryption.Key) != 64 {
		return apperr.Configuration("encryption.key must be 64 hex characters")
	}
	if _, err := time.LoadLocation(c.Identity.Timezone); err != nil {
		return apperr.Configuration(fmt.Sprintf("invalid identity.timezone %q", c.Identity.Timezone))
	}
	return nil
}
