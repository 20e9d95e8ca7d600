package server

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/elskow/boardguard/internal/config"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTesting     = "testing"
)

// legacyEnv binds config keys to the environment names operators already use.
var legacyEnv = map[string]string{
	"database.url":                      "DATABASE_URL",
	"identity.permanent_pepper":         "PERMANENT_HASH_SALT",
	"identity.daily_salt":               "USER_ID_SALT",
	"fingerprint.disable_dedup":         "DEV_MODE_DISABLE_RATE_LIMIT",
	"captcha.turnstile.secret":          "TURNSTILE_SECRET_KEY",
	"captcha.hcaptcha.secret":           "HCAPTCHA_SECRET_KEY",
	"reputation.base_url":               "PROXYCHECK_API_URL",
	"reputation.api_key":                "PROXYCHECK_API_KEY",
	"reputation.enabled.level_up":       "PROXYCHECK_ENABLED_LEVEL_UP",
	"reputation.enabled.registration":   "PROXYCHECK_ENABLED_REGISTRATION",
	"reputation.enabled.create_board":   "PROXYCHECK_ENABLED_CREATE_BOARD",
	"reputation.enabled.create_post":    "PROXYCHECK_ENABLED_CREATE_POST",
	"reputation.enabled.create_comment": "PROXYCHECK_ENABLED_CREATE_COMMENT",
	"attestation.jwt_secret":            "JWT_SECRET",
	"encryption.key":                    "ENCRYPTION_KEY",
	"redis.addr":                        "REDIS_ADDR",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "9090")
	v.SetDefault("grpc.enable_reflection", false)
	v.SetDefault("grpc.max_receive_message_size", 4<<20)
	v.SetDefault("grpc.max_send_message_size", 4<<20)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.bind_to", "0.0.0.0:9401")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "")
	v.SetDefault("database.log_sql", false)

	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("identity.timezone", "Asia/Tokyo")

	v.SetDefault("fingerprint.full_window", 23*time.Hour)
	v.SetDefault("fingerprint.pair_window", time.Hour)

	v.SetDefault("captcha.turnstile.url", "https://challenges.cloudflare.com/turnstile/v0/siteverify")
	v.SetDefault("captcha.hcaptcha.url", "https://hcaptcha.com/siteverify")
	v.SetDefault("captcha.timeout", 10*time.Second)

	v.SetDefault("reputation.base_url", "https://proxycheck.io/v2")
	v.SetDefault("reputation.timeout", 5*time.Second)
	v.SetDefault("reputation.rate_limit", 10.0)
	v.SetDefault("reputation.burst", 20)
	v.SetDefault("reputation.cache_ttl", 10*time.Minute)
	for _, k := range []string{"level_up", "registration", "create_board", "create_post", "create_comment"} {
		v.SetDefault("reputation.enabled."+k, true)
	}

	v.SetDefault("attestation.token_expiration", 5*time.Minute)
	v.SetDefault("attestation.max_level", 3)
	v.SetDefault("attestation.linking_token_ttl", 10*time.Minute)

	v.SetDefault("rate_limit.sweep_interval", time.Hour)
}

func LoadConfig() (*config.AppConfig, error) {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = EnvDevelopment
	}

	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath("./config/server")
	setDefaults(v)

	v.SetEnvPrefix("BOARDGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, name := range legacyEnv {
		if err := v.BindEnv(key, "BOARDGUARD_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), name); err != nil {
			return nil, fmt.Errorf("error binding %s: %w", name, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg config.AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Load environment-specific configurations
	if envSettings := v.GetStringMap(fmt.Sprintf("grpc.%s", env)); len(envSettings) > 0 {
		if err := v.UnmarshalKey(fmt.Sprintf("grpc.%s", env), &cfg.GRPC); err != nil {
			return nil, fmt.Errorf("error unmarshaling env config: %w", err)
		}
	}
	cfg.Server.Development = env == EnvDevelopment

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
