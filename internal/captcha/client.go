// Package captcha verifies Turnstile and hCaptcha tokens against their siteverify endpoints.
package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/elskow/boardguard/internal/apperr"
	"github.com/elskow/boardguard/internal/config"
	"github.com/elskow/boardguard/internal/metrics"
)

type Provider string

const (
	ProviderTurnstile Provider = "turnstile"
	ProviderHCaptcha  Provider = "hcaptcha"
)

const ReasonFailed = "Captcha verification failed. Please try again."

// Verifier checks a client-side captcha token.
type Verifier interface {
	Verify(ctx context.Context, provider Provider, token, remoteIP string) error
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

type Client struct {
	config  *config.CaptchaConfig
	http    *http.Client
	log     *zap.Logger
	metrics *metrics.Collector
}

func NewClient(cfg *config.CaptchaConfig, log *zap.Logger, collector *metrics.Collector) *Client {
	return NewClientWithHTTP(cfg, log, collector, &http.Client{Timeout: cfg.Timeout})
}

// NewClientWithHTTP lets callers supply the transport, mainly for tests.
func NewClientWithHTTP(cfg *config.CaptchaConfig, log *zap.Logger, collector *metrics.Collector, httpClient *http.Client) *Client {
	return &Client{
		config:  cfg,
		http:    httpClient,
		log:     log,
		metrics: collector,
	}
}

func (c *Client) provider(p Provider) (config.CaptchaProviderConfig, error) {
	switch p {
	case ProviderTurnstile:
		return c.config.Turnstile, nil
	case ProviderHCaptcha:
		return c.config.HCaptcha, nil
	default:
		return config.CaptchaProviderConfig{}, fmt.Errorf("unknown captcha provider %q", p)
	}
}

// Verify returns nil when the provider accepts token, a Rejected error when
// it refuses it, and an External error when the provider cannot be consulted.
func (c *Client) Verify(ctx context.Context, provider Provider, token, remoteIP string) error {
	if token == "" {
		return apperr.Validation("captcha token is required")
	}
	pc, err := c.provider(provider)
	if err != nil {
		return apperr.Internal("captcha provider", err)
	}
	if pc.Secret == "" {
		return apperr.Configuration(fmt.Sprintf("%s secret is not set", provider))
	}

	form := url.Values{}
	form.Set("secret", pc.Secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pc.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return apperr.Internal("build captcha request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.http.Do(req)
	c.metrics.ObserveExternal(string(provider), start)
	if err != nil {
		return apperr.External(fmt.Sprintf("contact %s", provider), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apperr.External(fmt.Sprintf("%s returned status %d", provider, resp.StatusCode), nil)
	}

	var body siteverifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return apperr.External(fmt.Sprintf("parse %s response", provider), err)
	}

	if !body.Success {
		c.log.Warn("captcha rejected",
			zap.String("provider", string(provider)),
			zap.Strings("error_codes", body.ErrorCodes))
		return apperr.Rejected(rejectionReason(body.ErrorCodes))
	}
	return nil
}

// rejectionReason carries the provider's error codes into the stored reason.
func rejectionReason(codes []string) string {
	return fmt.Sprintf("%s Error codes: %s", ReasonFailed, strings.Join(codes, ", "))
}
