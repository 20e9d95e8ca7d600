// Package reputation looks up IP addresses with the proxycheck.io API.
package reputation

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/elskow/boardguard/internal/apperr"
	"github.com/elskow/boardguard/internal/config"
	"github.com/elskow/boardguard/internal/identity"
	"github.com/elskow/boardguard/internal/metrics"
)

const providerName = "proxycheck"

// maxBodyBytes bounds how much of a response is read.
const maxBodyBytes = 1 << 20

// Checker returns a parsed report for one address.
type Checker interface {
	Lookup(ctx context.Context, ip string) (*Report, error)
}

type Client struct {
	config  *config.ReputationConfig
	http    *http.Client
	log     *zap.Logger
	metrics *metrics.Collector
	limiter *rate.Limiter
	hasher  *identity.Hasher
	cache   Cache
}

// NewClient builds a client. cache may be nil to disable caching; cached
// reports are keyed by the permanent hash of the address.
func NewClient(cfg *config.ReputationConfig, log *zap.Logger, collector *metrics.Collector, hasher *identity.Hasher, cache Cache) *Client {
	return NewClientWithHTTP(cfg, log, collector, hasher, cache, &http.Client{Timeout: cfg.Timeout})
}

func NewClientWithHTTP(cfg *config.ReputationConfig, log *zap.Logger, collector *metrics.Collector, hasher *identity.Hasher, cache Cache, httpClient *http.Client) *Client {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		config:  cfg,
		http:    httpClient,
		log:     log,
		metrics: collector,
		limiter: rate.NewLimiter(limit, burst),
		hasher:  hasher,
		cache:   cache,
	}
}

// Lookup queries the provider for ip, serving from cache when possible.
// Transport failures, bad statuses and provider-side errors are External.
func (c *Client) Lookup(ctx context.Context, ip string) (*Report, error) {
	if c.config.APIKey == "" {
		return nil, apperr.Configuration("proxycheck api key is not set")
	}

	key := c.cacheKey(ip)
	if report := c.cached(ctx, key); report != nil {
		return report, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, apperr.External("wait for proxycheck quota", err)
	}

	endpoint := fmt.Sprintf("%s/%s?key=%s", strings.TrimRight(c.config.BaseURL, "/"), url.PathEscape(ip), url.QueryEscape(c.config.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperr.Internal("build proxycheck request", err)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	c.metrics.ObserveExternal(providerName, start)
	if err != nil {
		return nil, apperr.External("contact proxycheck", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, apperr.External("read proxycheck response", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.log.Error("proxycheck returned non-success status",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body))
		return nil, apperr.External(fmt.Sprintf("proxycheck returned status %d", resp.StatusCode), nil)
	}

	report, err := ParseReport(body)
	if err != nil {
		return nil, apperr.External("parse proxycheck response", err)
	}
	if report.Failed() {
		return nil, apperr.External(fmt.Sprintf("proxycheck status %q", report.Status), nil)
	}

	if c.cache != nil && c.config.CacheTTL > 0 {
		if err := c.cache.Set(ctx, key, report.Raw, c.config.CacheTTL); err != nil {
			c.log.Warn("could not cache reputation report", zap.Error(err))
		}
	}
	return report, nil
}

func (c *Client) cached(ctx context.Context, key string) *Report {
	if c.cache == nil {
		return nil
	}
	raw, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.log.Warn("reputation cache unavailable", zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	report, err := ParseReport(raw)
	if err != nil {
		c.log.Warn("discarding unreadable cached reputation report", zap.Error(err))
		return nil
	}
	return report
}

// cacheKey is keyed by the pepper so a cache dump cannot be reversed by
// hashing the address space.
func (c *Client) cacheKey(ip string) string {
	return "reputation:" + c.hasher.Permanent(ip)
}
