// Package metrics exports engine counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "boardguard"

const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"

	SourceLock = "lock"
	SourceRule = "rule"
)

// Collector is safe to use as a nil pointer; every method becomes a no-op.
type Collector struct {
	registry *prometheus.Registry

	verificationAttempts *prometheus.CounterVec
	rejections           *prometheus.CounterVec
	rateLimitRejections  *prometheus.CounterVec
	banMatches           prometheus.Counter
	sweepDeleted         *prometheus.CounterVec
	externalCalls        *prometheus.HistogramVec
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewPedanticRegistry(),

		verificationAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verification_attempts_total",
			Help:      "Verification pipeline runs by attempt type and outcome.",
		}, []string{"type", "outcome"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Policy rejections by attempt type and rejection kind.",
		}, []string{"type", "kind"}),
		rateLimitRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_rejections_total",
			Help:      "Rate limit rejections by action and whether a lock or a rule fired.",
		}, []string{"action", "source"}),
		banMatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ban_matches_total",
			Help:      "Ban checks that matched an active ban.",
		}),
		sweepDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_deleted_total",
			Help:      "Rows removed by periodic sweeps.",
		}, []string{"table"}),
		externalCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "external_call_seconds",
			Help:      "Latency of CAPTCHA and IP reputation provider calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
	}

	c.registry.MustRegister(c.verificationAttempts)
	c.registry.MustRegister(c.rejections)
	c.registry.MustRegister(c.rateLimitRejections)
	c.registry.MustRegister(c.banMatches)
	c.registry.MustRegister(c.sweepDeleted)
	c.registry.MustRegister(c.externalCalls)

	return c
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

func (c *Collector) VerificationAttempt(attemptType, outcome string) {
	if c == nil {
		return
	}
	c.verificationAttempts.WithLabelValues(attemptType, outcome).Inc()
}

func (c *Collector) Rejection(attemptType, kind string) {
	if c == nil {
		return
	}
	c.rejections.WithLabelValues(attemptType, kind).Inc()
}

func (c *Collector) RateLimitRejection(action, source string) {
	if c == nil {
		return
	}
	c.rateLimitRejections.WithLabelValues(action, source).Inc()
}

func (c *Collector) BanMatch() {
	if c == nil {
		return
	}
	c.banMatches.Inc()
}

func (c *Collector) SweepDeleted(table string, rows int64) {
	if c == nil || rows <= 0 {
		return
	}
	c.sweepDeleted.WithLabelValues(table).Add(float64(rows))
}

// ObserveExternal records the time since start for provider.
func (c *Collector) ObserveExternal(provider string, start time.Time) {
	if c == nil {
		return
	}
	c.externalCalls.WithLabelValues(provider).Observe(time.Since(start).Seconds())
}
