package captcha

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/elskow/boardguard/internal/config"
	"github.com/elskow/boardguard/internal/metrics"
)

// NewModule returns the captcha module options
func NewModule() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				func(cfg *config.AppConfig, log *zap.Logger, collector *metrics.Collector) *Client {
					return NewClient(&cfg.Captcha, log, collector)
				},
				fx.As(new(Verifier)),
			),
		),
	)
}
