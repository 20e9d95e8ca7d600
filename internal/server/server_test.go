package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/elskow/boardguard/internal/api"
	"github.com/elskow/boardguard/internal/apperr"
	"github.com/elskow/boardguard/internal/config"
	"github.com/elskow/boardguard/internal/metrics"
)

type fakePinger struct {
	err error
}

func (p *fakePinger) Ping(context.Context) error {
	return p.err
}

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		Server:  config.ServerConfig{Host: "127.0.0.1", Port: "0"},
		GRPC:    config.GRPCConfig{MaxReceiveMessageSize: 4 << 20, MaxSendMessageSize: 4 << 20},
		Metrics: config.MetricsConfig{Enabled: true, BindTo: "127.0.0.1:0", Path: "/metrics"},
	}
}

func TestServer_HealthFollowsDatabase(t *testing.T) {
	pinger := &fakePinger{}
	s := newServer(testConfig(), zap.NewNop(), pinger, metrics.NewCollector())
	ctx := context.Background()
	check := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := s.health.Check(ctx, &healthpb.HealthCheckRequest{})
		require.NoError(t, err)
		return resp.Status
	}

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(), "not serving before the first ping")

	s.updateHealth(ctx)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check())

	pinger.err = errors.New("connection refused")
	s.updateHealth(ctx)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())

	pinger.err = nil
	s.updateHealth(ctx)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check())
	assert.NotNil(t, s.metricsServer)
}

func TestServer_StopWhileStarting(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = false

	for i := 0; i < 20; i++ {
		s := newServer(cfg, zap.NewNop(), &fakePinger{}, metrics.NewCollector())
		done := make(chan error, 1)
		go func() { done <- s.Start() }()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.Stop(ctx)
		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("Start did not return after Stop")
		}
	}
}

func TestServer_StartAfterStopReturns(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = false
	s := newServer(cfg, zap.NewNop(), &fakePinger{}, metrics.NewCollector())

	s.Stop(context.Background())
	assert.NoError(t, s.Start())
	assert.Error(t, s.ctx.Err(), "health watcher context is cancelled")
}

func TestUnaryInterceptor(t *testing.T) {
	interceptor := unaryInterceptor(zap.NewNop(), api.NewMapper(false))
	info := &grpc.UnaryServerInfo{FullMethod: "/boardguard.Engine/Test"}

	tests := []struct {
		name    string
		handler grpc.UnaryHandler
		code    codes.Code
		message string
	}{
		{
			name:    "success",
			handler: func(context.Context, interface{}) (interface{}, error) { return "ok", nil },
			code:    codes.OK,
		},
		{
			name: "rejection keeps its reason",
			handler: func(context.Context, interface{}) (interface{}, error) {
				return nil, apperr.Rejected("captcha failed")
			},
			code:    codes.FailedPrecondition,
			message: "captcha failed",
		},
		{
			name: "internal detail hidden",
			handler: func(context.Context, interface{}) (interface{}, error) {
				return nil, apperr.Internal("ban lookup", errors.New("pq: timeout"))
			},
			code:    codes.Internal,
			message: api.MessageInternal,
		},
		{
			name: "panic recovered",
			handler: func(context.Context, interface{}) (interface{}, error) {
				panic("boom")
			},
			code:    codes.Internal,
			message: api.MessageInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := interceptor(context.Background(), nil, info, tt.handler)
			st := status.Convert(err)
			assert.Equal(t, tt.code, st.Code())
			if tt.code == codes.OK {
				assert.Equal(t, "ok", resp)
				return
			}
			assert.Nil(t, resp)
			assert.Equal(t, tt.message, st.Message())
		})
	}
}

func TestServer_MetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = false
	s := newServer(cfg, zap.NewNop(), &fakePinger{}, metrics.NewCollector())
	assert.Nil(t, s.metricsServer)
	assert.NotNil(t, s.GRPC())
}
