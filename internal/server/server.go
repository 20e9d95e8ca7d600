package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/elskow/boardguard/internal/api"
	"github.com/elskow/boardguard/internal/config"
	"github.com/elskow/boardguard/internal/database"
	"github.com/elskow/boardguard/internal/metrics"
)

const (
	healthInterval = 10 * time.Second
	pingTimeout    = 2 * time.Second
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	config        *config.AppConfig
	log           *zap.Logger
	grpcServer    *grpc.Server
	health        *health.Server
	pinger        Pinger
	mapper        *api.Mapper
	metricsServer *http.Server

	// mu orders the health watcher's wg.Add in Start before Stop's wg.Wait.
	mu      sync.Mutex
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type Params struct {
	fx.In

	Config    *config.AppConfig
	Logger    *zap.Logger
	Manager   *database.Manager
	Collector *metrics.Collector
}

func NewServer(p Params) *Server {
	return newServer(p.Config, p.Logger, p.Manager, p.Collector)
}

func newServer(cfg *config.AppConfig, log *zap.Logger, pinger Pinger, collector *metrics.Collector) *Server {
	mapper := api.NewMapper(cfg.Server.Development)

	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(unaryInterceptor(log, mapper)),
		grpc.MaxRecvMsgSize(cfg.GRPC.MaxReceiveMessageSize),
		grpc.MaxSendMsgSize(cfg.GRPC.MaxSendMessageSize),
	}
	grpcServer := grpc.NewServer(opts...)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	if cfg.GRPC.EnableReflection {
		reflection.Register(grpcServer)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		ctx:        ctx,
		cancel:     cancel,
		config:     cfg,
		log:        log,
		grpcServer: grpcServer,
		health:     healthServer,
		pinger:     pinger,
		mapper:     mapper,
	}

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, collector.Handler())
		s.metricsServer = &http.Server{
			Addr:              cfg.Metrics.BindTo,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return s
}

// GRPC exposes the underlying server so transport adapters can register services.
func (s *Server) GRPC() *grpc.Server {
	return s.grpcServer
}

func (s *Server) Mapper() *api.Mapper {
	return s.mapper
}

// Start serves until Stop is called. It returns at once when Stop already ran.
func (s *Server) Start() error {
	if !s.startHealthWatch() {
		return nil
	}

	addr := fmt.Sprintf("%s:%s", s.config.Server.Host, s.config.Server.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	if s.metricsServer != nil {
		go func() {
			s.log.Info("Starting metrics listener",
				zap.String("address", s.metricsServer.Addr),
				zap.String("path", s.config.Metrics.Path))
			if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("metrics listener failed", zap.Error(err))
			}
		}()
	}

	s.log.Info("Starting gRPC server",
		zap.String("address", addr),
		zap.Object("config", serverConfigToField(s.config)),
	)

	// Serve reports ErrServerStopped when Stop won the race against it.
	if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("failed to serve: %w", err)
	}

	return nil
}

func (s *Server) startHealthWatch() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.wg.Add(1)
	go s.watchHealth(s.ctx)
	return true
}

func (s *Server) watchHealth(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		s.updateHealth(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// updateHealth reports SERVING only while the database answers a ping.
func (s *Server) updateHealth(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	next := healthpb.HealthCheckResponse_SERVING
	if err := s.pinger.Ping(pingCtx); err != nil {
		next = healthpb.HealthCheckResponse_NOT_SERVING
		s.log.Warn("database ping failed", zap.Error(err))
	}
	s.health.SetServingStatus("", next)
}

func serverConfigToField(config *config.AppConfig) zapcore.ObjectMarshaler {
	return zapcore.ObjectMarshalerFunc(func(enc zapcore.ObjectEncoder) error {
		enc.AddString("environment", os.Getenv("APP_ENV"))
		enc.AddBool("development", config.Server.Development)
		enc.AddBool("reflection_enabled", config.GRPC.EnableReflection)
		enc.AddInt("max_receive_size", config.GRPC.MaxReceiveMessageSize)
		enc.AddInt("max_send_size", config.GRPC.MaxSendMessageSize)
		enc.AddBool("metrics_enabled", config.Metrics.Enabled)
		return nil
	})
}

func (s *Server) Stop(ctx context.Context) {
	s.log.Info("shutting down gRPC server")
	s.mu.Lock()
	s.stopped = true
	s.cancel()
	s.mu.Unlock()
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	s.wg.Wait()

	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			s.log.Warn("metrics listener shutdown", zap.Error(err))
		}
	}
}

// unaryInterceptor converts engine errors to gRPC statuses and logs every
// failed call. Panics become Internal.
func unaryInterceptor(log *zap.Logger, mapper *api.Mapper) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic in handler",
					zap.String("method", info.FullMethod),
					zap.Any("panic", r),
					zap.Stack("stack"))
				resp, err = nil, mapper.Error(fmt.Errorf("panic: %v", r))
			}
		}()

		resp, err = handler(ctx, req)
		if err == nil {
			log.Debug("call completed",
				zap.String("method", info.FullMethod),
				zap.Duration("duration", time.Since(start)))
			return resp, nil
		}

		st := mapper.Status(err)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Stringer("code", st.Code()),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		}
		switch st.Code() {
		case codes.Internal, codes.Unavailable, codes.Unknown:
			log.Error("call failed", fields...)
		default:
			log.Info("call rejected", fields...)
		}
		return nil, st.Err()
	}
}
