// Command gk-auth starts the authentication HTTP API and its gRPC health listener.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"

	"github.com/and161185/goph-auth/internal/config"
	"github.com/and161185/goph-auth/internal/crypto"
	"github.com/and161185/goph-auth/internal/limiter"
	"github.com/and161185/goph-auth/internal/mailer"
	"github.com/and161185/goph-auth/internal/migrate"
	"github.com/and161185/goph-auth/internal/model"
	"github.com/and161185/goph-auth/internal/repository"
	"github.com/and161185/goph-auth/internal/repository/memory"
	"github.com/and161185/goph-auth/internal/repository/postgres"
	grpcserver "github.com/and161185/goph-auth/internal/server/grpc"
	"github.com/and161185/goph-auth/internal/server/httpapi"
	"github.com/and161185/goph-auth/internal/service"
	"github.com/and161185/goph-auth/internal/token"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.Level())
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("http", cfg.HTTPAddr),
		zap.String("grpc", cfg.GRPCAddr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func newLogger(level zapcore.Level) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build()
}

// run wires the service and blocks until ctx is cancelled or a listener fails.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	store, lim, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	codec, err := token.NewCodec(token.Config{
		Keys: map[model.TokenType][]byte{
			model.TokenAccess:            []byte(cfg.AccessKey),
			model.TokenRefresh:           []byte(cfg.RefreshKey),
			model.TokenEmailVerification: cfg.ActionSigningKey(),
			model.TokenResetPassword:     cfg.ActionSigningKey(),
		},
		TTLs: map[model.TokenType]time.Duration{
			model.TokenAccess:            cfg.AccessTTL,
			model.TokenRefresh:           cfg.RefreshTTL,
			model.TokenEmailVerification: cfg.VerificationTTL,
			model.TokenResetPassword:     cfg.ResetTTL,
		},
		Issuer: cfg.Issuer,
	})
	if err != nil {
		return fmt.Errorf("token codec: %w", err)
	}

	hasher := crypto.NewHasher(cfg.BcryptCost)
	lc := service.NewLifecycle(store, codec, hasher, logger, service.WithMaxRefreshTokens(cfg.MaxRefreshTokens))
	flows, err := service.NewAuthFlows(store, lc, hasher, lim, mailer.NewLogMailer(logger), service.AuthConfig{
		RequireVerified: cfg.RequireVerified,
		Passwords:       service.DefaultPasswordPolicy,
		Links:           mailer.Links{BaseURL: cfg.BaseURL},
	}, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewRouter(httpapi.Options{
			Flows:          flows,
			Log:            logger,
			ExposeTokens:   cfg.ExposeTokens,
			AllowedOrigins: httpapi.ParseOrigins(cfg.CORSOrigins),
			RequestTimeout: cfg.RequestTimeout,
			Ping:           store.Ping,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var lis net.Listener
	if cfg.GRPCAddr != "" {
		if lis, err = net.Listen("tcp", cfg.GRPCAddr); err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	var gs *grpc.Server
	if lis != nil {
		health := grpcserver.NewHealth(store.Ping, logger)
		go health.Watch(ctx, cfg.ProbeInterval)
		gs = grpcserver.New(grpcserver.Options{Log: logger, Health: health, Reflection: cfg.Reflection})
		go func() {
			logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))
			if err := gs.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if gs != nil {
		stopGRPC(shutdownCtx, gs)
	}
	return runErr
}

func stopGRPC(ctx context.Context, gs *grpc.Server) {
	done := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		gs.Stop()
	}
}

// openStore picks PostgreSQL when a DSN is configured and the in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.Store, limiter.Limiter, func(), error) {
	policy := limiter.Policy{Window: cfg.LimitWindow, MaxFails: cfg.LimitMaxFails, BlockFor: cfg.LimitBlock}

	if cfg.DSN == "" {
		logger.Warn("no DSN configured, using the in-memory store")
		return memory.New(), limiter.NewMemory(policy), func() {}, nil
	}

	v, err := migrate.Up(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("migrate up: %w", err)
	}
	logger.Info("schema ready", zap.Int64("version", v))
	db, err := postgres.New(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open pool: %w", err)
	}
	return postgres.NewStore(db), limiter.NewPG(db.Pool, policy), db.Close, nil
}
