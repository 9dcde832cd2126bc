// Command authcore serves the authentication and authorization API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/httpapi"
	"github.com/MrEthical07/authcore/internal/logging"
	"github.com/MrEthical07/authcore/internal/postgres"
	"github.com/MrEthical07/authcore/internal/tracing"
	exportotel "github.com/MrEthical07/authcore/metrics/export/otel"
	"github.com/MrEthical07/authcore/metrics/export/prometheus"
)

func main() {
	// Variables already in the environment win over .env.
	_ = godotenv.Load(".env")

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "authcore: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	srvCfg, err := loadServerConfig()
	if err != nil {
		return err
	}
	engineCfg, err := authcore.LoadConfigFromEnv()
	if err != nil {
		return err
	}

	slogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logging.ParseLevel(srvCfg.LogLevel)}))
	logger := logging.NewSlogLogger(slogger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Enabled:     srvCfg.OTelEndpoint != "",
		Endpoint:    srvCfg.OTelEndpoint,
		ServiceName: srvCfg.OTelServiceName,
		SampleRatio: srvCfg.OTelSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn(flushCtx, "flush traces", "err", err)
		}
	}()

	db, err := postgres.Open(ctx, postgres.Config{Driver: srvCfg.DBDriver, URL: srvCfg.DatabaseURL})
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info(ctx, "database connected", "driver", srvCfg.DBDriver, "url", postgres.RedactURL(srvCfg.DatabaseURL))

	if srvCfg.MigrateOnStart {
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     srvCfg.RedisAddr,
		Password: srvCfg.RedisPassword,
		DB:       srvCfg.RedisDB,
	})
	defer rdb.Close()

	builder := authcore.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithUserStore(postgres.NewUserRepository(db)).
		WithPermissionSource(postgres.NewPermissionRepository(db)).
		WithResetNotifier(logNotifier{logger: logger}).
		WithLogger(logger)
	if engineCfg.Audit.Enabled {
		builder = builder.WithAuditSink(authcore.NewSlogSink(slogger.With("component", "audit")))
	}
	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	if err := engine.Ping(ctx); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	// Series reach a collector only once a MeterProvider is installed globally.
	otelMetrics, err := exportotel.NewOTelExporter(otel.GetMeterProvider().Meter(srvCfg.OTelServiceName), engine)
	if err != nil {
		return fmt.Errorf("register otel metrics: %w", err)
	}
	defer otelMetrics.Close()

	router := httpapi.NewRouter(engine, httpapi.Options{
		Logger:        logger,
		Metrics:       prometheus.NewPrometheusExporter(engine).Handler(),
		RefreshCookie: srvCfg.RefreshCookie,
	})

	srv := &http.Server{
		Addr:              srvCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "server starting", "addr", srvCfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), srvCfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info(shutdownCtx, "server exited")
	return nil
}

// logNotifier stands in for a mail provider. Tokens are only logged at
// debug level so production logs never carry them.
type logNotifier struct {
	logger logging.Logger
}

func (n logNotifier) SendPasswordReset(ctx context.Context, user authcore.PublicUser, token string) error {
	n.logger.Info(ctx, "password reset requested", "user_id", user.ID)
	n.logger.Debug(ctx, "password reset token", "user_id", user.ID, "token", token)
	return nil
}
