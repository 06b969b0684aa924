// Command evalauth serves the evalauth HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrEthical07/evalauth"
	"github.com/MrEthical07/evalauth/internal/config"
	"github.com/MrEthical07/evalauth/internal/httpapi"
	"github.com/MrEthical07/evalauth/internal/logging"
	promexport "github.com/MrEthical07/evalauth/metrics/export/prometheus"
	otelexport "github.com/MrEthical07/evalauth/metrics/export/otel"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file loaded:", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.New(cfg.Mode, os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("evalauth exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.close()

	builder := evalauth.New().
		WithConfig(cfg.Engine()).
		WithIdentityProvider(be.identities).
		WithLogger(logger).
		WithAuditSink(evalauth.NewSlogSink(logger))
	if be.redis != nil {
		builder = builder.WithRedis(be.redis)
	}
	if be.refresh != nil {
		builder = builder.WithRefreshStore(be.refresh)
	}
	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	if err := be.seed(ctx, engine, cfg.Seed); err != nil {
		return fmt.Errorf("seed identities: %w", err)
	}

	metricsHandler, shutdownMetrics, err := metricsHandler(cfg, engine)
	if err != nil {
		return err
	}
	defer shutdownMetrics()

	srv := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: httpapi.NewRouter(httpapi.Options{
			Engine:         engine,
			Identities:     be.identities,
			Logger:         logger,
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			RequestTimeout: cfg.Server.RequestTimeout,
			Metrics:        metricsHandler,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting HTTP server", slog.String("addr", srv.Addr), slog.String("backend", cfg.Store.Backend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if be.sweeper != nil && cfg.Store.SweepInterval > 0 {
		g.Go(func() error {
			sweepExpired(gctx, be.sweeper, cfg.Store.SweepInterval, logger)
			return nil
		})
	}
	return g.Wait()
}

// metricsHandler returns nil when metrics are disabled.
func metricsHandler(cfg config.Config, engine *evalauth.Engine) (http.Handler, func(), error) {
	noop := func() {}
	if !cfg.Metrics.Enabled {
		return nil, noop, nil
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	if cfg.Metrics.Exporter != "otel" {
		reg.MustRegister(promexport.NewCollector(engine))
		return handler, noop, nil
	}

	reader, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, noop, fmt.Errorf("otel prometheus reader: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	exp, err := otelexport.NewExporter(provider.Meter("github.com/MrEthical07/evalauth"), engine)
	if err != nil {
		return nil, noop, fmt.Errorf("otel exporter: %w", err)
	}
	return handler, func() {
		_ = exp.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(ctx)
	}, nil
}

type expiredSweeper interface {
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

func sweepExpired(ctx context.Context, s expiredSweeper, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := s.DeleteExpired(ctx, now)
			if err != nil {
				logger.WarnContext(ctx, "refresh token sweep failed", slog.Any("error", err))
				continue
			}
			if n > 0 {
				logger.InfoContext(ctx, "swept expired refresh tokens", slog.Int64("deleted", n))
			}
		}
	}
}
