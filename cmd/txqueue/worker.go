package main

import (
	"context"
	"errors"
	"expvar"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mickamy/txqueue/internal/config"
	"github.com/mickamy/txqueue/logging"
	"github.com/mickamy/txqueue/metrics"
	"github.com/mickamy/txqueue/migrations"
	"github.com/mickamy/txqueue/webhook"
)

func runWorker(ctx context.Context, cfg config.Config, zl *zap.Logger) error {
	logger := logging.NewZap(zl)

	be, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer be.close()
	if be.dialect == migrations.SQLite {
		// SQLite serialises writers; one connection avoids SQLITE_BUSY between the scheduler and dispatchers.
		be.db.SetMaxOpenConns(1)
	}

	prom, err := metrics.NewPrometheus(nil)
	if err != nil {
		return err
	}
	sink := metrics.Multi{prom, metrics.NewStats("txqueue")}

	tr, err := openTrigger(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer tr.close()

	consumer := webhook.NewConsumer[payload](cfg.WebhookURL, webhook.WithFallbackURL(cfg.WebhookFallbackURL))
	queue, err := be.newQueue(cfg, logger, sink, consumer, tr.publisher)
	if err != nil {
		return err
	}

	zl.Info("worker started",
		zap.String("queue", cfg.QueueName),
		zap.String("driver", cfg.DatabaseDriver),
		zap.String("trigger", cfg.Trigger))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return queue.Run(ctx) })
	g.Go(func() error { return tr.run(ctx, queue) })
	g.Go(func() error { return serveMetrics(ctx, cfg.MetricsAddr, zl) })
	return g.Wait()
}

func serveMetrics(ctx context.Context, addr string, zl *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/debug/vars", expvar.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() {
		zl.Info("metrics server listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zl.Error("metrics server shutdown failed", zap.Error(err))
		}
		return ctx.Err()
	}
}
