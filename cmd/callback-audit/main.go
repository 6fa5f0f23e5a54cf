package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/k1networth/cb-testclient/internal/audit"
	"github.com/k1networth/cb-testclient/internal/shared/config"
	"github.com/k1networth/cb-testclient/internal/shared/db"
	"github.com/k1networth/cb-testclient/internal/shared/httpx"
	"github.com/k1networth/cb-testclient/internal/shared/kafkax"
	"github.com/k1networth/cb-testclient/internal/shared/logger"
)

const appName = "callback-audit"

func main() {
	cfg := config.Load()
	log := logger.NewWithLevel(os.Stdout, appName, cfg.AppEnv, cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		log.Error("config_error", slog.String("err", "DATABASE_URL is empty"))
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pg, err := db.OpenPostgres(ctx, db.PostgresConfig{DatabaseURL: cfg.DatabaseURL})
	if err != nil {
		log.Error("db_open_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer func() {
		if err := pg.Close(); err != nil {
			log.Error("db_close_failed", slog.String("err", err.Error()))
		}
	}()

	if err := db.Migrate(ctx, pg, audit.Schema...); err != nil {
		log.Error("db_migrate_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}

	store := audit.NewStore(pg)
	reg := prometheus.NewRegistry()
	proc := audit.NewProcessor(log, store, reg)

	consumer := kafkax.NewConsumer(log, kafkax.ConsumerConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       cfg.KafkaTopic,
		GroupID:     cfg.KafkaGroupID,
		StartOffset: "first",
	})
	defer func() { _ = consumer.Close() }()

	// metrics and the audit lookup share one small server
	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           httpx.NewRouter(log, reg, &audit.Handler{Log: log, Store: store}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	go func() {
		log.Info("metrics_listen", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics_server_error", slog.String("err", err.Error()))
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		consumer.Run(ctx, proc.Handle)
	}()

	httpx.WaitAndShutdown(ctx, log, srv, 5*time.Second)
	<-done
}
