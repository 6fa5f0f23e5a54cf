package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/k1networth/cb-testclient/internal/mirror"
	"github.com/k1networth/cb-testclient/internal/relay"
	"github.com/k1networth/cb-testclient/internal/shared/config"
	"github.com/k1networth/cb-testclient/internal/shared/httpx"
	"github.com/k1networth/cb-testclient/internal/shared/kafkax"
	"github.com/k1networth/cb-testclient/internal/shared/logger"
)

const appName = "webhook-relay"

func main() {
	cfg := config.Load()
	log := logger.NewWithLevel(os.Stdout, appName, cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var (
		bg sync.WaitGroup
		mr *mirror.Mirror
	)
	if cfg.MirrorEnabled {
		producer := kafkax.NewProducer(kafkax.ProducerConfig{
			Brokers:  cfg.KafkaBrokers,
			Topic:    cfg.KafkaTopic,
			ClientID: appName,
		})
		defer func() {
			if err := producer.Close(); err != nil {
				log.Error("kafka_producer_close_failed", slog.String("err", err.Error()))
			}
		}()

		mr = mirror.New(log, producer, cfg.MirrorQueue)
		mr.Instrument(reg)
		bg.Add(1)
		go func() {
			defer bg.Done()
			mr.Run(ctx)
		}()
	}

	opts := relay.Options{
		TTL:           cfg.RecordTTL,
		SweepInterval: cfg.SweepInterval,
		KeepAlive:     cfg.KeepAliveInterval,
		StreamBuffer:  cfg.StreamBuffer,
		JournalSize:   cfg.JournalSize,
	}
	if mr != nil {
		opts.Mirror = mr
	}
	svc := relay.NewService(log, opts)
	svc.Instrument(reg)

	bg.Add(1)
	go func() {
		defer bg.Done()
		svc.Run(ctx)
	}()

	relayH := &relay.Handler{
		Log:            log,
		Service:        svc,
		WaitTimeout:    cfg.WaitTimeout,
		MaxWaitTimeout: cfg.MaxWaitTimeout,
	}

	// long-poll and stream routes lift these deadlines per request
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpx.NewRouter(log, reg, relayH),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Info("http_listen",
		slog.String("addr", srv.Addr),
		slog.String("record_ttl", cfg.RecordTTL.String()),
		slog.String("sweep_interval", cfg.SweepInterval.String()),
		slog.Bool("mirror", cfg.MirrorEnabled),
	)

	go func() {
		err := srv.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Error("http_server_error", slog.String("err", err.Error()))
			stop()
		}
	}()

	httpx.WaitAndShutdown(ctx, log, srv, 10*time.Second, svc.Release)
	bg.Wait()
}
