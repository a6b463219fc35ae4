// agentmqd runs the queue as a standalone process: it owns the Redis
// connection, sweeps expired messages on a schedule and serves Prometheus
// metrics.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/Uh-X3L/agentmq/internal/config"
	"github.com/Uh-X3L/agentmq/internal/metrics"
	"github.com/Uh-X3L/agentmq/internal/queue"
	"github.com/Uh-X3L/agentmq/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	metricsAddr := flag.String("metrics-addr", ":9090", "listen address for /metrics")
	cleanupEvery := flag.Duration("cleanup-interval", 5*time.Minute, "expired-message sweep interval")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(*logLevel); err == nil {
		log.SetLevel(level)
	}

	// Missing .env is fine; the environment still applies.
	_ = godotenv.Load()

	cfg := config.Load()
	if *configPath != "" {
		loaded, err := config.LoadFile(*configPath)
		if err != nil {
			log.WithError(err).Fatal("Failed to load config file")
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}

	primary := store.NewRedis(store.RedisOptions{
		Addr:           cfg.Redis.Addr(),
		Password:       cfg.Redis.Password,
		DB:             cfg.Redis.DB,
		MaxConnections: cfg.Redis.MaxConnections,
		DefaultTTL:     cfg.Queue.DefaultTTL,
	})
	mgr := queue.New(cfg, primary, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !mgr.Health().ForceCheck(ctx) {
		log.WithField("addr", cfg.Redis.Addr()).Warn("Redis unreachable, starting in fallback mode")
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(metrics.NewCollector(mgr.Metrics()))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if mgr.Health().Healthy(r.Context()) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("fallback"))
	})
	srv := &http.Server{Addr: *metricsAddr, Handler: mux}
	go func() {
		log.WithField("addr", *metricsAddr).Info("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("Metrics server stopped")
		}
	}()

	// Audit log of queue lifecycle events.
	auditCh := mgr.Subscribe()
	go func() {
		for e := range auditCh {
			log.WithFields(logrus.Fields{
				"event":      e.Type,
				"message_id": e.MessageID,
				"type":       e.MessageType,
				"from":       e.FromAgent,
				"to":         e.ToAgent,
			}).Info("Queue event")
		}
	}()

	go func() {
		ticker := time.NewTicker(*cleanupEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := mgr.CleanupExpired(ctx)
				if err != nil {
					log.WithError(err).Warn("Cleanup sweep failed")
				} else if removed > 0 {
					log.WithField("removed", removed).Info("Cleanup sweep done")
				}
			}
		}
	}()

	log.WithFields(logrus.Fields{
		"redis":       cfg.Redis.Addr(),
		"compression": cfg.Queue.EnableCompression,
		"batching":    cfg.Batch.EnableBatching,
	}).Info("agentmqd started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.WithField("signal", sig.String()).Info("Shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Metrics server shutdown failed")
	}
	if err := mgr.Close(); err != nil {
		log.WithError(err).Warn("Queue shutdown reported errors")
	}
	log.Info("agentmqd stopped")
}
