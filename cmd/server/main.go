package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hls-ftp-relay/internal/platform/config"
	"hls-ftp-relay/internal/platform/logger"
	"hls-ftp-relay/internal/platform/metrics"
	"hls-ftp-relay/internal/relay"
	"hls-ftp-relay/internal/sink"
	"hls-ftp-relay/internal/source"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	relayCfg := config.LoadRelay()

	log := logger.New(logLevel, logFormat)
	met := metrics.New()

	deps := relay.Dependencies{
		Sinks: sink.NewDialer(sink.Config{
			Timeout:     relayCfg.FTPTimeout,
			DialRetries: relayCfg.FTPDialRetries,
		}, log),
	}
	httpSource := source.NewHTTP(source.HTTPConfig{
		Timeout:   relayCfg.HTTPTimeout,
		UserAgent: "hls-ftp-relay",
	}, log)
	deps.Manifests = httpSource
	deps.Segments = httpSource

	registry := relay.NewRegistry(deps, relay.Options{
		PollFallback:    relayCfg.PollFallback,
		SweepInterval:   relayCfg.SweepInterval,
		RetentionWindow: relayCfg.RetentionWindow,
	}, log, met)
	svc := relay.NewService(registry)
	h := relay.NewHandler(svc, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met, "/metrics", "/healthz"))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveStreams(svc.ActiveStreams()) }).ServeHTTP(w, r)
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h.Mount(r)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"poll_fallback", relayCfg.PollFallback.String(),
		"sweep_interval", relayCfg.SweepInterval.String(),
		"retention_window", relayCfg.RetentionWindow.String(),
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
	}

	log.Info("stopping streams", "active", svc.ActiveStreams())
	if err := registry.Shutdown(ctx); err != nil {
		log.Error("streams did not stop in time", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
