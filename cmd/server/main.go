package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/crosstalklabs/speech-relay/internal/config"
	"github.com/crosstalklabs/speech-relay/internal/mt"
	"github.com/crosstalklabs/speech-relay/internal/observability"
	"github.com/crosstalklabs/speech-relay/internal/server"
	"github.com/crosstalklabs/speech-relay/internal/stt"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("listen_addr", cfg.ListenAddr).
		Str("admin_addr", cfg.AdminAddr).
		Str("lang1", cfg.Lang1Label).
		Str("lang2", cfg.Lang2Label).
		Int("sample_rate", cfg.SampleRate).
		Int("bit_depth", cfg.BitDepth).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Speech Relay starting")

	// Inference engine clients
	transcriber := stt.NewClient(stt.ClientConfig{
		URL:               cfg.TranscribeURL,
		Timeout:           time.Duration(cfg.TranscribeTimeout) * time.Second,
		NoSpeechThreshold: cfg.NoSpeechThreshold,
		Retry:             cfg.RetryConfig(),
		BreakerFailures:   cfg.BreakerMaxFailures,
		BreakerReset:      time.Duration(cfg.BreakerResetSeconds) * time.Second,
	})
	translator := mt.NewClient(mt.ClientConfig{
		URL:             cfg.TranslateURL,
		Timeout:         time.Duration(cfg.TranslateTimeout) * time.Second,
		Retry:           cfg.RetryConfig(),
		BreakerFailures: cfg.BreakerMaxFailures,
		BreakerReset:    time.Duration(cfg.BreakerResetSeconds) * time.Second,
	})

	// Live transcript monitor (WebSocket observers)
	var monitor *observability.Monitor
	if cfg.MonitorEnabled {
		monitor = observability.NewMonitor()
	}

	// Admin HTTP endpoints
	mux := http.NewServeMux()
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"transcription": transcriber.Healthy,
		"translation":   translator.Healthy,
	}))
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}
	if monitor != nil {
		mux.Handle("/monitor", monitor.Handler())
		logger.Info().Msg("Live transcript monitor enabled at /monitor")
	}

	admin := &http.Server{
		Addr:         cfg.AdminAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	relay := server.New(server.Params{
		Config:      cfg,
		Transcriber: transcriber,
		Translator:  translator,
		Monitor:     monitor,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return relay.ListenAndServe(gctx)
	})
	g.Go(func() error {
		logger.Info().Str("addr", cfg.AdminAddr).Msg("Admin endpoints listening")
		if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	if cfg.MetricsEnabled {
		g.Go(func() error {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					observability.SetBreakerState("stt", int(transcriber.BreakerState()))
					observability.SetBreakerState("mt", int(translator.BreakerState()))
				}
			}
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return admin.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("Server exited with error")
	}
	logger.Info().Msg("Server exited gracefully")
}
