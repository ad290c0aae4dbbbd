package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexiqai/scribe-gateway/internal/config"
	"github.com/lexiqai/scribe-gateway/internal/extraction"
	"github.com/lexiqai/scribe-gateway/internal/observability"
	"github.com/lexiqai/scribe-gateway/internal/session"
	"github.com/lexiqai/scribe-gateway/internal/store"
	"github.com/lexiqai/scribe-gateway/internal/telephony"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	var logFile *observability.LogFileOptions
	if cfg.LogFile != "" {
		logFile = &observability.LogFileOptions{
			Filename:   cfg.LogFile,
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 14,
			Compress:   true,
		}
	}
	observability.InitLoggerWithFile(cfg.LogLevel, cfg.LogPretty, logFile)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("deepgram_model", cfg.DeepgramModel).
		Bool("extraction_enabled", cfg.ExtractionEnabled()).
		Bool("persistence_enabled", cfg.DatabaseURL != "").
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Scribe Gateway starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Persistence
	var st store.Store = store.NopStore{}
	if cfg.DatabaseURL != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		pg, err := store.NewPostgresStore(connectCtx, cfg.DatabaseURL)
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to database")
		}
		st = pg
	}
	defer st.Close()

	// Form extraction
	var extractor extraction.Extractor = extraction.NopExtractor{}
	var openaiExtractor *extraction.OpenAIExtractor
	if cfg.ExtractionEnabled() {
		openaiExtractor = extraction.NewOpenAIExtractor(cfg, logger)
		extractor = openaiExtractor
	} else {
		logger.Warn().Msg("OPENAI_API_KEY not set, form extraction disabled")
	}

	sessions := session.NewRegistry()
	deps := session.Deps{
		Config:    cfg,
		Extractor: extractor,
		Store:     st,
		NewClient: session.DeepgramClientFactory(cfg, logger),
		Sessions:  sessions,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/{language}", session.HandleBrowserWS(deps))
	mux.HandleFunc("/streams/twilio", telephony.HandleTwilioWS(deps))

	// Health check endpoints
	checks := readinessChecks(cfg, st, openaiExtractor)
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	if cfg.GRPCHealthPort != "" {
		grpcHealth := observability.NewGRPCHealthServer(checks, 15*time.Second)
		go func() {
			if err := grpcHealth.Serve(ctx, ":"+cfg.GRPCHealthPort); err != nil {
				logger.Error().Err(err).Msg("gRPC health server failed")
			}
		}()
	}

	// WebSocket connections are long-lived, so no read/write timeouts
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		base := cfg.PublicURL
		if base == "" {
			base = fmt.Sprintf("ws://localhost:%s", cfg.Port)
		}
		logger.Info().
			Str("port", cfg.Port).
			Str("browser_endpoint", base+"/ws/{language}").
			Str("twilio_endpoint", base+"/streams/twilio").
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Hijacked WebSocket connections are not covered by server.Shutdown.
	// Live sessions are flushed and persisted before the store closes.
	live := sessions.Len()
	if err := sessions.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Int("sessions", live).Msg("Sessions did not stop cleanly")
	} else {
		logger.Info().Int("sessions", live).Msg("Live sessions stopped")
	}

	logger.Info().Msg("Server exited gracefully")
}

// readinessChecks builds the dependency checks for /ready and gRPC health.
// Recognizer and model checks only validate configuration, to avoid paid
// API calls on every check.
func readinessChecks(cfg *config.Config, st store.Store, extractor *extraction.OpenAIExtractor) observability.Checks {
	checks := observability.Checks{
		"deepgram": func(ctx context.Context) (bool, error) {
			if cfg.DeepgramAPIKey == "" {
				return false, errors.New("DEEPGRAM_API_KEY not set")
			}
			return true, nil
		},
	}
	if extractor != nil {
		checks["openai"] = func(ctx context.Context) (bool, error) {
			return extractor.Healthy()
		}
	}
	if cfg.DatabaseURL != "" {
		checks["database"] = func(ctx context.Context) (bool, error) {
			if err := st.Ping(ctx); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return checks
}
