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

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mmynk/splitchat/internal/ai"
	"github.com/mmynk/splitchat/internal/auth"
	"github.com/mmynk/splitchat/internal/command"
	"github.com/mmynk/splitchat/internal/config"
	"github.com/mmynk/splitchat/internal/history"
	"github.com/mmynk/splitchat/internal/ledger"
	"github.com/mmynk/splitchat/internal/middleware"
	"github.com/mmynk/splitchat/internal/service"
	"github.com/mmynk/splitchat/internal/session"
	"github.com/mmynk/splitchat/internal/storage"
	"github.com/mmynk/splitchat/internal/storage/memory"
	"github.com/mmynk/splitchat/internal/storage/sqlite"
	"github.com/mmynk/splitchat/pkg/logging"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if owners, err := history.Owners(ctx, store); err != nil {
		logger.Warn("Failed to count saved histories", "error", err)
	} else {
		logger.Info("Saved histories found", "sessions", len(owners))
	}

	// Without an API key the rule-based parser still works; freeform
	// messages get the "not understood" reply and scans report the
	// missing key in the chat.
	var (
		fallback  command.Interpreter
		extractor session.Extractor
	)
	if cfg.GeminiAPIKey != "" {
		gen, err := ai.NewGenAIGenerator(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return fmt.Errorf("failed to create Gemini client: %w", err)
		}
		client := ai.NewClient(gen, cfg.AI(), logger)
		fallback, extractor = client, client
		logger.Info("AI enabled", "primary_model", cfg.PrimaryModel, "fallback_model", cfg.FallbackModel)
	} else {
		logger.Warn("SPLITCHAT_GEMINI_API_KEY not set; AI fallback and receipt scans are disabled")
	}

	registry := session.NewRegistry(store,
		session.Deps{
			Executor:    command.NewExecutor(fallback, logger),
			Extractor:   extractor,
			Logger:      logger,
			ScanTimeout: cfg.ScanTimeout,
		},
		ledger.WithColorGenerator(ledger.NewRandomColors(uint64(time.Now().UnixNano()))),
		ledger.WithRates(cfg.TaxRate, cfg.TipRate),
		ledger.WithCurrency(cfg.Currency),
		ledger.WithPrimaryName(cfg.PrimaryUser),
	)

	if cfg.UsingDevSecret() {
		logger.Warn("Using the built-in JWT secret; set SPLITCHAT_JWT_SECRET in production")
	}
	tokens := auth.NewJWTManager(cfg.JWTSecret, cfg.TokenTTL)

	mux := http.NewServeMux()

	// Session check runs first so the logging interceptor sees the session ID.
	interceptors := connect.WithInterceptors(
		middleware.RequireSession(tokens, service.PublicProcedures...),
		middleware.LoggingInterceptor(logger),
	)
	billPath, billHandler := service.NewBillServiceHandler(service.NewBillService(registry, tokens, logger), interceptors)
	mux.Handle(billPath, billHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Add logging and CORS middleware
	handler := loggingMiddleware(logger, corsMiddleware(mux))

	// Wrap with h2c for HTTP/2 without TLS (required for Connect)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Connect server starting", "address", srv.Addr, "url", fmt.Sprintf("http://localhost%s", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", "error", err)
	}

	// Let in-flight receipt scans land before the store closes.
	registry.Wait()
	logger.Info("Server stopped", "sessions", registry.Len())
	return nil
}

func openStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	if cfg.UseInMemory {
		logger.Info("Storage initialized", "backend", "memory")
		return memory.New(), nil
	}
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	logger.Info("Storage initialized", "backend", "sqlite", "database", cfg.DBPath)
	return store, nil
}

// loggingMiddleware logs all incoming requests
func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		logger.Debug("Request received",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		)

		next.ServeHTTP(w, r)

		logger.Debug("Request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// corsMiddleware adds CORS headers for browser access
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Connect-Protocol-Version, Connect-Timeout-Ms")
		w.Header().Set("Access-Control-Expose-Headers", "Connect-Protocol-Version, Connect-Timeout-Ms")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
