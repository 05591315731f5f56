// Curriculum Designer - conversational curriculum drafting server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ashureev/curriculum-designer/internal/api"
	"github.com/ashureev/curriculum-designer/internal/assistant"
	"github.com/ashureev/curriculum-designer/internal/auth"
	"github.com/ashureev/curriculum-designer/internal/config"
	"github.com/ashureev/curriculum-designer/internal/credentials"
	"github.com/ashureev/curriculum-designer/internal/domain"
	"github.com/ashureev/curriculum-designer/internal/generation"
	"github.com/ashureev/curriculum-designer/internal/identity"
	"github.com/ashureev/curriculum-designer/internal/metrics"
	"github.com/ashureev/curriculum-designer/internal/middleware"
	"github.com/ashureev/curriculum-designer/internal/render"
	"github.com/ashureev/curriculum-designer/internal/session"
	"github.com/ashureev/curriculum-designer/internal/store"
	"github.com/ashureev/curriculum-designer/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	logLevel := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := logLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		slog.Warn("Unknown LOG_LEVEL, keeping info", "value", cfg.LogLevel)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "auth_mode", cfg.Auth.Mode)

	// Initialize storage.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	authn, err := newAuthenticator(cfg, repo)
	if err != nil {
		slog.Error("Failed to initialize credential store", "error", err)
		os.Exit(1)
	}

	// Initialize the generation client chain.
	collector := metrics.New()
	gemini, err := generation.NewGemini(generation.GeminiOptions{
		APIKey:       cfg.Gemini.APIKey,
		BaseURL:      cfg.Gemini.BaseURL,
		DefaultModel: cfg.Gemini.DefaultModel,
		Timeout:      cfg.Gemini.Timeout,
	})
	if err != nil {
		slog.Error("Failed to initialize Gemini client", "error", err)
		os.Exit(1)
	}
	var client generation.Client = gemini
	if cfg.Breaker.Enabled {
		client = generation.NewBreaker(client, generation.BreakerOptions{
			Name:             "gemini",
			MaxRequests:      cfg.Breaker.MaxRequests,
			Interval:         cfg.Breaker.Interval,
			Timeout:          cfg.Breaker.Timeout,
			FailureThreshold: cfg.Breaker.FailureThreshold,
			OnStateChange:    collector.SetBreakerState,
		})
		collector.SetBreakerState("gemini", 0)
	}
	client = generation.Instrument(client, collector, cfg.Gemini.DefaultModel)

	// Initialize services.
	sessions := session.NewManager(repo, cfg.Gemini.DefaultModel)
	sessions.OnCountChange(func(n int) { collector.ActiveSessions.Set(float64(n)) })

	transcript, err := assistant.NewTranscriptLogger(cfg.ConversationLog, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	svc := assistant.New(client, sessions, assistant.Options{
		NotesModel:   cfg.Gemini.NotesModel,
		Models:       cfg.Gemini.Models,
		Transcript:   transcript,
		OnCurriculum: collector.CurriculaGenerated.Inc,
	})
	defer func() {
		if closeErr := svc.Close(); closeErr != nil {
			slog.Error("Failed to flush conversation log", "error", closeErr)
		}
	}()

	exporter, err := render.NewExporter(cfg.PDFFontPath)
	if err != nil {
		slog.Error("Failed to load PDF font", "error", err)
		os.Exit(1)
	}

	limiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	conns := api.NewConnRegistry()

	// Initialize handlers.
	apiHandler := api.NewHandler(api.Options{
		Auth:          authn,
		Sessions:      sessions,
		Assistant:     svc,
		Limiter:       limiter,
		Conns:         conns,
		Exporter:      exporter,
		Models:        cfg.Gemini.Models,
		AllowedOrigin: cfg.FrontendURL,
		IsDev:         cfg.IsDevelopment(),
	})
	pages, err := web.New(web.Options{
		Auth:      authn,
		Sessions:  sessions,
		Assistant: svc,
		Limiter:   limiter,
		Conns:     conns,
		Exporter:  exporter,
		Models:    cfg.Gemini.Models,
		IsDev:     cfg.IsDevelopment(),
	})
	if err != nil {
		slog.Error("Failed to load page templates", "error", err)
		os.Exit(1)
	}

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(middleware.RealIP(cfg.TrustProxy))
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(collector.Middleware)
	r.Use(middleware.CORS(allowedOrigins(cfg)))
	r.Use(identity.Middleware(sessions, cfg.IsDevelopment()))

	r.Handle("/metrics", collector.Handler())
	apiHandler.RegisterRoutes(r)
	pages.RegisterRoutes(r)

	// Create server.
	// No WriteTimeout: chat requests wait on the generation service and
	// sockets stay open.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return sessions.RunReaper(gctx, cfg.Session.TTL, cfg.Session.SweepInterval)
	})

	g.Go(func() error {
		return limiter.Run(gctx)
	})

	g.Go(func() error {
		// Wait for shutdown signal or a failed worker.
		<-gctx.Done()
		stop()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// newAuthenticator builds the authenticator selected by AUTH_MODE. In multi
// mode the registry is the JSON credential file or the SQLite accounts table,
// seeded with the default account on first run.
func newAuthenticator(cfg *config.Config, repo *store.SQLiteStore) (*auth.Authenticator, error) {
	if cfg.Auth.Mode == config.AuthModeSingle {
		slog.Info("Single-account mode", "user", cfg.Auth.DefaultUsername)
		return auth.NewSingle(cfg.Auth.DefaultUsername, cfg.Auth.DefaultPassword), nil
	}

	seed := domain.Account{
		Username:     cfg.Auth.DefaultUsername,
		PasswordHash: auth.HashPassword(cfg.Auth.DefaultPassword),
	}

	if cfg.Auth.Backend == config.CredentialBackendSQLite {
		if err := repo.SeedAccount(context.Background(), seed); err != nil {
			return nil, err
		}
		slog.Info("Credential registry ready", "backend", cfg.Auth.Backend)
		return auth.NewMulti(repo), nil
	}

	fileStore, err := credentials.OpenFile(cfg.Auth.CredentialsPath, seed)
	if err != nil {
		return nil, err
	}
	slog.Info("Credential registry ready", "backend", cfg.Auth.Backend, "path", cfg.Auth.CredentialsPath, "accounts", fileStore.Len())
	return auth.NewMulti(fileStore), nil
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.FrontendURL == "" {
		return []string{"*"}
	}
	origins := strings.Split(cfg.FrontendURL, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	return origins
}
