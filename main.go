package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	"ms-attendance/internal/app"
	"ms-attendance/internal/auth"
	"ms-attendance/internal/config"
	"ms-attendance/internal/events/event_api"
	"ms-attendance/internal/logger"
	"ms-attendance/internal/participants/participant_api"
	"ms-attendance/internal/tickets/ticket_api"
	"ms-attendance/internal/utils"
)

// requestLogger writes one API log line per request.
func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.LogAPI(r.Method, r.URL.Path, strconv.Itoa(ww.Status()), time.Since(start).String())
		})
	}
}

// newRouter mounts every API route. With a nil verifier the API is open;
// otherwise each /api route requires a token carrying the admin role.
func newRouter(a *app.App, verifier auth.Verifier) chi.Router {
	cfg, log := a.Config, a.Logger

	tickets := &ticket_api.Handler{
		Importer:      a.Importer,
		Tickets:       a.Tickets,
		Events:        a.Events,
		Participation: a.Participation,
		QR:            a.QR,
		Clock:         a.Clock,
		Logger:        log,
		MaxUploadSize: cfg.Import.MaxUploadSize,
	}
	events := &event_api.Handler{DB: a.Events, Clock: a.Clock, Logger: log}
	participants := &participant_api.Handler{Service: a.ParticipantService, Logger: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := a.DB.PingContext(r.Context()); err != nil {
			utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("Database unavailable", err.Error()))
			return
		}
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("ok", nil))
	})

	r.Route("/api", func(r chi.Router) {
		if verifier != nil {
			r.Use(auth.Middleware(verifier, cfg.Auth.AdminRole, log))
		}
		r.Route("/tickets", tickets.Routes)
		r.Route("/events", events.Routes)
		r.Route("/participants", participants.Routes)
		log.Info("ROUTER", "Ticket, event and participant routes registered under /api")
	})

	return r
}

// newVerifier returns nil when authentication is switched off.
func newVerifier(ctx context.Context, cfg *config.Config, log *logger.Logger) (auth.Verifier, error) {
	if !cfg.Auth.Active() {
		log.Warn("AUTH", "Authentication disabled, API routes are open")
		return nil, nil
	}
	verifier, err := auth.NewOIDCVerifier(ctx, cfg.Auth.OIDCIssuer, cfg.Auth.ClientID)
	if err != nil {
		return nil, fmt.Errorf("set up OIDC verifier: %w", err)
	}
	log.Info("AUTH", fmt.Sprintf("API routes require role %q from %s", cfg.Auth.AdminRole, cfg.Auth.OIDCIssuer))
	return verifier, nil
}

func main() {
	log := logger.NewLogger()
	defer log.Close()

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("APP", "Starting attendance service")
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("APP", fmt.Sprintf("Initialization failed: %v", err))
	}
	defer a.Close()

	verifier, err := newVerifier(ctx, cfg, log)
	if err != nil {
		log.Fatal("AUTH", err.Error())
	}
	router := newRouter(a, verifier)

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("Attendance service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP", fmt.Sprintf("HTTP server error: %v", err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server shutdown failed: %v", err))
		return
	}
	log.Info("HTTP", "Attendance service shutdown complete")
}
