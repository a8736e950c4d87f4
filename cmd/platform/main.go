package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/telehealth/platform/internal/adapters/roster"
	"github.com/telehealth/platform/internal/availability"
	"github.com/telehealth/platform/internal/catalog"
	"github.com/telehealth/platform/internal/consultation"
	"github.com/telehealth/platform/internal/matching"
	"github.com/telehealth/platform/internal/notification"
	"github.com/telehealth/platform/internal/shared/auth"
	"github.com/telehealth/platform/internal/shared/config"
	"github.com/telehealth/platform/internal/shared/database"
	"github.com/telehealth/platform/internal/shared/events"
	"github.com/telehealth/platform/internal/shared/metrics"
	secmiddleware "github.com/telehealth/platform/internal/shared/middleware"
)

// App holds all application dependencies
type App struct {
	Config     *config.Config
	DB         *database.DB
	Bus        *events.Bus
	Registry   *availability.Registry
	Dispatcher *notification.Dispatcher
	Roster     *roster.Adapter
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	app := &App{Config: cfg}

	// Initialize database (optional - skip if not available)
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		fmt.Printf("Warning: Database not available: %v\n", err)
		fmt.Println("Running in limited mode without persistence...")
	} else {
		app.DB = db
		defer db.Close()

		// Run migrations
		if err := database.Migrate(ctx, db.Pool); err != nil {
			fmt.Printf("Warning: Migration failed: %v\n", err)
		}
	}

	// Initialize event bus (optional - skip if not available)
	bus, err := events.NewBus(ctx, cfg.EventStore)
	if err != nil {
		fmt.Printf("Warning: EventStore not available: %v\n", err)
		fmt.Println("Running without event streaming...")
	} else {
		app.Bus = bus
		defer bus.Close()
		fmt.Println("Event bus initialized")
	}

	// Availability registry: durable when the database is up, in-memory
	// otherwise
	var availRepo availability.Repository
	if app.DB != nil {
		availRepo = availability.NewPostgresRepository(app.DB.Pool)
	}
	app.Registry = availability.NewRegistry(availRepo, cfg.Registry)
	if err := app.Registry.Warm(ctx); err != nil {
		fmt.Printf("Warning: failed to warm availability cache: %v\n", err)
	}

	// Matching engine
	engine := matching.NewEngine(app.Registry, cfg.Matching)

	// Notification dispatcher
	app.Dispatcher = notification.NewDispatcher(notification.NewLogSender(), cfg.Notify)
	if err := app.Dispatcher.Start(ctx); err != nil {
		fmt.Printf("Warning: notification dispatcher failed to start: %v\n", err)
	} else {
		defer app.Dispatcher.Stop()
	}

	// Consultation lifecycle service
	var consultationRepo consultation.Repository
	if app.DB != nil {
		consultationRepo = consultation.NewPostgresRepository(app.DB.Pool)
	} else {
		consultationRepo = consultation.NewMemoryRepository()
	}
	consultationService := consultation.NewService(
		consultationRepo, app.Registry, engine, app.Dispatcher, app.Bus)

	// HIS roster sync (optional)
	if cfg.Roster.Enabled {
		app.Roster = roster.New(app.Registry, cfg.Roster)
		if err := app.Roster.Start(ctx); err != nil {
			fmt.Printf("Warning: roster adapter failed to start: %v\n", err)
			app.Roster = nil
		} else {
			fmt.Println("HIS roster sync started")
			defer app.Roster.Stop(context.Background())
		}
	}

	rateLimiter := secmiddleware.NewIPRateLimiter(100, 200)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(rateLimiter.Middleware)
	r.Use(metrics.Middleware)
	r.Use(corsMiddleware)

	// Health checks (unauthenticated)
	r.Get("/health", healthHandler(app))
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())

	// API info
	r.Get("/", infoHandler)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Server.Env == "production" {
			r.Use(auth.Middleware(cfg.Auth))
		}

		// Category catalog
		catalogHandler := catalog.NewHandler()
		r.Mount("/categories", catalogHandler.Routes())

		// Availability registry
		availHandler := availability.NewHandler(app.Registry, app.Bus)
		r.Mount("/doctors", availHandler.Routes())

		// Matching engine
		matchHandler := matching.NewHandler(engine)
		r.Mount("/matching", matchHandler.Routes())

		// Consultation lifecycle
		consultationHandler := consultation.NewHandler(consultationService)
		r.Mount("/consultations", consultationHandler.Routes())

		// Combined platform stats
		r.With(auth.RequireRole(auth.RoleAdmin)).
			Get("/stats", statsHandler(app.Registry, consultationService))
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		fmt.Println("\nShutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			fmt.Printf("Server shutdown error: %v\n", err)
		}
		close(done)
	}()

	fmt.Println("============================================")
	fmt.Println("Telehealth Consultation Platform")
	fmt.Println("============================================")
	fmt.Printf("Environment:    %s\n", cfg.Server.Env)
	fmt.Printf("Server:         http://localhost:%d\n", cfg.Server.Port)
	fmt.Printf("API:            http://localhost:%d/api/v1\n", cfg.Server.Port)
	fmt.Printf("Health:         http://localhost:%d/health\n", cfg.Server.Port)
	fmt.Printf("Roster sync:    %v\n", cfg.Roster.Enabled)
	fmt.Println("============================================")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}

	<-done
	fmt.Println("Server stopped")
}

func infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"name":    "Telehealth Consultation Platform",
		"version": "0.1.0",
		"docs":    "/api/v1",
	})
}

func healthHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "healthy",
		})
	}
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"server": "ready",
		}

		if app.DB != nil {
			if err := app.DB.Health(r.Context()); err != nil {
				checks["database"] = "not ready: " + err.Error()
			} else {
				checks["database"] = "ready"
			}
		} else {
			checks["database"] = "not configured"
		}

		if app.Bus != nil {
			if err := app.Bus.Health(); err != nil {
				checks["eventstore"] = "not ready: " + err.Error()
			} else {
				checks["eventstore"] = "ready"
			}
		} else {
			checks["eventstore"] = "not configured"
		}

		if app.Roster != nil {
			if err := app.Roster.Health(r.Context()); err != nil {
				checks["roster"] = "not ready: " + err.Error()
			} else {
				checks["roster"] = "ready"
			}
		} else {
			checks["roster"] = "not configured"
		}

		allReady := true
		for _, status := range checks {
			if status != "ready" && status != "not configured" {
				allReady = false
				break
			}
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks": checks,
		})
	}
}

func statsHandler(registry *availability.Registry, consultations *consultation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		doctorStats, err := registry.Stats(r.Context())
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": "failed to collect doctor stats"})
			return
		}
		requestStats, err := consultations.Stats(r.Context())
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": "failed to collect request stats"})
			return
		}

		json.NewEncoder(w).Encode(map[string]any{
			"doctors":  doctorStats,
			"requests": requestStats,
		})
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
