package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/swasthyasetu/platform/internal/adapters/his"
	"github.com/swasthyasetu/platform/internal/audit"
	authz "github.com/swasthyasetu/platform/internal/auth"
	"github.com/swasthyasetu/platform/internal/consent"
	"github.com/swasthyasetu/platform/internal/credential"
	"github.com/swasthyasetu/platform/internal/gateway"
	"github.com/swasthyasetu/platform/internal/shared/auth"
	"github.com/swasthyasetu/platform/internal/shared/metrics"
	secmiddleware "github.com/swasthyasetu/platform/internal/shared/middleware"
	"github.com/swasthyasetu/platform/internal/tempid"
)

const maxRequestBody = 1 << 20

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(*configPath)
		},
	}
}

func runServer(configPath string) error {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	if cfg.Seed.OnStartup {
		res, err := app.LoadSeed(ctx)
		if err != nil {
			return fmt.Errorf("load seed data: %w", err)
		}
		logger.Info().Str("version", res.Version).Bool("skipped", res.Skipped).Msg("seed data checked")
	}

	if cfg.HIS.Enabled {
		importer, source, err := newHISImporter(ctx, app)
		if err != nil {
			return err
		}
		defer source.Close()
		go importer.Poll(ctx, cfg.HIS.PollInterval, time.Time{})
		logger.Info().
			Str("institution_id", cfg.HIS.InstitutionID).
			Dur("interval", cfg.HIS.PollInterval).
			Msg("HIS import poller started")
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      newRouter(app),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("env", cfg.Server.Env).
			Int("port", cfg.Server.Port).
			Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newRouter(app *App) http.Handler {
	cfg := app.Config

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(secmiddleware.RequestLogger(app.Logger))
	r.Use(secmiddleware.NewIPRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst).Middleware)
	r.Use(secmiddleware.MaxBody(maxRequestBody))
	r.Use(secmiddleware.CORS(secmiddleware.DefaultCORSConfig(cfg.Server.CORSOrigins)))
	r.Use(metrics.Middleware)

	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())

	validator := credential.NewValidator(app.Store, app.Logger)
	provider := credential.Middleware(validator, authz.RoleHealthcareProvider)
	institutionAdmin := credential.Middleware(validator, authz.RoleInstitutionAdmin)
	session := auth.Middleware(cfg.Auth)

	registry := consent.NewRegistry(app.Store, app.Clock, app.Publisher, app.Logger)
	gw := gateway.New(app.Store, app.AuditWriter, app.Publisher, app.Logger)
	issuer := tempid.NewIssuer(app.Store, app.Clock, app.Publisher, app.Logger)
	checkpoints := audit.NewCheckpointService(app.AuditRepo, app.Witness, app.Clock)
	auditHandler := audit.NewHandler(app.AuditRepo, checkpoints)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(provider).Mount("/records", gateway.NewHandler(gw).Routes())
		r.With(provider).Mount("/patients", tempid.NewHandler(issuer).Routes())

		// The patient id must be routed before the self check can read it
		consentHandler := consent.NewHandler(registry)
		r.Route("/consent/{patient_id}", func(r chi.Router) {
			r.Use(session, auth.RequirePatientSelf("patient_id"))
			r.Get("/", consentHandler.GetConsent)
			r.Put("/", consentHandler.SetConsent)
		})
		r.Route("/access-logs/{patient_id}", func(r chi.Router) {
			r.Use(session, auth.RequirePatientSelf("patient_id"))
			r.Get("/", auditHandler.PatientLogs)
		})

		r.With(institutionAdmin).Get("/institution/access-logs", auditHandler.InstitutionLogs)

		r.With(session, auth.RequireRoles(authz.RolePlatformAdmin)).
			Mount("/audit", auditHandler.AdminRoutes())
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"server": "ready",
		}

		check := func(name string, fn func(context.Context) error) {
			if err := fn(r.Context()); err != nil {
				checks[name] = "not ready: " + err.Error()
				return
			}
			checks[name] = "ready"
		}

		check("store", app.Store.Health)
		check("audit", func(ctx context.Context) error {
			_, err := app.AuditRepo.Head(ctx)
			return err
		})
		if app.Bus != nil {
			check("event_bus", app.Bus.Health)
		} else {
			checks["event_bus"] = "not configured"
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
		writeJSON(w, status, map[string]any{
			"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks": checks,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func newHISImporter(ctx context.Context, app *App) (*his.Importer, his.Source, error) {
	source, err := openHISSource(ctx, app)
	if err != nil {
		return nil, nil, err
	}
	institutionID, err := parseInstitutionID(app.Config.HIS.InstitutionID)
	if err != nil {
		source.Close()
		return nil, nil, err
	}
	return his.NewImporter(source, app.Store, institutionID, app.Logger), source, nil
}
