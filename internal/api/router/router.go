// Package router wires the chi middleware stack and the scheduling API routes.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/luaxhealth/clinic-scheduler/internal/http/handlers"
	httpmiddleware "github.com/luaxhealth/clinic-scheduler/internal/http/middleware"
	"github.com/luaxhealth/clinic-scheduler/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger              *logging.Logger
	AppointmentsHandler *handlers.AppointmentsHandler
	PatientsHandler     *handlers.PatientsHandler
	AdminAuthSecret     string
	MetricsHandler      http.Handler
	CORSAllowedOrigins  []string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}
	r.Use(httpmiddleware.CallerIdentity(cfg.AdminAuthSecret))

	// Public endpoints
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.PatientsHandler != nil {
		r.Route("/patients", func(p chi.Router) {
			p.Post("/", cfg.PatientsHandler.Create)
			p.With(httpmiddleware.RequireAdmin).Get("/", cfg.PatientsHandler.List)
			p.Route("/{patientID}", func(pr chi.Router) {
				pr.Use(httpmiddleware.RequireCaller)
				pr.Get("/", cfg.PatientsHandler.Get)
				if cfg.AppointmentsHandler != nil {
					pr.Get("/appointments", cfg.AppointmentsHandler.ListForPatient)
				}
			})
		})
	}

	if cfg.AppointmentsHandler != nil {
		r.Route("/appointments", func(a chi.Router) {
			a.Use(httpmiddleware.RequireCaller)
			a.Post("/", cfg.AppointmentsHandler.Book)
			a.With(httpmiddleware.RequireAdmin).Get("/", cfg.AppointmentsHandler.ListAll)
			a.Route("/{id}", func(ar chi.Router) {
				ar.Get("/", cfg.AppointmentsHandler.Get)
				ar.Patch("/", cfg.AppointmentsHandler.Edit)
				ar.Post("/cancel", cfg.AppointmentsHandler.Cancel)
				ar.With(httpmiddleware.RequireAdmin).Post("/confirm", cfg.AppointmentsHandler.Confirm)
				ar.With(httpmiddleware.RequireAdmin).Put("/read", cfg.AppointmentsHandler.SetReadFlag)
			})
		})
	}

	return r
}
