package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	nsotel "github.com/nimlime/nimsuggestd/internal/adapter/otel"
	"github.com/nimlime/nimsuggestd/internal/config"
	"github.com/nimlime/nimsuggestd/internal/middleware"
)

// requestTimeout bounds a request. Queries are bounded tighter by the
// session query timeout; this catches a stuck respawn.
const requestTimeout = 2 * time.Minute

// NewRouter builds the HTTP handler with middleware, health, WebSocket and
// API routes. pprof is mounted under /debug when profiling is enabled.
func NewRouter(h *Handlers, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	r.Use(CORS(cfg.Server.CORSOrigin))
	r.Use(middleware.RequestID)
	r.Use(Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(nsotel.HTTPMiddleware(cfg.OTEL.ServiceName))

	r.Get("/health", h.Health)
	if h.Hub != nil {
		r.Get("/ws", h.Hub.HandleWS)
	}
	if cfg.Features.Profile {
		r.Mount("/debug", chimw.Profiler())
	}

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(requestTimeout))
		MountRoutes(r, h)
	})
	return r
}

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Queries
		r.Post("/query", h.Query)
		r.Post("/definition", h.Definition)
		r.Post("/signatures", h.Signatures)
		r.Post("/usages", h.Usages)
		r.Post("/usages/file", h.UsagesInFile)
		r.Post("/suggestions", h.Suggestions)

		// Files and sessions
		r.Post("/files/close", h.CloseFile)
		r.Get("/sessions", h.ListSessions)
		r.Post("/sessions/resolve", h.ResolveSession)
		r.Delete("/sessions", h.TerminateSession)
	})
}
