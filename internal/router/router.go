package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"enricher-backend/internal/handlers"
	"enricher-backend/internal/middleware"
	"enricher-backend/internal/websocket"
)

type Options struct {
	CORSOrigin         string
	RateLimitPerMinute int
	// LocalFilesDir is served under /files when objects are stored on disk.
	LocalFilesDir string
}

func New(
	auth *middleware.BearerAuth,
	ingestHandler *handlers.IngestHandler,
	wsHub *websocket.Hub,
	opts Options,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(opts.CORSOrigin))

	ingestLimiter := middleware.NewRateLimiter(opts.RateLimitPerMinute, time.Minute)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// The bare root accepts the same body as /api/v1/ingest.
	r.Group(func(r chi.Router) {
		r.Use(ingestLimiter.Middleware)
		r.Use(auth.Middleware)
		r.Post("/", ingestHandler.Ingest)
	})

	if opts.LocalFilesDir != "" {
		r.Handle("/files/*", http.StripPrefix("/files/", http.FileServer(http.Dir(opts.LocalFilesDir))))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(ingestLimiter.Middleware)
			r.Use(auth.Middleware)
			r.Post("/ingest", ingestHandler.Ingest)
			r.Post("/ingest/async", ingestHandler.IngestAsync)
		})

		r.Route("/ingests", func(r chi.Router) {
			r.With(auth.Middleware).Get("/{id}", ingestHandler.GetRun)
			// The hub checks its own token; browsers cannot send headers here.
			r.Get("/{id}/events", wsHub.HandleWebSocket)
		})
	})

	return r
}
