package web

import (
	"context"
	"io/fs"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
	metrics  http.Handler
}

// NewServer creates a server configured for the given address and
// dependencies. metrics may be nil.
func NewServer(addr string, h *Handlers, metrics http.Handler) *Server {
	return &Server{
		addr:     addr,
		handlers: h,
		metrics:  metrics,
	}
}

// NewDefaultHandlers builds handlers on the embedded static files and
// templates.
func NewDefaultHandlers(deps Deps, opts Options) *Handlers {
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		log.Fatalf("web: failed to sub static fs: %v", err)
	}
	templatesFS, err := fs.Sub(templateFiles, "templates")
	if err != nil {
		log.Fatalf("web: failed to sub templates fs: %v", err)
	}
	h, err := NewHandlers(deps.Triggers, deps.Broadcaster, deps.Schedules, opts, staticFS, templatesFS)
	if err != nil {
		log.Fatalf("web: %v", err)
	}
	return h
}

// Mux returns an http.Handler with all routes registered.
func (s *Server) Mux() http.Handler {
	h := s.handlers
	limit := RateLimit(h.opts.RateLimit, h.opts.RateBurst)

	r := chi.NewRouter()
	if h.opts.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)

	r.Get("/", h.ServeIndex)
	r.With(limit).Post("/", h.HandleForm)

	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.Timeout(30 * time.Second))
		api.Get("/status", h.HandleStatus)
		api.Get("/schedules", h.HandleSchedules)
		api.Group(func(tr chi.Router) {
			tr.Use(limit)
			tr.Post("/animation", h.HandleAnimation)
			tr.Post("/timelapse/start", h.HandleTimeLapseStart)
			tr.Post("/timelapse/stop", h.HandleTimeLapseStop)
			tr.Post("/snapshot", h.HandleSnapshot)
		})
	})

	r.Get("/imagelist", h.HandleImageList)
	r.Handle("/images/*", http.StripPrefix("/images/", ImageServer(h.opts.ImagesDir)))
	r.Get("/stream", h.HandleFeed)
	r.Get("/status/stream", h.HandleStatusStream)
	r.Get("/ws", h.HandleWebSocket)
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(h.staticFS))))
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	return r
}

// Run starts the server and blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled. Request contexts derive from
// ctx, so the SSE, websocket and frame feed handlers return on shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("web server listening on %s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
