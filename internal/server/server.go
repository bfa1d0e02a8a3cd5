// Package server provides the HTTP surface of the chat proxy: the chat turn
// endpoints, health, sample chart data, metrics and the embedded index page.
package server

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/alpar-labs/alpar/internal/charts"
	"github.com/alpar-labs/alpar/internal/metrics"
	"github.com/alpar-labs/alpar/internal/turn"
)

// Options configures a Server.
type Options struct {
	Orchestrator *turn.Orchestrator
	Charts       charts.Source
	Metrics      *metrics.Collector
	Logger       *slog.Logger
	// Static is served at / with unknown paths falling back to index.html.
	// Nil disables static serving.
	Static fs.FS
	// PingInterval is the websocket keep-alive period. Zero means 10s.
	PingInterval time.Duration
}

// Server wires the HTTP handlers to their dependencies.
type Server struct {
	turns        *turn.Orchestrator
	charts       charts.Source
	metrics      *metrics.Collector
	logger       *slog.Logger
	static       fs.FS
	pingInterval time.Duration
	now          func() time.Time
}

// New creates a Server.
func New(opts Options) *Server {
	if opts.Charts == nil {
		opts.Charts = charts.NewSampleSource(nil)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewCollector()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 10 * time.Second
	}
	return &Server{
		turns:        opts.Orchestrator,
		charts:       opts.Charts,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		static:       opts.Static,
		pingInterval: opts.PingInterval,
		now:          time.Now,
	}
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/chat/ws", s.handleChatWS)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/chart-data/{type}", s.handleChartData)
	mux.HandleFunc("GET /api/metrics", s.handleMetrics)

	if s.static != nil {
		mux.Handle("GET /", s.staticHandler())
	}

	return chainMiddlewares(mux,
		withCORS,
		withLogging(s.logger),
		withRequestID,
	)
}

// staticHandler serves the embedded page; paths that do not exist fall back
// to index.html.
func (s *Server) staticHandler() http.Handler {
	fileServer := http.FileServer(http.FS(s.static))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			f, err := s.static.Open(r.URL.Path[1:])
			if errors.Is(err, fs.ErrNotExist) {
				r.URL.Path = "/"
			} else if err != nil {
				s.logger.Warn("unexpected error opening embedded file", "path", r.URL.Path, "error", err)
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			} else {
				f.Close()
			}
		}
		fileServer.ServeHTTP(w, r)
	})
}
