// Package api serves the synchronous modeling endpoint and the run index
// over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gidra39/modelselect/metrics"
	"github.com/gidra39/modelselect/runstore"
	"github.com/gidra39/modelselect/selector"
)

// Runner performs one model-selection run.
type Runner interface {
	Run(ctx context.Context, req selector.Request) (*selector.Result, error)
}

type Config struct {
	Addr string
	// MaxUploadBytes caps the multipart body of /modeling/process/.
	MaxUploadBytes int64
	// ProcessPerMinute limits modeling requests per client IP; 0 disables it.
	ProcessPerMinute int
	CORSOrigins      []string
	ReadTimeout      time.Duration
}

func DefaultConfig() Config {
	return Config{
		Addr:             ":8000",
		MaxUploadBytes:   64 << 20,
		ProcessPerMinute: 10,
		CORSOrigins:      []string{"*"},
		ReadTimeout:      time.Minute,
	}
}

type Server struct {
	cfg    Config
	runner Runner
	runs   *runstore.Store
}

// NewServer builds the API. runs may be nil, in which case runs are not
// indexed and the lookup routes answer 404.
func NewServer(cfg Config, runner Runner, runs *runstore.Store) *Server {
	return &Server{cfg: cfg, runner: runner, runs: runs}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(instrument)

	r.Get("/healthz", s.health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/modeling", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if s.cfg.ProcessPerMinute > 0 {
				r.Use(httprate.LimitByIP(s.cfg.ProcessPerMinute, time.Minute))
			}
			r.Post("/process/", s.process)
		})
		r.Get("/runs/{id}", s.getRun)
		r.Get("/datasets/{id}/runs", s.datasetRuns)
	})
	return r
}

// HTTPServer wraps Handler in a server listening on cfg.Addr.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
	}
}

// instrument records request counts and latency by route pattern.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordAPIRequest(route, status, time.Since(start))
	})
}
