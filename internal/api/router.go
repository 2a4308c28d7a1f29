// Package api exposes the skip-trace engine over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sells-group/skiptrace/internal/model"
	"github.com/sells-group/skiptrace/internal/report"
	"github.com/sells-group/skiptrace/internal/resilience"
	"github.com/sells-group/skiptrace/internal/runner"
	"github.com/sells-group/skiptrace/internal/store"
)

// Store is the persistence the handlers read directly.
type Store interface {
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	GetCurrent(ctx context.Context, leadID string) (*model.EnrichmentResult, error)
	Ping(ctx context.Context) error
}

var _ Store = (store.Store)(nil)

// Deps are the collaborators the router is built from.
type Deps struct {
	Store    Store
	Manager  *runner.Manager
	Reports  *report.Generator
	Breakers *resilience.Breakers // optional, reported by /health

	CORSOrigins []string
}

type server struct {
	Deps
	validate *validator.Validate
}

// NewRouter builds the HTTP handler for the engine.
func NewRouter(d Deps) http.Handler {
	s := &server{Deps: d, validate: validator.New()}

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)

	r.Route("/leads", func(r chi.Router) {
		r.Post("/bulk/skiptrace", s.bulkTrace)
		r.Post("/{id}/skiptrace", s.traceLead)
		r.Get("/{id}/skiptrace", s.getResult)
	})

	r.Route("/skiptrace", func(r chi.Router) {
		r.Get("/quota", s.quota)
		r.Post("/quota/reset", s.resetQuota)
		r.Get("/analytics", s.analytics)
	})

	r.Route("/runs", func(r chi.Router) {
		r.Get("/", s.listRuns)
		r.Get("/{run_id}", s.getRun)
		r.Get("/{run_id}/report", s.getReport)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found", "no route for "+r.Method+" "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", r.Method+" is not allowed on "+r.URL.Path)
	})

	return r
}

// requestLogger echoes the request id and writes one zap line per
// request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := middleware.GetReqID(r.Context())
		w.Header().Set(middleware.RequestIDHeader, reqID)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		fields := []zap.Field{
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
		}
		if status >= http.StatusInternalServerError {
			zap.L().Warn("api: request", fields...)
			return
		}
		zap.L().Info("api: request", fields...)
	})
}
