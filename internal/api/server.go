// Package api serves the analysis entry points over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/osintube/threatscan/internal/analysis"
	"github.com/osintube/threatscan/internal/cache"
	"github.com/osintube/threatscan/internal/export"
	"github.com/osintube/threatscan/internal/history"
	"github.com/osintube/threatscan/internal/model"
	"github.com/osintube/threatscan/internal/resilience"
	"github.com/osintube/threatscan/internal/store"
)

// Analyzer is the pair of entry points. *analysis.Service satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, ds model.Dataset, id model.DatasetID, query string) analysis.Outcome
	Ask(ctx context.Context, ds model.Dataset, question, qctx string) *model.Answer
}

// DatasetLoader resolves a dataset key. *dataset.Loader satisfies it.
type DatasetLoader interface {
	Load(ctx context.Context, key string) (model.Dataset, model.DatasetID, error)
}

// Reports reads and invalidates cached analyses. *cache.Cache satisfies it.
type Reports interface {
	Load(ctx context.Context, id model.DatasetID) (*model.Report, error)
	Get(ctx context.Context, id model.DatasetID) (*cache.Summary, error)
	List(ctx context.Context, all bool) ([]cache.Summary, error)
	Invalidate(ctx context.Context, id model.DatasetID) (bool, error)
}

// Requests lists logged requests. *history.Recorder satisfies it.
type Requests interface {
	List(ctx context.Context, limit int) ([]history.Entry, error)
}

// Deps are the collaborators of the HTTP handlers. Requests may be nil.
type Deps struct {
	Service  Analyzer
	Datasets DatasetLoader
	Reports  Reports
	Requests Requests
}

// Options configures the router.
type Options struct {
	AllowedOrigins []string
	// RequestTimeout bounds each request. Zero means no bound.
	RequestTimeout time.Duration
}

type server struct {
	deps Deps
}

// NewRouter builds the HTTP handler.
func NewRouter(deps Deps, opts Options) http.Handler {
	s := &server{deps: deps}

	origins := opts.AllowedOrigins
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
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/analyze", s.analyze)
		r.Post("/ask", s.ask)
		r.Get("/analyses", s.listAnalyses)
		r.Get("/analyses/{id}", s.getAnalysis)
		r.Delete("/analyses/{id}", s.invalidate)
		r.Get("/analyses/{id}/export", s.exportAnalysis)
		r.Get("/requests", s.listRequests)
	})
	return r
}

type analyzeRequest struct {
	DatasetKey string `json:"dataset_key"`
	Query      string `json:"query"`
}

type askRequest struct {
	DatasetKey string `json:"dataset_key"`
	Question   string `json:"question"`
	Context    string `json:"context"`
}

func (s *server) analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.DatasetKey == "" {
		writeError(w, http.StatusBadRequest, "dataset_key is required")
		return
	}

	ds, id, ok := s.load(w, r, req.DatasetKey)
	if !ok {
		return
	}
	out := s.deps.Service.Analyze(r.Context(), ds, id, req.Query)
	writeJSON(w, statusFor(out.Status, out.Retryable), out)
}

func (s *server) ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if !decode(w, r, &req) {
		return
	}
	if req.DatasetKey == "" || req.Question == "" {
		writeError(w, http.StatusBadRequest, "dataset_key and question are required")
		return
	}

	ds, _, ok := s.load(w, r, req.DatasetKey)
	if !ok {
		return
	}
	ans := s.deps.Service.Ask(r.Context(), ds, req.Question, req.Context)
	writeJSON(w, statusFor(ans.Status, ans.Retryable), ans)
}

func (s *server) load(w http.ResponseWriter, r *http.Request, key string) (model.Dataset, model.DatasetID, bool) {
	ds, id, err := s.deps.Datasets.Load(r.Context(), key)
	switch {
	case err == nil:
		return ds, id, true
	case store.IsNotFound(err):
		writeError(w, http.StatusNotFound, "dataset not found: "+key)
	case resilience.Retryable(err):
		zap.L().Warn("api: dataset load failed", zap.String("key", key), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "dataset store unavailable")
	default:
		zap.L().Warn("api: dataset load failed", zap.String("key", key), zap.Error(err))
		writeError(w, http.StatusUnprocessableEntity, "dataset could not be read")
	}
	return nil, id, false
}

func (s *server) listAnalyses(w http.ResponseWriter, r *http.Request) {
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))
	sums, err := s.deps.Reports.List(r.Context(), all)
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"analyses": sums})
}

func (s *server) getAnalysis(w http.ResponseWriter, r *http.Request) {
	id := model.DatasetID(chi.URLParam(r, "id"))
	report, err := s.deps.Reports.Load(r.Context(), id)
	if err != nil {
		storeError(w, err)
		return
	}
	if report == nil {
		writeError(w, http.StatusNotFound, "no analysis for "+id.String())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *server) invalidate(w http.ResponseWriter, r *http.Request) {
	id := model.DatasetID(chi.URLParam(r, "id"))
	ok, err := s.deps.Reports.Invalidate(r.Context(), id)
	if err != nil {
		storeError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no analysis for "+id.String())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dataset_id": id, "invalidated": true})
}

func (s *server) exportAnalysis(w http.ResponseWriter, r *http.Request) {
	id := model.DatasetID(chi.URLParam(r, "id"))
	report, err := s.deps.Reports.Load(r.Context(), id)
	if err != nil {
		storeError(w, err)
		return
	}
	if report == nil {
		writeError(w, http.StatusNotFound, "no analysis for "+id.String())
		return
	}
	f, err := export.BuildXLSX(report)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	name := model.IdentityFromLocation(id.String())
	w.Header().Set("Content-Disposition", `attachment; filename="`+name.String()+`_analysis.xlsx"`)
	if err := f.Write(w); err != nil {
		zap.L().Warn("api: export write failed", zap.String("dataset_id", id.String()), zap.Error(err))
	}
}

func (s *server) listRequests(w http.ResponseWriter, r *http.Request) {
	if s.deps.Requests == nil {
		writeError(w, http.StatusNotFound, "request log disabled")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}
	entries, err := s.deps.Requests.List(r.Context(), limit)
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": entries})
}

// statusFor maps an outcome status onto an HTTP status. Errors are 503 when
// the caller may retry and 502 otherwise.
func statusFor(st model.Status, retryable bool) int {
	if st != model.StatusError {
		return http.StatusOK
	}
	if retryable {
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

func storeError(w http.ResponseWriter, err error) {
	zap.L().Warn("api: store call failed", zap.Error(err))
	if resilience.Retryable(err) {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeError(w, http.StatusInternalServerError, "store error")
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"status": string(model.StatusError), "error": msg})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
