package chi

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/giftsearch/internal/domain"
	domusage "github.com/kailas-cloud/giftsearch/internal/domain/usage"
	"github.com/kailas-cloud/giftsearch/internal/metrics"
	monitoruc "github.com/kailas-cloud/giftsearch/internal/usecase/monitor"
	searchuc "github.com/kailas-cloud/giftsearch/internal/usecase/search"
)

const maxBodyBytes = 1 << 20

// Services are the use cases the API exposes.
type Services struct {
	Search    SearchService
	Recommend Recommender
	Cache     CacheAdmin
	Usage     UsageReporter
	Monitor   Monitor
}

// Server serves the HTTP API.
type Server struct {
	svc       Services
	threshold float64
	logger    *zap.Logger
}

// NewServer creates an HTTP API server.
func NewServer(svc Services, logger *zap.Logger) *Server {
	return &Server{svc: svc, threshold: searchuc.DefaultMatchThreshold, logger: logger}
}

// WithMatchThreshold sets the similarity threshold used when a search
// request omits match_threshold.
func (s *Server) WithMatchThreshold(t float64) *Server {
	s.threshold = t
	return s
}

// Handler builds the router with the full middleware stack.
func (s *Server) Handler(apiKeys []string) http.Handler {
	r := chi.NewRouter()
	r.Use(JSONRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(WideEventMiddleware(s.logger))
	r.Use(BearerAuthMiddleware(apiKeys))
	r.Use(metrics.Middleware())

	r.Get("/health", s.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/search", s.SimilaritySearch)
		r.Post("/search/hybrid", s.HybridSearch)
		r.Post("/recommendations", s.Recommend)
		r.Post("/products/reindex", s.Reindex)
		r.Delete("/cache", s.InvalidateAll)
		r.Delete("/cache/products/{id}", s.InvalidateProduct)
		r.Get("/stats", s.Stats)
		r.Get("/usage", s.GetUsage)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, CodeBadRequest, "method not allowed")
	})
	return r
}

// SimilaritySearch handles POST /v1/search.
func (s *Server) SimilaritySearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !s.decode(w, r, &req, true) {
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	results, err := s.svc.Search.SimilaritySearch(ctx, req.Query, req.options(s.threshold))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	setEmbeddingHeaders(w, usage)
	writeJSON(w, http.StatusOK, searchResponse{Results: results, Count: len(results)})
}

// HybridSearch handles POST /v1/search/hybrid.
func (s *Server) HybridSearch(w http.ResponseWriter, r *http.Request) {
	var req hybridRequest
	if !s.decode(w, r, &req, true) {
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	results, err := s.svc.Search.HybridSearch(ctx, req.Query, req.options())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	setEmbeddingHeaders(w, usage)
	writeJSON(w, http.StatusOK, searchResponse{Results: results, Count: len(results)})
}

// Recommend handles POST /v1/recommendations.
func (s *Server) Recommend(w http.ResponseWriter, r *http.Request) {
	var req recommendRequest
	if !s.decode(w, r, &req, true) {
		return
	}

	resp, err := s.svc.Recommend.Generate(r.Context(), req.toDomain())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	w.Header().Set("X-Generation-Model", resp.ModelUsed)
	w.Header().Set("X-Generation-Cost-USD", strconv.FormatFloat(resp.CostUSD, 'f', 6, 64))
	writeJSON(w, http.StatusOK, resp)
}

// Reindex handles POST /v1/products/reindex. The body is optional.
func (s *Server) Reindex(w http.ResponseWriter, r *http.Request) {
	var req reindexRequest
	if !s.decode(w, r, &req, false) {
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	report, err := s.svc.Search.ReindexMissing(ctx, req.Limit)
	if err != nil && report.Scanned == 0 {
		s.handleDomainError(w, err)
		return
	}
	if err != nil {
		// Partial progress is still reported; the caller can retry the rest.
		s.logger.Warn("reindex stopped early", zap.Error(err), zap.Int("embedded", report.Embedded))
	}

	setEmbeddingHeaders(w, usage)
	writeJSON(w, http.StatusOK, report)
}

// InvalidateAll handles DELETE /v1/cache.
func (s *Server) InvalidateAll(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Cache.InvalidateAll(r.Context()); err != nil {
		s.handleDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// InvalidateProduct handles DELETE /v1/cache/products/{id}.
func (s *Server) InvalidateProduct(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.Cache.InvalidateByProductID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, invalidateResponse{Invalidated: n})
}

// Stats handles GET /v1/stats.
func (s *Server) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Monitor.Snapshot(r.Context()))
}

// GetUsage handles GET /v1/usage?period=day|month|total.
func (s *Server) GetUsage(w http.ResponseWriter, r *http.Request) {
	period := domusage.PeriodMonth
	if p := r.URL.Query().Get("period"); p != "" {
		period = domusage.Period(p)
		if !period.Valid() {
			writeError(w, http.StatusBadRequest, CodeValidationFailed, "period must be one of: day month total")
			return
		}
	}

	writeJSON(w, http.StatusOK, usageToResponse(s.svc.Usage.GetReport(r.Context(), period)))
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.svc.Monitor.Check(r.Context())

	status := http.StatusOK
	if report.Status != monitoruc.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// decode reads a JSON body into v and validates it. An empty body is an
// error only when required is set.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any, required bool) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	switch {
	case errors.Is(err, io.EOF) && !required:
	case err != nil:
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return false
	}
	if err := validateRequest(v); err != nil {
		s.handleDomainError(w, err)
		return false
	}
	return true
}

func setEmbeddingHeaders(w http.ResponseWriter, usage *domain.EmbeddingUsage) {
	tokens, cost, used := usage.Snapshot()
	if !used {
		return
	}
	w.Header().Set("X-Embedding-Tokens", strconv.Itoa(tokens))
	w.Header().Set("X-Embedding-Cost-USD", strconv.FormatFloat(cost, 'f', 8, 64))
}
