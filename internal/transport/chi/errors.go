package chi

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/kailas-cloud/giftsearch/internal/domain"
)

// ErrorCode is the machine-readable error kind in API responses.
type ErrorCode string

// API error codes.
const (
	CodeBadRequest            ErrorCode = "bad_request"
	CodeValidationFailed      ErrorCode = "validation_failed"
	CodeUnauthorized          ErrorCode = "unauthorized"
	CodeNotFound              ErrorCode = "not_found"
	CodeRateLimited           ErrorCode = "rate_limited"
	CodeEmbeddingQuota        ErrorCode = "embedding_quota_exceeded"
	CodeEmbeddingProvider     ErrorCode = "embedding_provider_error"
	CodeGenerationFailed      ErrorCode = "generation_failed"
	CodeDatabaseUnavailable   ErrorCode = "database_unavailable"
	CodeDatabaseRetriesFailed ErrorCode = "database_retries_exhausted"
	CodeCacheUnavailable      ErrorCode = "cache_unavailable"
	CodeInternalError         ErrorCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

var errorHandlers = []errorHandler{
	rateLimitHandler,
	sentinelHandler(domain.ErrInvalidRequest, http.StatusBadRequest, CodeValidationFailed),
	sentinelHandler(domain.ErrNotFound, http.StatusNotFound, CodeNotFound),
	sentinelHandler(domain.ErrEmbeddingQuotaExceeded, http.StatusPaymentRequired, CodeEmbeddingQuota),
	sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, CodeEmbeddingProvider),
	sentinelHandler(domain.ErrGenerationFailed, http.StatusBadGateway, CodeGenerationFailed),
	sentinelHandler(domain.ErrPoolNotInitialized, http.StatusServiceUnavailable, CodeDatabaseUnavailable),
	sentinelHandler(domain.ErrPoolExhaustedRetries, http.StatusServiceUnavailable, CodeDatabaseRetriesFailed),
	sentinelHandler(domain.ErrCacheBackend, http.StatusServiceUnavailable, CodeCacheUnavailable),
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
// Only the sentinel text reaches the client, except for invalid requests
// whose detail is the point of the response.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		msg := sentinel.Error()
		if errors.Is(sentinel, domain.ErrInvalidRequest) {
			msg = err.Error()
		}
		writeError(w, status, code, msg)
		return true
	}
}

// rateLimitHandler adds Retry-After when the error carries it.
func rateLimitHandler(w http.ResponseWriter, err error) bool {
	if !errors.Is(err, domain.ErrRateLimited) {
		return false
	}
	var rle *domain.RateLimitError
	if errors.As(err, &rle) {
		w.Header().Set("Retry-After", rle.RetryAfterSeconds())
	}
	writeError(w, http.StatusTooManyRequests, CodeRateLimited, domain.ErrRateLimited.Error())
	return true
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	for _, h := range errorHandlers {
		if h(w, err) {
			s.logger.Warn("domain error", zap.Error(err))
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}
