package openai

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/giftsearch/internal/domain"
)

// Config holds the provider settings shared by the embedder and completer.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	User       string
	Provider   string
	// TransportRetries re-sends requests that failed before a response arrived.
	// Status-level retries belong to the caller.
	TransportRetries int
	Logger           *zap.Logger
}

func newClient(cfg *Config) *openai.Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = newHTTPClient(cfg.TransportRetries, cfg.Logger)
	return openai.NewClientWithConfig(clientCfg)
}

// newHTTPClient returns a client that retries connection failures only, so
// provider status codes always reach the caller.
func newHTTPClient(retries int, logger *zap.Logger) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = max(retries, 0)
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = time.Second
	rc.Logger = leveledLogger{logger: logger}
	rc.CheckRetry = func(ctx context.Context, _ *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return err != nil, nil
	}
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return rc.StandardClient()
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger.
type leveledLogger struct{ logger *zap.Logger }

func (l leveledLogger) Error(msg string, kv ...any) { l.logger.Sugar().Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...any)  { l.logger.Sugar().Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...any) { l.logger.Sugar().Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...any)  { l.logger.Sugar().Warnw(msg, kv...) }

// providerError classifies an SDK error by status code and timeout.
func providerError(provider, model string, err error) *domain.ProviderError {
	pe := &domain.ProviderError{Provider: provider, Model: model, Err: err}

	var reqErr *openai.RequestError
	var apiErr *openai.APIError
	switch {
	case errors.As(err, &apiErr):
		pe.StatusCode = apiErr.HTTPStatusCode
		pe.Err = errors.New(apiErr.Message)
	case errors.As(err, &reqErr):
		pe.StatusCode = reqErr.HTTPStatusCode
		if detail := extractDetail(reqErr.Body); detail != "" {
			pe.Err = errors.New(detail)
		} else if len(reqErr.Body) > 0 {
			pe.Err = errors.New(string(reqErr.Body))
		}
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		pe.Timeout = true
	}
	return pe
}

// extractDetail extracts the "detail" field from a JSON error body (Nebius error format).
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
