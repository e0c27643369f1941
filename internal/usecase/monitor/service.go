package monitor

import (
	"context"

	"go.uber.org/zap"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Report aggregates health check results.
type Report struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// Deps are the components the monitor reads. Nil members are skipped.
type Deps struct {
	DB        DBPinger
	Embedding EmbeddingChecker
	Cache     CachePinger
	Pool      PoolReader
	Queries   CacheStatsReader
	Catalog   CoverageReader
	Breakers  BreakerReader
}

// Service coordinates health checks and operational snapshots.
type Service struct {
	deps       Deps
	thresholds Thresholds
	logger     *zap.Logger
}

// New creates a Service.
func New(deps Deps, thresholds Thresholds, logger *zap.Logger) *Service {
	return &Service{deps: deps, thresholds: thresholds.withDefaults(), logger: logger}
}

// Check runs health checks against all components.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)

	if s.deps.DB != nil {
		checks["database"] = s.probe(ctx, "database", s.deps.DB.Ping)
	}
	if s.deps.Embedding != nil {
		checks["embedding"] = s.probe(ctx, "embedding", s.deps.Embedding.HealthCheck)
	}
	if s.deps.Cache != nil {
		checks["cache"] = s.probe(ctx, "cache", s.deps.Cache.Ping)
	}

	status := Healthy
	for _, v := range checks {
		if v == CheckError {
			status = Degraded
			break
		}
	}

	return Report{Status: status, Checks: checks}
}

func (s *Service) probe(ctx context.Context, name string, fn func(context.Context) error) CheckResult {
	if err := fn(ctx); err != nil {
		s.logger.Warn("Health check failed", zap.String("component", name), zap.Error(err))
		return CheckError
	}
	return CheckOK
}
