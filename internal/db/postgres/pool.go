// Package postgres owns the bounded set of database connections used for
// vector and cache queries.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	pgx "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/kailas-cloud/giftsearch/internal/domain"
	"github.com/kailas-cloud/giftsearch/internal/metrics"
)

// Config sizes the pool. Zero values fall back to defaults.
type Config struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	IdleTimeout      time.Duration
	StatementTimeout time.Duration
	AcquireTimeout   time.Duration
	MaxRetries       int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxConns <= 0 {
		c.MaxConns = 10
	}
	if c.MinConns < 0 || c.MinConns > c.MaxConns {
		c.MinConns = 0
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Second
	}
	if c.StatementTimeout <= 0 {
		c.StatementTimeout = 30 * time.Second
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 5 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 100 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 2 * time.Second
	}
}

// Stats is a point-in-time view of the pool.
type Stats = domain.PoolStats

// Health is the outcome of a round-trip check.
type Health struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message"`
}

// QueryResult is the materialized outcome of Execute.
type QueryResult struct {
	Rows     []map[string]any
	RowCount int64
	Duration time.Duration
}

// Pool bounds concurrent database access. An uninitialized Pool is a valid
// degraded state: every operation fails with domain.ErrPoolNotInitialized.
type Pool struct {
	cfg     Config
	db      *sql.DB
	pgx     *pgxpool.Pool
	sem     *semaphore.Weighted
	initErr error
	logger  *zap.Logger

	acquired atomic.Int64
	waiting  atomic.Int64
	healthy  atomic.Bool
}

// New builds a pgx-backed pool. It never fails: a missing or invalid DSN
// yields an uninitialized pool that remembers why.
func New(ctx context.Context, cfg Config, logger *zap.Logger) *Pool {
	cfg.applyDefaults()
	logger = logger.Named("pool")

	if cfg.DSN == "" {
		logger.Warn("Database DSN is empty, vector operations are disabled")
		return newUninitialized(cfg, errors.New("empty connection string"), logger)
	}

	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		logger.Error("Invalid database DSN, vector operations are disabled", zap.Error(err))
		return newUninitialized(cfg, fmt.Errorf("parse dsn: %w", err), logger)
	}
	pcfg.MaxConns = cfg.MaxConns
	pcfg.MinConns = cfg.MinConns
	pcfg.MaxConnIdleTime = cfg.IdleTimeout
	pcfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
	pcfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pp, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		logger.Error("Failed to create pgx pool", zap.Error(err))
		return newUninitialized(cfg, fmt.Errorf("create pgx pool: %w", err), logger)
	}

	p := NewFromDB(stdlib.OpenDBFromPool(pp), cfg, logger)
	p.pgx = pp
	return p
}

// NewFromDB wraps an existing *sql.DB. Used by tests and alternative drivers.
func NewFromDB(db *sql.DB, cfg Config, logger *zap.Logger) *Pool {
	cfg.applyDefaults()
	db.SetMaxOpenConns(int(cfg.MaxConns))
	db.SetMaxIdleConns(int(cfg.MaxConns))
	db.SetConnMaxIdleTime(cfg.IdleTimeout)

	p := &Pool{
		cfg:    cfg,
		db:     db,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConns)),
		logger: logger,
	}
	p.healthy.Store(true)
	return p
}

func newUninitialized(cfg Config, reason error, logger *zap.Logger) *Pool {
	return &Pool{cfg: cfg, initErr: reason, logger: logger}
}

// Initialized reports whether the pool has a backing database.
func (p *Pool) Initialized() bool { return p.db != nil }

// DB exposes the underlying handle for migrations. Nil when uninitialized.
func (p *Pool) DB() *sql.DB { return p.db }

// Config returns the effective configuration.
func (p *Pool) Config() Config { return p.cfg }

func (p *Pool) notInitialized() error {
	metrics.PoolAcquireErrorsTotal.WithLabelValues("not_initialized").Inc()
	return fmt.Errorf("%w: %w", domain.ErrPoolNotInitialized, p.initErr)
}

// PooledConn is one connection held exclusively by the caller until Release.
type PooledConn struct {
	conn *sql.Conn
	pool *Pool
	once sync.Once
}

// Conn returns the underlying connection.
func (c *PooledConn) Conn() *sql.Conn { return c.conn }

// Release returns the connection to the pool. Safe to call more than once.
func (c *PooledConn) Release() {
	c.once.Do(func() {
		if err := c.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
			c.pool.logger.Warn("Failed to return connection", zap.Error(err))
		}
		c.pool.acquired.Add(-1)
		c.pool.sem.Release(1)
	})
}

// Acquire blocks until a connection slot is free or AcquireTimeout elapses.
func (p *Pool) Acquire(ctx context.Context) (*PooledConn, error) {
	if !p.Initialized() {
		return nil, p.notInitialized()
	}

	start := time.Now()
	actx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	p.waiting.Add(1)
	err := p.sem.Acquire(actx, 1)
	p.waiting.Add(-1)
	if err != nil {
		metrics.PoolAcquireErrorsTotal.WithLabelValues("timeout").Inc()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("acquire connection: %w", ctx.Err())
		}
		return nil, fmt.Errorf("acquire connection: timed out after %s: %w", p.cfg.AcquireTimeout, err)
	}

	conn, err := p.db.Conn(actx)
	if err != nil {
		p.sem.Release(1)
		metrics.PoolAcquireErrorsTotal.WithLabelValues("driver").Inc()
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	p.acquired.Add(1)
	metrics.PoolAcquireDuration.Observe(time.Since(start).Seconds())

	return &PooledConn{conn: conn, pool: p}, nil
}

// Execute runs a query on a pooled connection with the statement timeout
// and materializes every row as a column-name map.
func (p *Pool) Execute(ctx context.Context, query string, args ...any) (QueryResult, error) {
	pc, err := p.Acquire(ctx)
	if err != nil {
		return QueryResult{}, err
	}
	defer pc.Release()

	qctx, cancel := context.WithTimeout(ctx, p.cfg.StatementTimeout)
	defer cancel()

	start := time.Now()
	rows, err := pc.conn.QueryContext(qctx, query, args...)
	if err != nil {
		return QueryResult{}, fmt.Errorf("execute: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	out, err := scanMaps(rows)
	if err != nil {
		return QueryResult{}, fmt.Errorf("execute: %w", err)
	}

	return QueryResult{Rows: out, RowCount: int64(len(out)), Duration: time.Since(start)}, nil
}

func scanMaps(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Stats returns current counters. Zero for an uninitialized pool.
func (p *Pool) Stats() Stats {
	s := Stats{
		Max:      int(p.cfg.MaxConns),
		Acquired: p.acquired.Load(),
		Waiting:  p.waiting.Load(),
	}
	if p.Initialized() {
		dbs := p.db.Stats()
		s.Total = dbs.OpenConnections
		s.Idle = dbs.Idle
	}
	return s
}

// PublishStats copies Stats into the pool gauges.
func (p *Pool) PublishStats() Stats {
	s := p.Stats()
	metrics.PoolConnections.WithLabelValues("acquired").Set(float64(s.Acquired))
	metrics.PoolConnections.WithLabelValues("idle").Set(float64(s.Idle))
	metrics.PoolConnections.WithLabelValues("total").Set(float64(s.Total))
	metrics.PoolConnections.WithLabelValues("waiting").Set(float64(s.Waiting))
	metrics.PoolConnections.WithLabelValues("max").Set(float64(s.Max))
	return s
}

// HealthCheck runs a trivial round trip. Failures are reported, never returned.
func (p *Pool) HealthCheck(ctx context.Context) Health {
	if !p.Initialized() {
		return Health{Healthy: false, Message: p.notInitialized().Error()}
	}

	pc, err := p.Acquire(ctx)
	if err != nil {
		return p.markUnhealthy(err)
	}
	defer pc.Release()

	qctx, cancel := context.WithTimeout(ctx, p.cfg.StatementTimeout)
	defer cancel()

	var one int
	if err := pc.conn.QueryRowContext(qctx, "SELECT 1").Scan(&one); err != nil {
		return p.markUnhealthy(err)
	}

	if !p.healthy.Swap(true) {
		p.logger.Info("Database connection recovered")
	}
	return Health{Healthy: true, Message: "ok"}
}

func (p *Pool) markUnhealthy(err error) Health {
	if p.healthy.Swap(false) {
		p.logger.Error("Database health check failed", zap.Error(err))
	}
	return Health{Healthy: false, Message: err.Error()}
}

// Healthy returns the outcome of the latest health check.
func (p *Pool) Healthy() bool { return p.Initialized() && p.healthy.Load() }

// Ping adapts HealthCheck to the error-returning checker contract.
func (p *Pool) Ping(ctx context.Context) error {
	h := p.HealthCheck(ctx)
	if !h.Healthy {
		if !p.Initialized() {
			return p.notInitialized()
		}
		return errors.New(h.Message)
	}
	return nil
}

// Close releases every physical connection.
func (p *Pool) Close() {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			p.logger.Warn("Failed to close database", zap.Error(err))
		}
	}
	if p.pgx != nil {
		p.pgx.Close()
	}
}
