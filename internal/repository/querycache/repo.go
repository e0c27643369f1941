// Package querycache persists query cache entries in Postgres (tier 2).
package querycache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/goccy/go-json"

	"github.com/kailas-cloud/giftsearch/internal/db/postgres"
	"github.com/kailas-cloud/giftsearch/internal/domain"
)

const table = "query_cache"

const returning = "RETURNING cache_key, query_text, array_to_json(result_ids)::text, " +
	"array_to_json(result_scores)::text, array_to_json(result_similarities)::text, " +
	"created_at, expires_at, hit_count"

// Repository is the Postgres-backed tier of the query cache.
type Repository struct {
	pool *postgres.Pool
	sb   squirrel.StatementBuilderType
}

// New creates a Repository.
func New(pool *postgres.Pool) *Repository {
	return &Repository{
		pool: pool,
		sb:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Get returns a live entry and bumps its hit count in the same statement.
// ok is false when the key is missing or expired.
func (r *Repository) Get(ctx context.Context, key string) (domain.CacheEntry, bool, error) {
	query, args, err := r.sb.
		Update(table).
		Set("hit_count", squirrel.Expr("hit_count + 1")).
		Set("last_hit_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"cache_key": key}).
		Where("expires_at > now()").
		Suffix(returning).
		ToSql()
	if err != nil {
		return domain.CacheEntry{}, false, fmt.Errorf("cache get: %w", err)
	}

	type found struct {
		entry domain.CacheEntry
		ok    bool
	}
	res, err := postgres.ExecuteWithRetry(ctx, r.pool, 0, func(ctx context.Context, conn *sql.Conn) (found, error) {
		e, err := scanEntry(conn.QueryRowContext(ctx, query, args...))
		if errors.Is(err, sql.ErrNoRows) {
			return found{}, nil
		}
		if err != nil {
			return found{}, err
		}
		return found{entry: e, ok: true}, nil
	})
	if err != nil {
		return domain.CacheEntry{}, false, fmt.Errorf("cache get: %w", err)
	}
	return res.entry, res.ok, nil
}

// Upsert stores an entry. An existing key gets the new results and expiry,
// and its hit count is incremented.
func (r *Repository) Upsert(ctx context.Context, e domain.CacheEntry) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}
	sims := e.ResultSimilarities
	if sims == nil {
		sims = []float64{}
	}
	qry := r.sb.
		Insert(table).
		Columns("cache_key", "query_text", "result_ids", "result_scores", "result_similarities", "created_at", "expires_at").
		Values(e.Fingerprint, e.QueryText, e.ResultIDs, e.ResultScores, sims, e.CreatedAt, e.ExpiresAt).
		Suffix("ON CONFLICT (cache_key) DO UPDATE SET " +
			"result_ids = EXCLUDED.result_ids, " +
			"result_scores = EXCLUDED.result_scores, " +
			"result_similarities = EXCLUDED.result_similarities, " +
			"expires_at = EXCLUDED.expires_at, " +
			"hit_count = query_cache.hit_count + 1")

	_, err := postgres.ExecuteWithRetry(ctx, r.pool, 0, func(ctx context.Context, conn *sql.Conn) (struct{}, error) {
		_, err := squirrel.ExecContextWith(ctx, conn, qry)
		return struct{}{}, err
	})
	if err != nil {
		return fmt.Errorf("cache upsert: %w", err)
	}
	return nil
}

// DeleteByProduct removes every entry whose results contain productID.
func (r *Repository) DeleteByProduct(ctx context.Context, productID string) (int64, error) {
	n, err := r.exec(ctx, r.sb.Delete(table).Where("? = ANY(result_ids)", productID))
	if err != nil {
		return 0, fmt.Errorf("cache delete by product: %w", err)
	}
	return n, nil
}

// DeleteAll removes every entry.
func (r *Repository) DeleteAll(ctx context.Context) (int64, error) {
	n, err := r.exec(ctx, r.sb.Delete(table))
	if err != nil {
		return 0, fmt.Errorf("cache delete all: %w", err)
	}
	return n, nil
}

// Cleanup deletes expired entries through the stored routine.
func (r *Repository) Cleanup(ctx context.Context) (int64, error) {
	n, err := postgres.ExecuteWithRetry(ctx, r.pool, 0, func(ctx context.Context, conn *sql.Conn) (int64, error) {
		var deleted int64
		err := conn.QueryRowContext(ctx, "SELECT cleanup_expired_query_cache()").Scan(&deleted)
		return deleted, err
	})
	if err != nil {
		return 0, fmt.Errorf("cache cleanup: %w", err)
	}
	return n, nil
}

// Stats counts live entries and their mean hit count.
func (r *Repository) Stats(ctx context.Context) (domain.CacheTierStats, error) {
	query, args, err := r.sb.
		Select("count(*)", "COALESCE(avg(hit_count), 0)::float8").
		From(table).
		Where("expires_at > now()").
		ToSql()
	if err != nil {
		return domain.CacheTierStats{}, fmt.Errorf("cache stats: %w", err)
	}

	s, err := postgres.ExecuteWithRetry(ctx, r.pool, 0, func(ctx context.Context, conn *sql.Conn) (domain.CacheTierStats, error) {
		var s domain.CacheTierStats
		err := conn.QueryRowContext(ctx, query, args...).Scan(&s.TotalEntries, &s.AvgHitsPerQuery)
		return s, err
	})
	if err != nil {
		return domain.CacheTierStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return s, nil
}

func (r *Repository) exec(ctx context.Context, qry squirrel.Sqlizer) (int64, error) {
	return postgres.ExecuteWithRetry(ctx, r.pool, 0, func(ctx context.Context, conn *sql.Conn) (int64, error) {
		res, err := squirrel.ExecContextWith(ctx, conn, qry)
		if err != nil {
			return 0, err
		}
		return res.RowsAffected()
	})
}

func scanEntry(row *sql.Row) (domain.CacheEntry, error) {
	var e domain.CacheEntry
	var ids, scores, sims string
	var created, expires time.Time
	if err := row.Scan(&e.Fingerprint, &e.QueryText, &ids, &scores, &sims, &created, &expires, &e.HitCount); err != nil {
		return domain.CacheEntry{}, err
	}
	if err := json.Unmarshal([]byte(ids), &e.ResultIDs); err != nil {
		return domain.CacheEntry{}, fmt.Errorf("decode result ids: %w", err)
	}
	if err := json.Unmarshal([]byte(scores), &e.ResultScores); err != nil {
		return domain.CacheEntry{}, fmt.Errorf("decode result scores: %w", err)
	}
	if err := json.Unmarshal([]byte(sims), &e.ResultSimilarities); err != nil {
		return domain.CacheEntry{}, fmt.Errorf("decode result similarities: %w", err)
	}
	e.CreatedAt = created
	e.ExpiresAt = expires
	return e, nil
}
