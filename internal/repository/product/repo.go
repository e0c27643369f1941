// Package product reads the catalog for vector, keyword and hydration
// queries, and writes back regenerated embeddings.
package product

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/goccy/go-json"
	"github.com/pgvector/pgvector-go"

	"github.com/kailas-cloud/giftsearch/internal/db/postgres"
	"github.com/kailas-cloud/giftsearch/internal/domain"
)

const table = "products"

var resultFields = []string{
	"id",
	"title",
	"description",
	"price::float8 AS price",
	"category",
}

// Repository implements product queries on top of the connection pool.
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

// SimilaritySearch returns products whose cosine similarity to vec exceeds
// threshold, closest first.
func (r *Repository) SimilaritySearch(
	ctx context.Context, vec []float32, threshold float64, limit int, f domain.Filter,
) ([]domain.SearchResult, error) {
	v := pgvector.NewVector(vec)
	qry := r.sb.
		Select(resultFields...).
		Column(squirrel.Expr("1 - (embedding <=> ?) AS similarity", v)).
		From(table).
		Where("embedding IS NOT NULL").
		Where(squirrel.Expr("1 - (embedding <=> ?) > ?", v, threshold))
	qry = applyFilter(qry, f).
		OrderByClause("embedding <=> ?", v).
		Limit(uint64(limit))

	res, err := postgres.ExecuteWithRetry(ctx, r.pool, 0, func(ctx context.Context, conn *sql.Conn) ([]domain.SearchResult, error) {
		return queryResults(ctx, conn, qry, func(sr *domain.SearchResult, score float64) {
			sr.Similarity = score
			sr.Score = score
		})
	})
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	return res, nil
}

// KeywordSearch ranks products by full-text relevance (ts_rank_cd). The raw
// rank is returned in Score.
func (r *Repository) KeywordSearch(
	ctx context.Context, query string, limit int, f domain.Filter,
) ([]domain.SearchResult, error) {
	qry := r.sb.
		Select(resultFields...).
		Column(squirrel.Expr("ts_rank_cd(search_vector, plainto_tsquery('english', ?)) AS rank", query)).
		From(table).
		Where(squirrel.Expr("search_vector @@ plainto_tsquery('english', ?)", query))
	qry = applyFilter(qry, f).
		OrderBy("rank DESC", "id").
		Limit(uint64(limit))

	res, err := postgres.ExecuteWithRetry(ctx, r.pool, 0, func(ctx context.Context, conn *sql.Conn) ([]domain.SearchResult, error) {
		return queryResults(ctx, conn, qry, func(sr *domain.SearchResult, score float64) {
			sr.Score = score
		})
	})
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	return res, nil
}

// FetchByIDs loads display fields for the given ids. Missing ids are absent
// from the map.
func (r *Repository) FetchByIDs(ctx context.Context, ids []string) (map[string]domain.SearchResult, error) {
	if len(ids) == 0 {
		return map[string]domain.SearchResult{}, nil
	}
	qry := r.sb.
		Select(resultFields...).
		Column("0::float8 AS score").
		From(table).
		Where("id = ANY(?)", ids)

	rows, err := postgres.ExecuteWithRetry(ctx, r.pool, 0, func(ctx context.Context, conn *sql.Conn) ([]domain.SearchResult, error) {
		return queryResults(ctx, conn, qry, func(*domain.SearchResult, float64) {})
	})
	if err != nil {
		return nil, fmt.Errorf("fetch products: %w", err)
	}

	out := make(map[string]domain.SearchResult, len(rows))
	for _, p := range rows {
		out[p.ID] = p
	}
	return out, nil
}

// ListMissingEmbeddings returns up to limit products with a NULL embedding.
func (r *Repository) ListMissingEmbeddings(ctx context.Context, limit int) ([]domain.Product, error) {
	qry := r.sb.
		Select("id", "title", "description", "category", "array_to_json(tags)::text AS tags").
		From(table).
		Where("embedding IS NULL").
		OrderBy("id").
		Limit(uint64(limit))

	res, err := postgres.ExecuteWithRetry(ctx, r.pool, 0, func(ctx context.Context, conn *sql.Conn) ([]domain.Product, error) {
		rows, err := squirrel.QueryContextWith(ctx, conn, qry)
		if err != nil {
			return nil, err
		}
		defer rows.Close() //nolint:errcheck

		var out []domain.Product
		for rows.Next() {
			var p domain.Product
			var tags sql.NullString
			if err := rows.Scan(&p.ID, &p.Title, &p.Description, &p.Category, &tags); err != nil {
				return nil, err
			}
			if tags.Valid && tags.String != "" {
				if err := json.Unmarshal([]byte(tags.String), &p.Tags); err != nil {
					return nil, fmt.Errorf("decode tags of %s: %w", p.ID, err)
				}
			}
			out = append(out, p)
		}
		return out, rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list missing embeddings: %w", err)
	}
	return res, nil
}

// UpdateEmbedding stores a regenerated vector.
func (r *Repository) UpdateEmbedding(ctx context.Context, id string, vec []float32) error {
	qry := r.sb.
		Update(table).
		Set("embedding", pgvector.NewVector(vec)).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": id})

	_, err := postgres.ExecuteWithRetry(ctx, r.pool, 0, func(ctx context.Context, conn *sql.Conn) (struct{}, error) {
		res, err := squirrel.ExecContextWith(ctx, conn, qry)
		if err != nil {
			return struct{}{}, err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return struct{}{}, fmt.Errorf("product %s: %w", id, domain.ErrNotFound)
		}
		return struct{}{}, nil
	})
	if err != nil {
		return fmt.Errorf("update embedding: %w", err)
	}
	return nil
}

// Coverage counts products and how many carry an embedding.
func (r *Repository) Coverage(ctx context.Context) (domain.Coverage, error) {
	query, args, err := r.sb.Select("count(*)", "count(embedding)").From(table).ToSql()
	if err != nil {
		return domain.Coverage{}, fmt.Errorf("coverage: %w", err)
	}

	return postgres.ExecuteWithRetry(ctx, r.pool, 0, func(ctx context.Context, conn *sql.Conn) (domain.Coverage, error) {
		var total, embedded int64
		if err := conn.QueryRowContext(ctx, query, args...).Scan(&total, &embedded); err != nil {
			return domain.Coverage{}, fmt.Errorf("coverage: %w", err)
		}
		return domain.NewCoverage(total, embedded), nil
	})
}

func applyFilter(qry squirrel.SelectBuilder, f domain.Filter) squirrel.SelectBuilder {
	if f.Category != "" {
		qry = qry.Where("lower(category) = lower(?)", f.Category)
	}
	if f.MinPrice != nil {
		qry = qry.Where(squirrel.GtOrEq{"price": *f.MinPrice})
	}
	if f.MaxPrice != nil {
		qry = qry.Where(squirrel.LtOrEq{"price": *f.MaxPrice})
	}
	return qry
}

func queryResults(
	ctx context.Context, conn *sql.Conn, qry squirrel.SelectBuilder, setScore func(*domain.SearchResult, float64),
) ([]domain.SearchResult, error) {
	rows, err := squirrel.QueryContextWith(ctx, conn, qry)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	out := []domain.SearchResult{}
	for rows.Next() {
		var sr domain.SearchResult
		var desc, category sql.NullString
		var score float64
		if err := rows.Scan(&sr.ID, &sr.Title, &desc, &sr.Price, &category, &score); err != nil {
			return nil, err
		}
		sr.Description = desc.String
		sr.Category = category.String
		setScore(&sr, score)
		out = append(out, sr)
	}
	return out, rows.Err()
}
