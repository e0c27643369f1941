package querycache

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kailas-cloud/giftsearch/internal/db/postgres"
	"github.com/kailas-cloud/giftsearch/internal/domain"
)

type sliceConverter struct{}

func (sliceConverter) ConvertValue(v any) (driver.Value, error) {
	switch v.(type) {
	case []string, []float64:
		return v, nil
	}
	return driver.DefaultParameterConverter.ConvertValue(v)
}

func newRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(sliceConverter{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	pool := postgres.NewFromDB(db, postgres.Config{
		MaxRetries:     2,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  time.Millisecond,
	}, zap.NewNop())
	return New(pool), mock
}

var entryColumns = []string{
	"cache_key", "query_text", "result_ids", "result_scores", "result_similarities",
	"created_at", "expires_at", "hit_count",
}

func TestRepository_Get(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expires := created.Add(time.Hour)
	sql := regexp.QuoteMeta(`UPDATE query_cache SET hit_count = hit_count + 1, last_hit_at = now() ` +
		`WHERE cache_key = $1 AND expires_at > now() RETURNING cache_key`)

	tests := map[string]struct {
		setup    func(m sqlmock.Sqlmock)
		expected domain.CacheEntry
		ok       bool
		wantErr  bool
	}{
		"hit": {
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectQuery(sql).WithArgs("fp").WillReturnRows(sqlmock.NewRows(entryColumns).
					AddRow("fp", "coffee gifts", `["p1","p2"]`, `[0.0328,0.0161]`, `[0.82,0.61]`, created, expires, int64(4)))
			},
			expected: domain.CacheEntry{
				Fingerprint:        "fp",
				QueryText:          "coffee gifts",
				ResultIDs:          []string{"p1", "p2"},
				ResultScores:       []float64{0.0328, 0.0161},
				ResultSimilarities: []float64{0.82, 0.61},
				CreatedAt:          created,
				ExpiresAt:          expires,
				HitCount:           4,
			},
			ok: true,
		},
		"hit-without-similarities": {
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectQuery(sql).WithArgs("fp").WillReturnRows(sqlmock.NewRows(entryColumns).
					AddRow("fp", "coffee gifts", `["p1"]`, `[0.9]`, `[]`, created, expires, int64(1)))
			},
			expected: domain.CacheEntry{
				Fingerprint:        "fp",
				QueryText:          "coffee gifts",
				ResultIDs:          []string{"p1"},
				ResultScores:       []float64{0.9},
				ResultSimilarities: []float64{},
				CreatedAt:          created,
				ExpiresAt:          expires,
				HitCount:           1,
			},
			ok: true,
		},
		"missing-or-expired": {
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectQuery(sql).WithArgs("fp").WillReturnRows(sqlmock.NewRows(entryColumns))
			},
		},
		"backend-error": {
			setup: func(m sqlmock.Sqlmock) {
				for range 2 {
					m.ExpectQuery(sql).WithArgs("fp").WillReturnError(errors.New("boom"))
				}
			},
			wantErr: true,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			repo, mock := newRepo(t)
			tt.setup(mock)

			got, ok, err := repo.Get(context.Background(), "fp")
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrPoolExhaustedRetries)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, got)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRepository_Upsert(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entry := domain.NewCacheEntry("fp", "coffee", []domain.SearchResult{
		{ID: "p1", Score: 0.0328, Similarity: 0.82},
		{ID: "p2", Score: 0.0161, Similarity: 0.61},
	}, now, time.Hour)

	t.Run("insert-or-refresh", func(t *testing.T) {
		repo, mock := newRepo(t)
		mock.ExpectExec(regexp.QuoteMeta(
			`INSERT INTO query_cache (cache_key,query_text,result_ids,result_scores,result_similarities,created_at,expires_at) `+
				`VALUES ($1,$2,$3,$4,$5,$6,$7) ON CONFLICT (cache_key) DO UPDATE SET `+
				`result_ids = EXCLUDED.result_ids, result_scores = EXCLUDED.result_scores, `+
				`result_similarities = EXCLUDED.result_similarities, `+
				`expires_at = EXCLUDED.expires_at, hit_count = query_cache.hit_count + 1`)).
			WithArgs("fp", "coffee", []string{"p1", "p2"}, []float64{0.0328, 0.0161}, []float64{0.82, 0.61}, now, now.Add(time.Hour)).
			WillReturnResult(sqlmock.NewResult(1, 1))

		require.NoError(t, repo.Upsert(context.Background(), entry))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid-entry-rejected", func(t *testing.T) {
		repo, mock := newRepo(t)
		bad := entry
		bad.ResultScores = bad.ResultScores[:1]
		err := repo.Upsert(context.Background(), bad)
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRepository_DeleteByProduct(t *testing.T) {
	repo, mock := newRepo(t)
	sql := regexp.QuoteMeta(`DELETE FROM query_cache WHERE $1 = ANY(result_ids)`)
	mock.ExpectExec(sql).WithArgs("p1").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(sql).WithArgs("p1").WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := repo.DeleteByProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = repo.DeleteByProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_DeleteAll(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM query_cache`)).WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := repo.DeleteAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_Cleanup(t *testing.T) {
	repo, mock := newRepo(t)
	sql := regexp.QuoteMeta(`SELECT cleanup_expired_query_cache()`)
	mock.ExpectQuery(sql).WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(int64(5)))
	mock.ExpectQuery(sql).WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(int64(0)))

	n, err := repo.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	n, err = repo.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_Stats(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*), COALESCE(avg(hit_count), 0)::float8 FROM query_cache WHERE expires_at > now()`)).
		WillReturnRows(sqlmock.NewRows([]string{"count", "avg"}).AddRow(int64(12), 2.5))

	s, err := repo.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.CacheTierStats{TotalEntries: 12, AvgHitsPerQuery: 2.5}, s)
	assert.NoError(t, mock.ExpectationsWereMet())
}
