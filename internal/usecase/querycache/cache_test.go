package querycache

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/giftsearch/internal/domain"
)

type memTier2 struct {
	mu        sync.Mutex
	entries   map[string]domain.CacheEntry
	getErr    error
	upsertErr error
	upserts   int
}

func newMemTier2() *memTier2 { return &memTier2{entries: map[string]domain.CacheEntry{}} }

func (m *memTier2) Get(_ context.Context, key string) (domain.CacheEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return domain.CacheEntry{}, false, m.getErr
	}
	e, ok := m.entries[key]
	if !ok || e.Expired(time.Now()) {
		return domain.CacheEntry{}, false, nil
	}
	e.HitCount++
	m.entries[key] = e
	return e, true, nil
}

func (m *memTier2) Upsert(_ context.Context, e domain.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if m.upsertErr != nil {
		return m.upsertErr
	}
	if old, ok := m.entries[e.Fingerprint]; ok {
		e.HitCount = old.HitCount + 1
	}
	m.entries[e.Fingerprint] = e
	return nil
}

func (m *memTier2) DeleteByProduct(_ context.Context, productID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, e := range m.entries {
		if e.Contains(productID) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

func (m *memTier2) DeleteAll(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.entries))
	m.entries = map[string]domain.CacheEntry{}
	return n, nil
}

func (m *memTier2) Stats(_ context.Context) (domain.CacheTierStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var hits int64
	for _, e := range m.entries {
		hits += e.HitCount
	}
	s := domain.CacheTierStats{TotalEntries: int64(len(m.entries))}
	if len(m.entries) > 0 {
		s.AvgHitsPerQuery = float64(hits) / float64(len(m.entries))
	}
	return s, nil
}

type catalog map[string]domain.SearchResult

func (c catalog) FetchByIDs(_ context.Context, ids []string) (map[string]domain.SearchResult, error) {
	out := map[string]domain.SearchResult{}
	for _, id := range ids {
		if p, ok := c[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

var products = catalog{
	"p1": {ID: "p1", Title: "Espresso maker", Price: 89},
	"p2": {ID: "p2", Title: "Mug", Price: 12.5},
}

func results() []domain.SearchResult {
	return []domain.SearchResult{
		{ID: "p1", Title: "Espresso maker", Price: 89, Similarity: 0.82, Score: 0.82},
		{ID: "p2", Title: "Mug", Price: 12.5, Similarity: 0.61, Score: 0.61},
	}
}

type countingExec struct {
	calls atomic.Int64
	res   []domain.SearchResult
	err   error
}

func (e *countingExec) run(context.Context) ([]domain.SearchResult, error) {
	e.calls.Add(1)
	return e.res, e.err
}

func newCache(tier2 Tier2, cfg Config) *Cache {
	return New(cfg, tier2, products, NewStats(), zap.NewNop())
}

type opts struct {
	MatchCount int     `json:"match_count"`
	Threshold  float64 `json:"threshold"`
}

func TestCache_MissThenTier1Hit(t *testing.T) {
	tier2 := newMemTier2()
	c := newCache(tier2, Config{})
	exec := &countingExec{res: results()}
	ctx := context.Background()

	first, err := c.GetOrExecute(ctx, "Coffee gifts", opts{10, 0.5}, exec.run)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := c.GetOrExecute(ctx, "  coffee   GIFTS ", opts{10, 0.5}, exec.run)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.Wait()

	if exec.calls.Load() != 1 {
		t.Fatalf("expected one execution, got %d", exec.calls.Load())
	}
	if !slices.Equal(first, second) {
		t.Errorf("tier-1 hit differs: %v vs %v", first, second)
	}
	s := c.Stats(ctx)
	if s.HitCount != 1 || s.MissCount != 1 || s.Tier1Hits != 1 || s.HitRate != 0.5 {
		t.Errorf("unexpected stats %+v", s)
	}
	if tier2.upserts != 1 || s.TotalEntries != 1 {
		t.Errorf("expected one persisted entry, got upserts=%d total=%d", tier2.upserts, s.TotalEntries)
	}
}

func TestCache_Tier2RoundTripPromotes(t *testing.T) {
	tier2 := newMemTier2()
	ctx := context.Background()

	writer := newCache(tier2, Config{})
	if _, err := writer.GetOrExecute(ctx, "coffee", opts{10, 0.5}, (&countingExec{res: results()}).run); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	writer.Wait()

	// A fresh process: empty tier-1, shared tier-2.
	reader := newCache(tier2, Config{})
	exec := &countingExec{}
	got, err := reader.GetOrExecute(ctx, "coffee", opts{10, 0.5}, exec.run)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exec.calls.Load() != 0 {
		t.Fatal("tier-2 hit must not execute")
	}

	var ids []string
	var scores []float64
	for _, r := range got {
		ids = append(ids, r.ID)
		scores = append(scores, r.Score)
	}
	if !slices.Equal(ids, []string{"p1", "p2"}) || !slices.Equal(scores, []float64{0.82, 0.61}) {
		t.Errorf("round trip changed results: %v %v", ids, scores)
	}
	if got[0].Title != "Espresso maker" {
		t.Errorf("expected hydrated title, got %q", got[0].Title)
	}

	if _, err := reader.GetOrExecute(ctx, "coffee", opts{10, 0.5}, exec.run); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := reader.Stats(ctx)
	if s.Tier2Hits != 1 || s.Tier1Hits != 1 || s.MissCount != 0 {
		t.Errorf("expected tier-2 hit then tier-1 hit, got %+v", s)
	}
}

func TestCache_Tier2KeepsHybridSimilarity(t *testing.T) {
	tier2 := newMemTier2()
	ctx := context.Background()
	fused := []domain.SearchResult{
		{ID: "p1", Title: "Espresso maker", Similarity: 0.82, Score: 0.0328},
		{ID: "p2", Title: "Mug", Similarity: 0.61, Score: 0.0161},
	}

	writer := newCache(tier2, Config{})
	if _, err := writer.GetOrExecute(ctx, "coffee", opts{10, 0.5}, (&countingExec{res: fused}).run); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	writer.Wait()

	reader := newCache(tier2, Config{})
	exec := &countingExec{}
	got, err := reader.GetOrExecute(ctx, "coffee", opts{10, 0.5}, exec.run)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exec.calls.Load() != 0 {
		t.Fatal("tier-2 hit must not execute")
	}
	for i, want := range fused {
		if got[i].Similarity != want.Similarity || got[i].Score != want.Score {
			t.Errorf("result %d: got similarity=%v score=%v, want %v %v",
				i, got[i].Similarity, got[i].Score, want.Similarity, want.Score)
		}
	}
}

func TestCache_Tier2WithoutSimilaritiesClampsScore(t *testing.T) {
	tier2 := newMemTier2()
	now := time.Now()
	e := domain.NewCacheEntry(mustFingerprint(t, "coffee", nil), "coffee",
		[]domain.SearchResult{{ID: "p1", Score: 1.4}, {ID: "p2", Score: 0.3}}, now, time.Hour)
	e.ResultSimilarities = nil
	_ = tier2.Upsert(context.Background(), e)

	c := newCache(tier2, Config{})
	got, err := c.GetOrExecute(context.Background(), "coffee", nil, (&countingExec{}).run)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[0].Similarity != 1 || got[1].Similarity != 0.3 {
		t.Errorf("expected clamped scores as similarity, got %v %v", got[0].Similarity, got[1].Similarity)
	}
}

func TestCache_BackendFailuresFallBackToExecutor(t *testing.T) {
	tier2 := newMemTier2()
	tier2.getErr = errors.New("connection refused")
	tier2.upsertErr = errors.New("connection refused")
	c := newCache(tier2, Config{})
	exec := &countingExec{res: results()}

	got, err := c.GetOrExecute(context.Background(), "coffee", nil, exec.run)
	c.Wait()
	if err != nil {
		t.Fatalf("cache failures must not surface, got %v", err)
	}
	if len(got) != 2 || exec.calls.Load() != 1 {
		t.Errorf("expected executor results, got %v (calls %d)", got, exec.calls.Load())
	}
}

func TestCache_StaleHydrationIsMiss(t *testing.T) {
	tier2 := newMemTier2()
	now := time.Now()
	_ = tier2.Upsert(context.Background(), domain.NewCacheEntry(mustFingerprint(t, "coffee", nil), "coffee",
		[]domain.SearchResult{{ID: "deleted", Score: 0.9}}, now, time.Hour))

	c := newCache(tier2, Config{})
	exec := &countingExec{res: results()}
	got, err := c.GetOrExecute(context.Background(), "coffee", nil, exec.run)
	c.Wait()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exec.calls.Load() != 1 || got[0].ID != "p1" {
		t.Errorf("expected fresh execution, got %v", got)
	}
}

func TestCache_ExecutorErrorNotCached(t *testing.T) {
	tier2 := newMemTier2()
	c := newCache(tier2, Config{})
	boom := errors.New("pool exhausted")
	exec := &countingExec{err: boom}

	for range 2 {
		if _, err := c.GetOrExecute(context.Background(), "coffee", nil, exec.run); !errors.Is(err, boom) {
			t.Fatalf("expected executor error, got %v", err)
		}
	}
	c.Wait()
	if exec.calls.Load() != 2 || tier2.upserts != 0 {
		t.Errorf("expected nothing cached, calls=%d upserts=%d", exec.calls.Load(), tier2.upserts)
	}
}

func TestCache_InvalidateByProductID(t *testing.T) {
	tier2 := newMemTier2()
	c := newCache(tier2, Config{})
	ctx := context.Background()
	exec := &countingExec{res: results()}

	for _, q := range []string{"coffee", "mugs", "kitchen"} {
		if _, err := c.GetOrExecute(ctx, q, nil, exec.run); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	c.Wait()

	n, err := c.InvalidateByProductID(ctx, "p2")
	if err != nil || n != 3 {
		t.Fatalf("expected 3 deletions, got %d (%v)", n, err)
	}
	n, err = c.InvalidateByProductID(ctx, "p2")
	if err != nil || n != 0 {
		t.Fatalf("expected repeat invalidation to delete nothing, got %d (%v)", n, err)
	}

	if _, err := c.GetOrExecute(ctx, "coffee", nil, exec.run); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exec.calls.Load() != 4 {
		t.Errorf("expected tier-1 entry to be dropped, executions=%d", exec.calls.Load())
	}
	c.Wait()
}

func TestCache_InvalidateAll(t *testing.T) {
	tier2 := newMemTier2()
	c := newCache(tier2, Config{})
	ctx := context.Background()
	exec := &countingExec{res: results()}

	if _, err := c.GetOrExecute(ctx, "coffee", nil, exec.run); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.Wait()
	if err := c.InvalidateAll(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s := c.Stats(ctx)
	if s.Tier1Entries != 0 || s.TotalEntries != 0 {
		t.Errorf("expected empty tiers, got %+v", s)
	}
}

func TestCache_SingleFlightCoalescesMisses(t *testing.T) {
	c := newCache(nil, Config{SingleFlight: true})
	release := make(chan struct{})
	var calls atomic.Int64
	exec := func(context.Context) ([]domain.SearchResult, error) {
		calls.Add(1)
		<-release
		return results(), nil
	}

	const callers = 10
	var wg sync.WaitGroup
	var started sync.WaitGroup
	started.Add(callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			res, err := c.GetOrExecute(context.Background(), "coffee", nil, exec)
			if err != nil || len(res) != 2 {
				t.Errorf("unexpected result %v (%v)", res, err)
			}
		}()
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("expected one execution, got %d", calls.Load())
	}
	s := c.Stats(context.Background())
	if s.MissCount != 1 || s.HitCount != callers-1 {
		t.Errorf("expected 1 miss and %d hits, got %+v", callers-1, s)
	}
}

func TestCache_SingleFlightFollowerSurvivesLeaderCancel(t *testing.T) {
	c := newCache(nil, Config{SingleFlight: true})
	entered := make(chan struct{})
	var calls atomic.Int64
	exec := func(ctx context.Context) ([]domain.SearchResult, error) {
		if calls.Add(1) == 1 {
			close(entered)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return results(), nil
	}

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := c.GetOrExecute(leaderCtx, "coffee", nil, exec)
		leaderErr <- err
	}()
	<-entered

	type outcome struct {
		res []domain.SearchResult
		err error
	}
	follower := make(chan outcome, 1)
	go func() {
		res, err := c.GetOrExecute(context.Background(), "coffee", nil, exec)
		follower <- outcome{res, err}
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	if err := <-leaderErr; !errors.Is(err, context.Canceled) {
		t.Errorf("expected leader to see its own cancellation, got %v", err)
	}
	got := <-follower
	if got.err != nil {
		t.Fatalf("follower inherited leader failure: %v", got.err)
	}
	if len(got.res) != 2 || got.res[0].ID != "p1" {
		t.Errorf("unexpected follower results %v", got.res)
	}
	if calls.Load() != 2 {
		t.Errorf("expected follower to execute once on its own, got %d calls", calls.Load())
	}
}

func TestCache_SingleFlightFollowerHonorsOwnDeadline(t *testing.T) {
	c := newCache(nil, Config{SingleFlight: true})
	entered := make(chan struct{})
	release := make(chan struct{})
	exec := func(context.Context) ([]domain.SearchResult, error) {
		close(entered)
		<-release
		return results(), nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := c.GetOrExecute(context.Background(), "coffee", nil, exec); err != nil {
			t.Errorf("leader: unexpected error %v", err)
		}
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := c.GetOrExecute(ctx, "coffee", nil, exec)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected follower deadline, got %v", err)
	}
	if waited := time.Since(start); waited > time.Second {
		t.Errorf("follower blocked on the leader for %v", waited)
	}
	close(release)
	<-done
}

func TestCache_ResultsAreCopies(t *testing.T) {
	c := newCache(nil, Config{})
	exec := &countingExec{res: results()}
	ctx := context.Background()

	first, _ := c.GetOrExecute(ctx, "coffee", nil, exec.run)
	first[0].Title = "mutated"
	second, _ := c.GetOrExecute(ctx, "coffee", nil, exec.run)
	if second[0].Title != "Espresso maker" {
		t.Errorf("caller mutation leaked into cache: %q", second[0].Title)
	}
}

func TestFingerprint(t *testing.T) {
	a := mustFingerprint(t, "Birthday  gift for MOM", map[string]any{"b": 1, "a": "x"})
	b := mustFingerprint(t, "birthday gift for mom", struct {
		A string `json:"a"`
		B int    `json:"b"`
	}{"x", 1})
	if a != b {
		t.Error("expected normalized query and key order to be irrelevant")
	}
	if c := mustFingerprint(t, "birthday gift for mom", map[string]any{"a": "x", "b": 2}); c == a {
		t.Error("expected different options to change the fingerprint")
	}
	if len(a) != 64 {
		t.Errorf("expected sha256 hex, got %q", a)
	}
}

func mustFingerprint(t *testing.T, q string, o any) string {
	t.Helper()
	fp, err := Fingerprint(q, o)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	return fp
}

type countingCleaner struct {
	calls   int
	pending int64
	err     error
}

func (c *countingCleaner) Cleanup(context.Context) (int64, error) {
	c.calls++
	if c.err != nil {
		return 0, c.err
	}
	n := c.pending
	c.pending = 0
	return n, nil
}

func TestSweeper_SweepIsIdempotent(t *testing.T) {
	cleaner := &countingCleaner{pending: 4}
	s := NewSweeper(cleaner, 0, zap.NewNop())

	if n, err := s.Sweep(context.Background()); err != nil || n != 4 {
		t.Fatalf("expected 4 deleted, got %d (%v)", n, err)
	}
	if n, err := s.Sweep(context.Background()); err != nil || n != 0 {
		t.Fatalf("expected nothing left, got %d (%v)", n, err)
	}
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	cleaner := &countingCleaner{err: errors.New("db down")}
	s := NewSweeper(cleaner, time.Millisecond, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
