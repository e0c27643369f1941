package recommend

import (
	"sync"
	"time"

	"github.com/kailas-cloud/giftsearch/internal/domain"
)

// DefaultWindow is the length of one rate limit window.
const DefaultWindow = time.Minute

// FixedWindow admits at most limit requests per window. The window opens
// with the first request after the previous one closed.
type FixedWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	now    func() time.Time
	start  time.Time
	count  int
}

// NewFixedWindow creates a limiter. A nil clock means time.Now.
func NewFixedWindow(limit int, window time.Duration, now func() time.Time) *FixedWindow {
	if window <= 0 {
		window = DefaultWindow
	}
	if now == nil {
		now = time.Now
	}
	return &FixedWindow{limit: limit, window: window, now: now}
}

// Allow consumes one slot or returns a *domain.RateLimitError carrying the
// time until the current window closes.
func (w *FixedWindow) Allow() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if w.start.IsZero() || !now.Before(w.start.Add(w.window)) {
		w.start = now
		w.count = 0
	}
	if w.count >= w.limit {
		return domain.NewRateLimited(w.start.Add(w.window).Sub(now))
	}
	w.count++
	return nil
}

// Remaining returns the slots left in the current window.
func (w *FixedWindow) Remaining() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.start.IsZero() || !w.now().Before(w.start.Add(w.window)) {
		return w.limit
	}
	return max(w.limit-w.count, 0)
}
