package domain

// PoolStats is a point-in-time view of the connection pool.
type PoolStats struct {
	Total    int   `json:"total"`
	Idle     int   `json:"idle"`
	Waiting  int64 `json:"waiting"`
	Max      int   `json:"max"`
	Acquired int64 `json:"acquired"`
}

// Utilization returns acquired/max, 0 for a pool without capacity.
func (s PoolStats) Utilization() float64 {
	if s.Max == 0 {
		return 0
	}
	return float64(s.Acquired) / float64(s.Max)
}
