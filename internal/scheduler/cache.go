package scheduler

import (
	"sync"
	"time"

	"github.com/samijaber1/aegis-telemetry/internal/alert"
	"github.com/samijaber1/aegis-telemetry/internal/event"
	"github.com/samijaber1/aegis-telemetry/internal/report"
)

// CycleResult is the outcome of one monitoring cycle
type CycleResult struct {
	ID           string                    `json:"id"`
	StartedAt    time.Time                 `json:"startedAt"`
	FinishedAt   time.Time                 `json:"finishedAt"`
	Samples      []event.ApiSample         `json:"samples"`
	System       *event.SystemSample       `json:"system,omitempty"`
	StoreMetrics []event.PerformanceMetric `json:"storeMetrics"`
	Report       *report.PerformanceReport `json:"report,omitempty"`
	Alerts       []alert.Alert             `json:"alerts"`

	// Error is set when the cycle aborted; SinkError when delivery failed
	Error     string `json:"error,omitempty"`
	SinkError string `json:"sinkError,omitempty"`

	TTL time.Duration `json:"-"`
}

// IsStale returns true if the result is older than its TTL
func (r *CycleResult) IsStale(now time.Time) bool {
	return r.TTL > 0 && now.Sub(r.FinishedAt) > r.TTL
}

// Failed reports whether the cycle aborted
func (r *CycleResult) Failed() bool {
	return r.Error != ""
}

// ResultCache keeps the most recent cycle results, bounded by limit
type ResultCache struct {
	mu      sync.RWMutex
	limit   int
	order   []string // oldest first
	results map[string]*CycleResult
}

// NewResultCache creates a cache holding at most limit results
func NewResultCache(limit int) *ResultCache {
	if limit <= 0 {
		limit = 1
	}
	return &ResultCache{
		limit:   limit,
		results: make(map[string]*CycleResult),
	}
}

// Set stores r, evicting the oldest result when full
func (c *ResultCache) Set(r *CycleResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.results[r.ID]; !exists {
		c.order = append(c.order, r.ID)
	}
	c.results[r.ID] = r

	for len(c.order) > c.limit {
		delete(c.results, c.order[0])
		c.order = c.order[1:]
	}
}

// Get retrieves a result by cycle ID
func (c *ResultCache) Get(id string) (*CycleResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.results[id]
	return r, ok
}

// Latest returns the most recently stored result
func (c *ResultCache) Latest() (*CycleResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.order) == 0 {
		return nil, false
	}
	return c.results[c.order[len(c.order)-1]], true
}

// All returns the cached results, newest first
func (c *ResultCache) All() []*CycleResult {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*CycleResult, 0, len(c.order))
	for i := len(c.order) - 1; i >= 0; i-- {
		out = append(out, c.results[c.order[i]])
	}
	return out
}

// Size returns the number of cached results
func (c *ResultCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.order)
}

// Clear removes all cached results
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order = nil
	c.results = make(map[string]*CycleResult)
}
