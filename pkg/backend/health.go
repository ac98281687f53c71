package backend

import (
	"context"
	"sync"
	"time"
)

// ProbeFunc performs a single, uncached health probe.
type ProbeFunc func(ctx context.Context) (Health, error)

// HealthCache caches a backend's health reading for ttl and coalesces
// concurrent callers into a single in-flight probe, so a burst of
// parallel voice invocations against an unhealthy backend does not each
// pay the full probe latency. Grounded on the single-flight shape of the
// teacher's LRUCache (pkg/routing/cache.go): one mutex-guarded slot,
// checked before doing real work.
type HealthCache struct {
	ttl   time.Duration
	probe ProbeFunc

	mu       sync.Mutex
	value    Health
	checked  time.Time
	inflight chan struct{}
	err      error
}

// NewHealthCache creates a cache that re-probes at most once per ttl.
func NewHealthCache(ttl time.Duration, probe ProbeFunc) *HealthCache {
	return &HealthCache{ttl: ttl, probe: probe}
}

// Get returns the cached health reading, refreshing it if stale. Callers
// racing on a stale entry share a single probe.
func (h *HealthCache) Get(ctx context.Context) (Health, error) {
	h.mu.Lock()
	if time.Since(h.checked) < h.ttl && !h.checked.IsZero() {
		v, e := h.value, h.err
		h.mu.Unlock()
		return v, e
	}

	if h.inflight != nil {
		waitCh := h.inflight
		h.mu.Unlock()
		select {
		case <-waitCh:
		case <-ctx.Done():
			return Health{}, ctx.Err()
		}
		h.mu.Lock()
		v, e := h.value, h.err
		h.mu.Unlock()
		return v, e
	}

	done := make(chan struct{})
	h.inflight = done
	h.mu.Unlock()

	v, e := h.probe(ctx)

	h.mu.Lock()
	h.value = v
	h.err = e
	h.checked = time.Now()
	h.inflight = nil
	h.mu.Unlock()
	close(done)

	return v, e
}

// Invalidate forces the next Get to re-probe.
func (h *HealthCache) Invalidate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checked = time.Time{}
}
