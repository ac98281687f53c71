package router

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/meridianrt/spine/pkg/backend"
)

// decisionCacheCapacity and decisionCacheTTL match spec.md §4.3's
// "LRU cap 1000, 5 min TTL" requirement.
const (
	decisionCacheCapacity = 1000
	decisionCacheTTL      = 5 * time.Minute
)

// CacheStats tracks hit-rate visibility, grounded on the teacher's
// routing.CacheStats.
type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

// HitRate returns Hits/(Hits+Misses), or 0 if nothing has been queried.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// decisionCacheItem is one doubly-linked-list node, grounded on the
// teacher's pkg/routing.LRUCache lruItem.
type decisionCacheItem struct {
	key       string
	decision  Decision
	expiresAt time.Time
	prev      *decisionCacheItem
	next      *decisionCacheItem
}

// DecisionCache is an LRU cache of routing decisions with O(1) eviction,
// keyed by a fingerprint of (taskType, truncated prompt, normalized
// metrics) per spec.md §4.3.
type DecisionCache struct {
	mu    sync.Mutex
	items map[string]*decisionCacheItem
	head  *decisionCacheItem
	tail  *decisionCacheItem
	stats CacheStats
}

// NewDecisionCache constructs a cache at the spec-mandated capacity.
func NewDecisionCache() *DecisionCache {
	return &DecisionCache{items: make(map[string]*decisionCacheItem)}
}

// Fingerprint computes the cache key for a routing query.
func Fingerprint(taskType string, prompt string, m Metrics) string {
	truncated := prompt
	if len(truncated) > 100 {
		truncated = truncated[:100]
	}
	raw := fmt.Sprintf("%s|%s|%d|%d|%t|%t|%t|%t",
		taskType, truncated, m.LinesOfCode, m.FileCount,
		m.MultiFile, m.DeepAnalysis, m.TemplateGeneration, m.HasSecurityImplications)
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])[:16]
}

// Get returns a cached decision if present and unexpired.
func (c *DecisionCache) Get(key string) (Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, found := c.items[key]
	if !found {
		c.stats.Misses++
		return Decision{}, false
	}
	if time.Now().After(item.expiresAt) {
		c.removeItem(item)
		c.stats.Misses++
		return Decision{}, false
	}

	c.moveToFront(item)
	c.stats.Hits++
	return item.decision, true
}

// Set stores a decision under key, evicting the least-recently-used
// entry if the cache is at capacity.
func (c *DecisionCache) Set(key string, decision Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, found := c.items[key]; found {
		item.decision = decision
		item.expiresAt = time.Now().Add(decisionCacheTTL)
		c.moveToFront(item)
		return
	}

	if len(c.items) >= decisionCacheCapacity {
		c.removeLRU()
	}

	item := &decisionCacheItem{key: key, decision: decision, expiresAt: time.Now().Add(decisionCacheTTL)}
	c.items[key] = item
	c.addToFront(item)
	c.stats.Size = len(c.items)
}

// Stats returns a snapshot of the cache's hit/miss bookkeeping.
func (c *DecisionCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = len(c.items)
	return s
}

func (c *DecisionCache) addToFront(item *decisionCacheItem) {
	item.prev = nil
	item.next = c.head
	if c.head != nil {
		c.head.prev = item
	}
	c.head = item
	if c.tail == nil {
		c.tail = item
	}
}

func (c *DecisionCache) removeFromList(item *decisionCacheItem) {
	if item.prev != nil {
		item.prev.next = item.next
	} else {
		c.head = item.next
	}
	if item.next != nil {
		item.next.prev = item.prev
	} else {
		c.tail = item.prev
	}
}

func (c *DecisionCache) moveToFront(item *decisionCacheItem) {
	if item == c.head {
		return
	}
	c.removeFromList(item)
	c.addToFront(item)
}

func (c *DecisionCache) removeItem(item *decisionCacheItem) {
	c.removeFromList(item)
	delete(c.items, item.key)
	c.stats.Evictions++
}

func (c *DecisionCache) removeLRU() {
	if c.tail != nil {
		c.removeItem(c.tail)
	}
}

// Decision is the router's output for a single voice invocation.
type Decision struct {
	Tier          backend.Tier
	Confidence    float64
	Reason        string
	EstimatedTime time.Duration
}
