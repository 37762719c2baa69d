// Package modelcache is a bounded, thread-safe cache of loaded PCA models
// keyed by model_run_id, with TTL expiry and byte-size accounting on top of
// hashicorp/golang-lru's recency-ordered eviction.
package modelcache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/kubilitics/anomaly-platform/internal/apierr"
	"github.com/kubilitics/anomaly-platform/internal/pca"
)

// Loader loads the model at artifactPath. Swappable in tests.
type Loader func(artifactPath string) (*pca.Model, error)

// entry is what the cache stores per model_run_id.
type entry struct {
	model        *pca.Model
	artifactPath string
	lastAccess   time.Time
	memoryUsage  int64
}

// Stats is the cache's observability surface: size and byte budget usage.
type Stats struct {
	Size      int
	BytesUsed int64
	MaxBytes  int64
	Hits      int64
	Misses    int64
	Evictions int64
}

// Cache is a bounded LRU+TTL+bytes cache of loaded PCA models.
type Cache struct {
	mu sync.Mutex

	maxEntries int
	maxBytes   int64
	ttl        time.Duration
	loader     Loader

	lru          *lru.LRU[string, *entry]
	currentBytes int64
	hits         int64
	misses       int64
	evictions    int64

	now func() time.Time
}

// Options configures a new Cache.
type Options struct {
	MaxEntries int
	MaxBytes   int64
	TTL        time.Duration
	Loader     Loader
	// Now overrides time.Now for deterministic tests. Optional.
	Now func() time.Time
}

// New constructs a Cache. Loader defaults to pca.Load.
func New(opts Options) (*Cache, error) {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 16
	}
	if opts.Loader == nil {
		opts.Loader = pca.Load
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Cache{
		maxEntries: opts.MaxEntries,
		maxBytes:   opts.MaxBytes,
		ttl:        opts.TTL,
		loader:     opts.Loader,
		now:        opts.Now,
	}

	// The underlying LRU's own size cap is effectively unbounded here;
	// entries-count and byte-budget enforcement happen explicitly in
	// GetOrCreate so eviction order (smallest last_access) is exact.
	inner, err := lru.NewLRU[string, *entry](1<<31-1, func(key string, e *entry) {
		c.currentBytes -= e.memoryUsage
	})
	if err != nil {
		return nil, err
	}
	c.lru = inner
	return c, nil
}

// GetOrCreate returns the cached model for modelRunID if present, unexpired,
// and loaded from the same artifactPath; otherwise it loads (outside the
// cache lock) and inserts, evicting the least-recently-used entries as
// needed to respect max_entries and max_bytes.
func (c *Cache) GetOrCreate(modelRunID, artifactPath string) (*pca.Model, error) {
	c.mu.Lock()
	now := c.now()

	if e, ok := c.lru.Peek(modelRunID); ok {
		if c.ttl > 0 && now.Sub(e.lastAccess) > c.ttl {
			c.lru.Remove(modelRunID)
		} else if e.artifactPath == artifactPath {
			e.lastAccess = now
			c.lru.Get(modelRunID) // refresh recency order
			c.hits++
			model := e.model
			c.mu.Unlock()
			return model, nil
		} else {
			c.lru.Remove(modelRunID)
		}
	}
	c.misses++
	c.mu.Unlock()

	model, err := c.loader(artifactPath)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindArtifactLoadFailed, err, "load model %s from %s", modelRunID, artifactPath)
	}
	usage := model.EstimateMemoryUsage()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxBytes > 0 && usage > c.maxBytes {
		return model, nil
	}

	c.ensureCapacity(usage)
	if c.lru.Len() >= c.maxEntries {
		c.lru.RemoveOldest()
		c.evictions++
	}

	c.lru.Add(modelRunID, &entry{
		model:        model,
		artifactPath: artifactPath,
		lastAccess:   now,
		memoryUsage:  usage,
	})
	c.currentBytes += usage

	return model, nil
}

func (c *Cache) ensureCapacity(additional int64) {
	if c.maxBytes <= 0 {
		return
	}
	for c.lru.Len() > 0 && c.currentBytes+additional > c.maxBytes {
		c.lru.RemoveOldest()
		c.evictions++
	}
}

// Invalidate evicts modelRunID if present.
func (c *Cache) Invalidate(modelRunID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(modelRunID)
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.currentBytes = 0
}

// GetStats returns a snapshot of cache observability counters.
func (c *Cache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:      c.lru.Len(),
		BytesUsed: c.currentBytes,
		MaxBytes:  c.maxBytes,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}
