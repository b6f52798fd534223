package elevation

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"
)

// CacheConfig controls the elevation cache.
type CacheConfig struct {
	// Client performs external lookups. When nil, Augment only serves
	// passthrough and already-cached samples.
	Client Lookup

	// Path is the persisted cache file. Empty disables persistence.
	Path string

	// PrefetchRadiusM extends each external lookup with ring points out to
	// this radius, so nearby queries hit the cache. Zero limits the lookup
	// to the requested bucket.
	PrefetchRadiusM float64
	// PrefetchStepM is the ring spacing. Defaults to 10 m.
	PrefetchStepM float64
}

// Cache stores resolved altitudes in ~10 m spatial buckets. Concurrent
// misses on the same bucket coalesce into a single external lookup; a
// failed lookup is never cached so a later fix can retry.
type Cache struct {
	cfg CacheConfig

	mu      sync.RWMutex
	samples map[string]float64
	dirty   bool

	group singleflight.Group
}

type persistedCache struct {
	Elevations map[string]float64 `json:"elevations"`
}

func NewCache(cfg CacheConfig) *Cache {
	if cfg.PrefetchStepM <= 0 {
		cfg.PrefetchStepM = 10
	}
	c := &Cache{
		cfg:     cfg,
		samples: make(map[string]float64),
	}
	c.load()
	return c
}

// Augment resolves the altitude for a coordinate. A known altitude (3D fix)
// passes through unchanged and seeds the cache. Otherwise the bucketed
// sample is returned, issuing at most one external lookup per bucket on a
// miss. Returns false when no altitude can be determined; that outcome is
// not cached.
func (c *Cache) Augment(ctx context.Context, lat, lon float64, knownAltM *float64) (float64, bool) {
	if c == nil {
		return 0, false
	}
	if knownAltM != nil {
		c.Store(lat, lon, *knownAltM)
		return *knownAltM, true
	}

	key := bucketKey(lat, lon)

	c.mu.RLock()
	v, ok := c.samples[key]
	c.mu.RUnlock()
	if ok {
		return v, true
	}

	if c.cfg.Client == nil {
		return 0, false
	}

	got, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Re-check: an earlier flight may have filled the bucket.
		c.mu.RLock()
		v, ok := c.samples[key]
		c.mu.RUnlock()
		if ok {
			return v, nil
		}

		points := ringPoints(lat, lon, c.cfg.PrefetchStepM, c.cfg.PrefetchRadiusM)
		samples, err := c.cfg.Client.Lookup(ctx, points)
		if err != nil {
			return 0.0, err
		}

		var center float64
		found := false
		c.mu.Lock()
		for _, s := range samples {
			k := bucketKey(s.Lat, s.Lon)
			if _, exists := c.samples[k]; !exists {
				c.samples[k] = s.ElevationM
				c.dirty = true
			}
			if k == key {
				center = c.samples[k]
				found = true
			}
		}
		c.mu.Unlock()

		if !found {
			return 0.0, errors.New("elevation lookup returned no sample for requested point")
		}
		return center, nil
	})
	if err != nil {
		log.Printf("elevation lookup failed lat=%.5f lon=%.5f: %v", lat, lon, err)
		return 0, false
	}

	c.saveIfDirty()
	return got.(float64), true
}

// Store caches an authoritative altitude, e.g. from a 3D fix. Resolved
// samples are immutable; an existing bucket is left untouched.
func (c *Cache) Store(lat, lon, elevationM float64) {
	if c == nil {
		return
	}
	key := bucketKey(lat, lon)
	c.mu.Lock()
	if _, ok := c.samples[key]; !ok {
		c.samples[key] = elevationM
		c.dirty = true
	}
	c.mu.Unlock()
	c.saveIfDirty()
}

func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.samples)
}

// load restores the persisted cache. Absence or corruption yields an empty
// cache, never an error.
func (c *Cache) load() {
	if c.cfg.Path == "" {
		return
	}
	b, err := os.ReadFile(c.cfg.Path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("elevation cache read failed path=%s: %v", c.cfg.Path, err)
		}
		return
	}
	var p persistedCache
	if err := json.Unmarshal(b, &p); err != nil {
		log.Printf("elevation cache corrupt path=%s: %v", c.cfg.Path, err)
		return
	}
	if p.Elevations != nil {
		c.samples = p.Elevations
	}
	log.Printf("elevation cache loaded path=%s entries=%d", c.cfg.Path, len(c.samples))
}

func (c *Cache) saveIfDirty() {
	if c.cfg.Path == "" {
		return
	}
	c.mu.Lock()
	if !c.dirty {
		c.mu.Unlock()
		return
	}
	b, err := json.Marshal(persistedCache{Elevations: c.samples})
	c.dirty = false
	c.mu.Unlock()
	if err != nil {
		log.Printf("elevation cache marshal failed: %v", err)
		return
	}

	tmp := c.cfg.Path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		log.Printf("elevation cache write failed path=%s: %v", c.cfg.Path, err)
		return
	}
	if err := os.Rename(tmp, c.cfg.Path); err != nil {
		log.Printf("elevation cache rename failed path=%s: %v", c.cfg.Path, err)
	}
}

// Save forces a flush of any unsaved samples, for shutdown.
func (c *Cache) Save() {
	if c == nil {
		return
	}
	c.saveIfDirty()
}

// EnsureDir creates the parent directory of a cache path.
func EnsureDir(path string) error {
	if path == "" {
		return nil
	}
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
