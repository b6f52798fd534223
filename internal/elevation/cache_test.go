package elevation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
)

// countingLookup resolves every requested point to a fixed altitude and
// counts external calls.
type countingLookup struct {
	calls int32
	fail  bool
	altM  float64
}

func (f *countingLookup) Lookup(_ context.Context, locations []LatLng) ([]Sample, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.fail {
		return nil, errors.New("service unavailable")
	}
	out := make([]Sample, 0, len(locations))
	for _, l := range locations {
		out = append(out, Sample{Lat: l.Lat, Lon: l.Lon, ElevationM: f.altM})
	}
	return out, nil
}

func TestBucketKey_NearbyPointsShareABucket(t *testing.T) {
	// ~1 m apart: one bucket. ~500 m apart: different buckets.
	a := bucketKey(48.858400, 2.294500)
	b := bucketKey(48.858405, 2.294505)
	far := bucketKey(48.863000, 2.294500)
	if a != b {
		t.Fatalf("nearby points in different buckets: %s vs %s", a, b)
	}
	if a == far {
		t.Fatalf("distant points share bucket %s", a)
	}
}

func TestAugment_PassthroughKnownAltitude(t *testing.T) {
	lookup := &countingLookup{altM: 99}
	c := NewCache(CacheConfig{Client: lookup})

	known := 12.3
	got, ok := c.Augment(context.Background(), 48.8584, 2.2945, &known)
	if !ok || got != 12.3 {
		t.Fatalf("got=%v ok=%v", got, ok)
	}
	if atomic.LoadInt32(&lookup.calls) != 0 {
		t.Fatalf("passthrough issued %d external calls", lookup.calls)
	}
	// The known altitude seeds the cache for later 2D fixes.
	got, ok = c.Augment(context.Background(), 48.8584, 2.2945, nil)
	if !ok || got != 12.3 {
		t.Fatalf("seeded lookup got=%v ok=%v", got, ok)
	}
	if atomic.LoadInt32(&lookup.calls) != 0 {
		t.Fatalf("cache hit issued %d external calls", lookup.calls)
	}
}

func TestAugment_MissIssuesOneLookupThenHits(t *testing.T) {
	lookup := &countingLookup{altM: 120}
	c := NewCache(CacheConfig{Client: lookup})

	got, ok := c.Augment(context.Background(), 48.8584, 2.2945, nil)
	if !ok || got != 120 {
		t.Fatalf("got=%v ok=%v", got, ok)
	}
	if n := atomic.LoadInt32(&lookup.calls); n != 1 {
		t.Fatalf("calls=%d", n)
	}

	if _, ok := c.Augment(context.Background(), 48.8584, 2.2945, nil); !ok {
		t.Fatalf("expected cache hit")
	}
	if n := atomic.LoadInt32(&lookup.calls); n != 1 {
		t.Fatalf("hit issued another call, calls=%d", n)
	}
}

func TestAugment_ConcurrentMissesCoalesce(t *testing.T) {
	lookup := &countingLookup{altM: 77}
	c := NewCache(CacheConfig{Client: lookup})

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, ok := c.Augment(context.Background(), 48.8584, 2.2945, nil)
			if !ok || got != 77 {
				errs <- "bad result"
			}
		}()
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Fatalf("%s", e)
	}
	if calls := atomic.LoadInt32(&lookup.calls); calls != 1 {
		t.Fatalf("expected exactly one external lookup, got %d", calls)
	}
}

func TestAugment_FailureIsAbsentAndNotCached(t *testing.T) {
	lookup := &countingLookup{fail: true}
	c := NewCache(CacheConfig{Client: lookup})

	if _, ok := c.Augment(context.Background(), 48.8584, 2.2945, nil); ok {
		t.Fatalf("failed lookup returned a value")
	}
	if c.Len() != 0 {
		t.Fatalf("negative result cached")
	}

	// Service recovers; a later fix retries.
	lookup.fail = false
	lookup.altM = 31
	got, ok := c.Augment(context.Background(), 48.8584, 2.2945, nil)
	if !ok || got != 31 {
		t.Fatalf("retry got=%v ok=%v", got, ok)
	}
}

func TestAugment_NoClientNoPanic(t *testing.T) {
	c := NewCache(CacheConfig{})
	if _, ok := c.Augment(context.Background(), 1, 2, nil); ok {
		t.Fatalf("expected absent")
	}
}

func TestAugment_PrefetchServesNeighborhood(t *testing.T) {
	lookup := &countingLookup{altM: 42}
	c := NewCache(CacheConfig{Client: lookup, PrefetchRadiusM: 100})

	if _, ok := c.Augment(context.Background(), 48.8584, 2.2945, nil); !ok {
		t.Fatalf("expected altitude")
	}
	// ~50 m east of the first point: should be prefetched.
	p := destination(48.8584, 2.2945, 90, 50)
	if _, ok := c.Augment(context.Background(), p.Lat, p.Lon, nil); !ok {
		t.Fatalf("neighbor point missed the cache")
	}
	if calls := atomic.LoadInt32(&lookup.calls); calls != 1 {
		t.Fatalf("neighbor reuse failed, calls=%d", calls)
	}
}

func TestCache_PersistsAndRestores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "elevations.json")
	lookup := &countingLookup{altM: 55}

	c := NewCache(CacheConfig{Client: lookup, Path: path})
	if _, ok := c.Augment(context.Background(), 48.8584, 2.2945, nil); !ok {
		t.Fatalf("expected altitude")
	}

	restored := NewCache(CacheConfig{Path: path})
	got, ok := restored.Augment(context.Background(), 48.8584, 2.2945, nil)
	if !ok || got != 55 {
		t.Fatalf("restored got=%v ok=%v", got, ok)
	}
}

func TestCache_CorruptFileLoadsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "elevations.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c := NewCache(CacheConfig{Path: path})
	if c.Len() != 0 {
		t.Fatalf("corrupt cache loaded %d entries", c.Len())
	}
}

func TestRingPoints_CoverCenterAndDedup(t *testing.T) {
	pts := ringPoints(48.8584, 2.2945, 10, 100)
	if len(pts) < 2 {
		t.Fatalf("too few points: %d", len(pts))
	}
	if pts[0].Lat != 48.8584 || pts[0].Lon != 2.2945 {
		t.Fatalf("center missing: %+v", pts[0])
	}
	seen := map[string]bool{}
	for _, p := range pts {
		k := bucketKey(p.Lat, p.Lon)
		if seen[k] {
			t.Fatalf("duplicate bucket %s", k)
		}
		seen[k] = true
	}
}
