package conversation

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCacheGetSet(t *testing.T) {
	c := NewCache(time.Minute)

	if _, ok := c.Get("missing"); ok {
		t.Error("Get on empty cache returned a value")
	}

	c.Set("k", "v")
	got, ok := c.Get("k")
	if !ok || got != "v" {
		t.Errorf("Get = (%v, %v), want (v, true)", got, ok)
	}

	c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Error("Get after Delete returned a value")
	}
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(time.Minute)
	current := time.Now()
	c.now = func() time.Time { return current }

	c.Set("k", "v")
	if _, ok := c.Get("k"); !ok {
		t.Fatal("value missing before expiry")
	}

	current = current.Add(time.Minute + time.Second)
	if _, ok := c.Get("k"); ok {
		t.Error("value survived past its TTL")
	}
}

func TestCacheSetRefreshesTTL(t *testing.T) {
	c := NewCache(time.Minute)
	current := time.Now()
	c.now = func() time.Time { return current }

	c.Set("k", "v1")
	current = current.Add(50 * time.Second)
	c.Set("k", "v2")
	current = current.Add(50 * time.Second)

	got, ok := c.Get("k")
	if !ok || got != "v2" {
		t.Errorf("Get = (%v, %v), want (v2, true) after TTL refresh", got, ok)
	}
}

func TestCacheGetOrCreateSharesOneLoad(t *testing.T) {
	c := NewCache(time.Minute)

	var loads int32
	release := make(chan struct{})
	load := func() (any, error) {
		atomic.AddInt32(&loads, 1)
		<-release
		return "loaded", nil
	}

	const n = 10
	var wg sync.WaitGroup
	results := make([]any, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrCreate("k", load)
			if err != nil {
				t.Errorf("GetOrCreate failed: %v", err)
			}
			results[i] = v
		}(i)
	}

	// Let the goroutines pile up on the fill, then release it.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&loads); got != 1 {
		t.Errorf("loads = %d, want 1", got)
	}
	for i, v := range results {
		if v != "loaded" {
			t.Errorf("result[%d] = %v, want loaded", i, v)
		}
	}
}

func TestCacheGetOrCreateErrorNotCached(t *testing.T) {
	c := NewCache(time.Minute)

	boom := errors.New("load failed")
	if _, err := c.GetOrCreate("k", func() (any, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Fatalf("error = %v, want load failure", err)
	}

	// The next call must run the loader again.
	v, err := c.GetOrCreate("k", func() (any, error) { return "ok", nil })
	if err != nil || v != "ok" {
		t.Errorf("GetOrCreate after failed load = (%v, %v), want (ok, nil)", v, err)
	}
}
