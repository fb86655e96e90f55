package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCache_Basic(t *testing.T) {
	c := New[string, int](3)
	c.Set("a", 1)
	c.Set("b", 2)

	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %d, %v; want 1, true", v, ok)
	}
	if _, ok := c.Get("z"); ok {
		t.Error("Get(z) should miss")
	}
	c.Set("a", 10)
	if v, _ := c.Get("a"); v != 10 {
		t.Errorf("Get(a) after update = %d; want 10", v)
	}
	c.Delete("a")
	if c.Len() != 1 {
		t.Errorf("Len() = %d; want 1", c.Len())
	}
}

func TestCache_Eviction(t *testing.T) {
	c := New[string, int](2)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a")
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("'b' should have been evicted")
	}
	if got := c.Keys(); len(got) != 2 || got[0] != "c" || got[1] != "a" {
		t.Errorf("Keys() = %v; want [c a]", got)
	}
	if s := c.Stats(); s.Evicts != 1 {
		t.Errorf("Evicts = %d; want 1", s.Evicts)
	}
}

func TestCache_GetOrLoadRunsOncePerKey(t *testing.T) {
	c := New[string, int](10)
	var calls atomic.Int32
	start := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			v, _, err := c.GetOrLoad("blood_pressure", func() (int, error) {
				calls.Add(1)
				time.Sleep(20 * time.Millisecond)
				return 42, nil
			})
			if err != nil || v != 42 {
				t.Errorf("GetOrLoad = %d, %v; want 42, nil", v, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("loader called %d times; want 1", n)
	}
	v, hit, err := c.GetOrLoad("blood_pressure", func() (int, error) { return 0, errors.New("unused") })
	if err != nil || !hit || v != 42 {
		t.Errorf("second GetOrLoad = %d, %v, %v; want 42, true, nil", v, hit, err)
	}
}

func TestCache_GetOrLoadDoesNotCacheErrors(t *testing.T) {
	c := New[string, int](10)
	boom := errors.New("boom")
	if _, _, err := c.GetOrLoad("k", func() (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v; want boom", err)
	}
	if c.Len() != 0 {
		t.Error("failed load must not be cached")
	}
	v, hit, err := c.GetOrLoad("k", func() (int, error) { return 7, nil })
	if err != nil || hit || v != 7 {
		t.Errorf("GetOrLoad = %d, %v, %v; want 7, false, nil", v, hit, err)
	}
}

func TestCache_Clear(t *testing.T) {
	c := New[int, string](0)
	c.Set(1, "x")
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len() after Clear = %d", c.Len())
	}
	if c.Stats().Capacity != 100 {
		t.Errorf("default capacity = %d; want 100", c.Stats().Capacity)
	}
}
