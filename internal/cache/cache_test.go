package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/devghori1264/aerophoenix/lockerd/internal/models"
	testingclock "k8s.io/utils/clock/testing"
)

func machine(version int64, status models.Status) *models.Machine {
	return &models.Machine{ID: "m-1", LocationID: "loc", Status: status, Version: version}
}

func TestCache_GetPut(t *testing.T) {
	c := New(time.Minute, testingclock.NewFakeClock(time.Now()))

	if _, ok := c.Get("m-1"); ok {
		t.Fatal("Get on empty cache should miss")
	}
	if !c.Put("m-1", machine(1, models.StatusAvailable)) {
		t.Fatal("Put should accept first write")
	}
	got, ok := c.Get("m-1")
	if !ok {
		t.Fatal("Get after Put should hit")
	}
	if got.Status != models.StatusAvailable {
		t.Fatalf("Get status = %s, want AVAILABLE", got.Status)
	}
}

func TestCache_ReturnsCopies(t *testing.T) {
	c := New(time.Minute, nil)
	m := machine(1, models.StatusAvailable)
	c.Put("m-1", m)
	m.Status = models.StatusError

	got, _ := c.Get("m-1")
	if got.Status != models.StatusAvailable {
		t.Fatalf("cached status = %s, want AVAILABLE (caller mutation leaked)", got.Status)
	}
	got.Status = models.StatusRunning
	again, _ := c.Get("m-1")
	if again.Status != models.StatusAvailable {
		t.Fatalf("cached status = %s, want AVAILABLE (reader mutation leaked)", again.Status)
	}
}

func TestCache_RejectsOlderVersion(t *testing.T) {
	c := New(time.Minute, nil)
	c.Put("m-1", machine(3, models.StatusRunning))

	if c.Put("m-1", machine(2, models.StatusAwaitingDropoff)) {
		t.Fatal("Put with older version should be rejected")
	}
	got, _ := c.Get("m-1")
	if got.Version != 3 || got.Status != models.StatusRunning {
		t.Fatalf("cached = v%d %s, want v3 RUNNING", got.Version, got.Status)
	}

	if !c.Put("m-1", machine(3, models.StatusRunning)) {
		t.Fatal("Put with equal version should win")
	}
	if !c.Put("m-1", machine(4, models.StatusError)) {
		t.Fatal("Put with newer version should win")
	}
}

func TestCache_Expiry(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	c := New(time.Minute, clk)
	c.Put("m-1", machine(5, models.StatusRunning))

	clk.Step(59 * time.Second)
	if _, ok := c.Get("m-1"); !ok {
		t.Fatal("entry should still be live before ttl")
	}

	clk.Step(time.Second)
	if _, ok := c.Get("m-1"); ok {
		t.Fatal("entry should expire at ttl")
	}

	// an expired entry does not block older versions
	if !c.Put("m-1", machine(1, models.StatusAvailable)) {
		t.Fatal("Put over expired entry should be accepted")
	}

	clk.Step(2 * time.Minute)
	if removed := c.Purge(); removed != 1 {
		t.Fatalf("Purge() = %d, want 1", removed)
	}
	if c.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", c.Len())
	}
}

func TestCache_Concurrency(t *testing.T) {
	c := New(time.Minute, nil)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(v int64) {
			defer wg.Done()
			c.Put("m-1", machine(v, models.StatusRunning))
			c.Get("m-1")
		}(int64(i))
	}
	wg.Wait()

	got, ok := c.Get("m-1")
	if !ok {
		t.Fatal("expected entry after concurrent writes")
	}
	if got.Version != 99 {
		t.Fatalf("cached version = %d, want highest written (99)", got.Version)
	}
}

func TestShared_IsSingleton(t *testing.T) {
	if Shared() != Shared() {
		t.Fatal("Shared() should return the same instance")
	}
}

func TestCache_Invalidate(t *testing.T) {
	c := New(time.Minute, nil)
	c.Put("m-1", machine(7, models.StatusRunning))
	c.Invalidate("m-1", 0)
	if _, ok := c.Get("m-1"); ok {
		t.Fatal("Get after Invalidate should miss")
	}
	if !c.Put("m-1", machine(8, models.StatusError)) {
		t.Fatal("Put at the floor should repopulate the entry")
	}
	got, ok := c.Get("m-1")
	if !ok || got.Version != 8 {
		t.Fatalf("Get = %+v, %v; want version 8", got, ok)
	}
}

func TestCache_InvalidateKeepsVersionFloor(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	c := New(time.Minute, clk)
	c.Put("m-1", machine(2, models.StatusAwaitingDropoff))
	c.Invalidate("m-1", 0)

	// a read-through that saw the row before the lost write
	for _, v := range []int64{1, 2} {
		if c.Put("m-1", machine(v, models.StatusAvailable)) {
			t.Fatalf("Put(v%d) after Invalidate should be rejected", v)
		}
	}
	if _, ok := c.Get("m-1"); ok {
		t.Fatal("rejected puts must leave the entry a miss")
	}

	clk.Step(time.Minute)
	if !c.Put("m-1", machine(2, models.StatusAwaitingDropoff)) {
		t.Fatal("Put after the tombstone expired should be accepted")
	}
}

func TestCache_InvalidateExplicitFloor(t *testing.T) {
	c := New(time.Minute, testingclock.NewFakeClock(time.Now()))
	c.Invalidate("m-1", 5)
	if c.Put("m-1", machine(4, models.StatusAvailable)) {
		t.Fatal("Put below the explicit floor should be rejected")
	}
	// a second invalidation with a lower floor keeps the higher one
	c.Invalidate("m-1", 1)
	if c.Put("m-1", machine(4, models.StatusAvailable)) {
		t.Fatal("Put below the retained floor should be rejected")
	}
	if !c.Put("m-1", machine(5, models.StatusRunning)) {
		t.Fatal("Put at the floor should be accepted")
	}
}
