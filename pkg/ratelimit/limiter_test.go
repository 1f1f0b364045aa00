package ratelimit

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter() (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewLimiter(WithClock(clock.Now)), clock
}

func TestLimiter_WindowReset(t *testing.T) {
	limiter, clock := newTestLimiter()

	for i := 1; i <= 3; i++ {
		if !limiter.CheckLimit("x", 3, time.Second) {
			t.Fatalf("call %d should be allowed", i)
		}
		clock.Advance(100 * time.Millisecond)
	}

	if limiter.CheckLimit("x", 3, time.Second) {
		t.Error("4th call within window should be denied")
	}

	// 1000ms after the first call
	clock.Advance(700 * time.Millisecond)
	if !limiter.CheckLimit("x", 3, time.Second) {
		t.Fatal("call after window should be allowed")
	}

	w, ok := limiter.Window("x")
	if !ok {
		t.Fatal("window for x should exist")
	}
	if w.Count != 1 {
		t.Errorf("Count after reset = %d, want 1", w.Count)
	}
	if want := clock.Now().Add(time.Second); !w.ResetAt.Equal(want) {
		t.Errorf("ResetAt = %v, want %v", w.ResetAt, want)
	}
}

func TestLimiter_NonPositiveMaxDeniesAll(t *testing.T) {
	for _, max := range []int{0, -1} {
		limiter, clock := newTestLimiter()

		for i := 0; i < 3; i++ {
			if limiter.CheckLimit("x", max, time.Second) {
				t.Errorf("max=%d call %d should be denied", max, i+1)
			}
			// Window rollover must not admit either
			clock.Advance(2 * time.Second)
		}
		if limiter.Len() != 0 {
			t.Errorf("max=%d tracked %d identifiers, want 0", max, limiter.Len())
		}
	}
}

func TestLimiter_DeniedRequestsDoNotCount(t *testing.T) {
	limiter, _ := newTestLimiter()

	for i := 0; i < 10; i++ {
		limiter.CheckLimit("x", 2, time.Minute)
	}

	w, _ := limiter.Window("x")
	if w.Count != 2 {
		t.Errorf("Count = %d, want 2 (never exceeds max)", w.Count)
	}
}

func TestLimiter_BoundaryBurst(t *testing.T) {
	// Fixed window: a burst straddling the boundary admits up to 2x max.
	limiter, clock := newTestLimiter()

	limiter.CheckLimit("x", 1, time.Second) // opens the window
	clock.Advance(999 * time.Millisecond)

	allowed := 0
	for i := 0; i < 3; i++ {
		if limiter.CheckLimit("x", 3, time.Second) {
			allowed++
		}
	}
	clock.Advance(time.Millisecond)
	for i := 0; i < 3; i++ {
		if limiter.CheckLimit("x", 3, time.Second) {
			allowed++
		}
	}

	// 2 left in the old window, 3 in the new one
	if allowed != 5 {
		t.Errorf("allowed across boundary = %d, want 5", allowed)
	}

	limiter2, clock2 := newTestLimiter()
	burst := 0
	for i := 0; i < 3; i++ {
		if limiter2.CheckLimit("y", 3, time.Second) {
			burst++
		}
	}
	clock2.Advance(time.Second)
	for i := 0; i < 3; i++ {
		if limiter2.CheckLimit("y", 3, time.Second) {
			burst++
		}
	}
	if burst != 6 {
		t.Errorf("boundary burst = %d, want 6 (2x max)", burst)
	}
}

func TestLimiter_IdentifiersIndependent(t *testing.T) {
	limiter, _ := newTestLimiter()

	if !limiter.CheckLimit("a", 1, time.Minute) {
		t.Fatal("a first call should be allowed")
	}
	if limiter.CheckLimit("a", 1, time.Minute) {
		t.Error("a second call should be denied")
	}
	if !limiter.CheckLimit("b", 1, time.Minute) {
		t.Error("b should have its own window")
	}
	if limiter.Len() != 2 {
		t.Errorf("Len() = %d, want 2", limiter.Len())
	}
}

func TestLimiter_EmptyIdentifierIsAnonymous(t *testing.T) {
	limiter, _ := newTestLimiter()

	limiter.CheckLimit("", 5, time.Minute)

	if _, ok := limiter.Window(AnonymousIdentifier); !ok {
		t.Error("empty identifier should be tracked as anonymous")
	}
}

func TestLimiter_Concurrent(t *testing.T) {
	limiter := NewLimiter()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.CheckLimit("shared", 10, time.Hour) {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 10 {
		t.Errorf("allowed = %d, want exactly 10", allowed)
	}
}
