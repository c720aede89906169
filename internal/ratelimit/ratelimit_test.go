package ratelimit

import (
	"fmt"
	"testing"
	"time"
)

func TestWindowAdmitsUpToQuota(t *testing.T) {
	w := NewWindow(60*time.Second, 10)
	base := time.Unix(0, 0)

	for i := 0; i < 10; i++ {
		if !w.Admit("client", base) {
			t.Fatalf("request %d should be admitted", i+1)
		}
	}
	if w.Admit("client", base) {
		t.Fatal("11th request in the same instant should be rejected")
	}
}

func TestWindowAdmitsAfterWindowElapses(t *testing.T) {
	w := NewWindow(60*time.Second, 10)
	base := time.Unix(0, 0)

	for i := 0; i < 10; i++ {
		if !w.Admit("client", base) {
			t.Fatalf("request %d should be admitted", i+1)
		}
	}
	if w.Admit("client", base.Add(60*time.Second-time.Millisecond)) {
		t.Fatal("request just inside the window should still be rejected")
	}
	if !w.Admit("client", base.Add(60*time.Second+time.Millisecond)) {
		t.Fatal("request after the window elapsed should be admitted")
	}
}

func TestWindowRejectionsDoNotConsumeQuota(t *testing.T) {
	w := NewWindow(time.Minute, 2)
	base := time.Unix(100, 0)

	if !w.Admit("c", base) || !w.Admit("c", base) {
		t.Fatal("first two requests should be admitted")
	}
	// Hammer with rejected attempts; none should extend the window.
	for i := 0; i < 50; i++ {
		if w.Admit("c", base.Add(time.Duration(i)*time.Second)) {
			t.Fatalf("attempt %d should be rejected", i)
		}
	}
	// The two admitted stamps are from t=base, so one minute later the
	// client is clean again despite all the rejected attempts.
	if !w.Admit("c", base.Add(time.Minute+time.Second)) {
		t.Fatal("rejected attempts must not count against future quota")
	}
}

func TestWindowIsolatesClients(t *testing.T) {
	w := NewWindow(time.Minute, 1)
	now := time.Now()

	if !w.Admit("a", now) {
		t.Fatal("first client should be admitted")
	}
	if !w.Admit("b", now) {
		t.Fatal("second client must have its own quota")
	}
	if w.Admit("a", now) {
		t.Fatal("first client should now be at quota")
	}
}

func TestWindowSlidingBoundHoldsForAnyTrailingWindow(t *testing.T) {
	const max = 5
	w := NewWindow(10*time.Second, max)
	base := time.Unix(0, 0)

	var admittedAt []time.Time
	// One attempt every second for a minute.
	for i := 0; i < 60; i++ {
		now := base.Add(time.Duration(i) * time.Second)
		if w.Admit("c", now) {
			admittedAt = append(admittedAt, now)
		}
	}

	// Check the bound over every trailing 10s window that starts at an
	// admitted request.
	for _, start := range admittedAt {
		count := 0
		for _, ts := range admittedAt {
			if !ts.Before(start) && ts.Before(start.Add(10*time.Second)) {
				count++
			}
		}
		if count > max {
			t.Fatalf("window starting %v admitted %d > %d", start, count, max)
		}
	}
}

func TestWindowDefaults(t *testing.T) {
	w := NewWindow(0, 0)
	if w.window != DefaultWindow || w.max != DefaultMaxRequests {
		t.Fatalf("expected defaults, got window=%v max=%d", w.window, w.max)
	}
}

func TestWindowManyClients(t *testing.T) {
	w := NewWindow(time.Minute, 3)
	now := time.Now()
	for i := 0; i < 1000; i++ {
		id := fmt.Sprintf("client-%d", i)
		if !w.Admit(id, now) {
			t.Fatalf("fresh client %s should be admitted", id)
		}
	}
}
