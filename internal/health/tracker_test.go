package health

import (
	"sync"
	"testing"
	"time"
)

func TestUpdate_EMABounds(t *testing.T) {
	tr := NewTracker()

	// Alternate successes and failures with extreme quality inputs; the
	// EMA fields must stay within [0,1] throughout.
	for i := 0; i < 500; i++ {
		tr.Update("p1", i%3 == 0, 100*time.Millisecond, float64(i%2)*5-2)

		rec, ok := tr.Get("p1")
		if !ok {
			t.Fatal("record should exist after update")
		}
		if rec.Availability < 0 || rec.Availability > 1 {
			t.Fatalf("availability out of range: %f", rec.Availability)
		}
		if rec.ErrorRate < 0 || rec.ErrorRate > 1 {
			t.Fatalf("error rate out of range: %f", rec.ErrorRate)
		}
		if rec.Quality < 0 || rec.Quality > 1 {
			t.Fatalf("quality out of range: %f", rec.Quality)
		}
	}
}

func TestStatus_FailingAtThreshold(t *testing.T) {
	tr := NewTracker()

	// Four failures: not yet failing.
	for i := 0; i < 4; i++ {
		tr.Update("p1", false, 50*time.Millisecond, -1)
	}
	rec, _ := tr.Get("p1")
	if rec.Status == StatusFailing {
		t.Fatalf("failing before threshold: %d consecutive failures", rec.ConsecutiveFailures)
	}

	// Fifth failure trips the breaker.
	tr.Update("p1", false, 50*time.Millisecond, -1)
	rec, _ = tr.Get("p1")
	if rec.Status != StatusFailing {
		t.Fatalf("got status %q after 5 consecutive failures, want failing", rec.Status)
	}
	if rec.RecoveryAt == nil {
		t.Fatal("recovery timestamp should be stamped on entering failing")
	}
	if tr.IsUsable("p1") {
		t.Fatal("failing provider should not be usable")
	}
}

func TestStatus_FailingStickyUntilRecovered(t *testing.T) {
	tr := NewTracker()

	for i := 0; i < 5; i++ {
		tr.Update("p1", false, 0, -1)
	}

	// A single success resets the counter but availability is still well
	// below the healthy bar, so the provider must remain failing.
	tr.Update("p1", true, 10*time.Millisecond, -1)
	rec, _ := tr.Get("p1")
	if rec.ConsecutiveFailures != 0 {
		t.Fatalf("consecutive failures should reset on success, got %d", rec.ConsecutiveFailures)
	}
	if rec.Status != StatusFailing {
		t.Fatalf("one success should not clear failing, got %q", rec.Status)
	}

	// A long success chain restores availability >= 0.95 and error
	// rate <= 0.05, which is the only way out of failing.
	for i := 0; i < 60; i++ {
		tr.Update("p1", true, 10*time.Millisecond, 0.9)
	}
	rec, _ = tr.Get("p1")
	if rec.Status != StatusHealthy {
		t.Fatalf("got %q after sustained successes, want healthy", rec.Status)
	}
	if rec.RecoveryAt != nil {
		t.Fatal("recovery timestamp should be cleared after recovery")
	}
	if !tr.IsUsable("p1") {
		t.Fatal("recovered provider should be usable")
	}
}

func TestStatus_DegradedBelowAvailability(t *testing.T) {
	tr := NewTracker()

	// Drive availability below 0.80 without hitting the breaker.
	for i := 0; i < 12; i++ {
		tr.Update("p1", false, 0, -1)
		tr.Update("p1", true, 10*time.Millisecond, -1)
	}
	rec, _ := tr.Get("p1")
	if rec.Availability >= degradedAvailability {
		t.Fatalf("sequence should drive availability below %.2f, got %f", degradedAvailability, rec.Availability)
	}
	if rec.Status != StatusDegraded {
		t.Fatalf("got %q, want degraded", rec.Status)
	}
	if !tr.IsUsable("p1") {
		t.Fatal("degraded provider should still be usable")
	}
}

func TestIsUsable_UnknownProvider(t *testing.T) {
	tr := NewTracker()
	if !tr.IsUsable("never-seen") {
		t.Fatal("provider with no observations should be usable")
	}
}

func TestMarkOffline(t *testing.T) {
	tr := NewTracker()
	tr.Update("p1", true, 10*time.Millisecond, -1)

	tr.MarkOffline("p1")
	if tr.IsUsable("p1") {
		t.Fatal("offline provider should not be usable")
	}
}

func TestSnapshot_IsolatedCopy(t *testing.T) {
	tr := NewTracker()
	tr.Update("p1", true, 100*time.Millisecond, 0.8)

	snap := tr.Snapshot()
	rec := snap["p1"]
	rec.Availability = 0
	rec.Status = StatusOffline
	snap["p1"] = rec

	live, _ := tr.Get("p1")
	if live.Availability == 0 || live.Status == StatusOffline {
		t.Fatal("mutating a snapshot must not affect tracker state")
	}
}

func TestObserveQuality(t *testing.T) {
	tr := NewTracker()
	tr.Update("p1", true, 10*time.Millisecond, 0.5)

	before, _ := tr.Get("p1")
	tr.ObserveQuality("p1", 1.0)
	after, _ := tr.Get("p1")

	if after.Quality <= before.Quality {
		t.Fatalf("quality should move toward 1.0: before=%f after=%f", before.Quality, after.Quality)
	}
	// Availability and error rate must be untouched.
	if after.Availability != before.Availability || after.ErrorRate != before.ErrorRate {
		t.Fatal("feedback must not change availability or error rate")
	}
}

func TestUpdate_ConcurrentSameProvider(t *testing.T) {
	tr := NewTracker()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				tr.Update("p1", (n+j)%2 == 0, time.Millisecond, 0.5)
			}
		}(i)
	}
	wg.Wait()

	rec, ok := tr.Get("p1")
	if !ok {
		t.Fatal("record missing after concurrent updates")
	}
	if rec.Availability < 0 || rec.Availability > 1 || rec.ErrorRate < 0 || rec.ErrorRate > 1 {
		t.Fatalf("EMA fields out of range after concurrent updates: %+v", rec)
	}
}
