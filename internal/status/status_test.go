package status

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLabelCycles(t *testing.T) {
	want := []string{"/leaderboard", "/recent", "/audit", "example.org"}
	for tick := 0; tick < 12; tick++ {
		if got := Label(tick, "example.org"); got != want[tick%4] {
			t.Fatalf("Label(%d) = %q, want %q", tick, got, want[tick%4])
		}
	}
	if got := Label(-1, "example.org"); got != "example.org" {
		t.Fatalf("Label(-1) = %q, want wrap to site", got)
	}
}

func TestRotatorDerivesTickFromElapsedTime(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	current := base
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}
	advance := func(d time.Duration) {
		mu.Lock()
		current = current.Add(d)
		mu.Unlock()
	}

	r := newRotator(30*time.Second, "", clock)
	if snap := r.Current(); snap.Label != "/leaderboard" || snap.Tick != 0 {
		t.Fatalf("initial snapshot = %+v", snap)
	}

	advance(65 * time.Second)
	snap := r.Current()
	if snap.Tick != 2 || snap.Label != "/audit" {
		t.Fatalf("snapshot after 65s = %+v, want tick 2 /audit", snap)
	}
	if !snap.NextFlip.Equal(base.Add(90 * time.Second)) {
		t.Fatalf("NextFlip = %v, want %v", snap.NextFlip, base.Add(90*time.Second))
	}

	advance(30 * time.Second)
	if got := r.Current().Label; got != DefaultSiteLabel {
		t.Fatalf("label after 95s = %q, want %q", got, DefaultSiteLabel)
	}
}

func TestRotatorDefaults(t *testing.T) {
	r := NewRotator(0, "")
	if r.period != DefaultPeriod || r.site != DefaultSiteLabel {
		t.Fatalf("defaults = %v/%q", r.period, r.site)
	}
}

func TestRunPublishesUntilCanceled(t *testing.T) {
	r := NewRotator(5*time.Millisecond, "site")
	ctx, cancel := context.WithCancel(context.Background())

	labels := make(chan string, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx, func(label string) {
			select {
			case labels <- label:
			default:
			}
		})
	}()

	select {
	case got := <-labels:
		if got == "" {
			t.Fatal("first label is empty")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first label")
	}
	select {
	case <-labels:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a periodic label")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
