// Package status derives the rotating presence label advertised by the service.
package status

import (
	"context"
	"time"
)

const (
	DefaultPeriod    = 30 * time.Second
	DefaultSiteLabel = "eris.gg"
)

var commandLabels = [...]string{"/leaderboard", "/recent", "/audit"}

// Label returns the label shown at the given tick. The cycle is the three
// command hints followed by site. Negative ticks wrap like positive ones.
func Label(tick int, site string) string {
	n := len(commandLabels) + 1
	i := tick % n
	if i < 0 {
		i += n
	}
	if i < len(commandLabels) {
		return commandLabels[i]
	}
	return site
}

// Snapshot describes the label currently in effect.
type Snapshot struct {
	Label    string    `json:"label"`
	Tick     int       `json:"tick"`
	Period   string    `json:"period"`
	Started  time.Time `json:"started_at"`
	NextFlip time.Time `json:"next_change_at"`
}

// Rotator maps wall-clock time onto label ticks. It keeps no counters, so
// concurrent readers always agree on the current label.
type Rotator struct {
	started time.Time
	period  time.Duration
	site    string
	now     func() time.Time
}

func NewRotator(period time.Duration, site string) *Rotator {
	return newRotator(period, site, time.Now)
}

func newRotator(period time.Duration, site string, now func() time.Time) *Rotator {
	if period <= 0 {
		period = DefaultPeriod
	}
	if site == "" {
		site = DefaultSiteLabel
	}
	return &Rotator{started: now(), period: period, site: site, now: now}
}

func (r *Rotator) tickAt(t time.Time) int {
	elapsed := t.Sub(r.started)
	if elapsed < 0 {
		return 0
	}
	return int(elapsed / r.period)
}

func (r *Rotator) Current() Snapshot {
	tick := r.tickAt(r.now())
	return Snapshot{
		Label:    Label(tick, r.site),
		Tick:     tick,
		Period:   r.period.String(),
		Started:  r.started.UTC(),
		NextFlip: r.started.Add(time.Duration(tick+1) * r.period).UTC(),
	}
}

// Run publishes the current label immediately and again on every period
// boundary until ctx is canceled.
func (r *Rotator) Run(ctx context.Context, publish func(label string)) {
	publish(r.Current().Label)
	ticker := time.NewTicker(r.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			publish(r.Current().Label)
		}
	}
}
