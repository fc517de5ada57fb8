package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/voiceauditor/internal/observability"
	"github.com/ent0n29/voiceauditor/internal/store"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("tracker is closed")

type Outcome string

const (
	OutcomeOpened      Outcome = "opened"
	OutcomeClosed      Outcome = "closed"
	OutcomeCompensated Outcome = "compensated"
	OutcomeNoop        Outcome = "noop"
	OutcomeRejected    Outcome = "rejected"
	OutcomeFailed      Outcome = "failed"
)

// Tracker turns presence transitions into session mutations. Work for one
// (participant, venue) key is serialized; different keys run concurrently.
type Tracker struct {
	store   store.Store
	away    AwayResolver
	metrics *observability.Metrics
	log     zerolog.Logger
	now     func() time.Time

	locks *keyedMutex

	mu     sync.Mutex
	closed bool
	lanes  map[string]*lane
	wg     sync.WaitGroup
}

// lane holds transitions queued behind the one currently being applied for a key.
type lane struct {
	pending []Transition
}

func New(st store.Store, away AwayResolver, metrics *observability.Metrics, logger zerolog.Logger) *Tracker {
	if away == nil {
		away = AwayChannels(nil)
	}
	return &Tracker{
		store:   st,
		away:    away,
		metrics: metrics,
		log:     logger.With().Str("component", "tracker").Logger(),
		now:     time.Now,
		locks:   newKeyedMutex(),
		lanes:   make(map[string]*lane),
	}
}

// SetClock replaces the time source. Intended for tests.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// Submit queues tr for asynchronous processing and returns immediately.
// Transitions for the same key are applied in submission order. Failures are
// logged and the transition is dropped.
func (t *Tracker) Submit(tr Transition) error {
	tr = tr.normalize()
	key := tr.key()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if l, ok := t.lanes[key]; ok {
		l.pending = append(l.pending, tr)
		t.mu.Unlock()
		return nil
	}
	t.lanes[key] = &lane{}
	t.wg.Add(1)
	t.mu.Unlock()

	go t.drain(key, tr)
	return nil
}

func (t *Tracker) drain(key string, next Transition) {
	defer t.wg.Done()
	for {
		_, _ = t.Handle(context.Background(), next)

		t.mu.Lock()
		l := t.lanes[key]
		if len(l.pending) == 0 {
			delete(t.lanes, key)
			t.mu.Unlock()
			return
		}
		next = l.pending[0]
		l.pending = l.pending[1:]
		t.mu.Unlock()
	}
}

// Close stops accepting new transitions and waits for queued ones to finish.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.wg.Wait()
}

// Handle applies tr synchronously. Errors are logged here as well as returned
// so asynchronous callers can ignore them.
func (t *Tracker) Handle(ctx context.Context, tr Transition) (Outcome, error) {
	started := time.Now()
	tr = tr.normalize()
	logger := t.log.With().
		Str("participant_id", tr.ParticipantID).
		Str("venue_id", tr.VenueID).
		Str("before", tr.Before).
		Str("after", tr.After).
		Logger()

	if err := tr.Validate(); err != nil {
		logger.Warn().Err(err).Msg("ignoring presence transition")
		t.metrics.ObserveTransition(string(OutcomeRejected), time.Since(started))
		return OutcomeRejected, err
	}

	unlock := t.locks.Lock(tr.key())
	defer unlock()

	outcome, err := t.apply(ctx, tr)
	if err != nil {
		logger.Error().Err(err).Msg("failed to update session log")
		t.metrics.ObserveTrackerError(errorStage(err))
		t.metrics.ObserveTransition(string(OutcomeFailed), time.Since(started))
		return OutcomeFailed, err
	}

	switch outcome {
	case OutcomeOpened:
		t.metrics.SessionOpened()
	case OutcomeClosed:
		t.metrics.SessionClosed()
	case OutcomeCompensated:
		logger.Warn().Msg("presence ended without an open session; recorded zero-length session")
	}
	logger.Debug().Str("outcome", string(outcome)).Msg("presence transition applied")
	t.metrics.ObserveTransition(string(outcome), time.Since(started))
	return outcome, nil
}

func (t *Tracker) apply(ctx context.Context, tr Transition) (Outcome, error) {
	if err := t.store.UpsertParticipant(ctx, tr.ParticipantID, tr.IsBot); err != nil {
		return OutcomeFailed, err
	}
	now := t.now().UTC()

	switch {
	case tr.Before != "" && tr.After != "":
		return t.move(ctx, tr, now)
	case tr.After != "":
		return t.begin(ctx, tr, now)
	default:
		return t.end(ctx, tr, now)
	}
}

// move only reacts to crossing the away boundary. Moving between ordinary
// channels keeps the venue session running.
func (t *Tracker) move(ctx context.Context, tr Transition, now time.Time) (Outcome, error) {
	awayBefore := t.away.IsAway(tr.VenueID, tr.Before)
	awayAfter := t.away.IsAway(tr.VenueID, tr.After)

	switch {
	case awayAfter && !awayBefore:
		last, err := t.store.MostRecentSession(ctx, tr.ParticipantID, tr.VenueID)
		if err != nil {
			return OutcomeFailed, err
		}
		if last == nil || !last.Open() {
			return OutcomeNoop, nil
		}
		if err := t.store.CloseSession(ctx, last.ID, now); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeClosed, nil

	case awayBefore && !awayAfter:
		return t.begin(ctx, tr, now)

	default:
		return OutcomeNoop, nil
	}
}

// begin opens a session unless one is already open, in which case the
// duplicate start is ignored.
func (t *Tracker) begin(ctx context.Context, tr Transition, now time.Time) (Outcome, error) {
	open, err := t.store.MostRecentOpenSession(ctx, tr.ParticipantID, tr.VenueID)
	if err != nil {
		return OutcomeFailed, err
	}
	if open != nil {
		return OutcomeNoop, nil
	}
	if _, err := t.store.CreateSession(ctx, tr.ParticipantID, tr.VenueID, now, nil); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeOpened, nil
}

// end closes the latest session. When there is nothing open, typically because
// the start happened while the tracker was down, a zero-length session is
// recorded instead so the visit is not lost entirely. This undercounts real
// attendance.
// TODO: replace the zero-length record once there is a decision on how missed
// starts should be accounted.
func (t *Tracker) end(ctx context.Context, tr Transition, now time.Time) (Outcome, error) {
	last, err := t.store.MostRecentSession(ctx, tr.ParticipantID, tr.VenueID)
	if err != nil {
		return OutcomeFailed, err
	}
	if last == nil || !last.Open() {
		leftAt := now
		if _, err := t.store.CreateSession(ctx, tr.ParticipantID, tr.VenueID, now, &leftAt); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeCompensated, nil
	}
	if err := t.store.CloseSession(ctx, last.ID, now); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeClosed, nil
}

func errorStage(err error) string {
	switch {
	case errors.Is(err, store.ErrUnavailable):
		return "store_unavailable"
	case errors.Is(err, store.ErrOpenSessionExists), errors.Is(err, store.ErrSessionNotOpen):
		return "store_conflict"
	default:
		return "unknown"
	}
}
