package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"github.com/ent0n29/voiceauditor/internal/attendance"
)

var (
	// ErrUnavailable wraps every backend failure so callers can tell "the
	// store could not answer" apart from "there is no data".
	ErrUnavailable = errors.New("session store unavailable")
	// ErrOpenSessionExists is returned when creating an open session would
	// leave two open sessions for the same participant and venue.
	ErrOpenSessionExists = errors.New("open session already exists")
	// ErrSessionNotOpen is returned when closing a missing or already closed session.
	ErrSessionNotOpen = errors.New("session not found or already closed")
	// ErrSequenceConsumed is yielded when a session sequence is ranged twice.
	ErrSequenceConsumed = errors.New("session sequence already consumed")
)

// SessionFilter narrows QuerySessions. Zero values mean "no constraint".
type SessionFilter struct {
	VenueID       string
	ParticipantID string
	JoinedAfter   *time.Time
	IncludeBots   bool
	Limit         int
}

// Store persists participants and sessions.
type Store interface {
	UpsertParticipant(ctx context.Context, participantID string, isBot bool) error
	CreateSession(ctx context.Context, participantID, venueID string, joinedAt time.Time, leftAt *time.Time) (int64, error)
	// MostRecentSession returns the highest-id session for the pair, or nil.
	MostRecentSession(ctx context.Context, participantID, venueID string) (*attendance.Session, error)
	// MostRecentOpenSession returns the highest-id open session for the pair, or nil.
	MostRecentOpenSession(ctx context.Context, participantID, venueID string) (*attendance.Session, error)
	CloseSession(ctx context.Context, sessionID int64, leftAt time.Time) error
	// QuerySessions yields matching sessions ordered by id descending. The
	// sequence is lazy and may only be ranged once.
	QuerySessions(ctx context.Context, filter SessionFilter) iter.Seq2[attendance.Session, error]
	Close() error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

func singleUse(seq iter.Seq2[attendance.Session, error]) iter.Seq2[attendance.Session, error] {
	var used atomic.Bool
	return func(yield func(attendance.Session, error) bool) {
		if used.Swap(true) {
			yield(attendance.Session{}, ErrSequenceConsumed)
			return
		}
		seq(yield)
	}
}
