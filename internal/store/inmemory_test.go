package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestInMemoryMostRecentUsesHighestID(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	left := t0.Add(time.Minute)
	first, err := s.CreateSession(ctx, "p1", "v1", t0.Add(time.Hour), &left)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	// Later id, earlier join time: recency is by id, not by JoinedAt.
	second, err := s.CreateSession(ctx, "p1", "v1", t0, nil)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if second <= first {
		t.Fatalf("ids not monotonic: first=%d second=%d", first, second)
	}

	got, err := s.MostRecentSession(ctx, "p1", "v1")
	if err != nil {
		t.Fatalf("MostRecentSession() error = %v", err)
	}
	if got == nil || got.ID != second {
		t.Fatalf("MostRecentSession() = %+v, want id %d", got, second)
	}
}

func TestInMemoryMostRecentOpenSkipsClosed(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	openID, _ := s.CreateSession(ctx, "p1", "v1", t0, nil)
	if err := s.CloseSession(ctx, openID, t0.Add(time.Minute)); err != nil {
		t.Fatalf("CloseSession() error = %v", err)
	}
	got, err := s.MostRecentOpenSession(ctx, "p1", "v1")
	if err != nil {
		t.Fatalf("MostRecentOpenSession() error = %v", err)
	}
	if got != nil {
		t.Fatalf("MostRecentOpenSession() = %+v, want nil", got)
	}
	if got, _ := s.MostRecentSession(ctx, "p1", "other"); got != nil {
		t.Fatalf("MostRecentSession() for unknown venue = %+v, want nil", got)
	}
}

func TestInMemoryRejectsSecondOpenSession(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	if _, err := s.CreateSession(ctx, "p1", "v1", t0, nil); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if _, err := s.CreateSession(ctx, "p1", "v1", t0.Add(time.Second), nil); !errors.Is(err, ErrOpenSessionExists) {
		t.Fatalf("second open CreateSession() error = %v, want %v", err, ErrOpenSessionExists)
	}
	if _, err := s.CreateSession(ctx, "p1", "v2", t0, nil); err != nil {
		t.Fatalf("open session in another venue should be allowed: %v", err)
	}
	left := t0
	if _, err := s.CreateSession(ctx, "p1", "v1", t0, &left); err != nil {
		t.Fatalf("closed compensation record should be allowed: %v", err)
	}
}

func TestInMemoryCloseSession(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	id, _ := s.CreateSession(ctx, "p1", "v1", t0, nil)

	// Close times before the join are clamped so LeftAt >= JoinedAt always holds.
	if err := s.CloseSession(ctx, id, t0.Add(-time.Hour)); err != nil {
		t.Fatalf("CloseSession() error = %v", err)
	}
	got, _ := s.MostRecentSession(ctx, "p1", "v1")
	if got.LeftAt == nil || !got.LeftAt.Equal(t0) {
		t.Fatalf("LeftAt = %v, want %v", got.LeftAt, t0)
	}
	if err := s.CloseSession(ctx, id, t0.Add(time.Hour)); !errors.Is(err, ErrSessionNotOpen) {
		t.Fatalf("closing twice error = %v, want %v", err, ErrSessionNotOpen)
	}
	if err := s.CloseSession(ctx, 999, t0); !errors.Is(err, ErrSessionNotOpen) {
		t.Fatalf("closing unknown error = %v, want %v", err, ErrSessionNotOpen)
	}
}

func TestInMemoryReturnedSessionsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	left := t0.Add(time.Minute)
	_, _ = s.CreateSession(ctx, "p1", "v1", t0, &left)

	got, _ := s.MostRecentSession(ctx, "p1", "v1")
	*got.LeftAt = t0.Add(time.Hour)

	again, _ := s.MostRecentSession(ctx, "p1", "v1")
	if !again.LeftAt.Equal(left) {
		t.Fatalf("stored LeftAt mutated through returned copy: %v", again.LeftAt)
	}
}

func TestInMemoryQuerySessionsFilters(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	_ = s.UpsertParticipant(ctx, "human", false)
	_ = s.UpsertParticipant(ctx, "bot", true)

	_, _ = s.CreateSession(ctx, "human", "v1", t0.Add(-48*time.Hour), ptr(t0.Add(-47*time.Hour)))
	_, _ = s.CreateSession(ctx, "bot", "v1", t0, nil)
	_, _ = s.CreateSession(ctx, "human", "v2", t0, nil)
	lastID, _ := s.CreateSession(ctx, "human", "v1", t0, nil)

	ids := collectIDs(t, s, SessionFilter{VenueID: "v1"})
	if len(ids) != 2 || ids[0] != lastID {
		t.Fatalf("venue filter ids = %v, want 2 human sessions newest first", ids)
	}

	ids = collectIDs(t, s, SessionFilter{VenueID: "v1", IncludeBots: true})
	if len(ids) != 3 {
		t.Fatalf("include bots ids = %v, want 3", ids)
	}

	cutoff := t0.Add(-time.Hour)
	ids = collectIDs(t, s, SessionFilter{VenueID: "v1", JoinedAfter: &cutoff, IncludeBots: true})
	if len(ids) != 2 {
		t.Fatalf("joined-after ids = %v, want 2", ids)
	}

	ids = collectIDs(t, s, SessionFilter{VenueID: "v1", ParticipantID: "human", Limit: 1})
	if len(ids) != 1 || ids[0] != lastID {
		t.Fatalf("limit ids = %v, want [%d]", ids, lastID)
	}
}

func TestInMemoryQuerySessionsIsSingleUse(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	_, _ = s.CreateSession(ctx, "p1", "v1", t0, nil)

	seq := s.QuerySessions(ctx, SessionFilter{IncludeBots: true})
	for _, err := range seq {
		if err != nil {
			t.Fatalf("first range error = %v", err)
		}
	}
	var gotErr error
	for _, err := range seq {
		gotErr = err
	}
	if !errors.Is(gotErr, ErrSequenceConsumed) {
		t.Fatalf("second range error = %v, want %v", gotErr, ErrSequenceConsumed)
	}
}

func TestInMemoryUpsertParticipantSetsBotOnce(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	_ = s.UpsertParticipant(ctx, "p1", true)
	_ = s.UpsertParticipant(ctx, "p1", false)
	p, ok := s.Participant("p1")
	if !ok || !p.IsBot {
		t.Fatalf("Participant() = %+v, %v; want bot flag kept", p, ok)
	}
}

func collectIDs(t *testing.T, s Store, f SessionFilter) []int64 {
	t.Helper()
	var ids []int64
	for sess, err := range s.QuerySessions(context.Background(), f) {
		if err != nil {
			t.Fatalf("QuerySessions() error = %v", err)
		}
		ids = append(ids, sess.ID)
	}
	return ids
}

func ptr(v time.Time) *time.Time { return &v }
