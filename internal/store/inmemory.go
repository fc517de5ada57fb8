package store

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/ent0n29/voiceauditor/internal/attendance"
)

// InMemoryStore is a simple in-process session store for local/dev use.
// Sessions are kept in insertion order, so slice position doubles as id order.
type InMemoryStore struct {
	mu           sync.RWMutex
	nextID       int64
	sessions     []attendance.Session
	participants map[string]bool
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{participants: make(map[string]bool)}
}

func (s *InMemoryStore) UpsertParticipant(_ context.Context, participantID string, isBot bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[participantID] = s.participants[participantID] || isBot
	return nil
}

func (s *InMemoryStore) CreateSession(_ context.Context, participantID, venueID string, joinedAt time.Time, leftAt *time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if leftAt == nil {
		if idx := s.lastIndex(participantID, venueID, true); idx >= 0 {
			return 0, ErrOpenSessionExists
		}
	}
	s.nextID++
	sess := attendance.Session{
		ID:            s.nextID,
		ParticipantID: participantID,
		VenueID:       venueID,
		JoinedAt:      joinedAt.UTC(),
	}
	if leftAt != nil {
		sess.LeftAt = clampLeftAt(sess.JoinedAt, *leftAt)
	}
	s.sessions = append(s.sessions, sess)
	return sess.ID, nil
}

func (s *InMemoryStore) MostRecentSession(_ context.Context, participantID, venueID string) (*attendance.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyAt(s.lastIndex(participantID, venueID, false)), nil
}

func (s *InMemoryStore) MostRecentOpenSession(_ context.Context, participantID, venueID string) (*attendance.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyAt(s.lastIndex(participantID, venueID, true)), nil
}

func (s *InMemoryStore) CloseSession(_ context.Context, sessionID int64, leftAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.sessions) - 1; i >= 0; i-- {
		if s.sessions[i].ID != sessionID {
			continue
		}
		if s.sessions[i].LeftAt != nil {
			return ErrSessionNotOpen
		}
		s.sessions[i].LeftAt = clampLeftAt(s.sessions[i].JoinedAt, leftAt)
		return nil
	}
	return ErrSessionNotOpen
}

func (s *InMemoryStore) QuerySessions(_ context.Context, filter SessionFilter) iter.Seq2[attendance.Session, error] {
	return singleUse(func(yield func(attendance.Session, error) bool) {
		s.mu.RLock()
		matched := make([]attendance.Session, 0, 16)
		for i := len(s.sessions) - 1; i >= 0; i-- {
			sess := s.sessions[i]
			if !s.matches(sess, filter) {
				continue
			}
			matched = append(matched, cloneSession(sess))
			if filter.Limit > 0 && len(matched) >= filter.Limit {
				break
			}
		}
		s.mu.RUnlock()

		for _, sess := range matched {
			if !yield(sess, nil) {
				return
			}
		}
	})
}

// Participant reports the stored participant record.
func (s *InMemoryStore) Participant(participantID string) (attendance.Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	isBot, ok := s.participants[participantID]
	return attendance.Participant{ID: participantID, IsBot: isBot}, ok
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) matches(sess attendance.Session, f SessionFilter) bool {
	if f.VenueID != "" && sess.VenueID != f.VenueID {
		return false
	}
	if f.ParticipantID != "" && sess.ParticipantID != f.ParticipantID {
		return false
	}
	if f.JoinedAfter != nil && sess.JoinedAt.Before(*f.JoinedAfter) {
		return false
	}
	if !f.IncludeBots && s.participants[sess.ParticipantID] {
		return false
	}
	return true
}

func (s *InMemoryStore) lastIndex(participantID, venueID string, openOnly bool) int {
	for i := len(s.sessions) - 1; i >= 0; i-- {
		sess := s.sessions[i]
		if sess.ParticipantID != participantID || sess.VenueID != venueID {
			continue
		}
		if openOnly && !sess.Open() {
			continue
		}
		return i
	}
	return -1
}

func (s *InMemoryStore) copyAt(idx int) *attendance.Session {
	if idx < 0 {
		return nil
	}
	c := cloneSession(s.sessions[idx])
	return &c
}

func cloneSession(sess attendance.Session) attendance.Session {
	if sess.LeftAt != nil {
		left := *sess.LeftAt
		sess.LeftAt = &left
	}
	return sess
}

func clampLeftAt(joinedAt, leftAt time.Time) *time.Time {
	leftAt = leftAt.UTC()
	if leftAt.Before(joinedAt) {
		leftAt = joinedAt
	}
	return &leftAt
}
