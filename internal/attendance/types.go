package attendance

import "time"

// Participant is someone whose presence is tracked. Records are created lazily
// on the first observed transition and never deleted.
type Participant struct {
	ID    string `json:"id"`
	IsBot bool   `json:"is_bot"`
}

// Session is one continuous span of presence in a venue. A nil LeftAt means the
// participant is still present.
type Session struct {
	ID            int64      `json:"id"`
	ParticipantID string     `json:"participant_id"`
	VenueID       string     `json:"venue_id"`
	JoinedAt      time.Time  `json:"joined_at"`
	LeftAt        *time.Time `json:"left_at"`
}

func (s Session) Open() bool {
	return s.LeftAt == nil
}

// Duration is derived, never stored: open sessions count through now.
func (s Session) Duration(now time.Time) time.Duration {
	end := now
	if s.LeftAt != nil {
		end = *s.LeftAt
	}
	d := end.Sub(s.JoinedAt)
	if d < 0 {
		return 0
	}
	return d
}
