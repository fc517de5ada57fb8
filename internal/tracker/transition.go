package tracker

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedTransition marks events that cannot be classified. They are
// logged and dropped, never applied.
var ErrMalformedTransition = errors.New("malformed presence transition")

// Transition is one observed presence change. Before and After are the voice
// channels inside the venue; an empty channel means "not connected".
type Transition struct {
	ParticipantID string `json:"participant_id"`
	IsBot         bool   `json:"is_bot"`
	VenueID       string `json:"venue_id"`
	Before        string `json:"before,omitempty"`
	After         string `json:"after,omitempty"`
}

func (tr Transition) normalize() Transition {
	tr.ParticipantID = strings.TrimSpace(tr.ParticipantID)
	tr.VenueID = strings.TrimSpace(tr.VenueID)
	tr.Before = strings.TrimSpace(tr.Before)
	tr.After = strings.TrimSpace(tr.After)
	return tr
}

// Validate reports whether tr can be applied.
func (tr Transition) Validate() error {
	tr = tr.normalize()
	switch {
	case tr.ParticipantID == "":
		return fmt.Errorf("%w: participant_id is required", ErrMalformedTransition)
	case tr.VenueID == "":
		return fmt.Errorf("%w: venue_id is required", ErrMalformedTransition)
	case tr.Before == "" && tr.After == "":
		return fmt.Errorf("%w: before and after are both empty", ErrMalformedTransition)
	}
	return nil
}

func (tr Transition) key() string {
	return tr.ParticipantID + "\x00" + tr.VenueID
}

// AwayResolver reports whether a channel is the away channel of its venue.
type AwayResolver interface {
	IsAway(venueID, channelID string) bool
}

// AwayChannels maps venue ids to their away channel. A venue with no entry has
// the away rule disabled.
type AwayChannels map[string]string

func (a AwayChannels) IsAway(venueID, channelID string) bool {
	if channelID == "" {
		return false
	}
	away, ok := a[venueID]
	return ok && away == channelID
}
