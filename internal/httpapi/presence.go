package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/voiceauditor/internal/tracker"
)

const (
	wsReadLimit    = 64 << 10
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
)

type presenceAccepted struct {
	Status        string `json:"status"`
	ParticipantID string `json:"participant_id"`
	VenueID       string `json:"venue_id"`
}

// wsFrame is written back on the presence stream. Successful frames are not
// acknowledged; only rejected ones produce a frame.
type wsFrame struct {
	Type   string `json:"type"`
	ConnID string `json:"conn_id"`
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	var tr tracker.Transition
	if err := decodeJSON(r, &tr); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := tr.Validate(); err != nil {
		s.logger.Warn().Err(err).Msg("rejected presence transition")
		respondError(w, http.StatusBadRequest, "invalid_transition", err.Error())
		return
	}
	if s.ingest == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "tracker not configured")
		return
	}
	if err := s.ingest.Submit(tr); err != nil {
		code := "unavailable"
		if errors.Is(err, tracker.ErrClosed) {
			code = "shutting_down"
		}
		respondError(w, http.StatusServiceUnavailable, code, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, presenceAccepted{
		Status:        "accepted",
		ParticipantID: tr.ParticipantID,
		VenueID:       tr.VenueID,
	})
}

func (s *Server) handlePresenceWS(w http.ResponseWriter, r *http.Request) {
	if s.ingest == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "tracker not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	logger := s.logger.With().Str("conn_id", connID).Logger()
	logger.Info().Msg("presence stream connected")

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	reject := func(code string, err error) bool {
		s.metrics.ObserveWSMessage("outbound")
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		werr := conn.WriteJSON(wsFrame{Type: "error", ConnID: connID, Code: code, Detail: err.Error()})
		return werr == nil
	}

	received := 0
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn().Err(err).Msg("presence stream read failed")
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		s.metrics.ObserveWSMessage("inbound")

		var tr tracker.Transition
		if err := json.Unmarshal(data, &tr); err != nil {
			if !reject("invalid_json", err) {
				break
			}
			continue
		}
		if err := tr.Validate(); err != nil {
			logger.Warn().Err(err).Msg("rejected presence transition")
			if !reject("invalid_transition", err) {
				break
			}
			continue
		}
		if err := s.ingest.Submit(tr); err != nil {
			reject("unavailable", err)
			break
		}
		received++
	}

	logger.Info().Int("transitions", received).Msg("presence stream disconnected")
}
