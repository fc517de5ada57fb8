package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/voiceauditor/internal/attendance"
	"github.com/ent0n29/voiceauditor/internal/query"
	"github.com/ent0n29/voiceauditor/internal/store"
)

const auditPageSize = 25

type sessionJSON struct {
	SessionID       int64      `json:"session_id"`
	ParticipantID   string     `json:"participant_id"`
	JoinedAt        time.Time  `json:"joined_at"`
	LeftAt          *time.Time `json:"left_at"`
	Open            bool       `json:"open"`
	DurationSeconds int64      `json:"duration_seconds"`
	Duration        string     `json:"duration"`
}

type recentResponse struct {
	VenueID       string        `json:"venue_id"`
	ParticipantID string        `json:"participant_id,omitempty"`
	Empty         bool          `json:"empty"`
	Message       string        `json:"message"`
	Sessions      []sessionJSON `json:"sessions"`
}

type standingJSON struct {
	Rank          int    `json:"rank"`
	ParticipantID string `json:"participant_id"`
	TotalSeconds  int64  `json:"total_seconds"`
	Total         string `json:"total"`
	Sessions      int    `json:"sessions"`
}

type leaderboardResponse struct {
	VenueID   string         `json:"venue_id"`
	Range     query.Range    `json:"range"`
	Activity  query.Order    `json:"activity"`
	Empty     bool           `json:"empty"`
	Message   string         `json:"message"`
	Standings []standingJSON `json:"standings"`
}

type auditMember struct {
	ID    string `json:"id"`
	IsBot bool   `json:"is_bot"`
}

type auditRequest struct {
	Members  []auditMember `json:"members"`
	Days     *int          `json:"days"`
	ShowBots bool          `json:"show_bots"`
}

type auditResponse struct {
	VenueID  string   `json:"venue_id"`
	Days     int      `json:"days"`
	Checked  int      `json:"checked"`
	Empty    bool     `json:"empty"`
	Message  string   `json:"message"`
	Page     int      `json:"page"`
	Pages    int      `json:"pages"`
	Total    int      `json:"total"`
	Inactive []string `json:"inactive"`
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	if s.queries == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "query engine not configured")
		return
	}
	q := r.URL.Query()
	showBots, err := boolParam(q.Get("show_bots"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_query", "show_bots: "+err.Error())
		return
	}
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_query", "limit: "+err.Error())
		return
	}

	req := query.RecentQuery{
		VenueID:       chi.URLParam(r, "venueID"),
		ParticipantID: strings.TrimSpace(q.Get("participant")),
		IncludeBots:   showBots,
		Limit:         limit,
	}
	res, err := s.queries.Recent(r.Context(), req)
	if err != nil {
		s.respondQueryError(w, "recent", err)
		return
	}

	out := recentResponse{
		VenueID:       req.VenueID,
		ParticipantID: req.ParticipantID,
		Empty:         res.Empty(),
		Sessions:      make([]sessionJSON, 0, len(res.Sessions)),
	}
	for _, v := range res.Sessions {
		out.Sessions = append(out.Sessions, sessionJSON{
			SessionID:       v.SessionID,
			ParticipantID:   v.ParticipantID,
			JoinedAt:        v.JoinedAt,
			LeftAt:          v.LeftAt,
			Open:            v.Open(),
			DurationSeconds: int64(v.Duration / time.Second),
			Duration:        attendance.FormatDuration(v.Duration),
		})
	}
	switch {
	case out.Empty:
		out.Message = "No records found."
	case req.ParticipantID != "":
		out.Message = fmt.Sprintf("Showing the last %d records for %s.", len(out.Sessions), req.ParticipantID)
	default:
		out.Message = fmt.Sprintf("Showing the last %d records.", len(out.Sessions))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if s.queries == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "query engine not configured")
		return
	}
	q := r.URL.Query()
	showBots, err := boolParam(q.Get("show_bots"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_query", "show_bots: "+err.Error())
		return
	}
	top, err := intParam(q.Get("top"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_query", "top: "+err.Error())
		return
	}

	req := query.LeaderboardQuery{
		VenueID:     chi.URLParam(r, "venueID"),
		Range:       query.Range(q.Get("range")),
		Order:       query.Order(q.Get("activity")),
		IncludeBots: showBots,
		TopN:        top,
	}
	res, err := s.queries.Leaderboard(r.Context(), req)
	if err != nil {
		s.respondQueryError(w, "leaderboard", err)
		return
	}

	out := leaderboardResponse{
		VenueID:   req.VenueID,
		Range:     res.Range,
		Activity:  res.Order,
		Empty:     res.Empty(),
		Standings: make([]standingJSON, 0, len(res.Standings)),
	}
	for _, st := range res.Standings {
		out.Standings = append(out.Standings, standingJSON{
			Rank:          st.Rank,
			ParticipantID: st.ParticipantID,
			TotalSeconds:  int64(st.Total / time.Second),
			Total:         attendance.FormatDuration(st.Total),
			Sessions:      st.Sessions,
		})
	}
	if out.Empty {
		out.Message = "Nobody has joined vc in this range."
	} else {
		out.Message = fmt.Sprintf("Top %d people with the %s time in VC.", len(out.Standings), res.Order)
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.queries == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "query engine not configured")
		return
	}
	page, err := intParam(r.URL.Query().Get("page"))
	if err != nil || page < 0 {
		respondError(w, http.StatusBadRequest, "invalid_query", "page must be a positive integer")
		return
	}
	if page == 0 {
		page = 1
	}

	var body auditRequest
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	// Omitted days falls back to the default window; an explicit value must
	// already be in range.
	days := 0
	if body.Days != nil {
		days = *body.Days
		if days < query.MinAuditWindowDays || days > query.MaxAuditWindowDays {
			respondError(w, http.StatusBadRequest, "invalid_query",
				fmt.Sprintf("days must be between %d and %d, got %d", query.MinAuditWindowDays, query.MaxAuditWindowDays, days))
			return
		}
	}
	members := make([]query.Member, 0, len(body.Members))
	for _, m := range body.Members {
		members = append(members, query.Member{ID: m.ID, IsBot: m.IsBot})
	}

	res, err := s.queries.InactivityAudit(r.Context(), query.AuditQuery{
		VenueID:     chi.URLParam(r, "venueID"),
		Members:     members,
		WindowDays:  days,
		IncludeBots: body.ShowBots,
	})
	if err != nil {
		s.respondQueryError(w, "audit", err)
		return
	}

	total := len(res.Inactive)
	pages := max(1, (total+auditPageSize-1)/auditPageSize)
	if page > pages {
		respondError(w, http.StatusBadRequest, "invalid_query", fmt.Sprintf("page %d out of range (pages=%d)", page, pages))
		return
	}
	start := (page - 1) * auditPageSize
	end := min(start+auditPageSize, total)

	window := int64(res.WindowDays)
	out := auditResponse{
		VenueID:  chi.URLParam(r, "venueID"),
		Days:     res.WindowDays,
		Checked:  res.Checked,
		Empty:    res.Empty(),
		Page:     page,
		Pages:    pages,
		Total:    total,
		Inactive: res.Inactive[start:end],
	}
	if out.Empty {
		out.Message = fmt.Sprintf("There are no people that haven't joined vc in %d day%s.", window, attendance.Plural(window))
	} else {
		out.Message = fmt.Sprintf("List of people that haven't joined vc in %d day%s.", window, attendance.Plural(window))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) respondQueryError(w http.ResponseWriter, kind string, err error) {
	switch {
	case errors.Is(err, query.ErrInvalidQuery):
		respondError(w, http.StatusBadRequest, "invalid_query", err.Error())
	case errors.Is(err, store.ErrUnavailable):
		s.logger.Error().Err(err).Str("query", kind).Msg("attendance query failed")
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", "attendance store is unavailable, try again")
	default:
		s.logger.Error().Err(err).Str("query", kind).Msg("attendance query failed")
		respondError(w, http.StatusInternalServerError, "internal", "query failed")
	}
}

func boolParam(v string) (bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

func intParam(v string) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
