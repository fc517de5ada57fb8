package query

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ent0n29/voiceauditor/internal/attendance"
	"github.com/ent0n29/voiceauditor/internal/observability"
	"github.com/ent0n29/voiceauditor/internal/store"
)

// Engine answers read-only attendance questions over stored sessions. It holds
// no state of its own and is safe for concurrent use.
type Engine struct {
	store   store.Store
	metrics *observability.Metrics
	now     func() time.Time
}

func NewEngine(st store.Store, metrics *observability.Metrics) *Engine {
	return &Engine{store: st, metrics: metrics, now: time.Now}
}

// SetClock replaces the time source. Intended for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

type SessionView struct {
	SessionID     int64
	ParticipantID string
	JoinedAt      time.Time
	LeftAt        *time.Time
	Duration      time.Duration
}

func (v SessionView) Open() bool { return v.LeftAt == nil }

type RecentQuery struct {
	VenueID       string
	ParticipantID string
	IncludeBots   bool
	Limit         int
}

type RecentResult struct {
	Sessions []SessionView
}

func (r RecentResult) Empty() bool { return len(r.Sessions) == 0 }

// Recent returns the latest sessions in a venue, newest first. Bots are left
// out unless requested or a specific participant was asked for.
func (e *Engine) Recent(ctx context.Context, q RecentQuery) (res RecentResult, err error) {
	started := time.Now()
	defer func() { e.finish("recent", started, res.Empty(), err) }()

	q.VenueID = strings.TrimSpace(q.VenueID)
	q.ParticipantID = strings.TrimSpace(q.ParticipantID)
	if q.VenueID == "" {
		return RecentResult{}, fmt.Errorf("%w: venue is required", ErrInvalidQuery)
	}
	if q.Limit <= 0 {
		q.Limit = DefaultRecentLimit
	}
	q.Limit = min(q.Limit, maxRecentLimit)

	now := e.now().UTC()
	filter := store.SessionFilter{
		VenueID:       q.VenueID,
		ParticipantID: q.ParticipantID,
		IncludeBots:   q.IncludeBots || q.ParticipantID != "",
		Limit:         q.Limit,
	}
	sessions := make([]SessionView, 0, q.Limit)
	for sess, err := range e.store.QuerySessions(ctx, filter) {
		if err != nil {
			return RecentResult{}, fmt.Errorf("recent sessions: %w", err)
		}
		sessions = append(sessions, viewOf(sess, now))
		if len(sessions) >= q.Limit {
			break
		}
	}
	return RecentResult{Sessions: sessions}, nil
}

type LeaderboardQuery struct {
	VenueID     string
	Range       Range
	Order       Order
	IncludeBots bool
	TopN        int
}

type Standing struct {
	Rank          int
	ParticipantID string
	Total         time.Duration
	Sessions      int
}

type LeaderboardResult struct {
	Range     Range
	Order     Order
	Standings []Standing
}

// Empty reports that no session matched the filter.
func (r LeaderboardResult) Empty() bool { return len(r.Standings) == 0 }

// Leaderboard ranks participants by total time in the venue. Open sessions
// count through now. Ties are ordered by participant id.
func (e *Engine) Leaderboard(ctx context.Context, q LeaderboardQuery) (res LeaderboardResult, err error) {
	started := time.Now()
	defer func() { e.finish("leaderboard", started, res.Empty(), err) }()

	q.VenueID = strings.TrimSpace(q.VenueID)
	if q.VenueID == "" {
		return LeaderboardResult{}, fmt.Errorf("%w: venue is required", ErrInvalidQuery)
	}
	if q.Range, err = ParseRange(string(q.Range)); err != nil {
		return LeaderboardResult{}, err
	}
	if q.Order, err = ParseOrder(string(q.Order)); err != nil {
		return LeaderboardResult{}, err
	}
	if q.TopN <= 0 {
		q.TopN = DefaultLeaderboardSize
	}
	q.TopN = min(q.TopN, maxLeaderboardSize)

	now := e.now().UTC()
	filter := store.SessionFilter{VenueID: q.VenueID, IncludeBots: q.IncludeBots}
	if window, bounded := q.Range.Window(); bounded {
		cutoff := now.Add(-window)
		filter.JoinedAfter = &cutoff
	}

	byParticipant := make(map[string]*Standing)
	for sess, err := range e.store.QuerySessions(ctx, filter) {
		if err != nil {
			return LeaderboardResult{}, fmt.Errorf("leaderboard sessions: %w", err)
		}
		st, ok := byParticipant[sess.ParticipantID]
		if !ok {
			st = &Standing{ParticipantID: sess.ParticipantID}
			byParticipant[sess.ParticipantID] = st
		}
		st.Total += sess.Duration(now)
		st.Sessions++
	}

	standings := make([]Standing, 0, len(byParticipant))
	for _, st := range byParticipant {
		standings = append(standings, *st)
	}
	slices.SortFunc(standings, func(a, b Standing) int {
		c := cmp.Compare(a.Total, b.Total)
		if q.Order == OrderMost {
			c = -c
		}
		if c != 0 {
			return c
		}
		return strings.Compare(a.ParticipantID, b.ParticipantID)
	})
	if len(standings) > q.TopN {
		standings = standings[:q.TopN]
	}
	for i := range standings {
		standings[i].Rank = i + 1
	}
	return LeaderboardResult{Range: q.Range, Order: q.Order, Standings: standings}, nil
}

// Member is someone who belongs to the venue, whether or not they ever joined voice.
type Member struct {
	ID    string
	IsBot bool
}

type AuditQuery struct {
	VenueID     string
	Members     []Member
	WindowDays  int
	IncludeBots bool
}

type AuditResult struct {
	WindowDays int
	Checked    int
	Inactive   []string
}

// Empty reports that every checked member has been seen within the window.
func (r AuditResult) Empty() bool { return len(r.Inactive) == 0 }

// InactivityAudit lists members with no session joined in the last WindowDays
// days. Output keeps the order members were given in.
func (e *Engine) InactivityAudit(ctx context.Context, q AuditQuery) (res AuditResult, err error) {
	started := time.Now()
	defer func() { e.finish("audit", started, res.Empty(), err) }()

	q.VenueID = strings.TrimSpace(q.VenueID)
	if q.VenueID == "" {
		return AuditResult{}, fmt.Errorf("%w: venue is required", ErrInvalidQuery)
	}
	if q.WindowDays == 0 {
		q.WindowDays = DefaultAuditWindowDays
	}
	if q.WindowDays < MinAuditWindowDays || q.WindowDays > MaxAuditWindowDays {
		return AuditResult{}, fmt.Errorf("%w: days must be between %d and %d, got %d",
			ErrInvalidQuery, MinAuditWindowDays, MaxAuditWindowDays, q.WindowDays)
	}

	now := e.now().UTC()
	cutoff := now.Add(-time.Duration(q.WindowDays) * 24 * time.Hour)
	seen := make(map[string]struct{})
	for sess, err := range e.store.QuerySessions(ctx, store.SessionFilter{
		VenueID:     q.VenueID,
		JoinedAfter: &cutoff,
		IncludeBots: true,
	}) {
		if err != nil {
			return AuditResult{}, fmt.Errorf("audit sessions: %w", err)
		}
		seen[sess.ParticipantID] = struct{}{}
	}

	res = AuditResult{WindowDays: q.WindowDays, Inactive: []string{}}
	checked := make(map[string]struct{}, len(q.Members))
	for _, m := range q.Members {
		id := strings.TrimSpace(m.ID)
		if id == "" || (m.IsBot && !q.IncludeBots) {
			continue
		}
		if _, dup := checked[id]; dup {
			continue
		}
		checked[id] = struct{}{}
		if _, ok := seen[id]; !ok {
			res.Inactive = append(res.Inactive, id)
		}
	}
	res.Checked = len(checked)
	return res, nil
}

func (e *Engine) finish(kind string, started time.Time, empty bool, err error) {
	result := "ok"
	switch {
	case err != nil && isInvalid(err):
		result = "invalid"
	case err != nil:
		result = "error"
	case empty:
		result = "empty"
	}
	e.metrics.ObserveQuery(kind, result, time.Since(started))
}

func viewOf(sess attendance.Session, now time.Time) SessionView {
	return SessionView{
		SessionID:     sess.ID,
		ParticipantID: sess.ParticipantID,
		JoinedAt:      sess.JoinedAt,
		LeftAt:        sess.LeftAt,
		Duration:      sess.Duration(now),
	}
}
