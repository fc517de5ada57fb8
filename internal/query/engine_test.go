package query

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"testing"
	"time"

	"github.com/ent0n29/voiceauditor/internal/attendance"
	"github.com/ent0n29/voiceauditor/internal/store"
)

const venue = "guild-1"

var now = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

type fixture struct {
	t     *testing.T
	store *store.InMemoryStore
	eng   *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewInMemoryStore()
	eng := NewEngine(st, nil)
	eng.SetClock(func() time.Time { return now })
	return &fixture{t: t, store: st, eng: eng}
}

// visit records a closed session that started ago before now and lasted d.
func (f *fixture) visit(participant string, isBot bool, ago, d time.Duration) int64 {
	f.t.Helper()
	ctx := context.Background()
	if err := f.store.UpsertParticipant(ctx, participant, isBot); err != nil {
		f.t.Fatalf("UpsertParticipant() error = %v", err)
	}
	joined := now.Add(-ago)
	left := joined.Add(d)
	id, err := f.store.CreateSession(ctx, participant, venue, joined, &left)
	if err != nil {
		f.t.Fatalf("CreateSession() error = %v", err)
	}
	return id
}

func (f *fixture) openVisit(participant string, ago time.Duration) int64 {
	f.t.Helper()
	ctx := context.Background()
	_ = f.store.UpsertParticipant(ctx, participant, false)
	id, err := f.store.CreateSession(ctx, participant, venue, now.Add(-ago), nil)
	if err != nil {
		f.t.Fatalf("CreateSession() error = %v", err)
	}
	return id
}

func TestRecentNewestFirstWithDefaultLimit(t *testing.T) {
	f := newFixture(t)
	var ids []int64
	for i := 0; i < 7; i++ {
		ids = append(ids, f.visit("alice", false, time.Duration(10-i)*time.Hour, time.Minute))
	}

	res, err := f.eng.Recent(context.Background(), RecentQuery{VenueID: venue})
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(res.Sessions) != DefaultRecentLimit {
		t.Fatalf("len(Sessions) = %d, want %d", len(res.Sessions), DefaultRecentLimit)
	}
	if res.Sessions[0].SessionID != ids[len(ids)-1] {
		t.Fatalf("first session id = %d, want newest %d", res.Sessions[0].SessionID, ids[len(ids)-1])
	}
	for i := 1; i < len(res.Sessions); i++ {
		if res.Sessions[i-1].SessionID <= res.Sessions[i].SessionID {
			t.Fatalf("sessions not ordered by id desc: %+v", res.Sessions)
		}
	}
}

func TestRecentOpenSessionDurationRunsToNow(t *testing.T) {
	f := newFixture(t)
	f.openVisit("alice", 20*time.Minute)

	res, err := f.eng.Recent(context.Background(), RecentQuery{VenueID: venue})
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	got := res.Sessions[0]
	if !got.Open() || got.LeftAt != nil {
		t.Fatalf("session should be open: %+v", got)
	}
	if got.Duration != 20*time.Minute {
		t.Fatalf("Duration = %v, want 20m", got.Duration)
	}
}

func TestRecentBotFiltering(t *testing.T) {
	f := newFixture(t)
	f.visit("alice", false, 2*time.Hour, time.Minute)
	f.visit("robot", true, time.Hour, time.Minute)

	res, _ := f.eng.Recent(context.Background(), RecentQuery{VenueID: venue})
	if len(res.Sessions) != 1 || res.Sessions[0].ParticipantID != "alice" {
		t.Fatalf("bots should be hidden by default: %+v", res.Sessions)
	}

	res, _ = f.eng.Recent(context.Background(), RecentQuery{VenueID: venue, IncludeBots: true})
	if len(res.Sessions) != 2 {
		t.Fatalf("IncludeBots should show both: %+v", res.Sessions)
	}

	// Asking for a specific participant shows them even if they are a bot.
	res, _ = f.eng.Recent(context.Background(), RecentQuery{VenueID: venue, ParticipantID: "robot"})
	if len(res.Sessions) != 1 || res.Sessions[0].ParticipantID != "robot" {
		t.Fatalf("participant filter should include bot: %+v", res.Sessions)
	}
}

func TestRecentEmptyIsExplicit(t *testing.T) {
	f := newFixture(t)
	res, err := f.eng.Recent(context.Background(), RecentQuery{VenueID: venue, ParticipantID: "nobody"})
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if !res.Empty() {
		t.Fatalf("Empty() = false, want true: %+v", res)
	}
}

func TestLeaderboardOrdersMostAndLeast(t *testing.T) {
	f := newFixture(t)
	f.visit("alice", false, 5*time.Hour, 30*time.Minute)
	f.visit("alice", false, 3*time.Hour, 30*time.Minute)
	f.visit("bob", false, 4*time.Hour, 2*time.Hour)
	f.visit("carol", false, 2*time.Hour, 10*time.Minute)
	f.openVisit("dave", 15*time.Minute)

	res, err := f.eng.Leaderboard(context.Background(), LeaderboardQuery{VenueID: venue})
	if err != nil {
		t.Fatalf("Leaderboard() error = %v", err)
	}
	if res.Range != RangeAllTime || res.Order != OrderMost {
		t.Fatalf("defaults = %q/%q, want all/most", res.Range, res.Order)
	}
	got := participants(res)
	want := []string{"bob", "alice", "dave", "carol"}
	if !slices.Equal(got, want) {
		t.Fatalf("most order = %v, want %v", got, want)
	}
	if res.Standings[1].Total != time.Hour || res.Standings[1].Sessions != 2 {
		t.Fatalf("alice standing = %+v, want 1h over 2 sessions", res.Standings[1])
	}
	if res.Standings[2].Total != 15*time.Minute {
		t.Fatalf("open session total = %v, want 15m", res.Standings[2].Total)
	}
	if res.Standings[0].Rank != 1 || res.Standings[3].Rank != 4 {
		t.Fatalf("ranks not assigned: %+v", res.Standings)
	}

	res, err = f.eng.Leaderboard(context.Background(), LeaderboardQuery{VenueID: venue, Order: OrderLeast, TopN: 2})
	if err != nil {
		t.Fatalf("Leaderboard() error = %v", err)
	}
	if got := participants(res); !slices.Equal(got, []string{"carol", "dave"}) {
		t.Fatalf("least order top 2 = %v, want [carol dave]", got)
	}
}

func TestLeaderboardTiesBreakByParticipant(t *testing.T) {
	f := newFixture(t)
	f.visit("zed", false, 2*time.Hour, time.Hour)
	f.visit("amy", false, 3*time.Hour, time.Hour)

	res, _ := f.eng.Leaderboard(context.Background(), LeaderboardQuery{VenueID: venue})
	if got := participants(res); !slices.Equal(got, []string{"amy", "zed"}) {
		t.Fatalf("tie order = %v, want [amy zed]", got)
	}
}

func TestLeaderboardRangeNarrowsTotals(t *testing.T) {
	f := newFixture(t)
	f.visit("alice", false, 2*time.Hour, time.Hour)
	f.visit("alice", false, 10*24*time.Hour, 5*time.Hour)
	f.visit("bob", false, 40*24*time.Hour, 3*time.Hour)
	f.openVisit("carol", 30*time.Minute)

	totals := func(r Range) map[string]time.Duration {
		res, err := f.eng.Leaderboard(context.Background(), LeaderboardQuery{VenueID: venue, Range: r})
		if err != nil {
			t.Fatalf("Leaderboard(%s) error = %v", r, err)
		}
		out := make(map[string]time.Duration)
		for _, s := range res.Standings {
			out[s.ParticipantID] = s.Total
		}
		return out
	}

	day := totals(RangeDay)
	all := totals(RangeAllTime)
	for id, d := range day {
		if d > all[id] {
			t.Fatalf("%s: day total %v exceeds all-time total %v", id, d, all[id])
		}
	}
	if day["alice"] != time.Hour {
		t.Fatalf("alice day total = %v, want 1h", day["alice"])
	}
	if _, ok := day["bob"]; ok {
		t.Fatalf("bob should not appear in the day range")
	}
	if all["alice"] != 6*time.Hour || all["bob"] != 3*time.Hour {
		t.Fatalf("all-time totals = %v", all)
	}
	if month := totals(RangeMonth); month["alice"] != 6*time.Hour || month["bob"] != 0 {
		t.Fatalf("month totals = %v", month)
	}
}

func TestLeaderboardExcludesBotsUnlessRequested(t *testing.T) {
	f := newFixture(t)
	f.visit("alice", false, time.Hour, time.Minute)
	f.visit("robot", true, time.Hour, 10*time.Hour)

	res, _ := f.eng.Leaderboard(context.Background(), LeaderboardQuery{VenueID: venue})
	if got := participants(res); !slices.Equal(got, []string{"alice"}) {
		t.Fatalf("standings = %v, want [alice]", got)
	}
	res, _ = f.eng.Leaderboard(context.Background(), LeaderboardQuery{VenueID: venue, IncludeBots: true})
	if got := participants(res); !slices.Equal(got, []string{"robot", "alice"}) {
		t.Fatalf("standings = %v, want [robot alice]", got)
	}
}

func TestLeaderboardEmptyIsExplicit(t *testing.T) {
	f := newFixture(t)
	f.visit("alice", false, 90*24*time.Hour, time.Hour)

	res, err := f.eng.Leaderboard(context.Background(), LeaderboardQuery{VenueID: venue, Range: RangeWeek})
	if err != nil {
		t.Fatalf("Leaderboard() error = %v", err)
	}
	if !res.Empty() {
		t.Fatalf("Empty() = false, want true: %+v", res)
	}
	if res.Standings == nil {
		t.Fatalf("Standings should be an empty slice, not nil")
	}
}

func TestLeaderboardRejectsUnknownEnums(t *testing.T) {
	f := newFixture(t)
	if _, err := f.eng.Leaderboard(context.Background(), LeaderboardQuery{VenueID: venue, Range: "fortnight"}); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("unknown range error = %v, want %v", err, ErrInvalidQuery)
	}
	if _, err := f.eng.Leaderboard(context.Background(), LeaderboardQuery{VenueID: venue, Order: "loudest"}); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("unknown order error = %v, want %v", err, ErrInvalidQuery)
	}
}

func TestInactivityAuditMembersMinusRecentJoiners(t *testing.T) {
	f := newFixture(t)
	f.visit("A", false, 24*time.Hour, time.Hour)
	f.visit("B", false, 40*24*time.Hour, time.Hour)

	res, err := f.eng.InactivityAudit(context.Background(), AuditQuery{
		VenueID:    venue,
		Members:    []Member{{ID: "A"}, {ID: "B"}, {ID: "C"}},
		WindowDays: 30,
	})
	if err != nil {
		t.Fatalf("InactivityAudit() error = %v", err)
	}
	if !slices.Equal(res.Inactive, []string{"B", "C"}) {
		t.Fatalf("Inactive = %v, want [B C]", res.Inactive)
	}
	if res.Checked != 3 || res.WindowDays != 30 {
		t.Fatalf("unexpected result metadata: %+v", res)
	}
}

func TestInactivityAuditBotsAndDuplicates(t *testing.T) {
	f := newFixture(t)
	members := []Member{{ID: "A"}, {ID: "bot", IsBot: true}, {ID: "A"}}

	res, _ := f.eng.InactivityAudit(context.Background(), AuditQuery{VenueID: venue, Members: members, WindowDays: 7})
	if !slices.Equal(res.Inactive, []string{"A"}) {
		t.Fatalf("Inactive = %v, want [A]", res.Inactive)
	}

	res, _ = f.eng.InactivityAudit(context.Background(), AuditQuery{VenueID: venue, Members: members, WindowDays: 7, IncludeBots: true})
	if !slices.Equal(res.Inactive, []string{"A", "bot"}) {
		t.Fatalf("Inactive = %v, want [A bot]", res.Inactive)
	}
}

func TestInactivityAuditEveryoneSeenIsExplicit(t *testing.T) {
	f := newFixture(t)
	f.openVisit("A", time.Minute)

	res, err := f.eng.InactivityAudit(context.Background(), AuditQuery{VenueID: venue, Members: []Member{{ID: "A"}}})
	if err != nil {
		t.Fatalf("InactivityAudit() error = %v", err)
	}
	if !res.Empty() || res.WindowDays != DefaultAuditWindowDays {
		t.Fatalf("result = %+v, want empty with default window", res)
	}
}

func TestInactivityAuditWindowBounds(t *testing.T) {
	f := newFixture(t)
	for _, days := range []int{-1, 366, 1000} {
		_, err := f.eng.InactivityAudit(context.Background(), AuditQuery{VenueID: venue, WindowDays: days})
		if !errors.Is(err, ErrInvalidQuery) {
			t.Fatalf("days=%d error = %v, want %v", days, err, ErrInvalidQuery)
		}
	}
	for _, days := range []int{1, 365} {
		if _, err := f.eng.InactivityAudit(context.Background(), AuditQuery{VenueID: venue, WindowDays: days}); err != nil {
			t.Fatalf("days=%d error = %v", days, err)
		}
	}
}

func TestQueriesRequireVenue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.eng.Recent(ctx, RecentQuery{}); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("Recent() error = %v", err)
	}
	if _, err := f.eng.Leaderboard(ctx, LeaderboardQuery{}); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("Leaderboard() error = %v", err)
	}
	if _, err := f.eng.InactivityAudit(ctx, AuditQuery{}); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("InactivityAudit() error = %v", err)
	}
}

type brokenStore struct {
	*store.InMemoryStore
}

func (brokenStore) QuerySessions(context.Context, store.SessionFilter) iter.Seq2[attendance.Session, error] {
	return func(yield func(attendance.Session, error) bool) {
		yield(attendance.Session{}, fmt.Errorf("query sessions: %w: %w", store.ErrUnavailable, errors.New("timeout")))
	}
}

func TestStoreFailureSurfacesAsError(t *testing.T) {
	eng := NewEngine(brokenStore{store.NewInMemoryStore()}, nil)
	ctx := context.Background()

	if _, err := eng.Recent(ctx, RecentQuery{VenueID: venue}); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("Recent() error = %v, want store unavailable", err)
	}
	if _, err := eng.Leaderboard(ctx, LeaderboardQuery{VenueID: venue}); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("Leaderboard() error = %v, want store unavailable", err)
	}
	if _, err := eng.InactivityAudit(ctx, AuditQuery{VenueID: venue, Members: []Member{{ID: "A"}}}); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("InactivityAudit() error = %v, want store unavailable", err)
	}
}

func TestParseRangeAndOrder(t *testing.T) {
	ranges := map[string]Range{
		"":      RangeAllTime,
		"all":   RangeAllTime,
		"Day":   RangeDay,
		"week":  RangeWeek,
		"MONTH": RangeMonth,
		"year":  RangeYear,
	}
	for in, want := range ranges {
		got, err := ParseRange(in)
		if err != nil || got != want {
			t.Fatalf("ParseRange(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, ok := RangeAllTime.Window(); ok {
		t.Fatalf("all-time range must be unbounded")
	}
	if d, _ := RangeWeek.Window(); d != 7*24*time.Hour {
		t.Fatalf("week window = %v", d)
	}

	if got, err := ParseOrder("least"); err != nil || got != OrderLeast {
		t.Fatalf("ParseOrder(least) = %q, %v", got, err)
	}
	if got, err := ParseOrder(""); err != nil || got != OrderMost {
		t.Fatalf("ParseOrder(\"\") = %q, %v", got, err)
	}
}

func participants(res LeaderboardResult) []string {
	out := make([]string, 0, len(res.Standings))
	for _, s := range res.Standings {
		out = append(out, s.ParticipantID)
	}
	return out
}
