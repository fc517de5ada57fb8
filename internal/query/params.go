package query

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidQuery marks parameter violations; callers should report them as
// bad input rather than retry.
var ErrInvalidQuery = errors.New("invalid query")

// Range bounds a leaderboard by join time.
type Range string

const (
	RangeDay     Range = "day"
	RangeWeek    Range = "week"
	RangeMonth   Range = "month"
	RangeYear    Range = "year"
	RangeAllTime Range = "all"
)

func ParseRange(s string) (Range, error) {
	switch Range(strings.ToLower(strings.TrimSpace(s))) {
	case "", RangeAllTime, "alltime", "all_time":
		return RangeAllTime, nil
	case RangeDay:
		return RangeDay, nil
	case RangeWeek:
		return RangeWeek, nil
	case RangeMonth:
		return RangeMonth, nil
	case RangeYear:
		return RangeYear, nil
	default:
		return "", fmt.Errorf("%w: unknown range %q (expected day|week|month|year|all)", ErrInvalidQuery, s)
	}
}

// Window returns how far back the range reaches. ok is false for RangeAllTime.
func (r Range) Window() (d time.Duration, ok bool) {
	switch r {
	case RangeDay:
		return 24 * time.Hour, true
	case RangeWeek:
		return 7 * 24 * time.Hour, true
	case RangeMonth:
		return 30 * 24 * time.Hour, true
	case RangeYear:
		return 365 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// Order picks which end of the leaderboard is shown.
type Order string

const (
	OrderMost  Order = "most"
	OrderLeast Order = "least"
)

func ParseOrder(s string) (Order, error) {
	switch Order(strings.ToLower(strings.TrimSpace(s))) {
	case "", OrderMost:
		return OrderMost, nil
	case OrderLeast:
		return OrderLeast, nil
	default:
		return "", fmt.Errorf("%w: unknown activity %q (expected most|least)", ErrInvalidQuery, s)
	}
}

const (
	DefaultRecentLimit     = 5
	DefaultLeaderboardSize = 10
	DefaultAuditWindowDays = 30
	MinAuditWindowDays     = 1
	MaxAuditWindowDays     = 365
	maxRecentLimit         = 100
	maxLeaderboardSize     = 100
)

func isInvalid(err error) bool {
	return errors.Is(err, ErrInvalidQuery)
}
