package clock

import (
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// unix timestamps at or above this are taken as milliseconds
const millisThreshold = 1e12

var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	time.DateOnly,
}

// ToTime normalizes the timestamp shapes found in stored documents to a
// time.Time. Strings without a zone are read in time.Local.
func ToTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case *time.Time:
		if t == nil {
			return time.Time{}, fmt.Errorf("nil time")
		}
		return *t, nil
	case sql.NullTime:
		if !t.Valid {
			return time.Time{}, fmt.Errorf("null time")
		}
		return t.Time, nil
	case pgtype.Timestamptz:
		if !t.Valid || t.InfinityModifier != pgtype.Finite {
			return time.Time{}, fmt.Errorf("timestamptz not finite")
		}
		return t.Time, nil
	case pgtype.Timestamp:
		if !t.Valid || t.InfinityModifier != pgtype.Finite {
			return time.Time{}, fmt.Errorf("timestamp not finite")
		}
		return t.Time, nil
	case pgtype.Date:
		if !t.Valid || t.InfinityModifier != pgtype.Finite {
			return time.Time{}, fmt.Errorf("date not finite")
		}
		return t.Time, nil
	case string:
		return parseString(t)
	case int:
		return fromUnix(float64(t)), nil
	case int64:
		return fromUnix(float64(t)), nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return time.Time{}, fmt.Errorf("invalid unix time %v", t)
		}
		return fromUnix(t), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported time value %T", v)
	}
}

func parseString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time string %q", s)
}

func fromUnix(v float64) time.Time {
	if math.Abs(v) >= millisThreshold {
		return time.UnixMilli(int64(v))
	}
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// HoursSince returns the elapsed hours from `from` to `now`; negative when
// `from` lies in the future.
func HoursSince(from, now time.Time) float64 {
	return now.Sub(from).Hours()
}

func DaysSince(from, now time.Time) float64 {
	return now.Sub(from).Hours() / 24
}

// StartOfDay truncates t to midnight in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SameDay reports whether a falls on b's calendar date in b's location.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.In(b.Location()).Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
