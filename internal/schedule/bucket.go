package schedule

import (
	"sort"
	"time"

	"bus-scheduler/internal/clock"
)

type Bucket string

const (
	BucketLive      Bucket = "live"
	BucketAttention Bucket = "attention"
	BucketToday     Bucket = "today"
	BucketUpcoming  Bucket = "upcoming"
	BucketCompleted Bucket = "completed"
	BucketCancelled Bucket = "cancelled"
	BucketMissed    Bucket = "missed"
)

// Buckets lists every bucket in display order.
var Buckets = []Bucket{
	BucketLive, BucketAttention, BucketToday, BucketUpcoming,
	BucketCompleted, BucketCancelled, BucketMissed,
}

// Open reports whether a manual status transition may start from b.
func (b Bucket) Open() bool {
	return b == BucketToday || b == BucketUpcoming || b == BucketAttention
}

func (b Bucket) Terminal() bool {
	return b == BucketCompleted || b == BucketCancelled || b == BucketMissed
}

// Policy holds the grace periods that drive classification.
type Policy struct {
	PastDue      time.Duration // departure to Attention
	AutoMissed   time.Duration // Attention flag to automatic missed
	ArchiveAfter time.Duration // terminal status to hidden
}

func DefaultPolicy() Policy {
	return Policy{
		PastDue:      2 * time.Hour,
		AutoMissed:   4 * time.Hour,
		ArchiveAfter: 5 * 24 * time.Hour,
	}
}

// rule is one row of the classification table. A matching rule with
// hidden set removes the instance from every bucket.
type rule struct {
	name   string
	match  func(p Policy, in *Instance, now time.Time) bool
	bucket func(in *Instance) Bucket
	hidden bool
}

func fixed(b Bucket) func(*Instance) Bucket { return func(*Instance) Bucket { return b } }

var rules = []rule{
	{
		name:   "archived",
		match:  func(_ Policy, in *Instance, _ time.Time) bool { return in.Status == StatusArchived },
		hidden: true,
	},
	{
		name: "terminal_expired",
		match: func(p Policy, in *Instance, now time.Time) bool {
			return in.Status.Terminal() && p.Archived(in, now)
		},
		hidden: true,
	},
	{
		name:   "terminal",
		match:  func(_ Policy, in *Instance, _ time.Time) bool { return in.Status.Terminal() },
		bucket: func(in *Instance) Bucket { return Bucket(in.Status) },
	},
	{
		name: "live",
		match: func(_ Policy, in *Instance, _ time.Time) bool {
			return in.TripStatus == TripBoarding || in.TripStatus == TripInTransit
		},
		bucket: fixed(BucketLive),
	},
	{
		name: "attention",
		match: func(p Policy, in *Instance, now time.Time) bool {
			return in.Status == StatusActive && clock.HoursSince(in.DepartureAt, now) > p.PastDue.Hours()
		},
		bucket: fixed(BucketAttention),
	},
	{
		name: "today",
		match: func(_ Policy, in *Instance, now time.Time) bool {
			return in.Status == StatusActive && in.DepartureAt.After(now) && clock.SameDay(in.DepartureAt, now)
		},
		bucket: fixed(BucketToday),
	},
	{
		name: "upcoming",
		match: func(_ Policy, in *Instance, now time.Time) bool {
			return in.Status == StatusActive && in.DepartureAt.After(now)
		},
		bucket: fixed(BucketUpcoming),
	},
}

// Classify maps an instance to its bucket at now. ok is false when the
// instance is hidden: archived, past retention, or active with a departure
// that passed less than PastDue ago.
func (p Policy) Classify(in *Instance, now time.Time) (b Bucket, ok bool) {
	b, _, ok = p.classify(in, now)
	return b, ok
}

// Rule returns the name of the first matching rule, or "" when none matched.
func (p Policy) Rule(in *Instance, now time.Time) string {
	_, name, _ := p.classify(in, now)
	return name
}

func (p Policy) classify(in *Instance, now time.Time) (Bucket, string, bool) {
	for _, r := range rules {
		if !r.match(p, in, now) {
			continue
		}
		if r.hidden {
			return "", r.name, false
		}
		return r.bucket(in), r.name, true
	}
	return "", "", false
}

// Archived reports whether a terminal instance is past the retention window.
// Exactly ArchiveAfter after the status change it is still retained.
func (p Policy) Archived(in *Instance, now time.Time) bool {
	if in.Status == StatusArchived {
		return true
	}
	return in.Status.Terminal() && clock.DaysSince(in.StatusChangedAt, now) > p.ArchiveAfter.Hours()/24
}

// AutoMissedDue reports whether a flagged instance has waited out the grace period.
func (p Policy) AutoMissedDue(in *Instance, now time.Time) bool {
	return in.FlaggedAt != nil && now.Sub(*in.FlaggedAt) >= p.AutoMissed
}

// Board groups instances by bucket, each sorted for display. Hidden
// instances are dropped.
func (p Policy) Board(instances []Instance, now time.Time) map[Bucket][]Instance {
	board := make(map[Bucket][]Instance, len(Buckets))
	for i := range instances {
		b, ok := p.Classify(&instances[i], now)
		if !ok {
			continue
		}
		board[b] = append(board[b], instances[i])
	}
	for b, list := range board {
		SortBucket(b, list)
	}
	return board
}

// SortBucket orders active buckets by departure ascending and terminal
// buckets most recent first.
func SortBucket(b Bucket, list []Instance) {
	desc := b.Terminal()
	sort.SliceStable(list, func(i, j int) bool {
		if desc {
			return list[i].DepartureAt.After(list[j].DepartureAt)
		}
		return list[i].DepartureAt.Before(list[j].DepartureAt)
	})
}
