package schedule

import (
	"testing"
	"time"
)

var now = time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

func active(departure time.Time) *Instance {
	return &Instance{
		ID:          "i1",
		Status:      StatusActive,
		IsActive:    true,
		TripStatus:  TripScheduled,
		DepartureAt: departure,
		ArrivalAt:   departure.Add(3 * time.Hour),
	}
}

func terminal(status Status, changed time.Time) *Instance {
	in := active(now.Add(-24 * time.Hour))
	in.Status = status
	in.IsActive = false
	in.StatusChangedAt = changed
	return in
}

func TestClassify(t *testing.T) {
	p := DefaultPolicy()
	boarding := active(now.Add(-10 * time.Minute))
	boarding.TripStatus = TripBoarding
	inTransit := active(now.Add(-5 * time.Hour))
	inTransit.TripStatus = TripInTransit
	archived := terminal(StatusArchived, now)
	boardingCancelled := terminal(StatusCancelled, now.Add(-time.Hour))
	boardingCancelled.TripStatus = TripBoarding

	tests := []struct {
		name   string
		in     *Instance
		want   Bucket
		wantOK bool
	}{
		{"archived_hidden", archived, "", false},
		{"completed_recent", terminal(StatusCompleted, now.Add(-time.Hour)), BucketCompleted, true},
		{"cancelled_recent", terminal(StatusCancelled, now.Add(-48*time.Hour)), BucketCancelled, true},
		{"missed_recent", terminal(StatusMissed, now.Add(-4*24*time.Hour)), BucketMissed, true},
		{"missed_expired", terminal(StatusMissed, now.Add(-6*24*time.Hour)), "", false},
		{"terminal_beats_live", boardingCancelled, BucketCancelled, true},
		{"boarding", boarding, BucketLive, true},
		{"in_transit_overdue", inTransit, BucketLive, true},
		{"attention", active(now.Add(-3 * time.Hour)), BucketAttention, true},
		{"attention_boundary_exclusive", active(now.Add(-2 * time.Hour)), "", false},
		{"attention_just_past_boundary", active(now.Add(-2*time.Hour - time.Microsecond)), BucketAttention, true},
		{"departed_gap_hidden", active(now.Add(-30 * time.Minute)), "", false},
		{"departing_now_hidden", active(now), "", false},
		{"today", active(now.Add(3 * time.Hour)), BucketToday, true},
		{"today_late", active(time.Date(2025, 1, 10, 23, 59, 0, 0, time.UTC)), BucketToday, true},
		{"upcoming_tomorrow", active(time.Date(2025, 1, 11, 0, 0, 0, 0, time.UTC)), BucketUpcoming, true},
		{"upcoming_next_week", active(now.Add(7 * 24 * time.Hour)), BucketUpcoming, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := p.Classify(tt.in, now)
			if got != tt.want || ok != tt.wantOK {
				t.Fatalf("Classify = (%q, %v), want (%q, %v) [rule %q]", got, ok, tt.want, tt.wantOK, p.Rule(tt.in, now))
			}
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	p := DefaultPolicy()
	statuses := []Status{StatusActive, StatusCompleted, StatusCancelled, StatusMissed, StatusArchived}
	tripStatuses := []TripStatus{TripScheduled, TripBoarding, TripInTransit, TripCompleted}
	offsets := []time.Duration{-7 * 24 * time.Hour, -5 * time.Hour, -2 * time.Hour, -time.Minute, 0, time.Hour, 30 * time.Hour}

	valid := make(map[Bucket]bool, len(Buckets))
	for _, b := range Buckets {
		valid[b] = true
	}
	for _, s := range statuses {
		for _, ts := range tripStatuses {
			for _, off := range offsets {
				in := active(now.Add(off))
				in.Status = s
				in.TripStatus = ts
				in.StatusChangedAt = now.Add(off)

				first, firstOK := p.Classify(in, now)
				for i := 0; i < 3; i++ {
					again, againOK := p.Classify(in, now)
					if again != first || againOK != firstOK {
						t.Fatalf("%s/%s/%v: Classify not deterministic", s, ts, off)
					}
				}
				if firstOK && !valid[first] {
					t.Fatalf("%s/%s/%v: unknown bucket %q", s, ts, off, first)
				}
				if !firstOK && first != "" {
					t.Fatalf("%s/%s/%v: hidden instance reported bucket %q", s, ts, off, first)
				}
			}
		}
	}
}

func TestArchivalBoundary(t *testing.T) {
	p := DefaultPolicy()
	changed := now.Add(-p.ArchiveAfter)

	in := terminal(StatusCompleted, changed)
	if b, ok := p.Classify(in, now); !ok || b != BucketCompleted {
		t.Fatalf("at boundary: Classify = (%q, %v), want completed", b, ok)
	}
	if b, ok := p.Classify(in, now.Add(time.Microsecond)); ok {
		t.Fatalf("past boundary: Classify = %q, want hidden", b)
	}
}

func TestAutoMissedDue(t *testing.T) {
	p := DefaultPolicy()
	in := active(now.Add(-3 * time.Hour))
	if p.AutoMissedDue(in, now) {
		t.Fatal("unflagged instance reported due")
	}
	flagged := now.Add(-4 * time.Hour)
	in.FlaggedAt = &flagged
	if !p.AutoMissedDue(in, now) {
		t.Fatal("instance flagged exactly AutoMissed ago not due")
	}
	if p.AutoMissedDue(in, now.Add(-time.Second)) {
		t.Fatal("instance due before grace period elapsed")
	}
}

func TestBoardSorting(t *testing.T) {
	p := DefaultPolicy()
	list := []Instance{
		*active(now.Add(48 * time.Hour)),
		*active(now.Add(24 * time.Hour)),
		*terminal(StatusCompleted, now),
		*active(now.Add(-30 * time.Minute)),
		*active(now.Add(2 * time.Hour)),
	}
	list[0].ID, list[1].ID, list[2].ID, list[3].ID, list[4].ID = "later", "sooner", "done-old", "gap", "today"
	recent := *terminal(StatusCompleted, now)
	recent.ID = "done-new"
	recent.DepartureAt = now.Add(-time.Hour)
	list = append(list, recent)

	board := p.Board(list, now)
	if got := ids(board[BucketUpcoming]); got != "sooner,later" {
		t.Errorf("upcoming = %s", got)
	}
	if got := ids(board[BucketCompleted]); got != "done-new,done-old" {
		t.Errorf("completed = %s", got)
	}
	if got := ids(board[BucketToday]); got != "today" {
		t.Errorf("today = %s", got)
	}
	for b, l := range board {
		for _, in := range l {
			if in.ID == "gap" {
				t.Errorf("gap instance surfaced in %s", b)
			}
		}
	}
}

func ids(list []Instance) string {
	s := ""
	for i, in := range list {
		if i > 0 {
			s += ","
		}
		s += in.ID
	}
	return s
}
