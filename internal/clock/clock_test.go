package clock

import (
	"database/sql"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

var epoch = time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

func TestFakeClockAdvance(t *testing.T) {
	c := Fake(epoch)
	ticker := c.NewTicker(time.Minute)
	defer ticker.Stop()

	c.Advance(30 * time.Second)
	select {
	case <-ticker.C:
		t.Fatal("ticker fired before its interval elapsed")
	default:
	}

	c.Advance(30 * time.Second)
	select {
	case at := <-ticker.C:
		if want := epoch.Add(time.Minute); !at.Equal(want) {
			t.Fatalf("tick at %v, want %v", at, want)
		}
	default:
		t.Fatal("ticker did not fire after one interval")
	}

	if got, want := c.Now(), epoch.Add(time.Minute); !got.Equal(want) {
		t.Fatalf("Now() = %v, want %v", got, want)
	}
}

func TestFakeClockStoppedTickerIsSilent(t *testing.T) {
	c := Fake(epoch)
	ticker := c.NewTicker(time.Second)
	ticker.Stop()
	c.Advance(time.Minute)
	select {
	case <-ticker.C:
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestFakeClockWaitForTimers(t *testing.T) {
	c := Fake(epoch)
	done := make(chan struct{})
	go func() {
		c.WaitForTimers(1)
		close(done)
	}()
	c.NewTicker(time.Second)
	<-done
}

func TestToTime(t *testing.T) {
	ref := time.Date(2025, 1, 10, 7, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   any
		want time.Time
	}{
		{"time", ref, ref},
		{"pointer", &ref, ref},
		{"null_time", sql.NullTime{Time: ref, Valid: true}, ref},
		{"timestamptz", pgtype.Timestamptz{Time: ref, Valid: true}, ref},
		{"date", pgtype.Date{Time: time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC), Valid: true}, time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)},
		{"rfc3339", "2025-01-10T07:00:00Z", ref},
		{"unix_seconds", ref.Unix(), ref},
		{"unix_millis", ref.UnixMilli(), ref},
		{"unix_float", float64(ref.Unix()), ref},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToTime(tt.in)
			if err != nil {
				t.Fatalf("ToTime(%v): %v", tt.in, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ToTime(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestToTimeRejects(t *testing.T) {
	for _, in := range []any{"not a time", sql.NullTime{}, pgtype.Timestamptz{}, struct{}{}, (*time.Time)(nil)} {
		if _, err := ToTime(in); err == nil {
			t.Errorf("ToTime(%#v) succeeded, want error", in)
		}
	}
}

func TestElapsed(t *testing.T) {
	from := epoch
	now := epoch.Add(36 * time.Hour)
	if got := HoursSince(from, now); got != 36 {
		t.Errorf("HoursSince = %v, want 36", got)
	}
	if got := DaysSince(from, now); got != 1.5 {
		t.Errorf("DaysSince = %v, want 1.5", got)
	}
	if got := HoursSince(now, from); got != -36 {
		t.Errorf("HoursSince reversed = %v, want -36", got)
	}
}

func TestSameDay(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*3600)
	now := time.Date(2025, 1, 10, 6, 0, 0, 0, loc)
	// 2025-01-09 23:30 UTC is 2025-01-10 06:30 in UTC+7.
	if !SameDay(time.Date(2025, 1, 9, 23, 30, 0, 0, time.UTC), now) {
		t.Error("expected same local day")
	}
	if SameDay(time.Date(2025, 1, 10, 17, 30, 0, 0, time.UTC), now) {
		t.Error("expected next local day")
	}
	if got := StartOfDay(now); !got.Equal(time.Date(2025, 1, 10, 0, 0, 0, 0, loc)) {
		t.Errorf("StartOfDay = %v", got)
	}
}
