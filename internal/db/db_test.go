package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"bus-scheduler/internal/schedule"
	"bus-scheduler/internal/store"
)

func TestInstanceQuery(t *testing.T) {
	after := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	before := after.Add(24 * time.Hour)

	tests := []struct {
		name      string
		filter    store.Filter
		wantWhere string
		wantArgs  []any
	}{
		{
			name:      "empty",
			filter:    store.Filter{},
			wantWhere: "",
		},
		{
			name:      "organization",
			filter:    store.Filter{OrganizationID: "org"},
			wantWhere: " WHERE organization_id = $1",
			wantArgs:  []any{"org"},
		},
		{
			name: "monitor",
			filter: store.Filter{
				OrganizationID:  "org",
				Statuses:        []schedule.Status{schedule.StatusActive},
				DepartureBefore: before,
			},
			wantWhere: " WHERE organization_id = $1 AND status = ANY($2) AND departure_at < $3",
			wantArgs:  []any{"org", []string{"active"}, before},
		},
		{
			name:      "template window",
			filter:    store.Filter{TemplateID: "t1", DepartureAfter: after, DepartureBefore: before},
			wantWhere: " WHERE template_id = $1 AND departure_at >= $2 AND departure_at < $3",
			wantArgs:  []any{"t1", after, before},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, args := instanceQuery(tt.filter)
			want := "SELECT " + instanceColumns + " FROM schedule_instances" + tt.wantWhere + " ORDER BY departure_at, id"
			if q != want {
				t.Fatalf("query\n got: %s\nwant: %s", q, want)
			}
			if !reflect.DeepEqual(args, tt.wantArgs) {
				t.Fatalf("args = %#v, want %#v", args, tt.wantArgs)
			}
		})
	}
}

func TestInstanceArgsMatchColumns(t *testing.T) {
	cols := strings.Split(instanceColumns, ",")
	args := instanceArgs(schedule.Instance{ID: "i1"})
	if len(args) != len(cols) {
		t.Fatalf("%d args for %d columns", len(args), len(cols))
	}
	if got := strings.Count(insertInstance, "$"); got != len(cols) {
		t.Fatalf("insert has %d placeholders for %d columns", got, len(cols))
	}
	if args[17] != nil {
		t.Fatalf("unflagged instance should bind NULL flagged_at, got %v", args[17])
	}
	if stops, ok := args[9].([]string); !ok || stops == nil {
		t.Fatalf("stops arg = %#v, want empty slice", args[9])
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"bad conn", driver.ErrBadConn, true},
		{"wrapped bad conn", fmt.Errorf("exec: %w", driver.ErrBadConn), true},
		{"deadline", context.DeadlineExceeded, true},
		{"connection failure", &pgconn.PgError{Code: "08006"}, true},
		{"serialization", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"too many connections", &pgconn.PgError{Code: "53300"}, true},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"syntax", &pgconn.PgError{Code: "42601"}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("op", tt.err)
			if got := schedule.IsTransient(err); got != tt.transient {
				t.Fatalf("IsTransient(%v) = %v, want %v", err, got, tt.transient)
			}
			if !errors.Is(err, tt.err) {
				t.Fatalf("classified error lost its cause: %v", err)
			}
		})
	}
	if classify("op", nil) != nil {
		t.Fatal("classify(nil) != nil")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})) {
		t.Fatal("wrapped 23505 not detected")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) || isUniqueViolation(nil) {
		t.Fatal("false positive")
	}
}

func TestDateArgs(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*3600)
	d := time.Date(2025, 1, 6, 0, 30, 0, 0, jakarta)
	if got := dateArg(d); got != "2025-01-06" {
		t.Fatalf("dateArg = %q", got)
	}
	if nullableDate(nil) != nil {
		t.Fatal("nil validUntil should bind NULL")
	}
	if got := daysArg(schedule.DaysOfWeek{1, 3, 5}); !reflect.DeepEqual(got, []int32{1, 3, 5}) {
		t.Fatalf("daysArg = %v", got)
	}
}
