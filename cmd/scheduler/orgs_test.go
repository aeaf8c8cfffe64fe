package main

import (
	"context"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"bus-scheduler/internal/clock"
	"bus-scheduler/internal/lookup"
	"bus-scheduler/internal/monitor"
	"bus-scheduler/internal/schedule"
	"bus-scheduler/internal/store"
	"bus-scheduler/internal/trips"
)

var startup = time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestOrgTrackerDiscoversNewOrganizations(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	var notified []string
	tr := newOrgTracker(nil, mem, discardLogger())
	tr.onNew = func(org string) { notified = append(notified, org) }

	if got := tr.Current(ctx); len(got) != 0 {
		t.Fatalf("Current = %v before any template", got)
	}
	if err := mem.CreateTemplate(ctx, schedule.Template{ID: "t1", OrganizationID: "po-baru", IsActive: true}); err != nil {
		t.Fatal(err)
	}
	if got := tr.Current(ctx); !reflect.DeepEqual(got, []string{"po-baru"}) {
		t.Fatalf("Current = %v", got)
	}
	tr.Current(ctx)
	tr.Add("po-baru")
	tr.Add("po-lain")
	if !reflect.DeepEqual(notified, []string{"po-baru", "po-lain"}) {
		t.Fatalf("notified = %v", notified)
	}
}

func TestOrgTrackerFixedList(t *testing.T) {
	var notified []string
	tr := newOrgTracker([]string{"po-sumber"}, store.NewMemory(), discardLogger())
	tr.onNew = func(org string) { notified = append(notified, org) }

	if got := tr.Current(context.Background()); !reflect.DeepEqual(got, []string{"po-sumber"}) {
		t.Fatalf("Current = %v", got)
	}
	tr.Add("po-lain")
	if !reflect.DeepEqual(notified, []string{"po-sumber"}) {
		t.Fatalf("notified = %v", notified)
	}
}

func TestOrganizationAddedAfterStartupIsMonitored(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mem := store.NewMemory()
	fc := clock.Fake(startup)
	src := lookup.Static{
		Routes: map[string]schedule.Route{"r1": {ID: "r1", OrganizationID: "po-baru", Origin: "Solo", Destination: "Yogyakarta"}},
		Buses:  map[string]schedule.Bus{"b1": {ID: "b1", OrganizationID: "po-baru", Capacity: 30}},
	}
	policy := schedule.DefaultPolicy()
	svc := trips.NewService(mem, mem, src, policy, fc, discardLogger())
	mon := monitor.New(mem, svc, policy, monitor.Options{Clock: fc}, discardLogger())
	defer mon.Stop()

	tr := newOrgTracker(nil, mem, discardLogger())
	tr.onNew = func(org string) { mon.Watch(ctx, org) }
	svc.SetOrganizationHook(tr.Add)
	if got := tr.Current(ctx); len(got) != 0 {
		t.Fatalf("Current = %v at startup", got)
	}

	in, err := svc.CreateOneOff(ctx, trips.OneOff{
		OrganizationID: "po-baru",
		RouteID:        "r1",
		BusID:          "b1",
		DepartureAt:    startup.Add(-3 * time.Hour),
		ArrivalAt:      startup.Add(-1 * time.Hour),
		Price:          80000,
		AvailableSeats: 30,
	}, "staff")
	if err != nil {
		t.Fatal(err)
	}
	fc.WaitForTimers(1)
	if got := mon.Watching(); !reflect.DeepEqual(got, []string{"po-baru"}) {
		t.Fatalf("watching %v", got)
	}

	waitFor(t, "flag", func() bool {
		got, _ := mem.GetInstance(ctx, in.ID)
		return got.FlaggedAt != nil
	})
	fc.Advance(policy.AutoMissed)
	waitFor(t, "missed", func() bool {
		got, _ := mem.GetInstance(ctx, in.ID)
		return got.Status == schedule.StatusMissed
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
