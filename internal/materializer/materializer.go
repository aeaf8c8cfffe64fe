// Package materializer expands recurrence templates into concrete trip
// instances for a rolling window of days.
package materializer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"bus-scheduler/internal/clock"
	"bus-scheduler/internal/lookup"
	mmetrics "bus-scheduler/internal/metrics"
	"bus-scheduler/internal/publisher"
	"bus-scheduler/internal/schedule"
	"bus-scheduler/internal/store"
)

const (
	DefaultWindowDays = 14
	DefaultBatchSize  = 400
)

type Publisher interface {
	PublishMaterialized(msg publisher.MaterializedMessage) error
}

type Materializer struct {
	templates  store.Templates
	instances  store.Instances
	lookup     lookup.Source
	windowDays int
	batchSize  int
	tz         *time.Location
	clock      clock.Clock
	pub        Publisher
	metrics    *mmetrics.Collector
	logger     *slog.Logger
}

type Options struct {
	WindowDays int
	BatchSize  int
	Location   *time.Location
	Clock      clock.Clock
	Publisher  Publisher
	Metrics    *mmetrics.Collector
}

func New(templates store.Templates, instances store.Instances, src lookup.Source, opts Options, logger *slog.Logger) *Materializer {
	m := &Materializer{
		templates:  templates,
		instances:  instances,
		lookup:     src,
		windowDays: opts.WindowDays,
		batchSize:  opts.BatchSize,
		tz:         opts.Location,
		clock:      opts.Clock,
		pub:        opts.Publisher,
		metrics:    opts.Metrics,
		logger:     logger.With("component", "materializer"),
	}
	if m.windowDays <= 0 {
		m.windowDays = DefaultWindowDays
	}
	if m.batchSize <= 0 {
		m.batchSize = DefaultBatchSize
	}
	if m.tz == nil {
		m.tz = time.Local
	}
	if m.clock == nil {
		m.clock = clock.Real()
	}
	return m
}

// Materialize writes the instances every active template of the
// organization yields over the window starting at now's calendar day.
// It is safe to re-run: existing instances are merged, never duplicated,
// and booking state is never reset. Every route is resolved before the
// first write, so an unknown route fails the pass without writing
// anything. Batches commit independently; on a failed batch the count of
// instances created by earlier batches is returned with the error.
func (m *Materializer) Materialize(ctx context.Context, orgID string, now time.Time) (int, error) {
	start := time.Now()
	created, planned, err := m.materialize(ctx, orgID, now)
	if m.metrics != nil {
		m.metrics.MaterializeDuration.Observe(time.Since(start).Seconds())
		m.metrics.InstancesCreated.Add(float64(created))
		if err != nil {
			m.metrics.MaterializeRuns.WithLabelValues("error").Inc()
		} else {
			m.metrics.MaterializeRuns.WithLabelValues("ok").Inc()
		}
	}
	if err != nil {
		return created, err
	}

	m.logger.Info("materialized", "organization", orgID, "planned", planned, "created", created, "window_days", m.windowDays)
	if m.pub != nil {
		msg := publisher.MaterializedMessage{
			OrganizationID: orgID,
			Created:        created,
			Planned:        planned,
			WindowStart:    clock.StartOfDay(now),
			WindowDays:     m.windowDays,
			Timestamp:      now,
		}
		if err := m.pub.PublishMaterialized(msg); err != nil {
			m.logger.Warn("publish materialized event failed", "organization", orgID, "error", err)
		}
	}
	return created, nil
}

func (m *Materializer) materialize(ctx context.Context, orgID string, now time.Time) (created, planned int, err error) {
	templates, err := m.templates.ListTemplates(ctx, orgID, true)
	if err != nil {
		return 0, 0, fmt.Errorf("list templates: %w", err)
	}
	plan, err := m.plan(ctx, templates, now)
	if err != nil {
		return 0, 0, err
	}
	for i := 0; i < len(plan); i += m.batchSize {
		end := min(i+m.batchSize, len(plan))
		n, err := m.instances.UpsertInstances(ctx, plan[i:end])
		if err != nil {
			return created, len(plan), fmt.Errorf("upsert instances %d-%d of %d: %w", i, end, len(plan), err)
		}
		created += n
	}
	return created, len(plan), nil
}

func (m *Materializer) plan(ctx context.Context, templates []schedule.Template, now time.Time) ([]schedule.Instance, error) {
	today := clock.StartOfDay(now)
	routes := make(map[string]schedule.Route)
	var plan []schedule.Instance
	for _, t := range templates {
		if !t.IsActive {
			continue
		}
		route, ok := routes[t.RouteID]
		if !ok {
			r, err := m.lookup.Route(ctx, t.RouteID)
			if err != nil {
				return nil, fmt.Errorf("template %s: %w", t.ID, err)
			}
			route = r
			routes[t.RouteID] = r
		}
		plan = append(plan, Expand(t, route, today, m.windowDays, now)...)
	}
	return plan, nil
}

// Expand returns the instances t yields on each of the days calendar
// dates starting at today. An arrival at or before the departure time
// rolls over to the next day.
func Expand(t schedule.Template, route schedule.Route, today time.Time, days int, now time.Time) []schedule.Instance {
	var out []schedule.Instance
	for offset := 0; offset < days; offset++ {
		date := today.AddDate(0, 0, offset)
		if !t.Covers(date) {
			continue
		}
		departure := t.DepartureTime.On(date)
		arrival := t.ArrivalTime.On(date)
		if !arrival.After(departure) {
			arrival = t.ArrivalTime.On(date.AddDate(0, 0, 1))
		}
		out = append(out, schedule.Instance{
			ID:                schedule.InstanceKey(t.ID, date),
			OrganizationID:    t.OrganizationID,
			RouteID:           t.RouteID,
			BusID:             t.BusID,
			TemplateID:        t.ID,
			DepartureAt:       departure,
			ArrivalAt:         arrival,
			DepartureLocation: route.Origin,
			ArrivalLocation:   route.Destination,
			Stops:             append([]string(nil), route.Stops...),
			Price:             t.Price,
			AvailableSeats:    t.AvailableSeats,
			BookedSeats:       []string{},
			Status:            schedule.StatusActive,
			IsActive:          true,
			TripStatus:        schedule.TripScheduled,
			StatusChangedAt:   now,
			CreatedBy:         t.CreatedBy,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
	}
	return out
}

// MaterializeAll runs one pass per organization at the current time.
// Failures are logged; one organization never blocks another.
func (m *Materializer) MaterializeAll(ctx context.Context, orgs []string) {
	now := m.clock.Now().In(m.tz)
	for _, org := range orgs {
		if _, err := m.Materialize(ctx, org, now); err != nil {
			m.logger.Error("materialize failed", "organization", org, "error", err)
		}
	}
}

// Run materializes immediately and then every interval until ctx is done.
// orgs is asked for the organization list before every pass, so
// organizations that appear while running are picked up.
func (m *Materializer) Run(ctx context.Context, orgs func(context.Context) []string, interval time.Duration) {
	m.MaterializeAll(ctx, orgs(ctx))
	if interval <= 0 {
		return
	}
	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.MaterializeAll(ctx, orgs(ctx))
		}
	}
}
