// Package store defines the persisted-document interface the scheduler
// reads and writes through, plus an in-memory implementation.
package store

import (
	"context"
	"time"

	"bus-scheduler/internal/schedule"
)

type Templates interface {
	CreateTemplate(ctx context.Context, t schedule.Template) error
	UpdateTemplate(ctx context.Context, t schedule.Template) error
	DeleteTemplate(ctx context.Context, orgID, id string) error
	GetTemplate(ctx context.Context, orgID, id string) (schedule.Template, error)
	ListTemplates(ctx context.Context, orgID string, activeOnly bool) ([]schedule.Template, error)
}

type Instances interface {
	// CreateInstance inserts a new instance and fails if the id exists.
	CreateInstance(ctx context.Context, in schedule.Instance) error

	// UpsertInstances writes materialized instances with merge semantics:
	// a missing id is inserted as given; an existing instance only has its
	// template-derived fields refreshed, and only while it is active with
	// no booked seats. Seats, bookings and statuses are never reset.
	// Returns how many instances were newly inserted.
	UpsertInstances(ctx context.Context, batch []schedule.Instance) (int, error)

	GetInstance(ctx context.Context, id string) (schedule.Instance, error)
	ListInstances(ctx context.Context, f Filter) ([]schedule.Instance, error)

	// TransitionStatus moves an instance to `to` only if its current status
	// is one of from. It sets IsActive, StatusChangedAt and clears FlaggedAt.
	// ok is false when the guard did not match.
	TransitionStatus(ctx context.Context, id string, from []schedule.Status, to schedule.Status, at time.Time) (ok bool, err error)

	// FlagInstance records the first Attention observation. It is a no-op
	// when the instance is already flagged or no longer active.
	FlagInstance(ctx context.Context, id string, at time.Time) (ok bool, err error)
	UnflagInstance(ctx context.Context, id string) error
}

// Filter selects instances; zero fields match everything.
type Filter struct {
	OrganizationID  string
	TemplateID      string
	Statuses        []schedule.Status
	DepartureAfter  time.Time // inclusive
	DepartureBefore time.Time // exclusive
}

func (f Filter) Match(in *schedule.Instance) bool {
	if f.OrganizationID != "" && in.OrganizationID != f.OrganizationID {
		return false
	}
	if f.TemplateID != "" && in.TemplateID != f.TemplateID {
		return false
	}
	if len(f.Statuses) > 0 && !hasStatus(f.Statuses, in.Status) {
		return false
	}
	if !f.DepartureAfter.IsZero() && in.DepartureAt.Before(f.DepartureAfter) {
		return false
	}
	if !f.DepartureBefore.IsZero() && !in.DepartureAt.Before(f.DepartureBefore) {
		return false
	}
	return true
}

func hasStatus(list []schedule.Status, s schedule.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
