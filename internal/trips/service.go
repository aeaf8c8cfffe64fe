// Package trips exposes the operations staff and the monitor perform on
// templates and trip instances.
package trips

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"bus-scheduler/internal/clock"
	"bus-scheduler/internal/lookup"
	mmetrics "bus-scheduler/internal/metrics"
	"bus-scheduler/internal/publisher"
	"bus-scheduler/internal/schedule"
	"bus-scheduler/internal/store"
)

const (
	SourceManual = "manual"
	SourceAuto   = "auto"
)

type Publisher interface {
	PublishTransition(msg publisher.TransitionMessage) error
}

type Service struct {
	templates store.Templates
	instances store.Instances
	lookup    lookup.Source
	policy    schedule.Policy
	clock     clock.Clock
	pub       Publisher
	metrics   *mmetrics.Collector
	onOrg     func(orgID string)
	logger    *slog.Logger
}

func NewService(templates store.Templates, instances store.Instances, src lookup.Source, policy schedule.Policy, c clock.Clock, logger *slog.Logger) *Service {
	if c == nil {
		c = clock.Real()
	}
	return &Service{
		templates: templates,
		instances: instances,
		lookup:    src,
		policy:    policy,
		clock:     c,
		logger:    logger.With("component", "trips"),
	}
}

func (s *Service) SetPublisher(p Publisher)         { s.pub = p }
func (s *Service) SetMetrics(m *mmetrics.Collector) { s.metrics = m }
func (s *Service) Policy() schedule.Policy          { return s.policy }
func (s *Service) Instances() store.Instances       { return s.instances }

// SetOrganizationHook registers fn to be called whenever an organization
// gains an active template or a one-off trip.
func (s *Service) SetOrganizationHook(fn func(orgID string)) { s.onOrg = fn }

func (s *Service) notify(orgID string) {
	if s.onOrg != nil {
		s.onOrg(orgID)
	}
}

// CreateTemplate validates t against its bus and stores it. An empty ID is
// assigned a new uuid.
func (s *Service) CreateTemplate(ctx context.Context, t schedule.Template, createdBy string) (schedule.Template, error) {
	if err := s.validate(ctx, t); err != nil {
		return schedule.Template{}, err
	}
	now := s.clock.Now()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.SetActive(t.IsActive)
	t.CreatedBy = createdBy
	t.CreatedAt = now
	t.UpdatedAt = now
	if err := s.templates.CreateTemplate(ctx, t); err != nil {
		return schedule.Template{}, fmt.Errorf("create template: %w", err)
	}
	s.logger.Info("template created", "organization", t.OrganizationID, "template", t.ID, "days", t.DaysOfWeek.Summary())
	if t.IsActive {
		s.notify(t.OrganizationID)
	}
	return t, nil
}

// UpdateTemplate replaces the editable fields of an existing template.
// A nil active keeps the template's current activation. Materialized
// instances are only refreshed on the next materialization.
func (s *Service) UpdateTemplate(ctx context.Context, t schedule.Template, active *bool) (schedule.Template, error) {
	existing, err := s.templates.GetTemplate(ctx, t.OrganizationID, t.ID)
	if err != nil {
		return schedule.Template{}, err
	}
	if err := s.validate(ctx, t); err != nil {
		return schedule.Template{}, err
	}
	if active == nil {
		active = &existing.IsActive
	}
	t.SetActive(*active)
	t.CreatedBy = existing.CreatedBy
	t.CreatedAt = existing.CreatedAt
	t.UpdatedAt = s.clock.Now()
	if err := s.templates.UpdateTemplate(ctx, t); err != nil {
		return schedule.Template{}, fmt.Errorf("update template: %w", err)
	}
	if t.IsActive {
		s.notify(t.OrganizationID)
	}
	return t, nil
}

func (s *Service) SetTemplateActive(ctx context.Context, orgID, id string, active bool) (schedule.Template, error) {
	t, err := s.templates.GetTemplate(ctx, orgID, id)
	if err != nil {
		return schedule.Template{}, err
	}
	t.SetActive(active)
	t.UpdatedAt = s.clock.Now()
	if err := s.templates.UpdateTemplate(ctx, t); err != nil {
		return schedule.Template{}, fmt.Errorf("update template: %w", err)
	}
	s.logger.Info("template toggled", "organization", orgID, "template", id, "active", active)
	if active {
		s.notify(orgID)
	}
	return t, nil
}

// DeleteTemplate removes the template only. Instances it already produced
// stay as they are; future dates are simply no longer generated.
func (s *Service) DeleteTemplate(ctx context.Context, orgID, id string) error {
	if err := s.templates.DeleteTemplate(ctx, orgID, id); err != nil {
		return err
	}
	s.logger.Info("template deleted", "organization", orgID, "template", id)
	return nil
}

func (s *Service) ListTemplates(ctx context.Context, orgID string) ([]schedule.Template, error) {
	return s.templates.ListTemplates(ctx, orgID, false)
}

func (s *Service) validate(ctx context.Context, t schedule.Template) error {
	if err := t.Validate(0); err != nil {
		return err
	}
	_, bus, err := s.resolve(ctx, t.OrganizationID, t.RouteID, t.BusID)
	if err != nil {
		return err
	}
	return t.Validate(bus.Capacity)
}

// resolve looks up the route and bus and requires both to belong to orgID.
// Another organization's record resolves as not found.
func (s *Service) resolve(ctx context.Context, orgID, routeID, busID string) (schedule.Route, schedule.Bus, error) {
	route, err := s.lookup.Route(ctx, routeID)
	if err != nil {
		return schedule.Route{}, schedule.Bus{}, err
	}
	if route.OrganizationID != orgID {
		return schedule.Route{}, schedule.Bus{}, &schedule.NotFoundError{Kind: "route", ID: routeID}
	}
	bus, err := s.lookup.Bus(ctx, busID)
	if err != nil {
		return schedule.Route{}, schedule.Bus{}, err
	}
	if bus.OrganizationID != orgID {
		return schedule.Route{}, schedule.Bus{}, &schedule.NotFoundError{Kind: "bus", ID: busID}
	}
	return route, bus, nil
}

// OneOff describes a manually scheduled trip that no template produces.
type OneOff struct {
	OrganizationID string
	RouteID        string
	BusID          string
	DepartureAt    time.Time
	ArrivalAt      time.Time
	Price          float64
	AvailableSeats int
}

func (s *Service) CreateOneOff(ctx context.Context, o OneOff, createdBy string) (schedule.Instance, error) {
	switch {
	case o.OrganizationID == "":
		return schedule.Instance{}, &schedule.ValidationError{Field: "organizationId", Reason: "required"}
	case o.Price <= 0:
		return schedule.Instance{}, &schedule.ValidationError{Field: "price", Reason: "must be greater than 0"}
	case o.AvailableSeats <= 0:
		return schedule.Instance{}, &schedule.ValidationError{Field: "availableSeats", Reason: "must be greater than 0"}
	case o.DepartureAt.IsZero():
		return schedule.Instance{}, &schedule.ValidationError{Field: "departureDateTime", Reason: "required"}
	}
	route, bus, err := s.resolve(ctx, o.OrganizationID, o.RouteID, o.BusID)
	if err != nil {
		return schedule.Instance{}, err
	}
	if bus.Capacity > 0 && o.AvailableSeats > bus.Capacity {
		return schedule.Instance{}, &schedule.ValidationError{Field: "availableSeats", Reason: fmt.Sprintf("exceeds bus capacity %d", bus.Capacity)}
	}
	arrival := o.ArrivalAt
	if !arrival.After(o.DepartureAt) {
		arrival = arrival.AddDate(0, 0, 1)
	}

	now := s.clock.Now()
	in := schedule.Instance{
		ID:                uuid.NewString(),
		OrganizationID:    o.OrganizationID,
		RouteID:           o.RouteID,
		BusID:             o.BusID,
		DepartureAt:       o.DepartureAt,
		ArrivalAt:         arrival,
		DepartureLocation: route.Origin,
		ArrivalLocation:   route.Destination,
		Stops:             route.Stops,
		Price:             o.Price,
		AvailableSeats:    o.AvailableSeats,
		BookedSeats:       []string{},
		Status:            schedule.StatusActive,
		IsActive:          true,
		TripStatus:        schedule.TripScheduled,
		StatusChangedAt:   now,
		CreatedBy:         createdBy,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.instances.CreateInstance(ctx, in); err != nil {
		return schedule.Instance{}, fmt.Errorf("create instance: %w", err)
	}
	s.logger.Info("one-off trip created", "organization", in.OrganizationID, "instance", in.ID, "departure", in.DepartureAt)
	s.notify(in.OrganizationID)
	return in, nil
}
