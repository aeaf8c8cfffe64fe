package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"bus-scheduler/internal/schedule"
)

// Memory keeps templates and instances in process. Reads return copies.
type Memory struct {
	mu        sync.RWMutex
	templates map[string]schedule.Template
	instances map[string]schedule.Instance

	// BeforeWrite, when set, runs before every write and aborts it on error.
	BeforeWrite func(op, id string) error
}

func NewMemory() *Memory {
	return &Memory{
		templates: make(map[string]schedule.Template),
		instances: make(map[string]schedule.Instance),
	}
}

func (m *Memory) check(op, id string) error {
	if m.BeforeWrite == nil {
		return nil
	}
	return m.BeforeWrite(op, id)
}

func (m *Memory) CreateTemplate(_ context.Context, t schedule.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("create_template", t.ID); err != nil {
		return err
	}
	if _, exists := m.templates[t.ID]; exists {
		return &schedule.ConflictError{ID: t.ID, Reason: "template already exists"}
	}
	m.templates[t.ID] = cloneTemplate(t)
	return nil
}

func (m *Memory) UpdateTemplate(_ context.Context, t schedule.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("update_template", t.ID); err != nil {
		return err
	}
	existing, ok := m.templates[t.ID]
	if !ok || existing.OrganizationID != t.OrganizationID {
		return &schedule.NotFoundError{Kind: "template", ID: t.ID}
	}
	m.templates[t.ID] = cloneTemplate(t)
	return nil
}

func (m *Memory) DeleteTemplate(_ context.Context, orgID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("delete_template", id); err != nil {
		return err
	}
	existing, ok := m.templates[id]
	if !ok || existing.OrganizationID != orgID {
		return &schedule.NotFoundError{Kind: "template", ID: id}
	}
	delete(m.templates, id)
	return nil
}

func (m *Memory) GetTemplate(_ context.Context, orgID, id string) (schedule.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[id]
	if !ok || t.OrganizationID != orgID {
		return schedule.Template{}, &schedule.NotFoundError{Kind: "template", ID: id}
	}
	return cloneTemplate(t), nil
}

func (m *Memory) ListTemplates(_ context.Context, orgID string, activeOnly bool) ([]schedule.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []schedule.Template
	for _, t := range m.templates {
		if t.OrganizationID != orgID || (activeOnly && !t.IsActive) {
			continue
		}
		out = append(out, cloneTemplate(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Organizations lists every organization that owns at least one active template.
func (m *Memory) Organizations(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	var orgs []string
	for _, t := range m.templates {
		if t.IsActive && !seen[t.OrganizationID] {
			seen[t.OrganizationID] = true
			orgs = append(orgs, t.OrganizationID)
		}
	}
	sort.Strings(orgs)
	return orgs, nil
}

func (m *Memory) CreateInstance(_ context.Context, in schedule.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("create_instance", in.ID); err != nil {
		return err
	}
	if _, exists := m.instances[in.ID]; exists {
		return &schedule.ConflictError{ID: in.ID, Reason: "instance already exists"}
	}
	m.instances[in.ID] = cloneInstance(in)
	return nil
}

// UpsertInstances applies the batch atomically: a failing write leaves
// the whole batch unapplied.
func (m *Memory) UpsertInstances(_ context.Context, batch []schedule.Instance) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, in := range batch {
		if err := m.check("upsert_instance", in.ID); err != nil {
			return 0, err
		}
	}
	created := 0
	for _, in := range batch {
		existing, ok := m.instances[in.ID]
		if !ok {
			m.instances[in.ID] = cloneInstance(in)
			created++
			continue
		}
		if Merge(&existing, in) {
			m.instances[in.ID] = existing
		}
	}
	return created, nil
}

func (m *Memory) GetInstance(_ context.Context, id string) (schedule.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	in, ok := m.instances[id]
	if !ok {
		return schedule.Instance{}, &schedule.NotFoundError{Kind: "instance", ID: id}
	}
	return cloneInstance(in), nil
}

func (m *Memory) ListInstances(_ context.Context, f Filter) ([]schedule.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []schedule.Instance
	for _, in := range m.instances {
		if f.Match(&in) {
			out = append(out, cloneInstance(in))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DepartureAt.Equal(out[j].DepartureAt) {
			return out[i].DepartureAt.Before(out[j].DepartureAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) TransitionStatus(_ context.Context, id string, from []schedule.Status, to schedule.Status, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.instances[id]
	if !ok {
		return false, &schedule.NotFoundError{Kind: "instance", ID: id}
	}
	if !hasStatus(from, in.Status) {
		return false, nil
	}
	if err := m.check("transition_status", id); err != nil {
		return false, err
	}
	in.Status = to
	in.IsActive = to == schedule.StatusActive
	in.StatusChangedAt = at
	in.FlaggedAt = nil
	in.UpdatedAt = at
	m.instances[id] = in
	return true, nil
}

func (m *Memory) FlagInstance(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.instances[id]
	if !ok {
		return false, &schedule.NotFoundError{Kind: "instance", ID: id}
	}
	if in.FlaggedAt != nil || in.Status != schedule.StatusActive {
		return false, nil
	}
	if err := m.check("flag_instance", id); err != nil {
		return false, err
	}
	flagged := at
	in.FlaggedAt = &flagged
	m.instances[id] = in
	return true, nil
}

func (m *Memory) UnflagInstance(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.instances[id]
	if !ok {
		return &schedule.NotFoundError{Kind: "instance", ID: id}
	}
	if err := m.check("unflag_instance", id); err != nil {
		return err
	}
	in.FlaggedAt = nil
	m.instances[id] = in
	return nil
}

// Merge refreshes the template-derived fields of existing from incoming.
// Only active instances without bookings are touched; seat counts,
// bookings and statuses are left alone. A moved departure clears the
// Attention flag. Reports whether existing changed.
func Merge(existing *schedule.Instance, incoming schedule.Instance) bool {
	if existing.Status != schedule.StatusActive || len(existing.BookedSeats) > 0 {
		return false
	}
	if !existing.DepartureAt.Equal(incoming.DepartureAt) {
		existing.FlaggedAt = nil
	}
	existing.Price = incoming.Price
	existing.DepartureAt = incoming.DepartureAt
	existing.ArrivalAt = incoming.ArrivalAt
	existing.DepartureLocation = incoming.DepartureLocation
	existing.ArrivalLocation = incoming.ArrivalLocation
	existing.Stops = append([]string(nil), incoming.Stops...)
	existing.UpdatedAt = incoming.UpdatedAt
	return true
}

func cloneTemplate(t schedule.Template) schedule.Template {
	t.DaysOfWeek = append(schedule.DaysOfWeek(nil), t.DaysOfWeek...)
	if t.ValidUntil != nil {
		v := *t.ValidUntil
		t.ValidUntil = &v
	}
	return t
}

func cloneInstance(in schedule.Instance) schedule.Instance {
	in.Stops = append([]string(nil), in.Stops...)
	in.BookedSeats = append([]string{}, in.BookedSeats...)
	if in.FlaggedAt != nil {
		v := *in.FlaggedAt
		in.FlaggedAt = &v
	}
	return in
}

// SetBookings stands in for the booking subsystem, which owns the seat
// fields after creation.
func (m *Memory) SetBookings(id string, booked []string, available int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.instances[id]
	if !ok {
		return &schedule.NotFoundError{Kind: "instance", ID: id}
	}
	in.BookedSeats = append([]string{}, booked...)
	in.AvailableSeats = available
	m.instances[id] = in
	return nil
}

// SetTripStatus stands in for the conductor-facing system.
func (m *Memory) SetTripStatus(id string, ts schedule.TripStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.instances[id]
	if !ok {
		return &schedule.NotFoundError{Kind: "instance", ID: id}
	}
	in.TripStatus = ts
	m.instances[id] = in
	return nil
}
