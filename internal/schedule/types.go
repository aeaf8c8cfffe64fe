package schedule

import (
	"fmt"
	"time"
)

type TemplateStatus string

const (
	TemplateActive   TemplateStatus = "active"
	TemplateInactive TemplateStatus = "inactive"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusMissed    Status = "missed"
	StatusArchived  Status = "archived"
)

// Terminal reports whether no further transition except archival is allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusMissed, StatusArchived:
		return true
	}
	return false
}

// TripStatus is written by the conductor-facing system; the scheduler only reads it.
type TripStatus string

const (
	TripScheduled TripStatus = "scheduled"
	TripBoarding  TripStatus = "boarding"
	TripInTransit TripStatus = "in_transit"
	TripCompleted TripStatus = "completed"
)

// Template is a recurrence rule ("route R runs Mon-Fri at 07:00").
type Template struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organizationId" validate:"required"`
	RouteID        string     `json:"routeId" validate:"required"`
	BusID          string     `json:"busId" validate:"required"`
	DepartureTime  TimeOfDay  `json:"departureTime"`
	ArrivalTime    TimeOfDay  `json:"arrivalTime"`
	DaysOfWeek     DaysOfWeek `json:"daysOfWeek" validate:"max=7,unique,dive,min=0,max=6"`
	ValidFrom      time.Time  `json:"validFrom"`
	ValidUntil     *time.Time `json:"validUntil,omitempty"`
	Price          float64    `json:"price" validate:"gt=0"`
	AvailableSeats int        `json:"availableSeats" validate:"gt=0"`

	IsActive bool           `json:"isActive"`
	Status   TemplateStatus `json:"status"`

	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SetActive toggles the template and keeps Status in sync with IsActive.
func (t *Template) SetActive(active bool) {
	t.IsActive = active
	if active {
		t.Status = TemplateActive
	} else {
		t.Status = TemplateInactive
	}
}

// Covers reports whether the template runs on the given calendar date.
// validFrom and validUntil are inclusive and compared as dates.
func (t Template) Covers(date time.Time) bool {
	day := date.Format(time.DateOnly)
	if day < t.ValidFrom.Format(time.DateOnly) {
		return false
	}
	if t.ValidUntil != nil && day > t.ValidUntil.Format(time.DateOnly) {
		return false
	}
	return t.DaysOfWeek.Includes(date.Weekday())
}

// Instance is one concrete, bookable trip on a calendar date.
type Instance struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organizationId"`
	RouteID        string `json:"routeId"`
	BusID          string `json:"busId"`
	TemplateID     string `json:"templateId,omitempty"` // empty for one-off trips

	DepartureAt time.Time `json:"departureDateTime"`
	ArrivalAt   time.Time `json:"arrivalDateTime"`

	// route snapshot taken at materialization
	DepartureLocation string   `json:"departureLocation"`
	ArrivalLocation   string   `json:"arrivalLocation"`
	Stops             []string `json:"stops,omitempty"`

	Price          float64  `json:"price"`
	AvailableSeats int      `json:"availableSeats"`
	BookedSeats    []string `json:"bookedSeats"`

	Status          Status     `json:"status"`
	IsActive        bool       `json:"isActive"`
	TripStatus      TripStatus `json:"tripStatus"`
	StatusChangedAt time.Time  `json:"statusChangedAt"`
	// FlaggedAt is when the monitor first saw the trip in Attention.
	FlaggedAt *time.Time `json:"flaggedAt,omitempty"`

	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// InstanceKey is the deterministic id of the trip a template yields on date.
func InstanceKey(templateID string, date time.Time) string {
	return fmt.Sprintf("tpl_%s_%s", templateID, date.Format(time.DateOnly))
}

// Route and Bus are descriptive records owned by the surrounding system.
type Route struct {
	ID             string   `json:"id"`
	OrganizationID string   `json:"organizationId"`
	Origin         string   `json:"origin"`
	Destination    string   `json:"destination"`
	Stops          []string `json:"stops,omitempty"`
}

type Bus struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organizationId"`
	PlateNumber    string `json:"plateNumber"`
	Capacity       int    `json:"capacity"`
}
