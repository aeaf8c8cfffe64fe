package schedule

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (a trailing ":SS" is accepted and ignored).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q", s)
	}
	t := TimeOfDay{Hour: h, Minute: m}
	if !t.Valid() {
		return TimeOfDay{}, fmt.Errorf("time of day out of range %q", s)
	}
	return t, nil
}

func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour < 24 && t.Minute >= 0 && t.Minute < 60
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// On places t on the calendar date of day, in day's location.
func (t TimeOfDay) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, t.Hour, t.Minute, 0, 0, day.Location())
}

func (t TimeOfDay) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// DaysOfWeek holds weekday indices, 0 = Sunday. The empty set means every day.
type DaysOfWeek []int

var Weekdays = DaysOfWeek{1, 2, 3, 4, 5}

func (d DaysOfWeek) Includes(w time.Weekday) bool {
	if len(d) == 0 {
		return true
	}
	for _, v := range d {
		if v == int(w) {
			return true
		}
	}
	return false
}

// EveryDay reports whether the set admits all seven weekdays.
func (d DaysOfWeek) EveryDay() bool {
	for w := time.Sunday; w <= time.Saturday; w++ {
		if !d.Includes(w) {
			return false
		}
	}
	return true
}

// Summary renders the set for display, e.g. "Every day" or "Mon, Wed, Fri".
func (d DaysOfWeek) Summary() string {
	if d.EveryDay() {
		return "Every day"
	}
	names := make([]string, 0, len(d))
	for w := time.Sunday; w <= time.Saturday; w++ {
		if d.Includes(w) {
			names = append(names, w.String()[:3])
		}
	}
	return strings.Join(names, ", ")
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
	})
	return validate
}

// Validate checks the template against its field rules and the capacity
// of the bus it is assigned to. A non-positive capacity skips the seat
// ceiling check.
func (t Template) Validate(busCapacity int) error {
	if err := structValidator().Struct(t); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &ValidationError{Field: fe.Field(), Reason: describeTag(fe)}
		}
		return &ValidationError{Field: "template", Reason: err.Error()}
	}
	switch {
	case !t.DepartureTime.Valid():
		return &ValidationError{Field: "departureTime", Reason: "out of range"}
	case !t.ArrivalTime.Valid():
		return &ValidationError{Field: "arrivalTime", Reason: "out of range"}
	case t.ValidFrom.IsZero():
		return &ValidationError{Field: "validFrom", Reason: "required"}
	case t.ValidUntil != nil && t.ValidUntil.Format(time.DateOnly) < t.ValidFrom.Format(time.DateOnly):
		return &ValidationError{Field: "validUntil", Reason: "before validFrom"}
	case busCapacity > 0 && t.AvailableSeats > busCapacity:
		return &ValidationError{Field: "availableSeats", Reason: fmt.Sprintf("exceeds bus capacity %d", busCapacity)}
	}
	return nil
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "min", "max":
		return fmt.Sprintf("%s %s", fe.Tag(), fe.Param())
	case "unique":
		return "duplicate values"
	}
	return fe.Tag()
}
