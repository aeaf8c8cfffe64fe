package schedule

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func validTemplate() Template {
	return Template{
		ID:             "t1",
		OrganizationID: "org",
		RouteID:        "r1",
		BusID:          "b1",
		DepartureTime:  MustTimeOfDay("07:00"),
		ArrivalTime:    MustTimeOfDay("14:00"),
		DaysOfWeek:     Weekdays,
		ValidFrom:      date(2025, 1, 6),
		Price:          120000,
		AvailableSeats: 40,
		IsActive:       true,
		Status:         TemplateActive,
	}
}

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		want    TimeOfDay
		wantErr bool
	}{
		{"07:00", TimeOfDay{7, 0}, false},
		{"23:30", TimeOfDay{23, 30}, false},
		{" 0:05 ", TimeOfDay{0, 5}, false},
		{"14:00:00", TimeOfDay{14, 0}, false},
		{"24:00", TimeOfDay{}, true},
		{"12:60", TimeOfDay{}, true},
		{"noon", TimeOfDay{}, true},
		{"7", TimeOfDay{}, true},
	}
	for _, tt := range tests {
		got, err := ParseTimeOfDay(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseTimeOfDay(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseTimeOfDay(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTimeOfDayJSON(t *testing.T) {
	var tpl Template
	if err := json.Unmarshal([]byte(`{"departureTime":"23:30","arrivalTime":"02:00"}`), &tpl); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if tpl.DepartureTime.String() != "23:30" || tpl.ArrivalTime.String() != "02:00" {
		t.Fatalf("got %s/%s", tpl.DepartureTime, tpl.ArrivalTime)
	}
}

func TestDaysOfWeek(t *testing.T) {
	var every DaysOfWeek
	for w := time.Sunday; w <= time.Saturday; w++ {
		if !every.Includes(w) {
			t.Errorf("empty set excludes %s", w)
		}
	}
	if got := every.Summary(); got != "Every day" {
		t.Errorf("empty Summary = %q", got)
	}
	if got := (DaysOfWeek{0, 1, 2, 3, 4, 5, 6}).Summary(); got != "Every day" {
		t.Errorf("full Summary = %q", got)
	}
	mwf := DaysOfWeek{5, 1, 3}
	if got := mwf.Summary(); got != "Mon, Wed, Fri" {
		t.Errorf("Summary = %q", got)
	}
	if mwf.Includes(time.Tuesday) || !mwf.Includes(time.Friday) {
		t.Error("Includes wrong for Mon/Wed/Fri")
	}
}

func TestTemplateCovers(t *testing.T) {
	tpl := validTemplate()
	until := date(2025, 1, 17)
	tpl.ValidUntil = &until

	tests := []struct {
		day  time.Time
		want bool
	}{
		{date(2025, 1, 3), false},  // Friday before validFrom
		{date(2025, 1, 6), true},   // validFrom, Monday
		{date(2025, 1, 11), false}, // Saturday
		{date(2025, 1, 17), true},  // validUntil inclusive
		{date(2025, 1, 20), false}, // after validUntil
	}
	for _, tt := range tests {
		if got := tpl.Covers(tt.day); got != tt.want {
			t.Errorf("Covers(%s) = %v, want %v", tt.day.Format(time.DateOnly), got, tt.want)
		}
	}
}

func TestTemplateValidate(t *testing.T) {
	before := date(2025, 1, 1)
	tests := []struct {
		name      string
		mutate    func(*Template)
		capacity  int
		wantField string
	}{
		{"valid", func(*Template) {}, 40, ""},
		{"every_day", func(t *Template) { t.DaysOfWeek = nil }, 40, ""},
		{"missing_route", func(t *Template) { t.RouteID = "" }, 40, "routeId"},
		{"zero_price", func(t *Template) { t.Price = 0 }, 40, "price"},
		{"zero_seats", func(t *Template) { t.AvailableSeats = 0 }, 40, "availableSeats"},
		{"seats_over_capacity", func(*Template) {}, 30, "availableSeats"},
		{"bad_weekday", func(t *Template) { t.DaysOfWeek = DaysOfWeek{1, 7} }, 40, "daysOfWeek[1]"},
		{"duplicate_weekday", func(t *Template) { t.DaysOfWeek = DaysOfWeek{1, 1} }, 40, "daysOfWeek"},
		{"until_before_from", func(t *Template) { t.ValidUntil = &before }, 40, "validUntil"},
		{"missing_valid_from", func(t *Template) { t.ValidFrom = time.Time{} }, 40, "validFrom"},
		{"bad_departure", func(t *Template) { t.DepartureTime = TimeOfDay{Hour: 25} }, 40, "departureTime"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl := validTemplate()
			tt.mutate(&tpl)
			err := tpl.Validate(tt.capacity)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			var ve *ValidationError
			if !IsValidation(err) {
				t.Fatalf("Validate = %v, want ValidationError", err)
			}
			ve = err.(*ValidationError)
			if !strings.HasPrefix(ve.Field, tt.wantField) {
				t.Fatalf("field = %q, want %q", ve.Field, tt.wantField)
			}
		})
	}
}

func TestInstanceKey(t *testing.T) {
	loc := time.FixedZone("WIB", 7*3600)
	got := InstanceKey("abc", time.Date(2025, 1, 10, 0, 0, 0, 0, loc))
	if got != "tpl_abc_2025-01-10" {
		t.Fatalf("InstanceKey = %q", got)
	}
}

func TestSetActiveKeepsStatusInSync(t *testing.T) {
	tpl := validTemplate()
	tpl.SetActive(false)
	if tpl.IsActive || tpl.Status != TemplateInactive {
		t.Fatalf("after SetActive(false): %v/%s", tpl.IsActive, tpl.Status)
	}
	tpl.SetActive(true)
	if !tpl.IsActive || tpl.Status != TemplateActive {
		t.Fatalf("after SetActive(true): %v/%s", tpl.IsActive, tpl.Status)
	}
}

func TestTemplateInput(t *testing.T) {
	var in TemplateInput
	body := `{"id":"t1","routeId":"r1","departureTime":"07:00","daysOfWeek":[1,3,5],
		"validFrom":"2025-01-06","validUntil":"2025-02-01T00:00:00Z","price":150000}`
	if err := json.Unmarshal([]byte(body), &in); err != nil {
		t.Fatal(err)
	}
	tpl, active, err := in.ToTemplate()
	if err != nil {
		t.Fatalf("ToTemplate: %v", err)
	}
	if active != nil || tpl.IsActive {
		t.Errorf("isActive omitted: active=%v IsActive=%v", active, tpl.IsActive)
	}
	if tpl.ValidFrom.Format(time.DateOnly) != "2025-01-06" || tpl.ValidUntil == nil || tpl.ValidUntil.Format(time.DateOnly) != "2025-02-01" {
		t.Errorf("validity = %v .. %v", tpl.ValidFrom, tpl.ValidUntil)
	}
	if tpl.ID != "t1" || tpl.DepartureTime != MustTimeOfDay("07:00") || tpl.Price != 150000 {
		t.Errorf("template = %+v", tpl)
	}

	in = TemplateInput{ValidFrom: "next week"}
	if _, _, err := in.ToTemplate(); !IsValidation(err) {
		t.Errorf("bad validFrom: err = %v, want ValidationError", err)
	}
	off := false
	in = TemplateInput{ValidFrom: "2025-01-06", IsActive: &off}
	if _, active, err := in.ToTemplate(); err != nil || active == nil || *active {
		t.Errorf("explicit isActive: active=%v err=%v", active, err)
	}
}
