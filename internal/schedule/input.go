package schedule

import "bus-scheduler/internal/clock"

// TemplateInput is the wire form of a template written by staff or loaded
// from a seed file. Validity bounds may be date-only ("2025-01-06") or full
// timestamps, and isActive is optional.
type TemplateInput struct {
	Template
	ValidFrom  string `json:"validFrom"`
	ValidUntil string `json:"validUntil"`
	IsActive   *bool  `json:"isActive"`
}

// ToTemplate converts the input. active is nil when the input left
// isActive out; the returned Template then has IsActive false.
func (in TemplateInput) ToTemplate() (t Template, active *bool, err error) {
	t = in.Template
	if in.ValidFrom != "" {
		if t.ValidFrom, err = clock.ToTime(in.ValidFrom); err != nil {
			return Template{}, nil, &ValidationError{Field: "validFrom", Reason: err.Error()}
		}
	}
	if in.ValidUntil != "" {
		until, err := clock.ToTime(in.ValidUntil)
		if err != nil {
			return Template{}, nil, &ValidationError{Field: "validUntil", Reason: err.Error()}
		}
		t.ValidUntil = &until
	}
	if in.IsActive != nil {
		t.IsActive = *in.IsActive
	}
	return t, in.IsActive, nil
}
