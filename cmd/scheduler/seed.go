package main

import (
	"encoding/json"
	"fmt"
	"os"

	"bus-scheduler/internal/schedule"
)

// seedFile is the --seed document for in-memory runs:
//
//	{"routes": [...], "buses": [...], "templates": [{"validFrom": "2025-01-06", ...}]}
type seedFile struct {
	Routes    []schedule.Route
	Buses     []schedule.Bus
	Templates []schedule.Template
}

type rawSeed struct {
	Routes    []schedule.Route         `json:"routes"`
	Buses     []schedule.Bus           `json:"buses"`
	Templates []schedule.TemplateInput `json:"templates"`
}

func loadSeed(path string) (*seedFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	return parseSeed(b)
}

// parseSeed treats a template without isActive as active.
func parseSeed(b []byte) (*seedFile, error) {
	var raw rawSeed
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	out := &seedFile{Routes: raw.Routes, Buses: raw.Buses}
	for i, in := range raw.Templates {
		t, active, err := in.ToTemplate()
		if err != nil {
			return nil, fmt.Errorf("template %d: %w", i, err)
		}
		if active == nil {
			t.IsActive = true
		}
		out.Templates = append(out.Templates, t)
	}
	return out, nil
}
