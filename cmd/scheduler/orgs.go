package main

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

type orgLister interface {
	Organizations(ctx context.Context) ([]string, error)
}

// orgTracker owns the list of organizations this process schedules. A
// fixed list (flag or ORGANIZATIONS) is authoritative; without one,
// organizations are discovered from active templates and from the trips
// service as they gain work. onNew runs once per organization.
type orgTracker struct {
	fixed  []string
	lister orgLister
	onNew  func(orgID string)
	logger *slog.Logger

	mu    sync.Mutex
	known []string
}

func newOrgTracker(fixed []string, lister orgLister, logger *slog.Logger) *orgTracker {
	return &orgTracker{fixed: fixed, lister: lister, logger: logger.With("component", "orgs")}
}

// Current returns the organizations to schedule now. A failed discovery
// keeps the previously known list.
func (o *orgTracker) Current(ctx context.Context) []string {
	orgs := o.fixed
	if len(orgs) == 0 {
		discovered, err := o.lister.Organizations(ctx)
		if err != nil {
			o.logger.Warn("organization discovery failed", "error", err)
		}
		orgs = discovered
	}
	for _, org := range orgs {
		o.add(org)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.known)
}

// Add registers an organization reported by the trips service. It is
// ignored when a fixed list is configured.
func (o *orgTracker) Add(orgID string) {
	if len(o.fixed) > 0 || orgID == "" {
		return
	}
	o.add(orgID)
}

func (o *orgTracker) add(orgID string) {
	o.mu.Lock()
	if slices.Contains(o.known, orgID) {
		o.mu.Unlock()
		return
	}
	o.known = append(o.known, orgID)
	o.mu.Unlock()

	o.logger.Info("organization scheduled", "organization", orgID)
	if o.onNew != nil {
		o.onNew(orgID)
	}
}
