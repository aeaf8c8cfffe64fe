package trips

import (
	"context"
	"fmt"
	"time"

	"bus-scheduler/internal/publisher"
	"bus-scheduler/internal/schedule"
	"bus-scheduler/internal/store"
)

var terminalStatuses = []schedule.Status{
	schedule.StatusCompleted, schedule.StatusCancelled, schedule.StatusMissed,
}

// ApplyStatus records a staff decision on an instance that is in the
// Today, Upcoming or Attention bucket. Reapplying the status the instance
// already has is a no-op.
func (s *Service) ApplyStatus(ctx context.Context, id string, status schedule.Status) (schedule.Instance, error) {
	return s.apply(ctx, id, status, SourceManual)
}

// MarkMissed is the monitor's entry point into the same transition.
func (s *Service) MarkMissed(ctx context.Context, id string) (schedule.Instance, error) {
	return s.apply(ctx, id, schedule.StatusMissed, SourceAuto)
}

func (s *Service) apply(ctx context.Context, id string, status schedule.Status, source string) (schedule.Instance, error) {
	switch status {
	case schedule.StatusCompleted, schedule.StatusCancelled, schedule.StatusMissed:
	default:
		return schedule.Instance{}, &schedule.ValidationError{Field: "status", Reason: fmt.Sprintf("%q is not a manual status", status)}
	}
	in, err := s.instances.GetInstance(ctx, id)
	if err != nil {
		return schedule.Instance{}, err
	}
	if in.Status == status {
		return in, nil
	}
	now := s.clock.Now()
	b, visible := s.policy.Classify(&in, now)
	if !visible || !b.Open() {
		return schedule.Instance{}, &schedule.ConflictError{ID: id, Reason: fmt.Sprintf("cannot set %s while %s", status, describe(b, visible))}
	}
	return s.transition(ctx, in, []schedule.Status{schedule.StatusActive}, status, now, source)
}

// Archive hides a completed, cancelled or missed instance from every
// bucket while keeping the document. Archiving twice is a no-op.
func (s *Service) Archive(ctx context.Context, id string) (schedule.Instance, error) {
	in, err := s.instances.GetInstance(ctx, id)
	if err != nil {
		return schedule.Instance{}, err
	}
	switch {
	case in.Status == schedule.StatusArchived:
		return in, nil
	case !in.Status.Terminal():
		return schedule.Instance{}, &schedule.ConflictError{ID: id, Reason: fmt.Sprintf("cannot archive a %s instance", in.Status)}
	}
	return s.transition(ctx, in, terminalStatuses, schedule.StatusArchived, s.clock.Now(), SourceManual)
}

func (s *Service) transition(ctx context.Context, in schedule.Instance, from []schedule.Status, to schedule.Status, now time.Time, source string) (schedule.Instance, error) {
	ok, err := s.instances.TransitionStatus(ctx, in.ID, from, to, now)
	if err != nil {
		return schedule.Instance{}, fmt.Errorf("transition %s to %s: %w", in.ID, to, err)
	}
	if !ok {
		// lost a race with another writer
		cur, err := s.instances.GetInstance(ctx, in.ID)
		if err != nil {
			return schedule.Instance{}, err
		}
		if cur.Status == to {
			return cur, nil
		}
		return schedule.Instance{}, &schedule.ConflictError{ID: in.ID, Reason: fmt.Sprintf("status changed to %s", cur.Status)}
	}

	prev := in.Status
	in.Status = to
	in.IsActive = false
	in.StatusChangedAt = now
	in.FlaggedAt = nil
	in.UpdatedAt = now

	if s.metrics != nil {
		s.metrics.Transitions.WithLabelValues(string(to), source).Inc()
	}
	s.logger.Info("status changed", "organization", in.OrganizationID, "instance", in.ID, "from", prev, "to", to, "source", source)
	if s.pub != nil {
		msg := publisher.TransitionMessage{
			InstanceID:     in.ID,
			OrganizationID: in.OrganizationID,
			TemplateID:     in.TemplateID,
			From:           prev,
			To:             to,
			Source:         source,
			DepartureAt:    in.DepartureAt,
			Timestamp:      now,
		}
		if err := s.pub.PublishTransition(msg); err != nil {
			s.logger.Warn("publish transition failed", "instance", in.ID, "error", err)
		}
	}
	return in, nil
}

func describe(b schedule.Bucket, visible bool) string {
	if !visible {
		return "hidden"
	}
	return string(b)
}

// Board classifies every instance of the organization at now.
func (s *Service) Board(ctx context.Context, orgID string, now time.Time) (map[schedule.Bucket][]schedule.Instance, error) {
	all, err := s.instances.ListInstances(ctx, store.Filter{OrganizationID: orgID})
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	return s.policy.Board(all, now), nil
}

// Attention returns the organization's Attention bucket, oldest departure first.
func (s *Service) Attention(ctx context.Context, orgID string, now time.Time) ([]schedule.Instance, error) {
	candidates, err := s.instances.ListInstances(ctx, store.Filter{
		OrganizationID:  orgID,
		Statuses:        []schedule.Status{schedule.StatusActive},
		DepartureBefore: now.Add(-s.policy.PastDue),
	})
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	out := candidates[:0]
	for i := range candidates {
		if b, ok := s.policy.Classify(&candidates[i], now); ok && b == schedule.BucketAttention {
			out = append(out, candidates[i])
		}
	}
	schedule.SortBucket(schedule.BucketAttention, out)
	return out, nil
}
