// Package monitor runs the recurring job that moves trips stuck in the
// Attention bucket to missed once their grace period runs out.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"bus-scheduler/internal/clock"
	mmetrics "bus-scheduler/internal/metrics"
	"bus-scheduler/internal/schedule"
	"bus-scheduler/internal/store"
)

const DefaultInterval = time.Minute

// Transitioner writes the automatic missed status. trips.Service implements it.
type Transitioner interface {
	MarkMissed(ctx context.Context, id string) (schedule.Instance, error)
}

type Options struct {
	Interval time.Duration
	Clock    clock.Clock
	Metrics  *mmetrics.Collector
}

// Monitor keeps one loop per organization. The attention flag lives on the
// instance document, so a restarted or second monitor picks up where the
// previous one left off.
type Monitor struct {
	instances store.Instances
	trips     Transitioner
	policy    schedule.Policy
	interval  time.Duration
	clock     clock.Clock
	metrics   *mmetrics.Collector
	logger    *slog.Logger

	mu      sync.Mutex
	running map[string]*loop // by organization
	wg      sync.WaitGroup
}

func New(instances store.Instances, t Transitioner, policy schedule.Policy, opts Options, logger *slog.Logger) *Monitor {
	m := &Monitor{
		instances: instances,
		trips:     t,
		policy:    policy,
		interval:  opts.Interval,
		clock:     opts.Clock,
		metrics:   opts.Metrics,
		logger:    logger.With("component", "monitor"),
		running:   make(map[string]*loop),
	}
	if m.interval <= 0 {
		m.interval = DefaultInterval
	}
	if m.clock == nil {
		m.clock = clock.Real()
	}
	return m
}

// Result summarizes one evaluation.
type Result struct {
	Attention int // still in Attention after the tick
	Flagged   int
	Missed    int
	Cleared   int
	Failed    int
}

// Tick evaluates every active instance of the organization that has
// already departed. Write failures are logged and counted; the next tick
// retries them. The returned error is only set when the listing fails.
func (m *Monitor) Tick(ctx context.Context, orgID string) (Result, error) {
	start := time.Now()
	var res Result
	defer func() {
		if m.metrics != nil {
			m.metrics.MonitorTicks.Inc()
			m.metrics.MonitorTickDuration.Observe(time.Since(start).Seconds())
		}
	}()

	now := m.clock.Now()
	candidates, err := m.instances.ListInstances(ctx, store.Filter{
		OrganizationID:  orgID,
		Statuses:        []schedule.Status{schedule.StatusActive},
		DepartureBefore: now,
	})
	if err != nil {
		return res, err
	}

	for i := range candidates {
		in := &candidates[i]
		b, ok := m.policy.Classify(in, now)
		if !ok || b != schedule.BucketAttention {
			if in.FlaggedAt != nil {
				if err := m.instances.UnflagInstance(ctx, in.ID); err != nil {
					m.writeFailed(&res, "unflag", in, err)
					continue
				}
				res.Cleared++
			}
			continue
		}

		switch {
		case in.FlaggedAt == nil:
			flagged, err := m.instances.FlagInstance(ctx, in.ID, now)
			if err != nil {
				m.writeFailed(&res, "flag", in, err)
			} else if flagged {
				res.Flagged++
				m.logger.Info("instance needs attention", "organization", orgID, "instance", in.ID, "departure", in.DepartureAt)
			}
			res.Attention++
		case m.policy.AutoMissedDue(in, now):
			if _, err := m.trips.MarkMissed(ctx, in.ID); err != nil {
				if schedule.IsConflict(err) {
					// left Attention between the listing and the write
					m.logger.Debug("auto missed skipped", "instance", in.ID, "error", err)
					continue
				}
				m.writeFailed(&res, "mark_missed", in, err)
				res.Attention++
				continue
			}
			res.Missed++
		default:
			res.Attention++
		}
	}

	if m.metrics != nil {
		m.metrics.AttentionInstances.WithLabelValues(orgID).Set(float64(res.Attention))
	}
	if res.Flagged+res.Missed+res.Cleared+res.Failed > 0 {
		m.logger.Info("monitor tick", "organization", orgID, "attention", res.Attention,
			"flagged", res.Flagged, "missed", res.Missed, "cleared", res.Cleared, "failed", res.Failed)
	}
	return res, nil
}

func (m *Monitor) writeFailed(res *Result, op string, in *schedule.Instance, err error) {
	res.Failed++
	if m.metrics != nil {
		m.metrics.MonitorWriteErrs.Inc()
	}
	m.logger.Warn("monitor write failed, retrying next tick", "op", op, "organization", in.OrganizationID, "instance", in.ID, "error", err)
}

// Watch starts the loop for one organization. Watching an organization
// that already has a loop, or with a finished parent, is a no-op.
func (m *Monitor) Watch(parent context.Context, orgID string) {
	if parent.Err() != nil {
		return
	}
	m.mu.Lock()
	if _, exists := m.running[orgID]; exists {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(parent)
	l := &loop{cancel: cancel}
	m.running[orgID] = l
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Info("watching organization", "organization", orgID, "interval", m.interval.String())
	go func() {
		defer m.wg.Done()
		m.run(ctx, orgID)
		m.mu.Lock()
		// a newer loop may already own the slot
		if m.running[orgID] == l {
			delete(m.running, orgID)
		}
		m.mu.Unlock()
	}()
}

func (m *Monitor) Start(ctx context.Context, orgs []string) {
	for _, org := range orgs {
		m.Watch(ctx, org)
	}
}

type loop struct {
	cancel context.CancelFunc
}

func (m *Monitor) run(ctx context.Context, orgID string) {
	m.runTick(ctx, orgID)
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runTick(ctx, orgID)
		}
	}
}

func (m *Monitor) runTick(ctx context.Context, orgID string) {
	if _, err := m.Tick(ctx, orgID); err != nil && ctx.Err() == nil {
		m.logger.Error("monitor tick failed", "organization", orgID, "error", err)
	}
}

// Stop cancels every loop and waits for them to return.
func (m *Monitor) Stop() {
	m.mu.Lock()
	for org, l := range m.running {
		l.cancel()
		delete(m.running, org)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// Watching reports the organizations with a running loop.
func (m *Monitor) Watching() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.running))
	for org := range m.running {
		out = append(out, org)
	}
	return out
}
