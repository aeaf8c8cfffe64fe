package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	InstancesCreated    prometheus.Counter
	MaterializeRuns     *prometheus.CounterVec // result label: ok|error
	MaterializeDuration prometheus.Histogram

	MonitorTicks        prometheus.Counter
	MonitorTickDuration prometheus.Histogram
	AttentionInstances  *prometheus.GaugeVec   // organization label
	Transitions         *prometheus.CounterVec // status, source labels
	MonitorWriteErrs    prometheus.Counter

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	WindowDays      prometheus.Gauge
	MonitorInterval prometheus.Gauge // seconds
	PastDueHours    prometheus.Gauge
	AutoMissedHours prometheus.Gauge
}

func NewCollector(windowDays int, monitorInterval, pastDue, autoMissed time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		InstancesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_instances_created_total",
			Help: "Total trip instances created by materialization.",
		}),
		MaterializeRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_materialize_runs_total",
			Help: "Materialization passes by result.",
		}, []string{"result"}),
		MaterializeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scheduler_materialize_duration_seconds",
			Help:    "Duration of one materialization pass for an organization.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 15),
		}),
		MonitorTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_monitor_ticks_total",
			Help: "Total auto-transition monitor evaluations.",
		}),
		MonitorTickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scheduler_monitor_tick_duration_seconds",
			Help:    "Duration of one monitor evaluation.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		AttentionInstances: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scheduler_attention_instances",
			Help: "Instances currently in the attention bucket.",
		}, []string{"organization"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_status_transitions_total",
			Help: "Instance status transitions by target status and source.",
		}, []string{"status", "source"}),
		MonitorWriteErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_monitor_write_errors_total",
			Help: "Monitor writes that failed and will be retried next tick.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scheduler_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scheduler_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		WindowDays: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scheduler_window_days",
			Help: "Materialization window in days.",
		}),
		MonitorInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scheduler_monitor_interval_seconds",
			Help: "Monitor interval in seconds.",
		}),
		PastDueHours: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scheduler_past_due_hours",
			Help: "Grace period before an instance needs attention.",
		}),
		AutoMissedHours: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scheduler_auto_missed_hours",
			Help: "Grace period before an attention instance is marked missed.",
		}),
	}

	reg.MustRegister(
		c.InstancesCreated, c.MaterializeRuns, c.MaterializeDuration,
		c.MonitorTicks, c.MonitorTickDuration, c.AttentionInstances,
		c.Transitions, c.MonitorWriteErrs,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.WindowDays, c.MonitorInterval, c.PastDueHours, c.AutoMissedHours,
	)

	c.WindowDays.Set(float64(windowDays))
	c.MonitorInterval.Set(monitorInterval.Seconds())
	c.PastDueHours.Set(pastDue.Hours())
	c.AutoMissedHours.Set(autoMissed.Hours())

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	logger.Info("metrics listening", "addr", addr)
	return srv
}

// PublisherMetrics adapts the collector to publisher.PublisherMetrics.
func (c *Collector) PublisherMetrics() *PubMetrics { return &PubMetrics{c: c} }

type PubMetrics struct{ c *Collector }

func (p *PubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *PubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *PubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *PubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}
