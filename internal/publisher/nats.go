package publisher

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"bus-scheduler/internal/schedule"
)

// NATSPublisher emits scheduler events on
// <prefix>.<organization>.transition.<status> and
// <prefix>.<organization>.materialized.
type NATSPublisher struct {
	nc          *nats.Conn
	prefix      string
	logSubjects bool
	metrics     PublisherMetrics
	logger      *slog.Logger
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url, prefix string, logSubjects bool, m PublisherMetrics, logger *slog.Logger) (*NATSPublisher, error) {
	logger = logger.With("component", "nats")
	nc, err := nats.Connect(url,
		nats.Name("bus-scheduler"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logger.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{nc: nc, prefix: prefix, logSubjects: logSubjects, metrics: m, logger: logger}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

// TransitionMessage reports a status change written by staff or the monitor.
type TransitionMessage struct {
	InstanceID     string          `json:"instanceId"`
	OrganizationID string          `json:"organizationId"`
	TemplateID     string          `json:"templateId,omitempty"`
	From           schedule.Status `json:"from"`
	To             schedule.Status `json:"to"`
	Source         string          `json:"source"` // manual|auto
	DepartureAt    time.Time       `json:"departureDateTime"`
	Timestamp      time.Time       `json:"timestamp"`
}

type MaterializedMessage struct {
	OrganizationID string    `json:"organizationId"`
	Created        int       `json:"created"`
	Planned        int       `json:"planned"`
	WindowStart    time.Time `json:"windowStart"`
	WindowDays     int       `json:"windowDays"`
	Timestamp      time.Time `json:"timestamp"`
}

func (p *NATSPublisher) PublishTransition(msg TransitionMessage) error {
	return p.publish(TransitionSubject(p.prefix, msg.OrganizationID, msg.To), msg)
}

func (p *NATSPublisher) PublishMaterialized(msg MaterializedMessage) error {
	return p.publish(fmt.Sprintf("%s.%s.materialized", subjectToken(p.prefix), subjectToken(msg.OrganizationID)), msg)
}

func (p *NATSPublisher) publish(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if p.logSubjects {
		p.logger.Debug("nats publish", "subject", subject)
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func TransitionSubject(prefix, orgID string, to schedule.Status) string {
	return fmt.Sprintf("%s.%s.transition.%s", subjectToken(prefix), subjectToken(orgID), subjectToken(string(to)))
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
