// Package notify publishes build events to NATS.
package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/x360make/internal/config"
	"git.home.luguber.info/inful/x360make/internal/logfields"
	"git.home.luguber.info/inful/x360make/internal/pipeline"
)

// Event types.
const (
	EventStateChanged   = "state_changed"
	EventBuildCompleted = "build_completed"
)

// BuildEvent is the JSON payload published for every event.
type BuildEvent struct {
	Type       string    `json:"type"`
	JobID      string    `json:"job_id"`
	Source     string    `json:"source"`
	From       string    `json:"from,omitempty"`
	State      string    `json:"state"`
	Artifact   string    `json:"artifact,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// conn is the subset of *nats.Conn the publisher uses.
type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// Publisher sends build events to a NATS subject. It implements
// pipeline.Observer; publish failures are logged and never fail a build.
type Publisher struct {
	conn    conn
	subject string
	logger  *slog.Logger
}

// NewPublisher connects to cfg.NATSURL.
func NewPublisher(cfg config.NotifyConfig, logger *slog.Logger) (*Publisher, error) {
	if cfg.NATSURL == "" {
		return nil, fmt.Errorf("notify.nats_url is not set")
	}
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name("x360make"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", logfields.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.Info("NATS publisher initialized", logfields.URL(cfg.NATSURL), logfields.Subject(cfg.Subject))
	return newPublisher(nc, cfg.Subject, logger), nil
}

func newPublisher(c conn, subject string, logger *slog.Logger) *Publisher {
	if subject == "" {
		subject = config.DefaultNATSSubject
	}
	return &Publisher{conn: c, subject: subject, logger: logger}
}

// Publish sends one event to <subject>.<type>.
func (p *Publisher) Publish(ev BuildEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	subject := p.subject + "." + ev.Type
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	p.logger.Debug("Published build event", logfields.Subject(subject), logfields.JobID(ev.JobID), logfields.State(ev.State))
	return nil
}

func (p *Publisher) OnStateChange(t pipeline.Transition) {
	p.publish(BuildEvent{
		Type:      EventStateChanged,
		JobID:     t.JobID,
		Source:    t.Source,
		From:      t.From.String(),
		State:     t.To.String(),
		Timestamp: t.At,
	})
}

func (p *Publisher) OnBuildComplete(res *pipeline.Result) {
	ev := BuildEvent{
		Type:       EventBuildCompleted,
		JobID:      res.JobID,
		Source:     res.Source,
		State:      res.State.String(),
		Artifact:   res.Artifact,
		DurationMS: res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	p.publish(ev)
}

func (p *Publisher) publish(ev BuildEvent) {
	if err := p.Publish(ev); err != nil {
		p.logger.Warn("Failed to publish build event", logfields.JobID(ev.JobID), logfields.Error(err))
	}
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() error {
	return p.conn.Drain()
}
