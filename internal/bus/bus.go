// Package bus mirrors governor events onto NATS subjects.
package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/perpquant/mind-persona/internal/governor"
	"github.com/perpquant/mind-persona/internal/logger"
)

// SubjectPrefix is prepended to every published subject.
const SubjectPrefix = "persona"

// Conn is the subset of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// Publisher publishes JSON messages. A Publisher with no connection drops
// everything, so callers need not check whether NATS is configured.
type Publisher struct {
	conn Conn
}

// Connect dials url. An empty url returns a disabled publisher.
func Connect(url, name string) (*Publisher, error) {
	if url == "" {
		return &Publisher{}, nil
	}

	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("connected to NATS", "url", url)
	return &Publisher{conn: nc}, nil
}

// New wraps an existing connection.
func New(conn Conn) *Publisher {
	return &Publisher{conn: conn}
}

// Enabled reports whether messages are actually sent.
func (p *Publisher) Enabled() bool {
	return p != nil && p.conn != nil
}

// CallSubject returns the subject for a governor event.
func CallSubject(t governor.EventType) string {
	return SubjectPrefix + ".calls." + t.String()
}

// PublishCall publishes a governor event.
func (p *Publisher) PublishCall(ev governor.Event) error {
	return p.publish(CallSubject(ev.Type), ev)
}

// PublishSystem publishes a system event such as an audit rotation.
func (p *Publisher) PublishSystem(event string, details map[string]any) error {
	return p.publish(SubjectPrefix+".system."+event, map[string]any{
		"event":   event,
		"details": details,
		"time":    time.Now().UTC(),
	})
}

func (p *Publisher) publish(subject string, v any) error {
	if !p.Enabled() {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", subject, err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	return nil
}

// Close drains the connection.
func (p *Publisher) Close() error {
	if !p.Enabled() {
		return nil
	}
	return p.conn.Drain()
}
