package progress

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is the subject namespace for progress events.
const DefaultSubjectPrefix = "enrich.progress"

// NATSPublisher streams every snapshot to "<prefix>.<session id>".
// Publishing only buffers in the client, so it is safe to call under the
// session lock.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// NATSConfig configures a NATS connection for progress publishing.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	Logger        *slog.Logger
}

// ConnectNATS dials NATS with reconnects enabled.
func ConnectNATS(cfg NATSConfig) (*nats.Conn, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("enrich"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
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
	return nc, nil
}

// NewNATSPublisher creates a publisher on an existing connection.
func NewNATSPublisher(conn *nats.Conn, prefix string, logger *slog.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{conn: conn, prefix: prefix, logger: logger}
}

// Subject returns the subject a session's snapshots are published to.
func (p *NATSPublisher) Subject(sessionID string) string {
	return p.prefix + "." + sessionID
}

// Observe publishes the snapshot. Failures are logged, never returned.
func (p *NATSPublisher) Observe(s Snapshot) {
	if err := p.Publish(s); err != nil {
		p.logger.Warn("failed to publish progress", "session", s.ID, "error", err)
	}
}

// Publish serializes and publishes one snapshot.
func (p *NATSPublisher) Publish(s Snapshot) error {
	if s.ID == "" {
		return fmt.Errorf("session id is required")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}
	return p.conn.Publish(p.Subject(s.ID), data)
}

// SubscribeProgress delivers decoded snapshots for one session to fn.
func SubscribeProgress(conn *nats.Conn, prefix, sessionID string, fn func(Snapshot)) (*nats.Subscription, error) {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return conn.Subscribe(prefix+"."+sessionID, func(msg *nats.Msg) {
		var s Snapshot
		if err := json.Unmarshal(msg.Data, &s); err != nil {
			return
		}
		fn(s)
	})
}
