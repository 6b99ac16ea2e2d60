package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is the NATS subject prefix for audit fan-out.
const DefaultSubject = "erca.portal.audit"

// NATSPublisher publishes entries as JSON on "<subject>.<action>".
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewNATSPublisher wraps an established connection.
func NewNATSPublisher(conn *nats.Conn, subject string) (*NATSPublisher, error) {
	if conn == nil {
		return nil, errors.New("nats connection is required")
	}
	subject = strings.Trim(strings.TrimSpace(subject), ".")
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{conn: conn, subject: subject}, nil
}

// ConnectNATS dials url with the reconnect behaviour the service expects.
func ConnectNATS(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("portal-api audit"),
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
	)
}

// Subject returns the subject an entry is published on.
func (p *NATSPublisher) Subject(e Entry) string {
	return p.subject + "." + e.Action
}

func (p *NATSPublisher) Publish(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.conn.Publish(p.Subject(e), data)
}
