package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is the subject completion messages are published on.
const DefaultSubject = "docket.jobs.completed"

// NATS publishes completion messages as JSON to a NATS subject. A mailer or
// webhook service subscribes and performs the actual delivery to Target.
type NATS struct {
	nc      *nats.Conn
	subject string
	owned   bool
}

var _ Notifier = (*NATS)(nil)

// NewNATS publishes on subject using an existing connection. The caller
// keeps ownership of nc.
func NewNATS(nc *nats.Conn, subject string) *NATS {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATS{nc: nc, subject: subject}
}

// ConnectNATS dials url and returns a notifier that owns the connection.
func ConnectNATS(url, subject string) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name("docket-notifier"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("notify/nats: connect: %w", err)
	}
	n := NewNATS(nc, subject)
	n.owned = true
	return n, nil
}

// Notify publishes msg and waits for the server to acknowledge the flush,
// so a returned nil means the message left the process.
func (n *NATS) Notify(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notify/nats: marshal: %w", err)
	}

	m := nats.NewMsg(n.subject)
	m.Data = data
	m.Header.Set(nats.MsgIdHdr, msg.JobID.String())
	m.Header.Set("Docket-Tenant", msg.TenantID)

	if err := n.nc.PublishMsg(m); err != nil {
		return fmt.Errorf("notify/nats: publish: %w", err)
	}
	if err := n.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("notify/nats: flush: %w", err)
	}
	return nil
}

// Close drains the connection if the notifier owns it.
func (n *NATS) Close() error {
	if !n.owned || n.nc == nil {
		return nil
	}
	return n.nc.Drain()
}
