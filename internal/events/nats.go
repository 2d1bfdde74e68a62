package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
)

// conn is the part of *nats.Conn the publisher needs.
type conn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes events as JSON on "<prefix>.<stage>".
type NATSPublisher struct {
	nc     conn
	raw    *nats.Conn
	prefix string
}

// ConnectNATS dials url and returns a publisher for subject prefix.
func ConnectNATS(url, prefix string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("auditflow"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{nc: nc, raw: nc, prefix: prefix}, nil
}

func newNATSPublisher(c conn, prefix string) *NATSPublisher {
	return &NATSPublisher{nc: c, prefix: prefix}
}

// Subject is the subject an event is published on.
func (p *NATSPublisher) Subject(ev Event) string {
	return p.prefix + "." + string(ev.Stage)
}

func (p *NATSPublisher) Publish(_ context.Context, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.Subject(ev), b)
}

// Close drains the connection.
func (p *NATSPublisher) Close() {
	if p.raw != nil {
		_ = p.raw.Drain()
	}
}
