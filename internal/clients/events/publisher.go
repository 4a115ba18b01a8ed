package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/nats-io/nats.go"

	"github.com/gravewalk/server/internal/lib/navigation"
)

// messagePublisher is the part of *nats.Conn the publisher uses
type messagePublisher interface {
	Publish(subject string, data []byte) error
}

// ArrivalPublisher publishes arrival events to NATS. It satisfies navigation.ArrivalNotifier.
type ArrivalPublisher struct {
	conn   messagePublisher
	nc     *nats.Conn
	prefix string
}

// NewArrivalPublisher connects to NATS. Events go to "<prefix>.<grave id>".
func NewArrivalPublisher(url, prefix string) (*ArrivalPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("gravewalk"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &ArrivalPublisher{conn: conn, nc: conn, prefix: prefix}, nil
}

// NotifyArrival publishes event as JSON. Publish only buffers, so it is safe
// to call with the session locked.
func (p *ArrivalPublisher) NotifyArrival(ctx context.Context, event navigation.ArrivalEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	subject := Subject(p.prefix, event.GraveID)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	logging.Debugw(ctx, "Published arrival", "subject", subject, "session_id", event.SessionID)
	return nil
}

// Close drains and closes the connection
func (p *ArrivalPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
	}
}

// Subject builds the arrival subject for a grave. Characters NATS treats as
// token separators or wildcards are replaced with underscores.
func Subject(prefix, graveID string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, graveID)
	if token == "" {
		token = "unknown"
	}
	return prefix + "." + token
}
