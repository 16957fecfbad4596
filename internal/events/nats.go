package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/ridematch/internal/dispatch/domain"
)

type natsConn interface {
	PublishMsg(msg *nats.Msg) error
}

// NATSPublisher writes events to a NATS subject as JSON.
type NATSPublisher struct {
	conn    natsConn
	subject string
}

// NewNATSPublisher builds a publisher. A nil connection makes Publish a no-op.
func NewNATSPublisher(conn *nats.Conn, subject string) *NATSPublisher {
	if subject == "" {
		subject = "dispatch.events"
	}
	p := &NATSPublisher{subject: subject}
	if conn != nil {
		p.conn = conn
	}
	return p
}

// Publish satisfies Publisher.
func (p *NATSPublisher) Publish(ctx context.Context, evt domain.Event) error {
	if p == nil || p.conn == nil {
		return nil
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := nats.NewMsg(p.subject)
	msg.Data = payload
	msg.Header.Set("x-event-type", string(evt.Type))
	if traceID := traceIDFromContext(ctx); traceID != "" {
		msg.Header.Set("x-trace-id", traceID)
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

func traceIDFromContext(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
