package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"knowledge-agent-be/internal/pkg/logger"
	"knowledge-agent-be/pkg/events"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher mirrors events onto the EVENTS stream.
type Publisher struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewPublisher(ctx context.Context, url string, log logger.ILogger) (*Publisher, error) {
	nc, js, err := connect(url)
	if err != nil {
		return nil, err
	}

	if err := ensureStream(ctx, js); err != nil {
		// The stream may already exist under another config, publishing still works
		log.Warn("NATS", "Failed to ensure stream", map[string]interface{}{"stream": StreamName, "error": err.Error()})
	}

	return &Publisher{nc: nc, js: js}, nil
}

// Publish sends the event payload on events.<type>. Payloads carrying an
// event_id are published with it as Nats-Msg-Id, so a retried publish inside
// the stream's duplicate window is stored once.
func (p *Publisher) Publish(ctx context.Context, event events.Event) error {
	payload := event.Payload()
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	var opts []jetstream.PublishOpt
	if id, ok := payload["event_id"].(string); ok && id != "" {
		opts = append(opts, jetstream.WithMsgID(id))
	}

	msg := nats.NewMsg(Subject(event.EventType()))
	msg.Data = data
	if sid, ok := payload["session_id"].(string); ok {
		msg.Header.Set("Session-Id", sid)
	}

	if _, err := p.js.PublishMsg(ctx, msg, opts...); err != nil {
		return fmt.Errorf("failed to publish event to subject %s: %w", msg.Subject, err)
	}
	return nil
}

func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}
