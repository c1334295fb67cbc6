package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"knowledge-agent-be/internal/pkg/logger"
	"knowledge-agent-be/pkg/agent/progress"
	"knowledge-agent-be/pkg/events"

	"github.com/ThreeDotsLabs/watermill/message"
)

// ProgressTopic is the in-process topic progress events travel on.
const ProgressTopic = "agent.progress"

// EventPublisher mirrors events to an external bus.
type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type progressService struct {
	publisher message.Publisher
	topicName string
	mirror    EventPublisher
	logger    logger.ILogger
}

// NewProgressService returns the progress.Sink used by turns and the task
// registry. mirror may be nil.
func NewProgressService(publisher message.Publisher, topicName string, mirror EventPublisher, log logger.ILogger) progress.Sink {
	return &progressService{
		publisher: publisher,
		topicName: topicName,
		mirror:    mirror,
		logger:    log,
	}
}

func (ps *progressService) Publish(ctx context.Context, event progress.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal progress event: %w", err)
	}

	msg := message.NewMessage(event.EventID, payload)
	msg.Metadata.Set("session_id", event.SessionID)
	if err := ps.publisher.Publish(ps.topicName, msg); err != nil {
		ps.logger.Warn("PROGRESS", "Failed to publish progress event", map[string]interface{}{
			"task_id": event.TaskID, "event_type": event.EventType, "error": err.Error(),
		})
		return err
	}

	if ps.mirror != nil {
		ps.mirrorEvent(ctx, event)
	}
	return nil
}

// mirrorEvent never fails the caller: the bus copy is an audit trail.
func (ps *progressService) mirrorEvent(ctx context.Context, event progress.Event) {
	ev, err := events.FromProgress(event)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := ps.mirror.Publish(ctx, ev); err != nil {
		ps.logger.Warn("PROGRESS", "Failed to mirror progress event", map[string]interface{}{
			"task_id": event.TaskID, "event_type": event.EventType, "error": err.Error(),
		})
	}
}
