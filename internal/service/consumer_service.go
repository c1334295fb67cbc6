package service

import (
	"context"
	"encoding/json"

	"knowledge-agent-be/internal/pkg/logger"
	"knowledge-agent-be/pkg/agent/progress"
	"knowledge-agent-be/pkg/agent/tools"
	"knowledge-agent-be/pkg/events"

	"github.com/ThreeDotsLabs/watermill/message"
)

// ProgressMessageType is the websocket frame type for progress events.
const ProgressMessageType = "agent_progress"

type IConsumerService interface {
	Consume(ctx context.Context) error
}

type consumerService struct {
	subscriber  message.Subscriber
	topicName   string
	broadcaster tools.SessionBroadcaster
	logger      logger.ILogger
}

// NewConsumerService forwards progress events from the in-process topic to
// websocket subscribers of the event's session.
func NewConsumerService(
	subscriber message.Subscriber,
	topicName string,
	broadcaster tools.SessionBroadcaster,
	log logger.ILogger,
) IConsumerService {
	return &consumerService{
		subscriber:  subscriber,
		topicName:   topicName,
		broadcaster: broadcaster,
		logger:      log,
	}
}

func (cs *consumerService) Consume(ctx context.Context) error {
	messages, err := cs.subscriber.Subscribe(ctx, cs.topicName)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			cs.processMessage(ctx, msg)
		}
	}()

	return nil
}

func (cs *consumerService) processMessage(ctx context.Context, msg *message.Message) {
	var event progress.Event
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		cs.logger.Error("CONSUMER", "Failed to unmarshal progress event", map[string]interface{}{"error": err.Error()})
		msg.Ack() // Ack invalid messages to prevent infinite retry
		return
	}

	// Delivery is best-effort; a slow or missing subscriber must not stall the topic
	if err := cs.broadcaster.BroadcastToSession(ctx, event.SessionID, map[string]interface{}{
		"type": ProgressMessageType,
		"data": event,
	}); err != nil {
		cs.logger.Warn("CONSUMER", "Failed to broadcast progress event", map[string]interface{}{
			"session_id": event.SessionID, "event_type": event.EventType, "error": err.Error(),
		})
	}
	msg.Ack()
}

// NewAuditHandler logs agent events read back from the external bus.
func NewAuditHandler(log logger.ILogger) func(ctx context.Context, event events.Event) error {
	return func(ctx context.Context, event events.Event) error {
		if !events.IsAgentEvent(event.EventType()) {
			return nil
		}
		payload := event.Payload()
		log.Info("AUDIT", "Agent event", map[string]interface{}{
			"event_type": event.EventType(),
			"session_id": payload["session_id"],
			"task_id":    payload["task_id"],
			"status":     payload["status"],
			"progress":   payload["progress"],
			"at":         event.Timestamp(),
		})
		return nil
	}
}
