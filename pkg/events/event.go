package events

import (
	"encoding/json"
	"strings"
	"time"

	"knowledge-agent-be/pkg/agent/progress"
)

// AgentPrefix namespaces agent progress events on the bus.
const AgentPrefix = "agent."

// Event defines the contract for all system events.
type Event interface {
	// EventType returns the unique code for this event (e.g., "agent.task_started").
	EventType() string

	// Payload returns the data associated with the event.
	Payload() map[string]interface{}

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

type BaseEvent struct {
	Type       string
	Data       map[string]interface{}
	OccurredAt time.Time
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}

// FromProgress wraps a task progress event for the bus. The payload is the
// event's JSON form so subscribers see the same shape as websocket clients.
func FromProgress(e progress.Event) (BaseEvent, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return BaseEvent{}, err
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return BaseEvent{}, err
	}
	return BaseEvent{
		Type:       AgentPrefix + string(e.EventType),
		Data:       data,
		OccurredAt: e.Timestamp,
	}, nil
}

// IsAgentEvent reports whether eventType came from FromProgress.
func IsAgentEvent(eventType string) bool {
	return strings.HasPrefix(eventType, AgentPrefix)
}
