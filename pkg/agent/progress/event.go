package progress

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	TaskStarted        EventType = "task_started"
	ContextReady       EventType = "context_ready"
	ModelCallStarted   EventType = "model_call_started"
	ModelCallCompleted EventType = "model_call_completed"
	ToolStarted        EventType = "tool_started"
	ToolCompleted      EventType = "tool_completed"
	FollowupStarted    EventType = "followup_started"
	TaskCompleted      EventType = "task_completed"
	TaskCancelled      EventType = "task_cancelled"
	TaskFailed         EventType = "task_failed"
	CancelRequested    EventType = "cancel_requested"
)

const (
	StatusRunning    = "running"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
	StatusFailed     = "failed"
	StatusCancelling = "cancelling"
)

// Tool events are spread across this progress window.
const (
	ToolRangeStart = 60
	ToolRangeEnd   = 90
)

// Event is one progress notification for a task, pushed to session subscribers.
type Event struct {
	EventID   string                 `json:"event_id"`
	SessionID string                 `json:"session_id"`
	TaskID    string                 `json:"task_id"`
	EventType EventType              `json:"event_type"`
	Stage     string                 `json:"stage"`
	Message   string                 `json:"message"`
	Progress  *int                   `json:"progress"`
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

func NewEvent(sessionID, taskID string, eventType EventType, stage, message string, progress *int, status string) Event {
	return Event{
		EventID:   uuid.NewString(),
		SessionID: sessionID,
		TaskID:    taskID,
		EventType: eventType,
		Stage:     stage,
		Message:   message,
		Progress:  progress,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
}

func (e Event) WithPayload(payload map[string]interface{}) Event {
	e.Payload = payload
	return e
}

// Percent returns a pointer for Event.Progress.
func Percent(p int) *int {
	return &p
}

// Scale maps item index of total linearly onto [start, end] by (index+1)/total.
func Scale(start, end, index, total int) int {
	if total <= 0 {
		return end
	}
	return start + (end-start)*(index+1)/total
}

// Sink delivers progress events. Delivery is best-effort.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

type SinkFunc func(ctx context.Context, event Event) error

func (f SinkFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}

type NopSink struct{}

func (NopSink) Publish(ctx context.Context, event Event) error { return nil }

// Recorder is a Sink that keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(ctx context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Recorder) Types() []EventType {
	events := r.Events()
	out := make([]EventType, len(events))
	for i, e := range events {
		out[i] = e.EventType
	}
	return out
}
