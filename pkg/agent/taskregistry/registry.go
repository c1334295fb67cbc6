package taskregistry

import (
	"context"
	"errors"
	"fmt"

	"knowledge-agent-be/pkg/agent/progress"
)

var (
	ErrTaskConflict  = errors.New("task already running for session")
	ErrTaskCancelled = errors.New("task cancelled")
	ErrTaskNotFound  = errors.New("task not found")
)

// ConflictError names the task already active on the session.
type ConflictError struct {
	SessionID    string
	ActiveTaskID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("session %s already has an active task %s", e.SessionID, e.ActiveTaskID)
}

func (e *ConflictError) Unwrap() error {
	return ErrTaskConflict
}

// Registry enforces one active task per session and carries cancellation
// requests to the turn that owns the task.
type Registry interface {
	// Begin registers the task and returns a context cancelled by Cancel.
	Begin(ctx context.Context, sessionID, taskID string) (context.Context, error)
	// End releases the task. It must run on every exit path.
	End(sessionID, taskID string)
	// Cancel flags the task and returns the session it belongs to, falling
	// back to fallbackSessionID when the task is not registered here.
	Cancel(ctx context.Context, taskID, fallbackSessionID string) (string, error)
	IsCancelled(ctx context.Context, taskID string) bool
	// Check returns ErrTaskCancelled once the task is flagged or ctx is done.
	Check(ctx context.Context, taskID string) error
	ActiveTask(ctx context.Context, sessionID string) (string, bool)
}

func publishCancelRequested(ctx context.Context, sink progress.Sink, sessionID, taskID string) {
	if sink == nil {
		return
	}
	_ = sink.Publish(ctx, progress.NewEvent(
		sessionID, taskID, progress.CancelRequested, "cancelling",
		"Cancellation requested", nil, progress.StatusCancelling,
	))
}
