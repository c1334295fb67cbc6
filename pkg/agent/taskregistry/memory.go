package taskregistry

import (
	"context"
	"sync"
	"time"

	"knowledge-agent-be/pkg/agent/progress"

	"github.com/patrickmn/go-cache"
)

// MemoryRegistry is a process-local Registry.
type MemoryRegistry struct {
	mu          sync.Mutex
	sessionTask map[string]string
	taskSession map[string]string
	cancels     map[string]context.CancelFunc
	// flags holds cancel requests. Entries for tasks that never Begin
	// expire after flagTTL.
	flags   *cache.Cache
	flagTTL time.Duration
	sink    progress.Sink
}

func NewMemoryRegistry(sink progress.Sink) *MemoryRegistry {
	return &MemoryRegistry{
		sessionTask: map[string]string{},
		taskSession: map[string]string{},
		cancels:     map[string]context.CancelFunc{},
		flags:       cache.New(DefaultTaskTTL, 0),
		flagTTL:     DefaultTaskTTL,
		sink:        sink,
	}
}

// Begin fails with *ConflictError while any task, the same id included, is
// active on the session.
func (r *MemoryRegistry) Begin(ctx context.Context, sessionID, taskID string) (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if active, ok := r.sessionTask[sessionID]; ok {
		return nil, &ConflictError{SessionID: sessionID, ActiveTaskID: active}
	}
	if owner, ok := r.taskSession[taskID]; ok {
		return nil, &ConflictError{SessionID: owner, ActiveTaskID: taskID}
	}

	turnCtx, cancel := context.WithCancel(ctx)
	r.sessionTask[sessionID] = taskID
	r.taskSession[taskID] = sessionID
	r.cancels[taskID] = cancel
	if _, flagged := r.flags.Get(taskID); flagged {
		cancel()
	}
	return turnCtx, nil
}

// End is a no-op unless taskID is the task registered on sessionID.
func (r *MemoryRegistry) End(sessionID, taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessionTask[sessionID] != taskID {
		return
	}
	delete(r.sessionTask, sessionID)
	delete(r.taskSession, taskID)
	r.flags.Delete(taskID)
	if cancel, ok := r.cancels[taskID]; ok {
		cancel()
		delete(r.cancels, taskID)
	}
}

func (r *MemoryRegistry) Cancel(ctx context.Context, taskID, fallbackSessionID string) (string, error) {
	r.mu.Lock()
	sessionID, ok := r.taskSession[taskID]
	if !ok {
		sessionID = fallbackSessionID
	}
	if sessionID == "" {
		r.mu.Unlock()
		return "", ErrTaskNotFound
	}
	r.flags.DeleteExpired()
	r.flags.Set(taskID, sessionID, r.flagTTL)
	if cancel, ok := r.cancels[taskID]; ok {
		cancel()
	}
	r.mu.Unlock()

	publishCancelRequested(ctx, r.sink, sessionID, taskID)
	return sessionID, nil
}

func (r *MemoryRegistry) IsCancelled(ctx context.Context, taskID string) bool {
	_, flagged := r.flags.Get(taskID)
	return flagged
}

func (r *MemoryRegistry) Check(ctx context.Context, taskID string) error {
	if r.IsCancelled(ctx, taskID) || ctx.Err() != nil {
		return ErrTaskCancelled
	}
	return nil
}

func (r *MemoryRegistry) ActiveTask(ctx context.Context, sessionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	taskID, ok := r.sessionTask[sessionID]
	return taskID, ok
}
