package tools

import (
	"context"
	"fmt"

	"knowledge-agent-be/internal/repository/unitofwork"
	"knowledge-agent-be/pkg/agent/permission"
	"knowledge-agent-be/pkg/llm"

	"github.com/google/uuid"
)

// Error codes reported in Result.ErrorCode.
const (
	CodeInvalidCall      = "INVALID_CALL"
	CodeToolNotFound     = "TOOL_NOT_FOUND"
	CodeValidation       = "VALIDATION_ERROR"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeExecution        = "EXECUTION_ERROR"
)

// Tool is one callable agent capability.
type Tool interface {
	permission.Tool
	Description() string
	// Parameters is the JSON schema advertised to the model.
	Parameters() map[string]interface{}
	// NewArgs returns a pointer to a zero value of the tool's argument struct.
	NewArgs() interface{}
	// Execute receives the decoded and validated value returned by NewArgs.
	// Domain failures are reported as unsuccessful results, not errors.
	Execute(ctx context.Context, args interface{}, ec *ExecContext) (*Result, error)
}

// ExecContext carries the per-turn state a tool runs against.
type ExecContext struct {
	SessionID   uuid.UUID
	TaskID      string
	Permissions *permission.Context
	UnitOfWork  unitofwork.UnitOfWork
	// OnOutcome runs after every call. An error stops the remaining calls.
	OnOutcome func(ctx context.Context, index int, outcome *Outcome) error
	// AfterCommit queues fn until the turn's writes are committed. When nil,
	// OnCommit runs fn immediately.
	AfterCommit func(fn func(ctx context.Context))
}

// OnCommit runs fn once the writes made so far are durable.
func (ec *ExecContext) OnCommit(ctx context.Context, fn func(ctx context.Context)) {
	if ec.AfterCommit == nil {
		fn(ctx)
		return
	}
	ec.AfterCommit(fn)
}

// SessionBroadcaster pushes a raw message to every subscriber of a session.
type SessionBroadcaster interface {
	BroadcastToSession(ctx context.Context, sessionID string, message map[string]interface{}) error
}

type Result struct {
	Success   bool                   `json:"success"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Error     string                 `json:"error,omitempty"`
	ErrorCode string                 `json:"error_code,omitempty"`
}

func OK(data map[string]interface{}) *Result {
	return &Result{Success: true, Data: data}
}

func Fail(code, format string, args ...interface{}) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...), ErrorCode: code}
}

// Map renders the result the way it is stored on a message.
func (r *Result) Map() map[string]interface{} {
	out := map[string]interface{}{"success": r.Success}
	if r.Data != nil {
		out["data"] = r.Data
	}
	if r.Error != "" {
		out["error"] = r.Error
	}
	if r.ErrorCode != "" {
		out["error_code"] = r.ErrorCode
	}
	return out
}

// Definitions converts tools into model-facing definitions.
func Definitions(tools []Tool) []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}
