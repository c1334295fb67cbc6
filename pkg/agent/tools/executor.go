package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"knowledge-agent-be/internal/metrics"
	"knowledge-agent-be/internal/pkg/logger"
	"knowledge-agent-be/internal/repository/specification"
	"knowledge-agent-be/internal/repository/unitofwork"
	"knowledge-agent-be/pkg/agent/permission"
	"knowledge-agent-be/pkg/agent/progress"
	"knowledge-agent-be/pkg/agent/taskregistry"
	"knowledge-agent-be/pkg/llm"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "knowledge-agent-be/pkg/agent/tools"

// Call is a tool invocation normalised from the model's output.
type Call struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

// ParseCall accepts both the OpenAI shape {"function": {"name", "arguments": "<json>"}}
// and the direct shape {"name", "arguments": {...}}. Undecodable arguments become empty.
func ParseCall(raw map[string]interface{}) Call {
	call := Call{Arguments: map[string]interface{}{}}
	if id, ok := raw["id"].(string); ok {
		call.ID = id
	}

	source := raw
	if fn, ok := raw["function"].(map[string]interface{}); ok {
		source = fn
	}
	if name, ok := source["name"].(string); ok {
		call.Name = name
	}
	switch args := source["arguments"].(type) {
	case string:
		call.Arguments = decodeArguments(args)
	case map[string]interface{}:
		call.Arguments = args
	}
	return call
}

// FromLLM converts a provider tool call through ParseCall, so provider
// arguments get the same decoding as raw calls.
func FromLLM(tc llm.ToolCall) Call {
	return ParseCall(map[string]interface{}{
		"id":        tc.ID,
		"name":      tc.Name,
		"arguments": tc.Arguments,
	})
}

// decodeArguments accepts a JSON object, or a JSON string that itself holds
// a JSON object. Anything else decodes to an empty map.
func decodeArguments(text string) map[string]interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return map[string]interface{}{}
	}
	if inner, ok := v.(string); ok {
		if err := json.Unmarshal([]byte(inner), &v); err != nil {
			return map[string]interface{}{}
		}
	}
	if obj, ok := v.(map[string]interface{}); ok {
		return obj
	}
	return map[string]interface{}{}
}

// Outcome is the result of one call plus the note appended to the reply.
type Outcome struct {
	Call     Call
	Result   *Result
	Fragment string
}

// Executor runs model-issued tool calls through validation, the permission
// gate and the tool itself. Failures become results; only cancellation and
// OnOutcome errors stop the batch.
type Executor struct {
	registry *Registry
	gate     *permission.Gate
	tasks    taskregistry.Registry
	sink     progress.Sink
	logger   logger.ILogger
}

func NewExecutor(registry *Registry, gate *permission.Gate, tasks taskregistry.Registry, sink progress.Sink, log logger.ILogger) *Executor {
	if sink == nil {
		sink = progress.NopSink{}
	}
	return &Executor{
		registry: registry,
		gate:     gate,
		tasks:    tasks,
		sink:     sink,
		logger:   log,
	}
}

// AvailableTools hides writable-only tools when no file is writable.
func (e *Executor) AvailableTools(pc *permission.Context) []Tool {
	all := e.registry.All()
	if pc != nil && pc.HasWritable() {
		return all
	}
	out := make([]Tool, 0, len(all))
	for _, t := range all {
		if !t.WritableOnly() {
			out = append(out, t)
		}
	}
	return out
}

// RunAll executes calls in order. On cancellation it returns the outcomes
// gathered so far with an error matching taskregistry.ErrTaskCancelled.
func (e *Executor) RunAll(ctx context.Context, calls []Call, ec *ExecContext) ([]*Outcome, error) {
	outcomes := make([]*Outcome, 0, len(calls))
	total := len(calls)

	for i, call := range calls {
		if err := e.checkpoint(ctx, ec.TaskID); err != nil {
			return outcomes, err
		}

		startPct := progress.ToolRangeStart + (progress.ToolRangeEnd-progress.ToolRangeStart)*i/total
		e.publish(ctx, progress.NewEvent(
			ec.SessionID.String(), ec.TaskID, progress.ToolStarted, "tools",
			fmt.Sprintf("Running tool %s", call.Name), progress.Percent(startPct), progress.StatusRunning,
		).WithPayload(map[string]interface{}{"tool": call.Name, "index": i, "total": total}))

		result := e.Execute(ctx, call, ec)
		outcome := &Outcome{Call: call, Result: result, Fragment: Fragment(call.Name, result)}
		outcomes = append(outcomes, outcome)

		payload := map[string]interface{}{"tool": call.Name, "index": i, "total": total, "success": result.Success}
		if result.ErrorCode != "" {
			payload["error_code"] = result.ErrorCode
		}
		e.publish(ctx, progress.NewEvent(
			ec.SessionID.String(), ec.TaskID, progress.ToolCompleted, "tools",
			fmt.Sprintf("Tool %s finished", call.Name),
			progress.Percent(progress.Scale(progress.ToolRangeStart, progress.ToolRangeEnd, i, total)),
			progress.StatusRunning,
		).WithPayload(payload))

		if ec.OnOutcome != nil {
			if err := ec.OnOutcome(ctx, i, outcome); err != nil {
				return outcomes, err
			}
		}

		if err := e.checkpoint(ctx, ec.TaskID); err != nil {
			return outcomes, err
		}
	}
	return outcomes, nil
}

// Execute runs a single call. It never returns nil.
func (e *Executor) Execute(ctx context.Context, call Call, ec *ExecContext) (result *Result) {
	if call.Name == "" {
		return Fail(CodeInvalidCall, "Tool call missing 'name' field")
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "agent.tool")
	span.SetAttributes(attribute.String("tool.name", call.Name))
	start := time.Now()
	defer func() {
		span.SetAttributes(attribute.Bool("tool.success", result.Success))
		if !result.Success {
			span.SetStatus(codes.Error, result.Error)
		}
		span.End()
		outcome := "success"
		if !result.Success {
			outcome = result.ErrorCode
		}
		metrics.ToolCallsTotal.WithLabelValues(call.Name, outcome).Inc()
		e.logger.Info("TOOLS", "Tool executed", map[string]interface{}{
			"tool":       call.Name,
			"success":    result.Success,
			"error_code": result.ErrorCode,
			"elapsed_ms": time.Since(start).Milliseconds(),
		})
	}()

	tool, ok := e.registry.Get(call.Name)
	if !ok {
		e.logger.Warn("TOOLS", "Unknown tool requested", map[string]interface{}{"tool": call.Name})
		return Fail(CodeToolNotFound, "Unknown tool: %s", call.Name)
	}

	args, err := DecodeArgs(tool, call.Arguments)
	if err != nil {
		return Fail(CodeValidation, "%s", err.Error())
	}

	return e.isolated(ctx, ec, func(ec *ExecContext) *Result {
		if e.gate != nil && ec.Permissions != nil {
			if err := e.gate.Authorize(ctx, tool, call.Arguments, ec.Permissions, e.fileTypeLookup(ec)); err != nil {
				if errors.Is(err, permission.ErrPermissionDenied) {
					e.logger.Warn("TOOLS", "Permission denied", map[string]interface{}{"tool": call.Name, "error": err.Error()})
					return Fail(CodePermissionDenied, "%s", err.Error())
				}
				return Fail(CodeExecution, "Tool execution failed: %s", err.Error())
			}
		}
		return e.invoke(ctx, tool, args, ec)
	})
}

var errToolFailed = errors.New("tool failed")

// isolated runs one call in a savepoint of the turn's unit of work. A failed
// call rolls back its own statements and drops the work it queued for commit,
// leaving the transaction usable for the rest of the turn.
func (e *Executor) isolated(ctx context.Context, ec *ExecContext, run func(ec *ExecContext) *Result) *Result {
	if ec.UnitOfWork == nil {
		return run(ec)
	}

	var (
		result *Result
		queued []func(context.Context)
	)
	scoped := *ec
	scoped.AfterCommit = func(fn func(context.Context)) { queued = append(queued, fn) }

	err := ec.UnitOfWork.Savepoint(ctx, func(uow unitofwork.UnitOfWork) error {
		scoped.UnitOfWork = uow
		result = run(&scoped)
		if !result.Success {
			return errToolFailed
		}
		return nil
	})
	switch {
	case errors.Is(err, errToolFailed):
		return result
	case err != nil:
		e.logger.Error("TOOLS", "Tool savepoint failed", map[string]interface{}{"error": err.Error()})
		return Fail(CodeExecution, "Tool execution failed: %s", err.Error())
	}

	for _, fn := range queued {
		ec.OnCommit(ctx, fn)
	}
	return result
}

func (e *Executor) invoke(ctx context.Context, tool Tool, args interface{}, ec *ExecContext) (result *Result) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("TOOLS", "Tool panicked", map[string]interface{}{"tool": tool.Name(), "panic": fmt.Sprint(r)})
			result = Fail(CodeExecution, "Tool execution failed: %v", r)
		}
	}()

	res, err := tool.Execute(ctx, args, ec)
	if err != nil {
		e.logger.Error("TOOLS", "Tool execution failed", map[string]interface{}{"tool": tool.Name(), "error": err.Error()})
		return Fail(CodeExecution, "Tool execution failed: %s", err.Error())
	}
	if res == nil {
		return Fail(CodeExecution, "Tool execution failed: empty result")
	}
	return res
}

func (e *Executor) fileTypeLookup(ec *ExecContext) permission.FileTypeLookup {
	return func(ctx context.Context, fileID string) (string, bool, error) {
		if ec.UnitOfWork == nil {
			return "", false, nil
		}
		id, err := uuid.Parse(fileID)
		if err != nil {
			return "", false, nil
		}
		file, err := ec.UnitOfWork.WorkspaceFileRepository().FindOne(ctx, specification.ByID{ID: id})
		if err != nil {
			return "", false, err
		}
		if file == nil {
			return "", false, nil
		}
		return file.FileType, true, nil
	}
}

func (e *Executor) checkpoint(ctx context.Context, taskID string) error {
	if e.tasks != nil {
		return e.tasks.Check(ctx, taskID)
	}
	if ctx.Err() != nil {
		return taskregistry.ErrTaskCancelled
	}
	return nil
}

func (e *Executor) publish(ctx context.Context, event progress.Event) {
	if err := e.sink.Publish(ctx, event); err != nil {
		e.logger.Warn("TOOLS", "Failed to publish progress", map[string]interface{}{"event": string(event.EventType), "error": err.Error()})
	}
}

// Fragment is the note appended to the assistant reply for one call.
func Fragment(name string, r *Result) string {
	if !r.Success {
		return fmt.Sprintf("\n\n[Tool Error: %s]", r.Error)
	}
	out := fmt.Sprintf("\n\n[Tool %s executed successfully", name)
	if fileName, ok := r.Data["file_name"]; ok {
		out += fmt.Sprintf(" on %v", fileName)
	}
	if version, ok := r.Data["version_id"]; ok {
		out += fmt.Sprintf(" (version: %v)", version)
	}
	return out + "]"
}

// FollowupMessages are appended to the history before the follow-up call:
// the assistant turn that requested the tools, then one tool message per result.
func FollowupMessages(assistant llm.Message, outcomes []*Outcome) []llm.Message {
	out := make([]llm.Message, 0, len(outcomes)+1)
	out = append(out, assistant)
	for _, o := range outcomes {
		content := fmt.Sprintf("Tool failed: %s", o.Result.Error)
		if o.Result.Success {
			data := o.Result.Data
			if data == nil {
				data = map[string]interface{}{}
			}
			encoded, _ := json.Marshal(data)
			content = fmt.Sprintf("Tool executed successfully: %s", encoded)
		} else if o.Result.Error == "" {
			content = "Tool failed: Unknown error"
		}
		out = append(out, llm.Message{
			Role:       llm.RoleTool,
			Name:       o.Call.Name,
			ToolCallID: o.Call.ID,
			Content:    content,
		})
	}
	return out
}
