package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"knowledge-agent-be/internal/dto"
	"knowledge-agent-be/internal/entity"
	"knowledge-agent-be/internal/metrics"
	"knowledge-agent-be/internal/pkg/logger"
	"knowledge-agent-be/internal/repository/specification"
	"knowledge-agent-be/internal/repository/unitofwork"
	"knowledge-agent-be/pkg/agent/budget"
	"knowledge-agent-be/pkg/agent/compaction"
	"knowledge-agent-be/pkg/agent/manifest"
	"knowledge-agent-be/pkg/agent/permission"
	"knowledge-agent-be/pkg/agent/progress"
	"knowledge-agent-be/pkg/agent/prompt"
	"knowledge-agent-be/pkg/agent/retrieval"
	"knowledge-agent-be/pkg/agent/taskregistry"
	"knowledge-agent-be/pkg/agent/taskstate"
	"knowledge-agent-be/pkg/agent/tools"
	"knowledge-agent-be/pkg/llm"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "knowledge-agent-be/internal/service"

const (
	ReasonCancelledByUser = "cancelled_by_user"
	ReasonModelCallFailed = "model_call_failed"
	ReasonTurnFailed      = "turn_failed"
	ReasonRequestAborted  = "request_aborted"
	// ReasonModelReportedBlocked is stored when a blocked task update names no reason.
	ReasonModelReportedBlocked = "model_reported_blocked"

	ContentCancelled = "Task cancelled"
	ContentFailed    = "Task failed"

	goalMaxChars = 500
)

type IAgentTurnService interface {
	// Complete runs one conversational turn. Cancelled turns return a
	// response with status "cancelled"; failed turns return a *ServiceError
	// carrying the response envelope.
	Complete(ctx context.Context, req *dto.ChatCompletionRequest) (*dto.ChatCompletionResponse, error)
	Cancel(ctx context.Context, taskID string, req *dto.CancelTaskRequest) (*dto.CancelTaskResponse, error)
}

type AgentTurnConfig struct {
	HistoryLimit int
	Temperature  float64
	DefaultModel string
}

// AgentTurnDeps are the collaborators of a turn, built once in the container.
type AgentTurnDeps struct {
	UowFactory     unitofwork.RepositoryFactory
	Sessions       ISessionService
	Viewports      IViewportService
	Gate           *permission.Gate
	Tasks          taskregistry.Registry
	Ranker         *retrieval.Ranker
	ViewportLoader *retrieval.ViewportLoader
	Compactor      *compaction.Engine
	Machine        *taskstate.Machine
	Executor       *tools.Executor
	LLM            llm.LLMProvider
	Progress       progress.Sink
	Logger         logger.ILogger
}

type agentTurnService struct {
	uowFactory     unitofwork.RepositoryFactory
	sessions       ISessionService
	viewports      IViewportService
	gate           *permission.Gate
	tasks          taskregistry.Registry
	ranker         *retrieval.Ranker
	viewportLoader *retrieval.ViewportLoader
	compactor      *compaction.Engine
	machine        *taskstate.Machine
	executor       *tools.Executor
	llm            llm.LLMProvider
	progress       progress.Sink
	logger         logger.ILogger
	cfg            AgentTurnConfig
}

func NewAgentTurnService(deps AgentTurnDeps, cfg AgentTurnConfig) IAgentTurnService {
	if deps.Progress == nil {
		deps.Progress = progress.NopSink{}
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	return &agentTurnService{
		uowFactory:     deps.UowFactory,
		sessions:       deps.Sessions,
		viewports:      deps.Viewports,
		gate:           deps.Gate,
		tasks:          deps.Tasks,
		ranker:         deps.Ranker,
		viewportLoader: deps.ViewportLoader,
		compactor:      deps.Compactor,
		machine:        deps.Machine,
		executor:       deps.Executor,
		llm:            deps.LLM,
		progress:       deps.Progress,
		logger:         deps.Logger,
		cfg:            cfg,
	}
}

// turn is the mutable state of one Complete call.
type turn struct {
	req        *dto.ChatCompletionRequest
	sessionID  uuid.UUID
	taskID     string
	goal       string
	step       int
	total      int
	nextAction *string
	// blockedReason is set when the model reported the task as blocked.
	blockedReason *string
	userMsg       *entity.ChatMessage
	outcomes      []*tools.Outcome
	res           *dto.ChatCompletionResponse
	// afterCommit holds side effects, such as proposal broadcasts, that only
	// happen if the turn's transaction commits.
	afterCommit []func(ctx context.Context)
}

func (t *turn) sid() string {
	return t.sessionID.String()
}

// modelCallError marks a failed primary model call.
type modelCallError struct {
	err error
}

func (e *modelCallError) Error() string {
	return "model call failed: " + e.err.Error()
}

func (e *modelCallError) Unwrap() error {
	return e.err
}

func (s *agentTurnService) Complete(ctx context.Context, req *dto.ChatCompletionRequest) (*dto.ChatCompletionResponse, error) {
	taskID := req.TaskId
	if taskID == "" {
		taskID = uuid.NewString()
	}

	model := req.Model
	if model == "" {
		model = s.cfg.DefaultModel
	}
	t := &turn{
		req:       req,
		sessionID: req.SessionId,
		taskID:    taskID,
		goal:      budget.ShortText(req.Message, goalMaxChars),
		res: &dto.ChatCompletionResponse{
			ToolCalls:   []entity.MessageToolCall{},
			ToolResults: []entity.MessageToolResult{},
			Citations:   []entity.MessageCitation{},
			Model:       model,
			TaskId:      taskID,
		},
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "agent.turn")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", t.sid()),
		attribute.String("task.id", taskID),
	)

	turnCtx, err := s.tasks.Begin(ctx, t.sid(), taskID)
	if err != nil {
		var conflict *taskregistry.ConflictError
		if errors.As(err, &conflict) {
			metrics.TurnsTotal.WithLabelValues("conflict").Inc()
			s.logger.Warn("AGENT", "Rejected turn, session busy", map[string]interface{}{
				"session_id": t.sid(), "task_id": taskID, "active_task_id": conflict.ActiveTaskID,
			})
			return nil, &ServiceError{
				Code:    http.StatusConflict,
				Message: "A task is already running for this session",
				Data:    map[string]string{"task_id": conflict.ActiveTaskID},
			}
		}
		return nil, err
	}
	defer s.tasks.End(t.sid(), taskID)

	start := time.Now()
	res, err := s.run(ctx, turnCtx, t)

	status := dto.TurnStatusFailed
	if res != nil {
		status = res.Status
	}
	metrics.TurnsTotal.WithLabelValues(status).Inc()
	metrics.TurnDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.String("turn.status", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	s.logger.Info("AGENT", "Turn finished", map[string]interface{}{
		"session_id":  t.sid(),
		"task_id":     taskID,
		"status":      status,
		"tool_calls":  len(t.res.ToolResults),
		"compacted":   t.res.CompactMeta.Triggered,
		"elapsed_ms":  time.Since(start).Milliseconds(),
		"total_steps": t.total,
	})
	return res, err
}

// run owns the turn after registration. ctx is the request context and
// turnCtx the registry-derived one cancelled by Cancel.
func (s *agentTurnService) run(ctx, turnCtx context.Context, t *turn) (*dto.ChatCompletionResponse, error) {
	s.publish(turnCtx, t, progress.TaskStarted, "planning", "Task started", progress.Percent(5), progress.StatusRunning)

	// The session is committed on its own so a terminal state can always be recorded against it.
	if err := s.ensureSession(ctx, t); err != nil {
		return nil, err
	}
	if t.req.ViewportContext != nil {
		s.viewports.Remember(t.sid(), t.req.ViewportContext)
	}

	if err := s.tasks.Check(turnCtx, t.taskID); err != nil {
		if s.isCancellation(turnCtx, t) {
			return s.cancelled(ctx, t)
		}
		return s.failed(ctx, t, err)
	}

	uow := s.uowFactory.NewUnitOfWork(turnCtx)
	if err := uow.Begin(turnCtx); err != nil {
		return s.failed(ctx, t, err)
	}
	defer uow.Rollback()

	res, err := s.execute(turnCtx, uow, t)
	if err == nil {
		return res, nil
	}
	if s.isCancellation(turnCtx, t) {
		return s.cancelled(ctx, t)
	}
	return s.failed(ctx, t, err)
}

func (s *agentTurnService) ensureSession(ctx context.Context, t *turn) error {
	return s.uowFactory.Transaction(ctx, func(uow unitofwork.UnitOfWork) error {
		_, err := s.sessions.EnsureSession(ctx, uow, t.sessionID, t.req.Permissions)
		return err
	})
}

func (s *agentTurnService) execute(ctx context.Context, uow unitofwork.UnitOfWork, t *turn) (*dto.ChatCompletionResponse, error) {
	if err := s.transition(ctx, uow, t, taskstate.StatePlanning, nil); err != nil {
		return nil, err
	}

	pc, err := s.gate.Resolve(ctx, uow.ChatSessionRepository(), t.sessionID)
	if err != nil {
		return nil, err
	}

	files, err := s.permittedFiles(ctx, uow, pc, t.req.ContextFiles)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(files))
	for _, f := range files {
		names[f.FileID] = f.Name
	}

	retrieved := s.retrieve(ctx, uow, t, pc.FilterReadable(t.req.ContextFiles), names)
	t.res.Citations = retrieved.Citations

	vp := s.loadViewport(ctx, uow, t, pc)

	history, err := s.loadHistory(ctx, uow, t.sessionID)
	if err != nil {
		return nil, err
	}

	t.userMsg = s.newUserMessage(t)
	pre := make([]llm.Message, 0, len(history)+2)
	pre = append(pre, llm.Message{Role: llm.RoleSystem, Content: prompt.System(files, pc.Strings())})
	for _, m := range history {
		pre = append(pre, llm.Message{Role: m.Role, Content: m.Content})
	}
	pre = append(pre, llm.Message{Role: llm.RoleUser, Content: t.req.Message})

	compacted := s.compact(ctx, uow, t, append(history, t.userMsg), pre)
	t.res.CompactMeta = compacted.Meta

	if err := s.transition(ctx, uow, t, taskstate.StateExecuting, nil); err != nil {
		return nil, err
	}

	manifestMsg, err := manifest.Build(manifest.Input{
		SessionID:      t.sid(),
		TaskID:         t.taskID,
		Permissions:    pc.Strings(),
		PermittedFiles: files,
		Viewport:       vp.Viewport,
		Excerpt:        vp.Excerpt,
		Refs:           retrieved.Refs,
		Summary:        compacted.LatestSummary,
		TaskState:      t.res.TaskState,
	}).SystemMessage()
	if err != nil {
		return nil, fmt.Errorf("render context manifest: %w", err)
	}
	messages := insertAfterSystem(compacted.Messages, manifestMsg)
	if len(retrieved.ContextBlocks) > 0 {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: prompt.DocumentContext(retrieved.ContextBlocks)})
	}

	s.publish(ctx, t, progress.ContextReady, "context", "Context ready", progress.Percent(30), progress.StatusRunning,
		map[string]interface{}{
			"citations":     len(retrieved.Citations),
			"used_semantic": retrieved.UsedSemantic,
			"compacted":     compacted.Meta.Triggered,
		})

	var defs []llm.ToolDefinition
	if t.req.ToolsEnabled() {
		defs = tools.Definitions(s.executor.AvailableTools(pc))
	}
	opts := s.options(t.req, defs)

	if err := s.tasks.Check(ctx, t.taskID); err != nil {
		return nil, err
	}
	s.publish(ctx, t, progress.ModelCallStarted, "model", "Calling model", progress.Percent(40), progress.StatusRunning)

	completion, err := s.callModel(ctx, "primary", messages, opts)
	if err != nil {
		return nil, &modelCallError{err: err}
	}
	if completion.Model != "" {
		t.res.Model = completion.Model
	}

	var calls []llm.ToolCall
	if t.req.ToolsEnabled() {
		calls = completion.ToolCalls
	}
	s.publish(ctx, t, progress.ModelCallCompleted, "model", "Model responded", progress.Percent(55), progress.StatusRunning,
		map[string]interface{}{"tool_calls": len(calls)})

	content := completion.Content
	usage := estimateUsage(completion, messages, content)

	if parsed := taskstate.ParseTaskUpdate(content); parsed.Parsed {
		t.step, t.total, t.nextAction = parsed.CurrentStep, parsed.TotalSteps, parsed.NextAction
		if parsed.State == taskstate.StateBlocked {
			reason := ReasonModelReportedBlocked
			if parsed.BlockedReason != nil && *parsed.BlockedReason != "" {
				reason = *parsed.BlockedReason
			}
			t.blockedReason = &reason
		}
	} else if parsed.Warning == taskstate.WarningParseFailed {
		s.logger.Debug("AGENT", "No task update in model output", map[string]interface{}{"task_id": t.taskID})
	}
	if need := t.step + len(calls); t.total < need {
		t.total = need
	}
	if err := s.transition(ctx, uow, t, taskstate.StateExecuting, nil); err != nil {
		return nil, err
	}

	if len(calls) > 0 {
		for _, tc := range calls {
			t.res.ToolCalls = append(t.res.ToolCalls, entity.MessageToolCall{Id: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
		}

		content, err = s.runTools(ctx, uow, t, pc, calls, content)
		if err != nil {
			return nil, err
		}

		if len(t.outcomes) > 0 {
			if err := s.tasks.Check(ctx, t.taskID); err != nil {
				return nil, err
			}
			s.publish(ctx, t, progress.FollowupStarted, "followup", "Summarizing tool results", progress.Percent(92), progress.StatusRunning)

			assistant := llm.Message{Role: llm.RoleAssistant, Content: completion.Content, ToolCalls: completion.ToolCalls}
			history := append(append([]llm.Message{}, messages...), tools.FollowupMessages(assistant, t.outcomes)...)
			followup, err := s.callModel(ctx, "followup", history, opts)
			switch {
			case err != nil && s.isCancellation(ctx, t):
				return nil, err
			case err != nil:
				s.logger.Warn("AGENT", "Follow-up call failed, keeping tool summary", map[string]interface{}{
					"task_id": t.taskID, "error": err.Error(),
				})
			case followup.Content != "":
				content = followup.Content
				fu := estimateUsage(followup, history, followup.Content)
				usage.PromptTokens += fu.PromptTokens
				usage.CompletionTokens += fu.CompletionTokens
				usage.TotalTokens += fu.TotalTokens
			}
		}
	}

	t.res.Content = content
	t.res.Usage = usage

	assistantMsg := &entity.ChatMessage{
		Id:            uuid.New(),
		ChatSessionId: t.sessionID,
		Role:          llm.RoleAssistant,
		Content:       content,
		TaskId:        t.taskID,
		Status:        entity.MessageStatusCompleted,
		Model:         t.res.Model,
		ToolCalls:     t.res.ToolCalls,
		ToolResults:   t.res.ToolResults,
		Citations:     t.res.Citations,
	}
	if err := s.persistMessages(ctx, uow, t, assistantMsg); err != nil {
		return nil, err
	}

	// A reported blocked state outlives the turn. Planning and executing
	// reports only carry progress, the completed turn is done.
	final := taskstate.StateDone
	if t.blockedReason != nil {
		final = taskstate.StateBlocked
	} else {
		if t.total > 0 {
			t.step = t.total
		}
		t.nextAction = nil
	}
	if err := s.transitionWith(ctx, uow, t, final, t.blockedReason, &assistantMsg.Id); err != nil {
		return nil, err
	}
	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("commit turn: %w", err)
	}
	for _, fn := range t.afterCommit {
		fn(context.WithoutCancel(ctx))
	}

	t.res.MessageId = assistantMsg.Id
	t.res.Status = dto.TurnStatusCompleted
	s.publish(ctx, t, progress.TaskCompleted, "done", "Task completed", progress.Percent(100), progress.StatusCompleted,
		map[string]interface{}{"message_id": assistantMsg.Id.String()})
	return t.res, nil
}

// runTools executes the calls and appends each call's fragment to content.
// Partial results stay on the turn when the batch is cancelled.
func (s *agentTurnService) runTools(ctx context.Context, uow unitofwork.UnitOfWork, t *turn, pc *permission.Context, calls []llm.ToolCall, content string) (string, error) {
	parsed := make([]tools.Call, len(calls))
	for i, tc := range calls {
		parsed[i] = tools.FromLLM(tc)
	}

	ec := &tools.ExecContext{
		SessionID:   t.sessionID,
		TaskID:      t.taskID,
		Permissions: pc,
		UnitOfWork:  uow,
		AfterCommit: func(fn func(context.Context)) {
			t.afterCommit = append(t.afterCommit, fn)
		},
		OnOutcome: func(ctx context.Context, index int, outcome *tools.Outcome) error {
			t.res.ToolResults = append(t.res.ToolResults, entity.MessageToolResult{
				Tool:   outcome.Call.Name,
				Result: outcome.Result.Map(),
			})
			t.step++
			return s.transition(ctx, uow, t, taskstate.StateExecuting, nil)
		},
	}

	outcomes, err := s.executor.RunAll(ctx, parsed, ec)
	for _, o := range outcomes {
		if o == nil {
			continue
		}
		t.outcomes = append(t.outcomes, o)
		content += o.Fragment
	}
	return content, err
}

func (s *agentTurnService) callModel(ctx context.Context, kind string, messages []llm.Message, opts []llm.Option) (*llm.Completion, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "agent.model_call", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("model_call.kind", kind),
		attribute.Int("model_call.messages", len(messages)),
	)

	completion, err := s.llm.Complete(ctx, messages, opts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("model_call.tool_calls", len(completion.ToolCalls)))
	return completion, nil
}

func (s *agentTurnService) options(req *dto.ChatCompletionRequest, defs []llm.ToolDefinition) []llm.Option {
	opts := []llm.Option{llm.WithTemperature(s.cfg.Temperature)}
	if req.Model != "" {
		opts = append(opts, llm.WithModel(req.Model))
	}
	if len(defs) > 0 {
		opts = append(opts, llm.WithTools(defs))
	}
	return opts
}

// permittedFiles lists files with an explicit read or write entry plus readable
// context files, skipping folders.
func (s *agentTurnService) permittedFiles(ctx context.Context, uow unitofwork.UnitOfWork, pc *permission.Context, contextFiles []string) ([]manifest.FileInfo, error) {
	seen := map[string]bool{}
	var ids []uuid.UUID
	add := func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		if parsed, err := uuid.Parse(id); err == nil {
			ids = append(ids, parsed)
		}
	}
	for id, lvl := range pc.Levels {
		if lvl == permission.LevelRead || lvl == permission.LevelWrite {
			add(id)
		}
	}
	for _, id := range pc.FilterReadable(contextFiles) {
		add(id)
	}

	out := []manifest.FileInfo{}
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := uow.WorkspaceFileRepository().FindAll(ctx,
		specification.ByIDs{IDs: ids},
		specification.ExcludeFileType{FileType: entity.FileTypeFolder},
		specification.OrderBy{Field: "name"},
	)
	if err != nil {
		return nil, fmt.Errorf("load permitted files: %w", err)
	}
	for _, f := range rows {
		out = append(out, manifest.FileInfo{FileID: f.Id.String(), Name: f.Name, Type: f.FileType})
	}
	return out, nil
}

// retrieve never fails the turn: errors degrade to an empty context.
func (s *agentTurnService) retrieve(ctx context.Context, uow unitofwork.UnitOfWork, t *turn, readable []string, names map[string]string) *retrieval.Result {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "agent.retrieve")
	defer span.End()
	span.SetAttributes(attribute.Int("retrieval.files", len(readable)))

	empty := &retrieval.Result{
		ContextBlocks: []string{},
		Citations:     []entity.MessageCitation{},
		Refs:          []retrieval.Ref{},
	}
	if len(readable) == 0 {
		metrics.RetrievalTotal.WithLabelValues("none").Inc()
		return empty
	}

	activeFile := t.req.ActiveFileId
	if activeFile == "" && t.req.ViewportContext != nil {
		activeFile = t.req.ViewportContext.FileId
	}

	var res *retrieval.Result
	err := uow.Savepoint(ctx, func(sp unitofwork.UnitOfWork) error {
		var err error
		res, err = s.ranker.Retrieve(ctx, sp, retrieval.Request{
			Query:         t.req.Message,
			ReadableFiles: readable,
			FileNames:     names,
			ActiveFileID:  activeFile,
			ActivePage:    t.req.ActivePage,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		s.logger.Warn("AGENT", "Retrieval failed, continuing without document context", map[string]interface{}{
			"task_id": t.taskID, "error": err.Error(),
		})
		metrics.RetrievalTotal.WithLabelValues("none").Inc()
		return empty
	}

	mode := retrieval.SourceLexical
	if res.UsedSemantic {
		mode = retrieval.SourceEmbedding
	}
	if len(res.ContextBlocks) == 0 {
		mode = "none"
	}
	metrics.RetrievalTotal.WithLabelValues(mode).Inc()
	span.SetAttributes(
		attribute.String("retrieval.mode", mode),
		attribute.Int("retrieval.blocks", len(res.ContextBlocks)),
		attribute.Int("retrieval.tokens", res.UsedTokens),
	)
	return res
}

func (s *agentTurnService) loadViewport(ctx context.Context, uow unitofwork.UnitOfWork, t *turn, pc *permission.Context) *retrieval.ViewportResult {
	activeFile := t.req.ActiveFileId
	if activeFile == "" && t.req.ViewportContext != nil {
		activeFile = t.req.ViewportContext.FileId
	}

	var res *retrieval.ViewportResult
	err := uow.Savepoint(ctx, func(sp unitofwork.UnitOfWork) error {
		var err error
		res, err = s.viewportLoader.Load(ctx, sp.WorkspaceFileRepository(), sp.DocumentChunkRepository(), retrieval.ViewportRequest{
			SessionID:    t.sid(),
			Permissions:  pc,
			ActiveFileID: activeFile,
			ActivePage:   t.req.ActivePage,
		})
		return err
	})
	if err != nil {
		s.logger.Warn("AGENT", "Viewport excerpt unavailable", map[string]interface{}{"task_id": t.taskID, "error": err.Error()})
		return &retrieval.ViewportResult{}
	}
	return res
}

// loadHistory returns the newest conversational messages in chronological order.
func (s *agentTurnService) loadHistory(ctx context.Context, uow unitofwork.UnitOfWork, sessionID uuid.UUID) ([]*entity.ChatMessage, error) {
	rows, err := uow.ChatMessageRepository().FindRecent(ctx, sessionID,
		[]string{llm.RoleUser, llm.RoleAssistant}, s.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return rows, nil
}

// compact is best-effort: a failure keeps the uncompacted prompt.
func (s *agentTurnService) compact(ctx context.Context, uow unitofwork.UnitOfWork, t *turn, history []*entity.ChatMessage, pre []llm.Message) *compaction.Output {
	var out *compaction.Output
	err := uow.Savepoint(ctx, func(sp unitofwork.UnitOfWork) error {
		var err error
		out, err = s.compactor.MaybeCompact(ctx, sp.ConversationCompactionRepository(), compaction.Input{
			SessionID:  t.sessionID,
			History:    history,
			PreCompact: pre,
			Mode:       t.req.CompactMode,
		})
		return err
	})
	if err != nil {
		s.logger.Warn("AGENT", "Compaction failed, sending full history", map[string]interface{}{"task_id": t.taskID, "error": err.Error()})
		return &compaction.Output{Messages: pre}
	}
	if out.Meta.Triggered {
		metrics.CompactionsTotal.WithLabelValues(out.Meta.Reason).Inc()
		s.logger.Info("AGENT", "History compacted", map[string]interface{}{
			"task_id":       t.taskID,
			"reason":        out.Meta.Reason,
			"compaction_id": out.Meta.CompactionID,
		})
	}
	return out
}

func (s *agentTurnService) transition(ctx context.Context, uow unitofwork.UnitOfWork, t *turn, state string, lastMessageID *uuid.UUID) error {
	return s.transitionWith(ctx, uow, t, state, nil, lastMessageID)
}

func (s *agentTurnService) transitionWith(ctx context.Context, uow unitofwork.UnitOfWork, t *turn, state string, blockedReason *string, lastMessageID *uuid.UUID) error {
	snap, err := s.machine.Upsert(ctx, uow.SessionTaskStateRepository(), taskstate.Update{
		SessionID:     t.sessionID,
		TaskID:        t.taskID,
		State:         state,
		Goal:          t.goal,
		CurrentStep:   t.step,
		TotalSteps:    t.total,
		NextAction:    t.nextAction,
		BlockedReason: blockedReason,
		LastMessageID: lastMessageID,
	})
	if err != nil {
		return err
	}
	t.res.TaskState = snap
	return nil
}

func (s *agentTurnService) newUserMessage(t *turn) *entity.ChatMessage {
	return &entity.ChatMessage{
		Id:            uuid.New(),
		ChatSessionId: t.sessionID,
		Role:          llm.RoleUser,
		Content:       t.req.Message,
		TaskId:        t.taskID,
		Status:        entity.MessageStatusCompleted,
		CreatedAt:     time.Now(),
	}
}

func (s *agentTurnService) persistMessages(ctx context.Context, uow unitofwork.UnitOfWork, t *turn, assistant *entity.ChatMessage) error {
	if t.userMsg == nil {
		t.userMsg = s.newUserMessage(t)
	}
	repo := uow.ChatMessageRepository()
	if err := repo.Create(ctx, t.userMsg); err != nil {
		return fmt.Errorf("save user message: %w", err)
	}
	if err := repo.Create(ctx, assistant); err != nil {
		return fmt.Errorf("save assistant message: %w", err)
	}
	return nil
}

// isCancellation reports whether the task was cancelled through the registry.
// A request context that ends on its own is a failure, not a user cancel.
func (s *agentTurnService) isCancellation(ctx context.Context, t *turn) bool {
	return s.tasks.IsCancelled(context.WithoutCancel(ctx), t.taskID)
}

type terminal struct {
	status      string
	content     string
	reason      string
	eventType   progress.EventType
	eventStatus string
	message     string
}

func (s *agentTurnService) cancelled(ctx context.Context, t *turn) (*dto.ChatCompletionResponse, error) {
	s.finalize(ctx, t, terminal{
		status:      dto.TurnStatusCancelled,
		content:     ContentCancelled,
		reason:      ReasonCancelledByUser,
		eventType:   progress.TaskCancelled,
		eventStatus: progress.StatusCancelled,
		message:     "Task cancelled by user",
	})
	return t.res, nil
}

func (s *agentTurnService) failed(ctx context.Context, t *turn, cause error) (*dto.ChatCompletionResponse, error) {
	code := http.StatusInternalServerError
	reason := ReasonTurnFailed
	var mce *modelCallError
	switch {
	case ctx.Err() != nil:
		reason = ReasonRequestAborted
	case errors.As(cause, &mce):
		code = http.StatusBadGateway
		reason = ReasonModelCallFailed
	}
	s.logger.Error("AGENT", "Turn failed", map[string]interface{}{
		"session_id": t.sid(), "task_id": t.taskID, "reason": reason, "error": cause.Error(),
	})

	s.finalize(ctx, t, terminal{
		status:      dto.TurnStatusFailed,
		content:     ContentFailed,
		reason:      reason,
		eventType:   progress.TaskFailed,
		eventStatus: progress.StatusFailed,
		message:     cause.Error(),
	})
	return nil, &ServiceError{Code: code, Message: ContentFailed, Data: t.res}
}

// finalize records a cancelled or failed turn in a fresh unit of work that
// outlives the turn context. Persistence errors are logged only.
func (s *agentTurnService) finalize(ctx context.Context, t *turn, term terminal) {
	ctx = context.WithoutCancel(ctx)

	t.res.Content = term.content
	t.res.Status = term.status

	assistant := &entity.ChatMessage{
		Id:            uuid.New(),
		ChatSessionId: t.sessionID,
		Role:          llm.RoleAssistant,
		Content:       term.content,
		TaskId:        t.taskID,
		Status:        term.status,
		Model:         t.res.Model,
		ToolCalls:     t.res.ToolCalls,
		ToolResults:   t.res.ToolResults,
		Citations:     t.res.Citations,
	}

	reason := term.reason
	t.nextAction = nil
	err := s.uowFactory.Transaction(ctx, func(uow unitofwork.UnitOfWork) error {
		if err := s.persistMessages(ctx, uow, t, assistant); err != nil {
			return err
		}
		return s.transitionWith(ctx, uow, t, taskstate.StateBlocked, &reason, &assistant.Id)
	})
	if err != nil {
		s.logger.Error("AGENT", "Failed to record terminal task state", map[string]interface{}{
			"task_id": t.taskID, "status": term.status, "error": err.Error(),
		})
		if t.res.TaskState == nil || t.res.TaskState.State != taskstate.StateBlocked {
			// Still report the blocked shape to the caller.
			retry := taskstate.NextActionRetry
			snap := taskstate.DefaultSnapshot(t.taskID)
			snap.State = taskstate.StateBlocked
			snap.CurrentStep, snap.TotalSteps = taskstate.Clamp(t.step, t.total)
			snap.NextAction = &retry
			t.res.TaskState = &snap
		}
	} else {
		t.res.MessageId = assistant.Id
	}

	s.publish(ctx, t, term.eventType, term.status, term.message, nil, term.eventStatus,
		map[string]interface{}{"reason": term.reason})
}

func (s *agentTurnService) publish(ctx context.Context, t *turn, eventType progress.EventType, stage, message string, pct *int, status string, payload ...map[string]interface{}) {
	event := progress.NewEvent(t.sid(), t.taskID, eventType, stage, message, pct, status)
	if len(payload) > 0 {
		event = event.WithPayload(payload[0])
	}
	if err := s.progress.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Warn("AGENT", "Failed to publish progress", map[string]interface{}{"event": string(eventType), "error": err.Error()})
	}
}

func (s *agentTurnService) Cancel(ctx context.Context, taskID string, req *dto.CancelTaskRequest) (*dto.CancelTaskResponse, error) {
	sessionID, err := s.tasks.Cancel(ctx, taskID, req.SessionId)
	if err != nil {
		if errors.Is(err, taskregistry.ErrTaskNotFound) {
			return nil, NewNotFoundError("Task not found")
		}
		return nil, err
	}

	s.logger.Info("AGENT", "Cancellation requested", map[string]interface{}{"task_id": taskID, "session_id": sessionID})
	return &dto.CancelTaskResponse{
		TaskId:    taskID,
		SessionId: sessionID,
		Status:    progress.StatusCancelling,
	}, nil
}

// insertAfterSystem places msg after the leading system messages.
func insertAfterSystem(messages []llm.Message, msg llm.Message) []llm.Message {
	i := 0
	for i < len(messages) && messages[i].Role == llm.RoleSystem {
		i++
	}
	out := make([]llm.Message, 0, len(messages)+1)
	out = append(out, messages[:i]...)
	out = append(out, msg)
	return append(out, messages[i:]...)
}

// estimateUsage prefers provider counts and estimates when the provider reports none.
func estimateUsage(c *llm.Completion, prompt []llm.Message, content string) llm.Usage {
	if c.Usage != nil {
		return *c.Usage
	}
	p := budget.EstimateMessagesTokens(prompt)
	out := budget.EstimateTokens(content)
	return llm.Usage{PromptTokens: p, CompletionTokens: out, TotalTokens: p + out}
}
