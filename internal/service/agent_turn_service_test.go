package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"knowledge-agent-be/internal/dto"
	"knowledge-agent-be/internal/entity"
	"knowledge-agent-be/internal/pkg/logger"
	"knowledge-agent-be/internal/repository/memory"
	"knowledge-agent-be/internal/repository/repotest"
	"knowledge-agent-be/pkg/agent/compaction"
	"knowledge-agent-be/pkg/agent/permission"
	"knowledge-agent-be/pkg/agent/progress"
	"knowledge-agent-be/pkg/agent/retrieval"
	"knowledge-agent-be/pkg/agent/taskregistry"
	"knowledge-agent-be/pkg/agent/taskstate"
	"knowledge-agent-be/pkg/agent/tools"
	"knowledge-agent-be/pkg/agent/tools/handlers"
	"knowledge-agent-be/pkg/llm"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reply func(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Completion, error)

func answer(content string) reply {
	return func(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Completion, error) {
		return &llm.Completion{Content: content}, nil
	}
}

func callTool(content string, calls ...llm.ToolCall) reply {
	return func(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Completion, error) {
		return &llm.Completion{Content: content, ToolCalls: calls}, nil
	}
}

// scriptedLLM answers calls from replies in order and records every request.
type scriptedLLM struct {
	mu       sync.Mutex
	replies  []reply
	requests [][]llm.Message
	options  []llm.Options
}

func (s *scriptedLLM) Complete(ctx context.Context, history []llm.Message, options ...llm.Option) (*llm.Completion, error) {
	s.mu.Lock()
	s.requests = append(s.requests, append([]llm.Message{}, history...))
	opts := llm.ApplyOptions(llm.Options{}, options...)
	s.options = append(s.options, opts)
	var next reply
	if len(s.replies) > 0 {
		next, s.replies = s.replies[0], s.replies[1:]
	}
	s.mu.Unlock()

	if next == nil {
		return &llm.Completion{Content: "ok"}, nil
	}
	return next(ctx, history, opts)
}

func (s *scriptedLLM) Chat(ctx context.Context, history []llm.Message, options ...llm.Option) (string, error) {
	c, err := s.Complete(ctx, history, options...)
	if err != nil {
		return "", err
	}
	return c.Content, nil
}

func (s *scriptedLLM) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

type nopBroadcaster struct{}

func (nopBroadcaster) BroadcastToSession(ctx context.Context, sessionID string, message map[string]interface{}) error {
	return nil
}

type turnEnv struct {
	store     *repotest.Store
	recorder  *progress.Recorder
	tasks     *taskregistry.MemoryRegistry
	model     *scriptedLLM
	sessions  ISessionService
	svc       IAgentTurnService
	sessionID uuid.UUID
	plan      *entity.WorkspaceFile
	paper     *entity.WorkspaceFile
	secret    *entity.WorkspaceFile
}

var defaultCompaction = compaction.Config{Enabled: true, TriggerTokens: 100000, ForceTokens: 200000, TargetTokens: 50000}

func newTurnEnv(t *testing.T, replies ...reply) *turnEnv {
	t.Helper()
	return newTurnEnvWith(t, defaultCompaction, replies...)
}

func newTurnEnvWith(t *testing.T, compact compaction.Config, replies ...reply) *turnEnv {
	t.Helper()
	log := logger.NewNopLogger()
	store := repotest.NewStore()
	plan := store.AddFile(&entity.WorkspaceFile{Name: "plan.md", FileType: entity.FileTypeMD, Content: "# Plan\n\nShip the release notes"})
	paper := store.AddFile(&entity.WorkspaceFile{Name: "paper.pdf", FileType: entity.FileTypePDF, PageCount: 1})
	secret := store.AddFile(&entity.WorkspaceFile{Name: "secret.md", FileType: entity.FileTypeMD, Content: "hidden"})
	store.AddChunk(&entity.DocumentChunk{FileId: paper.Id, Page: 1, Content: "release notes are drafted in the paper"})

	recorder := &progress.Recorder{}
	tasks := taskregistry.NewMemoryRegistry(nil)
	gate := permission.NewGate()
	viewports := memory.NewViewportRepository()
	model := &scriptedLLM{replies: replies}

	registry := tools.NewRegistry(log)
	registry.Register(handlers.All(handlers.Deps{Viewports: viewports, Broadcaster: nopBroadcaster{}, Logger: log})...)

	sessions := NewSessionService(store.Factory(), gate, tasks, viewports, log)
	svc := NewAgentTurnService(AgentTurnDeps{
		UowFactory:     store.Factory(),
		Sessions:       sessions,
		Viewports:      NewViewportService(store.Factory(), viewports, log),
		Gate:           gate,
		Tasks:          tasks,
		Ranker:         retrieval.NewRanker(nil, 2000, log),
		ViewportLoader: retrieval.NewViewportLoader(viewports, 1200),
		Compactor:      compaction.NewEngine(compact),
		Machine:        taskstate.NewMachine(true),
		Executor:       tools.NewExecutor(registry, gate, tasks, recorder, log),
		LLM:            model,
		Progress:       recorder,
		Logger:         log,
	}, AgentTurnConfig{HistoryLimit: 20, Temperature: 0.2})

	return &turnEnv{
		store:     store,
		recorder:  recorder,
		tasks:     tasks,
		model:     model,
		sessions:  sessions,
		svc:       svc,
		sessionID: uuid.New(),
		plan:      plan,
		paper:     paper,
		secret:    secret,
	}
}

func (e *turnEnv) request(message string) *dto.ChatCompletionRequest {
	return &dto.ChatCompletionRequest{
		SessionId:    e.sessionID,
		Message:      message,
		ContextFiles: []string{e.paper.Id.String(), e.secret.Id.String()},
		Permissions: map[string]string{
			e.plan.Id.String():   "write",
			e.paper.Id.String():  "read",
			e.secret.Id.String(): "none",
		},
	}
}

func (e *turnEnv) storedState(t *testing.T) *entity.SessionTaskState {
	t.Helper()
	row, ok := e.store.TaskStates[e.sessionID]
	require.True(t, ok, "task state row missing")
	return row
}

func TestComplete_PlainAnswer(t *testing.T) {
	env := newTurnEnv(t, answer("The release notes are drafted."))

	res, err := env.svc.Complete(context.Background(), env.request("Where are the release notes?"))
	require.NoError(t, err)

	assert.Equal(t, dto.TurnStatusCompleted, res.Status)
	assert.Equal(t, "The release notes are drafted.", res.Content)
	assert.NotEmpty(t, res.TaskId)
	require.NotNil(t, res.TaskState)
	assert.Equal(t, taskstate.StateDone, res.TaskState.State)
	assert.Empty(t, res.ToolCalls)
	assert.Greater(t, res.Usage.TotalTokens, 0)

	require.Len(t, env.store.Messages, 2)
	assert.Equal(t, llm.RoleUser, env.store.Messages[0].Role)
	assert.Equal(t, llm.RoleAssistant, env.store.Messages[1].Role)
	assert.Equal(t, res.MessageId, env.store.Messages[1].Id)
	assert.Equal(t, res.TaskId, env.store.Messages[1].TaskId)

	assert.Equal(t, []progress.EventType{
		progress.TaskStarted,
		progress.ContextReady,
		progress.ModelCallStarted,
		progress.ModelCallCompleted,
		progress.TaskCompleted,
	}, env.recorder.Types())

	_, active := env.tasks.ActiveTask(context.Background(), env.sessionID.String())
	assert.False(t, active)
}

func TestComplete_PromptCarriesPermissionsAndManifest(t *testing.T) {
	env := newTurnEnv(t, answer("done"))

	_, err := env.svc.Complete(context.Background(), env.request("release notes"))
	require.NoError(t, err)
	require.Equal(t, 1, env.model.calls())

	msgs := env.model.requests[0]
	require.GreaterOrEqual(t, len(msgs), 3)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "plan.md")
	assert.Contains(t, msgs[0].Content, "paper.pdf")
	assert.NotContains(t, msgs[0].Content, "secret.md")

	assert.Equal(t, llm.RoleSystem, msgs[1].Role)
	assert.Contains(t, msgs[1].Content, `"permitted_files"`)
	assert.Contains(t, msgs[1].Content, env.sessionID.String())

	// Lexical retrieval only reads the readable context file.
	last := msgs[len(msgs)-1]
	assert.Equal(t, llm.RoleSystem, last.Role)
	assert.Contains(t, last.Content, "[Relevant Context from Documents]")
	assert.Contains(t, last.Content, "release notes are drafted")

	assert.NotEmpty(t, env.model.options[0].Tools)
}

func TestComplete_NoContextFilesAndNoPermissions(t *testing.T) {
	env := newTurnEnv(t, answer("Nothing to read yet."))

	res, err := env.svc.Complete(context.Background(), &dto.ChatCompletionRequest{
		SessionId: env.sessionID,
		Message:   "What files do you have?",
	})
	require.NoError(t, err)

	assert.Equal(t, dto.TurnStatusCompleted, res.Status)
	assert.Empty(t, res.Citations)
	require.NotNil(t, res.TaskState)
	assert.Equal(t, taskstate.StateDone, res.TaskState.State)

	msgs := env.model.requests[0]
	assert.Contains(t, msgs[0].Content, "No Files Accessible")
	assert.Contains(t, msgs[1].Content, `"permitted_files":{"read":[],"write":[],"total":0}`)
	for _, m := range msgs {
		assert.NotContains(t, m.Content, "[Relevant Context from Documents]")
	}

	session, ok := env.store.Sessions[env.sessionID]
	require.True(t, ok)
	assert.Empty(t, session.Permissions)
}

func TestComplete_PermissionUpdateReachesNextTurn(t *testing.T) {
	env := newTurnEnv(t, answer("first"), answer("second"))

	_, err := env.svc.Complete(context.Background(), env.request("read everything"))
	require.NoError(t, err)
	first := env.model.requests[0]
	assert.NotContains(t, first[0].Content, "secret.md")
	assert.NotContains(t, first[1].Content, env.secret.Id.String())

	_, err = env.sessions.UpdatePermission(context.Background(), env.sessionID, &dto.UpdatePermissionRequest{
		FileId:     env.secret.Id.String(),
		Permission: "read",
	})
	require.NoError(t, err)

	// No permissions on the request, so the stored map decides.
	_, err = env.svc.Complete(context.Background(), &dto.ChatCompletionRequest{
		SessionId:    env.sessionID,
		Message:      "and now?",
		ContextFiles: []string{env.secret.Id.String()},
	})
	require.NoError(t, err)

	second := env.model.requests[1]
	assert.Contains(t, second[0].Content, "secret.md")
	assert.Contains(t, second[1].Content, env.secret.Id.String())
}

func TestComplete_AutoCompactionAdvancesSequence(t *testing.T) {
	env := newTurnEnvWith(t, compaction.Config{Enabled: true, TriggerTokens: 1, ForceTokens: 200000, TargetTokens: 50000},
		answer("compacted answer"))

	start := time.Now().Add(-time.Hour)
	for i := 0; i < 8; i++ {
		role := llm.RoleUser
		if i%2 == 1 {
			role = llm.RoleAssistant
		}
		env.store.Messages = append(env.store.Messages, &entity.ChatMessage{
			Id:            uuid.New(),
			ChatSessionId: env.sessionID,
			Role:          role,
			Content:       fmt.Sprintf("earlier message %d", i),
			Status:        entity.MessageStatusCompleted,
			CreatedAt:     start.Add(time.Duration(i) * time.Minute),
		})
	}
	env.store.Compactions = append(env.store.Compactions, &entity.ConversationCompaction{
		Id:            uuid.New(),
		ChatSessionId: env.sessionID,
		Sequence:      2,
		TriggerReason: compaction.ReasonTrigger,
		SummaryText:   "Compacted conversation history:\nUSER: older",
		CreatedAt:     start,
	})

	res, err := env.svc.Complete(context.Background(), env.request("continue"))
	require.NoError(t, err)

	assert.True(t, res.CompactMeta.Triggered)
	assert.Equal(t, compaction.ReasonTrigger, res.CompactMeta.Reason)

	require.Len(t, env.store.Compactions, 2)
	latest := env.store.Compactions[1]
	assert.Equal(t, 3, latest.Sequence)
	assert.Equal(t, res.CompactMeta.CompactionID, latest.Id.String())

	var block bool
	for _, m := range env.model.requests[0] {
		if strings.Contains(m.Content, "[Compaction Block #3]") {
			block = true
		}
	}
	assert.True(t, block, "prompt should carry the new compaction block")
}

func TestComplete_UnknownToolIsReportedAndTurnCompletes(t *testing.T) {
	env := newTurnEnv(t)
	env.model.replies = []reply{
		callTool("", llm.ToolCall{ID: "call_1", Name: "launch_rockets", Arguments: `{}`}),
		answer("That tool does not exist."),
	}

	res, err := env.svc.Complete(context.Background(), env.request("launch"))
	require.NoError(t, err)

	assert.Equal(t, dto.TurnStatusCompleted, res.Status)
	require.Len(t, res.ToolResults, 1)
	assert.Equal(t, "launch_rockets", res.ToolResults[0].Tool)
	assert.Equal(t, false, res.ToolResults[0].Result["success"])
	assert.Equal(t, tools.CodeToolNotFound, res.ToolResults[0].Result["error_code"])
	assert.Equal(t, "That tool does not exist.", res.Content)
	require.NotNil(t, res.TaskState)
	assert.Equal(t, taskstate.StateDone, res.TaskState.State)
}

func TestComplete_ToolsDisabledSendsNoDefinitions(t *testing.T) {
	env := newTurnEnv(t, answer("plain"))
	req := env.request("hi")
	off := false
	req.UseTools = &off

	_, err := env.svc.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, env.model.options[0].Tools)
}

func TestComplete_ToolCallThenFollowup(t *testing.T) {
	env := newTurnEnv(t)
	env.model.replies = []reply{
		callTool("Let me read it.", llm.ToolCall{
			ID:        "call_1",
			Name:      tools.ReadDocument,
			Arguments: fmt.Sprintf(`{"file_id":%q}`, env.plan.Id.String()),
		}),
		answer("The plan says to ship the release notes."),
	}

	res, err := env.svc.Complete(context.Background(), env.request("What does the plan say?"))
	require.NoError(t, err)

	assert.Equal(t, dto.TurnStatusCompleted, res.Status)
	assert.Equal(t, "The plan says to ship the release notes.", res.Content)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "call_1", res.ToolCalls[0].Id)
	require.Len(t, res.ToolResults, 1)
	assert.Equal(t, tools.ReadDocument, res.ToolResults[0].Tool)
	assert.Equal(t, true, res.ToolResults[0].Result["success"])

	require.Equal(t, 2, env.model.calls())
	followup := env.model.requests[1]
	toolMsg := followup[len(followup)-1]
	assert.Equal(t, llm.RoleTool, toolMsg.Role)
	assert.Equal(t, "call_1", toolMsg.ToolCallID)
	assistant := followup[len(followup)-2]
	assert.Equal(t, llm.RoleAssistant, assistant.Role)
	assert.Len(t, assistant.ToolCalls, 1)

	require.NotNil(t, res.TaskState)
	assert.Equal(t, taskstate.StateDone, res.TaskState.State)
	assert.GreaterOrEqual(t, res.TaskState.CurrentStep, 1)
	assert.Equal(t, res.TaskState.CurrentStep, res.TaskState.TotalSteps)

	types := env.recorder.Types()
	assert.Contains(t, types, progress.ToolStarted)
	assert.Contains(t, types, progress.ToolCompleted)
	assert.Contains(t, types, progress.FollowupStarted)
	assert.Equal(t, progress.TaskCompleted, types[len(types)-1])
}

func TestComplete_DeniedWriteIsReportedNotFatal(t *testing.T) {
	env := newTurnEnv(t)
	env.model.replies = []reply{
		callTool("", llm.ToolCall{
			ID:        "call_1",
			Name:      tools.UpdateDocument,
			Arguments: fmt.Sprintf(`{"file_id":%q,"content":"rewritten"}`, env.paper.Id.String()),
		}),
		answer("I can only read that file."),
	}

	res, err := env.svc.Complete(context.Background(), env.request("Rewrite the paper"))
	require.NoError(t, err)

	require.Len(t, res.ToolResults, 1)
	assert.Equal(t, false, res.ToolResults[0].Result["success"])
	assert.Equal(t, tools.CodePermissionDenied, res.ToolResults[0].Result["error_code"])
	assert.Equal(t, "I can only read that file.", res.Content)
	assert.Empty(t, env.store.Proposals)
}

func TestComplete_FollowupFailureKeepsToolSummary(t *testing.T) {
	env := newTurnEnv(t)
	env.model.replies = []reply{
		callTool("Reading.", llm.ToolCall{
			ID:        "call_1",
			Name:      tools.ReadDocument,
			Arguments: fmt.Sprintf(`{"file_id":%q}`, env.plan.Id.String()),
		}),
		func(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Completion, error) {
			return nil, errors.New("upstream timeout")
		},
	}

	res, err := env.svc.Complete(context.Background(), env.request("Read the plan"))
	require.NoError(t, err)
	assert.Equal(t, dto.TurnStatusCompleted, res.Status)
	assert.Contains(t, res.Content, "Reading.")
	assert.Contains(t, res.Content, "[Tool read_document executed successfully on plan.md]")
}

func TestComplete_ModelReportedBlockedStateIsKept(t *testing.T) {
	env := newTurnEnv(t, answer("I need the budget figures first.\n"+
		`{"task_update":{"state":"blocked","current_step":1,"total_steps":3,"next_action":"ask_user","blocked_reason":"missing budget"}}`))

	res, err := env.svc.Complete(context.Background(), env.request("Draft the budget section"))
	require.NoError(t, err)

	assert.Equal(t, dto.TurnStatusCompleted, res.Status)
	require.NotNil(t, res.TaskState)
	assert.Equal(t, taskstate.StateBlocked, res.TaskState.State)
	assert.Equal(t, 1, res.TaskState.CurrentStep)
	assert.Equal(t, 3, res.TaskState.TotalSteps)
	require.NotNil(t, res.TaskState.NextAction)
	assert.Equal(t, "ask_user", *res.TaskState.NextAction)

	row := env.storedState(t)
	assert.Equal(t, taskstate.StateBlocked, row.State)
	require.NotNil(t, row.BlockedReason)
	assert.Equal(t, "missing budget", *row.BlockedReason)
	require.NotNil(t, row.LastMessageId)
	assert.Equal(t, res.MessageId, *row.LastMessageId)
}

func TestComplete_ModelReportedBlockedWithoutReason(t *testing.T) {
	env := newTurnEnv(t, answer(`{"state":"blocked","current_step":0,"total_steps":2}`))

	res, err := env.svc.Complete(context.Background(), env.request("continue"))
	require.NoError(t, err)

	require.NotNil(t, res.TaskState)
	assert.Equal(t, taskstate.StateBlocked, res.TaskState.State)
	require.NotNil(t, res.TaskState.NextAction)
	assert.Equal(t, taskstate.NextActionRetry, *res.TaskState.NextAction)

	row := env.storedState(t)
	require.NotNil(t, row.BlockedReason)
	assert.Equal(t, ReasonModelReportedBlocked, *row.BlockedReason)
}

func TestComplete_ModelReportedExecutingEndsDone(t *testing.T) {
	env := newTurnEnv(t, answer(`Working on it. {"state":"executing","current_step":1,"total_steps":4,"next_action":"outline"}`))

	res, err := env.svc.Complete(context.Background(), env.request("write the report"))
	require.NoError(t, err)

	require.NotNil(t, res.TaskState)
	assert.Equal(t, taskstate.StateDone, res.TaskState.State)
	assert.Equal(t, 4, res.TaskState.CurrentStep)
	assert.Equal(t, 4, res.TaskState.TotalSteps)
	assert.Nil(t, res.TaskState.NextAction)
	assert.Nil(t, env.storedState(t).BlockedReason)
}

func TestComplete_CancelledBeforeStart(t *testing.T) {
	env := newTurnEnv(t, answer("never sent"))
	req := env.request("hello")
	req.TaskId = "task-early"

	_, err := env.svc.Cancel(context.Background(), "task-early", &dto.CancelTaskRequest{SessionId: env.sessionID.String()})
	require.NoError(t, err)

	res, err := env.svc.Complete(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, dto.TurnStatusCancelled, res.Status)
	assert.Equal(t, ContentCancelled, res.Content)
	assert.Equal(t, 0, env.model.calls())
	require.NotNil(t, res.TaskState)
	assert.Equal(t, taskstate.StateBlocked, res.TaskState.State)
	require.NotNil(t, res.TaskState.NextAction)
	assert.Equal(t, taskstate.NextActionRetry, *res.TaskState.NextAction)

	row := env.storedState(t)
	require.NotNil(t, row.BlockedReason)
	assert.Equal(t, ReasonCancelledByUser, *row.BlockedReason)

	require.Len(t, env.store.Messages, 2)
	assert.Equal(t, entity.MessageStatusCancelled, env.store.Messages[1].Status)

	events := env.recorder.Events()
	last := events[len(events)-1]
	assert.Equal(t, progress.TaskCancelled, last.EventType)
	assert.Nil(t, last.Progress)
}

func TestComplete_CancelledDuringModelCallSkipsTools(t *testing.T) {
	env := newTurnEnv(t)
	req := env.request("edit the plan")
	req.TaskId = "task-mid"
	env.model.replies = []reply{
		func(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Completion, error) {
			_, err := env.tasks.Cancel(ctx, "task-mid", "")
			require.NoError(t, err)
			return &llm.Completion{ToolCalls: []llm.ToolCall{{
				ID:        "call_1",
				Name:      tools.ReadDocument,
				Arguments: fmt.Sprintf(`{"file_id":%q}`, env.plan.Id.String()),
			}}}, nil
		},
	}

	res, err := env.svc.Complete(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, dto.TurnStatusCancelled, res.Status)
	assert.Empty(t, res.ToolResults)
	assert.Equal(t, 1, env.model.calls())
	assert.NotContains(t, env.recorder.Types(), progress.ToolStarted)
	assert.Equal(t, taskstate.StateBlocked, env.storedState(t).State)
}

func TestComplete_RequestContextEndingIsNotUserCancel(t *testing.T) {
	env := newTurnEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.model.replies = []reply{
		func(callCtx context.Context, messages []llm.Message, opts llm.Options) (*llm.Completion, error) {
			cancel()
			return nil, callCtx.Err()
		},
	}

	res, err := env.svc.Complete(ctx, env.request("hi"))
	assert.Nil(t, res)

	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	body, ok := svcErr.Data.(*dto.ChatCompletionResponse)
	require.True(t, ok)
	assert.Equal(t, dto.TurnStatusFailed, body.Status)

	row := env.storedState(t)
	require.NotNil(t, row.BlockedReason)
	assert.Equal(t, ReasonRequestAborted, *row.BlockedReason)
	assert.NotContains(t, env.recorder.Types(), progress.TaskCancelled)
}

func TestComplete_ConflictingTask(t *testing.T) {
	env := newTurnEnv(t, answer("unused"))
	_, err := env.tasks.Begin(context.Background(), env.sessionID.String(), "running-task")
	require.NoError(t, err)

	res, err := env.svc.Complete(context.Background(), env.request("hi"))
	assert.Nil(t, res)

	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, http.StatusConflict, svcErr.Code)
	assert.Equal(t, map[string]string{"task_id": "running-task"}, svcErr.Data)
	assert.Equal(t, 0, env.model.calls())
	assert.Empty(t, env.store.Messages)
}

func TestComplete_ModelFailure(t *testing.T) {
	env := newTurnEnv(t, func(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Completion, error) {
		return nil, errors.New("provider unavailable")
	})

	res, err := env.svc.Complete(context.Background(), env.request("hi"))
	assert.Nil(t, res)

	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, http.StatusBadGateway, svcErr.Code)

	body, ok := svcErr.Data.(*dto.ChatCompletionResponse)
	require.True(t, ok)
	assert.Equal(t, dto.TurnStatusFailed, body.Status)
	assert.Equal(t, ContentFailed, body.Content)

	row := env.storedState(t)
	assert.Equal(t, taskstate.StateBlocked, row.State)
	require.NotNil(t, row.BlockedReason)
	assert.Equal(t, ReasonModelCallFailed, *row.BlockedReason)

	types := env.recorder.Types()
	assert.Equal(t, progress.TaskFailed, types[len(types)-1])
	_, active := env.tasks.ActiveTask(context.Background(), env.sessionID.String())
	assert.False(t, active)
}

func TestComplete_SecondTurnSeesHistory(t *testing.T) {
	env := newTurnEnv(t, answer("first answer"), answer("second answer"))

	_, err := env.svc.Complete(context.Background(), env.request("first question"))
	require.NoError(t, err)
	_, err = env.svc.Complete(context.Background(), env.request("second question"))
	require.NoError(t, err)

	second := env.model.requests[1]
	var contents []string
	for _, m := range second {
		if m.Role != llm.RoleSystem {
			contents = append(contents, m.Content)
		}
	}
	assert.Equal(t, []string{"first question", "first answer", "second question"}, contents)
	assert.Len(t, env.store.Messages, 4)
}

func TestCancel(t *testing.T) {
	env := newTurnEnv(t)

	_, err := env.svc.Cancel(context.Background(), "ghost", &dto.CancelTaskRequest{})
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, http.StatusNotFound, svcErr.Code)

	_, err = env.tasks.Begin(context.Background(), env.sessionID.String(), "live")
	require.NoError(t, err)
	res, err := env.svc.Cancel(context.Background(), "live", &dto.CancelTaskRequest{})
	require.NoError(t, err)
	assert.Equal(t, env.sessionID.String(), res.SessionId)
	assert.Equal(t, progress.StatusCancelling, res.Status)
	assert.True(t, env.tasks.IsCancelled(context.Background(), "live"))
}

func TestInsertAfterSystem(t *testing.T) {
	in := []llm.Message{
		{Role: llm.RoleSystem, Content: "policy"},
		{Role: llm.RoleSystem, Content: "summary"},
		{Role: llm.RoleUser, Content: "hi"},
	}
	out := insertAfterSystem(in, llm.Message{Role: llm.RoleSystem, Content: "manifest"})
	require.Len(t, out, 4)
	assert.Equal(t, "manifest", out[2].Content)
	assert.Equal(t, "hi", out[3].Content)
	assert.Len(t, in, 3)
}
