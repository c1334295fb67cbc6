package compaction

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"knowledge-agent-be/internal/entity"
	"knowledge-agent-be/internal/repository/contract"
	"knowledge-agent-be/pkg/agent/budget"
	"knowledge-agent-be/pkg/llm"

	"github.com/google/uuid"
)

type Mode string

const (
	ModeAuto  Mode = "auto"
	ModeForce Mode = "force"
	ModeOff   Mode = "off"
)

const (
	ReasonForceMode      = "force_mode"
	ReasonTrigger        = "trigger_threshold"
	ReasonForceThreshold = "force_threshold"

	recentTurns      = 6
	aggressiveTail   = 4
	minTail          = 2
	summaryTurns     = 30
	summaryLineChars = 300
	openLoopCount    = 5
	openLoopChars    = 180
	sequenceAttempts = 2
	emptySummary     = "Compacted conversation history: (empty)"
	summaryHeader    = "Compacted conversation history:\n"
)

// ParseMode lowercases s and defaults to auto.
func ParseMode(s string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeForce:
		return ModeForce
	case ModeOff:
		return ModeOff
	}
	return ModeAuto
}

type Config struct {
	Enabled       bool
	TriggerTokens int
	ForceTokens   int
	TargetTokens  int
}

type Input struct {
	SessionID uuid.UUID
	// History is the stored conversation in chronological order.
	History []*entity.ChatMessage
	// PreCompact is the prompt as it would be sent without compaction.
	PreCompact []llm.Message
	Mode       string
}

type Meta struct {
	Triggered    bool   `json:"triggered"`
	Reason       string `json:"reason,omitempty"`
	BeforeTokens *int   `json:"before_tokens,omitempty"`
	AfterTokens  *int   `json:"after_tokens,omitempty"`
	CompactionID string `json:"compaction_id,omitempty"`
}

type Output struct {
	Messages      []llm.Message
	Meta          Meta
	LatestSummary *string
}

type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// MaybeCompact bounds the prompt history. When triggered it replaces all but the
// last six conversational turns with one summary block and appends exactly one
// compaction record.
func (e *Engine) MaybeCompact(ctx context.Context, repo contract.ConversationCompactionRepository, in Input) (*Output, error) {
	latest, err := repo.FindLatest(ctx, in.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load latest compaction: %w", err)
	}
	var latestSummary *string
	if latest != nil {
		s := latest.SummaryText
		latestSummary = &s
	}

	mode := ParseMode(in.Mode)
	if mode == ModeOff || !e.cfg.Enabled {
		return &Output{Messages: in.PreCompact, Meta: Meta{}, LatestSummary: latestSummary}, nil
	}

	before := budget.EstimateMessagesTokens(in.PreCompact)
	force := mode == ModeForce
	if before < e.cfg.TriggerTokens && !force {
		return &Output{Messages: in.PreCompact, Meta: Meta{BeforeTokens: &before}, LatestSummary: latestSummary}, nil
	}

	var conversational []*entity.ChatMessage
	for _, msg := range in.History {
		if msg.Role == llm.RoleUser || msg.Role == llm.RoleAssistant {
			conversational = append(conversational, msg)
		}
	}
	if len(conversational) <= recentTurns {
		return &Output{Messages: in.PreCompact, Meta: Meta{BeforeTokens: &before}, LatestSummary: latestSummary}, nil
	}

	older := conversational[:len(conversational)-recentTurns]
	recent := conversational[len(conversational)-recentTurns:]
	summary := summarize(older)
	openLoops := collectOpenLoops(older)

	reason := ReasonTrigger
	if force {
		reason = ReasonForceMode
	}
	if before >= e.cfg.ForceTokens {
		reason = ReasonForceThreshold
	}

	for attempt := 0; attempt < sequenceAttempts; attempt++ {
		lastSeq, err := repo.MaxSequence(ctx, in.SessionID)
		if err != nil {
			return nil, fmt.Errorf("load compaction sequence: %w", err)
		}

		messages := e.assemble(in.PreCompact, block(lastSeq+1, summary, openLoops), recent)
		after := budget.EstimateMessagesTokens(messages)
		if force || before >= e.cfg.ForceTokens || after > e.cfg.TargetTokens {
			messages, after = e.aggressive(messages, recent)
		}

		record := &entity.ConversationCompaction{
			Id:            uuid.New(),
			ChatSessionId: in.SessionID,
			Sequence:      lastSeq + 1,
			TriggerReason: reason,
			BeforeTokens:  before,
			AfterTokens:   after,
			SummaryText:   summary,
			KeyFacts:      map[string]interface{}{"message_count": len(older)},
			OpenLoops:     openLoops,
		}
		if len(older) > 0 {
			from, to := older[0].CreatedAt, older[len(older)-1].CreatedAt
			record.SourceFrom, record.SourceTo = &from, &to
		}

		err = repo.Create(ctx, record)
		if errors.Is(err, contract.ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("persist compaction: %w", err)
		}

		return &Output{
			Messages: messages,
			Meta: Meta{
				Triggered:    true,
				Reason:       reason,
				BeforeTokens: &before,
				AfterTokens:  &after,
				CompactionID: record.Id.String(),
			},
			LatestSummary: &summary,
		}, nil
	}
	return nil, fmt.Errorf("persist compaction: %w", contract.ErrDuplicate)
}

// assemble keeps the leading system messages, then the block, then the recent turns.
func (e *Engine) assemble(pre []llm.Message, blockText string, recent []*entity.ChatMessage) []llm.Message {
	var out []llm.Message
	for _, msg := range pre {
		if msg.Role != llm.RoleSystem {
			break
		}
		out = append(out, msg)
	}
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: blockText})
	return append(out, toMessages(recent)...)
}

// aggressive keeps every system message and at most four recent turns, then drops
// the oldest turns while over target and more than two remain.
func (e *Engine) aggressive(messages []llm.Message, recent []*entity.ChatMessage) ([]llm.Message, int) {
	target := e.cfg.TargetTokens
	if target < 1 {
		target = 1
	}

	var system []llm.Message
	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			system = append(system, msg)
		}
	}
	tail := recent
	if len(tail) > aggressiveTail {
		tail = tail[len(tail)-aggressiveTail:]
	}

	build := func() []llm.Message {
		out := make([]llm.Message, 0, len(system)+len(tail))
		out = append(out, system...)
		return append(out, toMessages(tail)...)
	}

	out := build()
	after := budget.EstimateMessagesTokens(out)
	for after > target && len(tail) > minTail {
		tail = tail[1:]
		out = build()
		after = budget.EstimateMessagesTokens(out)
	}
	return out, after
}

func summarize(older []*entity.ChatMessage) string {
	window := older
	if len(window) > summaryTurns {
		window = window[len(window)-summaryTurns:]
	}
	if len(window) == 0 {
		return emptySummary
	}
	lines := make([]string, 0, len(window))
	for _, msg := range window {
		prefix := "ASSISTANT"
		if msg.Role == llm.RoleUser {
			prefix = "USER"
		}
		lines = append(lines, prefix+": "+budget.ShortText(msg.Content, summaryLineChars))
	}
	return summaryHeader + strings.Join(lines, "\n")
}

func collectOpenLoops(older []*entity.ChatMessage) []string {
	var users []string
	for _, msg := range older {
		if msg.Role == llm.RoleUser {
			users = append(users, msg.Content)
		}
	}
	if len(users) > openLoopCount {
		users = users[len(users)-openLoopCount:]
	}
	loops := make([]string, 0, len(users))
	for _, content := range users {
		loops = append(loops, budget.ShortText(content, openLoopChars))
	}
	return loops
}

func block(sequence int, summary string, openLoops []string) string {
	text := fmt.Sprintf("[Compaction Block #%d]\n%s", sequence, summary)
	if len(openLoops) > 0 {
		text += "\n\nOpen loops:\n- " + strings.Join(openLoops, "\n- ")
	}
	return text
}

func toMessages(msgs []*entity.ChatMessage) []llm.Message {
	out := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		out[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	return out
}
