package mapper

import (
	"time"

	"knowledge-agent-be/internal/entity"
	"knowledge-agent-be/internal/model"

	"gorm.io/datatypes"
)

type AgentMapper struct{}

func NewAgentMapper() *AgentMapper {
	return &AgentMapper{}
}

func (m *AgentMapper) CompactionToEntity(c *model.ConversationCompaction) *entity.ConversationCompaction {
	if c == nil {
		return nil
	}

	var openLoops []string
	if items, ok := c.OpenLoops["items"].([]interface{}); ok {
		for _, item := range items {
			if s, ok := item.(string); ok {
				openLoops = append(openLoops, s)
			}
		}
	}

	return &entity.ConversationCompaction{
		Id:            c.Id,
		ChatSessionId: c.ChatSessionId,
		Sequence:      c.Sequence,
		TriggerReason: c.TriggerReason,
		BeforeTokens:  c.BeforeTokens,
		AfterTokens:   c.AfterTokens,
		SummaryText:   c.SummaryText,
		KeyFacts:      map[string]interface{}(c.KeyFacts),
		OpenLoops:     openLoops,
		SourceFrom:    c.SourceFrom,
		SourceTo:      c.SourceTo,
		CreatedAt:     c.CreatedAt,
	}
}

func (m *AgentMapper) CompactionToModel(c *entity.ConversationCompaction) *model.ConversationCompaction {
	if c == nil {
		return nil
	}

	items := make([]interface{}, len(c.OpenLoops))
	for i, s := range c.OpenLoops {
		items[i] = s
	}

	return &model.ConversationCompaction{
		Id:            c.Id,
		ChatSessionId: c.ChatSessionId,
		Sequence:      c.Sequence,
		TriggerReason: c.TriggerReason,
		BeforeTokens:  c.BeforeTokens,
		AfterTokens:   c.AfterTokens,
		SummaryText:   c.SummaryText,
		KeyFacts:      datatypes.JSONMap(c.KeyFacts),
		OpenLoops:     datatypes.JSONMap{"items": items},
		SourceFrom:    c.SourceFrom,
		SourceTo:      c.SourceTo,
		CreatedAt:     c.CreatedAt,
	}
}

func (m *AgentMapper) TaskStateToEntity(s *model.SessionTaskState) *entity.SessionTaskState {
	if s == nil {
		return nil
	}

	var updatedAt *time.Time
	if !s.UpdatedAt.IsZero() {
		t := s.UpdatedAt
		updatedAt = &t
	}

	return &entity.SessionTaskState{
		ChatSessionId: s.ChatSessionId,
		TaskId:        s.TaskId,
		State:         s.State,
		Goal:          s.Goal,
		CurrentStep:   s.CurrentStep,
		TotalSteps:    s.TotalSteps,
		Plan:          map[string]interface{}(s.Plan),
		Artifacts:     map[string]interface{}(s.Artifacts),
		BlockedReason: s.BlockedReason,
		NextAction:    s.NextAction,
		LastMessageId: s.LastMessageId,
		UpdatedAt:     updatedAt,
	}
}

func (m *AgentMapper) TaskStateToModel(s *entity.SessionTaskState) *model.SessionTaskState {
	if s == nil {
		return nil
	}
	return &model.SessionTaskState{
		ChatSessionId: s.ChatSessionId,
		TaskId:        s.TaskId,
		State:         s.State,
		Goal:          s.Goal,
		CurrentStep:   s.CurrentStep,
		TotalSteps:    s.TotalSteps,
		Plan:          datatypes.JSONMap(s.Plan),
		Artifacts:     datatypes.JSONMap(s.Artifacts),
		BlockedReason: s.BlockedReason,
		NextAction:    s.NextAction,
		LastMessageId: s.LastMessageId,
	}
}

func (m *AgentMapper) EditProposalToEntity(p *model.EditProposal) *entity.EditProposal {
	if p == nil {
		return nil
	}
	return &entity.EditProposal{
		Id:              p.Id,
		FileId:          p.FileId,
		ChatSessionId:   p.ChatSessionId,
		TaskId:          p.TaskId,
		ToolName:        p.ToolName,
		Summary:         p.Summary,
		BaseContent:     p.BaseContent,
		ProposedContent: p.ProposedContent,
		Patch:           p.Patch,
		Status:          p.Status,
		Author:          p.Author,
		CreatedAt:       p.CreatedAt,
	}
}

func (m *AgentMapper) EditProposalToModel(p *entity.EditProposal) *model.EditProposal {
	if p == nil {
		return nil
	}
	return &model.EditProposal{
		Id:              p.Id,
		FileId:          p.FileId,
		ChatSessionId:   p.ChatSessionId,
		TaskId:          p.TaskId,
		ToolName:        p.ToolName,
		Summary:         p.Summary,
		BaseContent:     p.BaseContent,
		ProposedContent: p.ProposedContent,
		Patch:           p.Patch,
		Status:          p.Status,
		Author:          p.Author,
		CreatedAt:       p.CreatedAt,
	}
}
