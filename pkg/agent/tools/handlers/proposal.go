package handlers

import (
	"context"
	"fmt"
	"strings"

	"knowledge-agent-be/internal/entity"
	"knowledge-agent-be/internal/pkg/logger"
	"knowledge-agent-be/internal/repository/specification"
	"knowledge-agent-be/pkg/agent/tools"

	"github.com/google/uuid"
	"github.com/sergi/go-diff/diffmatchpatch"
)

const (
	EventFileUpdateProposed = "file_update_proposed"
	authorAgent             = "agent"
)

// Proposer records edits as pending proposals instead of writing files.
// Approval happens outside the agent.
type Proposer struct {
	broadcaster tools.SessionBroadcaster
	logger      logger.ILogger
}

func NewProposer(broadcaster tools.SessionBroadcaster, log logger.ILogger) *Proposer {
	return &Proposer{broadcaster: broadcaster, logger: log}
}

// BaseContent is the text an edit applies to: the newest pending proposal of
// this task for the file, or the stored file content.
func (p *Proposer) BaseContent(ctx context.Context, ec *tools.ExecContext, file *entity.WorkspaceFile) (string, error) {
	pending, err := ec.UnitOfWork.EditProposalRepository().FindAll(ctx,
		specification.ByFileID{FileID: file.Id},
		specification.ByTaskID{TaskID: ec.TaskID},
		specification.OrderBy{Field: "created_at", Desc: true},
		specification.Pagination{Limit: 1},
	)
	if err != nil {
		return "", fmt.Errorf("load pending proposals: %w", err)
	}
	if len(pending) > 0 {
		return pending[0].ProposedContent, nil
	}
	return file.Content, nil
}

type lineStats struct {
	added   int
	removed int
}

// Propose persists the change. The session is notified once the turn commits.
func (p *Proposer) Propose(ctx context.Context, ec *tools.ExecContext, toolName string, file *entity.WorkspaceFile, summary, before, after string) (*entity.EditProposal, lineStats, error) {
	patch, stats := makePatch(before, after)
	proposal := &entity.EditProposal{
		Id:              uuid.New(),
		FileId:          file.Id,
		ChatSessionId:   ec.SessionID,
		TaskId:          ec.TaskID,
		ToolName:        toolName,
		Summary:         summary,
		BaseContent:     before,
		ProposedContent: after,
		Patch:           patch,
		Status:          entity.EditProposalPending,
		Author:          authorAgent,
	}
	if err := ec.UnitOfWork.EditProposalRepository().Create(ctx, proposal); err != nil {
		return nil, stats, fmt.Errorf("save edit proposal: %w", err)
	}

	if p.broadcaster != nil {
		msg := map[string]interface{}{
			"type": EventFileUpdateProposed,
			"data": map[string]interface{}{
				"proposal_id": proposal.Id.String(),
				"file_id":     file.Id.String(),
				"file_name":   file.Name,
				"task_id":     ec.TaskID,
				"tool":        toolName,
				"summary":     summary,
				"patch":       patch,
				"content":     after,
				"author":      authorAgent,
				"status":      proposal.Status,
			},
		}
		sessionID := ec.SessionID.String()
		ec.OnCommit(ctx, func(ctx context.Context) {
			if err := p.broadcaster.BroadcastToSession(ctx, sessionID, msg); err != nil && p.logger != nil {
				p.logger.Warn("TOOLS", "Failed to broadcast edit proposal", map[string]interface{}{
					"proposal_id": proposal.Id.String(),
					"error":       err.Error(),
				})
			}
		})
	}
	return proposal, stats, nil
}

// makePatch builds a line-level patch in diff-match-patch text form.
func makePatch(before, after string) (string, lineStats) {
	dmp := diffmatchpatch.New()
	beforeChars, afterChars, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(beforeChars, afterChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var stats lineStats
	for _, d := range diffs {
		n := strings.Count(d.Text, "\n")
		if !strings.HasSuffix(d.Text, "\n") && d.Text != "" {
			n++
		}
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			stats.added += n
		case diffmatchpatch.DiffDelete:
			stats.removed += n
		}
	}
	return dmp.PatchToText(dmp.PatchMake(before, diffs)), stats
}

func proposalData(file *entity.WorkspaceFile, proposal *entity.EditProposal, stats lineStats) map[string]interface{} {
	return map[string]interface{}{
		"file_id":       file.Id.String(),
		"file_name":     file.Name,
		"proposal_id":   proposal.Id.String(),
		"version_id":    proposal.Id.String(),
		"status":        proposal.Status,
		"summary":       proposal.Summary,
		"lines_added":   stats.added,
		"lines_removed": stats.removed,
	}
}
