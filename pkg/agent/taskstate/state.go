package taskstate

import (
	"context"
	"errors"
	"fmt"

	"knowledge-agent-be/internal/entity"
	"knowledge-agent-be/internal/repository/contract"

	"github.com/google/uuid"
)

const (
	StatePlanning  = "planning"
	StateExecuting = "executing"
	StateBlocked   = "blocked"
	StateDone      = "done"

	// NextActionRetry is reported for blocked tasks that did not name a next action.
	NextActionRetry = "retry"
)

var ErrInvalidState = errors.New("invalid task state")

func ValidState(s string) bool {
	switch s {
	case StatePlanning, StateExecuting, StateBlocked, StateDone:
		return true
	}
	return false
}

// Snapshot is the externally visible task state.
type Snapshot struct {
	TaskID      string  `json:"task_id"`
	State       string  `json:"state"`
	CurrentStep int     `json:"current_step"`
	TotalSteps  int     `json:"total_steps"`
	NextAction  *string `json:"next_action"`
}

func DefaultSnapshot(taskID string) Snapshot {
	return Snapshot{TaskID: taskID, State: StatePlanning}
}

type Update struct {
	SessionID     uuid.UUID
	TaskID        string
	State         string
	Goal          string
	CurrentStep   int
	TotalSteps    int
	NextAction    *string
	BlockedReason *string
	LastMessageID *uuid.UUID
	// Plan and Artifacts keep their stored values when empty.
	Plan      map[string]interface{}
	Artifacts map[string]interface{}
}

// Clamp enforces current >= 0 and total >= current.
func Clamp(current, total int) (int, int) {
	if current < 0 {
		current = 0
	}
	if total < current {
		total = current
	}
	return current, total
}

// Machine persists the latest task state per session. A disabled machine only
// computes the snapshot.
type Machine struct {
	enabled bool
}

func NewMachine(enabled bool) *Machine {
	return &Machine{enabled: enabled}
}

func (m *Machine) Enabled() bool {
	return m.enabled
}

func (m *Machine) Upsert(ctx context.Context, repo contract.SessionTaskStateRepository, u Update) (*Snapshot, error) {
	if !ValidState(u.State) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidState, u.State)
	}
	current, total := Clamp(u.CurrentStep, u.TotalSteps)

	nextAction := u.NextAction
	if nextAction == nil && u.State == StateBlocked {
		retry := NextActionRetry
		nextAction = &retry
	}

	snap := &Snapshot{
		TaskID:      u.TaskID,
		State:       u.State,
		CurrentStep: current,
		TotalSteps:  total,
		NextAction:  nextAction,
	}
	if !m.enabled {
		return snap, nil
	}

	existing, err := repo.FindByChatSessionID(ctx, u.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load task state: %w", err)
	}

	row := &entity.SessionTaskState{
		ChatSessionId: u.SessionID,
		TaskId:        u.TaskID,
		State:         u.State,
		Goal:          u.Goal,
		CurrentStep:   current,
		TotalSteps:    total,
		Plan:          u.Plan,
		Artifacts:     u.Artifacts,
		BlockedReason: u.BlockedReason,
		NextAction:    nextAction,
		LastMessageId: u.LastMessageID,
	}
	if existing != nil {
		if len(row.Plan) == 0 {
			row.Plan = existing.Plan
		}
		if len(row.Artifacts) == 0 {
			row.Artifacts = existing.Artifacts
		}
	}
	if row.Plan == nil {
		row.Plan = map[string]interface{}{}
	}
	if row.Artifacts == nil {
		row.Artifacts = map[string]interface{}{}
	}

	if err := repo.Upsert(ctx, row); err != nil {
		return nil, fmt.Errorf("upsert task state: %w", err)
	}
	return snap, nil
}

