package taskstate

import (
	"context"
	"errors"
	"testing"

	"knowledge-agent-be/internal/repository/repotest"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestClamp(t *testing.T) {
	tests := []struct {
		current, total, wantCurrent, wantTotal int
	}{
		{0, 0, 0, 0},
		{-1, 3, 0, 3},
		{5, 2, 5, 5},
		{2, 4, 2, 4},
	}
	for _, tt := range tests {
		c, tot := Clamp(tt.current, tt.total)
		assert.Equal(t, tt.wantCurrent, c)
		assert.Equal(t, tt.wantTotal, tot)
	}
}

func TestMachine_DisabledComputesOnly(t *testing.T) {
	store := repotest.NewStore()
	m := NewMachine(false)

	snap, err := m.Upsert(context.Background(), store.UnitOfWork().SessionTaskStateRepository(), Update{
		SessionID: uuid.New(), TaskID: "t1", State: StateBlocked, CurrentStep: 3, TotalSteps: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, snap.TotalSteps)
	require.NotNil(t, snap.NextAction)
	assert.Equal(t, NextActionRetry, *snap.NextAction)
	assert.Empty(t, store.TaskStates)
}

func TestMachine_UpsertKeepsPlanAndArtifacts(t *testing.T) {
	store := repotest.NewStore()
	repo := store.UnitOfWork().SessionTaskStateRepository()
	m := NewMachine(true)
	sessionID := uuid.New()
	ctx := context.Background()

	_, err := m.Upsert(ctx, repo, Update{
		SessionID: sessionID, TaskID: "t1", State: StatePlanning, Goal: "summarize",
		Plan:          map[string]interface{}{"steps": []interface{}{"read", "write"}},
		BlockedReason: strPtr("old"),
	})
	require.NoError(t, err)

	msgID := uuid.New()
	snap, err := m.Upsert(ctx, repo, Update{
		SessionID: sessionID, TaskID: "t1", State: StateDone, Goal: "summarize",
		CurrentStep: 2, TotalSteps: 2, LastMessageID: &msgID,
	})
	require.NoError(t, err)
	assert.Equal(t, StateDone, snap.State)
	assert.Nil(t, snap.NextAction)

	row := store.TaskStates[sessionID]
	require.NotNil(t, row)
	assert.Equal(t, StateDone, row.State)
	assert.Equal(t, []interface{}{"read", "write"}, row.Plan["steps"])
	assert.NotNil(t, row.Artifacts)
	assert.Nil(t, row.BlockedReason, "blocked reason is overwritten")
	assert.Equal(t, &msgID, row.LastMessageId)

	loaded, err := repo.FindByChatSessionID(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, "t1", loaded.TaskId)
	assert.Equal(t, 2, loaded.CurrentStep)
}

func TestMachine_BlockedDefaultsNextAction(t *testing.T) {
	store := repotest.NewStore()
	m := NewMachine(true)
	sessionID := uuid.New()

	snap, err := m.Upsert(context.Background(), store.UnitOfWork().SessionTaskStateRepository(), Update{
		SessionID: sessionID, TaskID: "t1", State: StateBlocked, BlockedReason: strPtr("cancelled_by_user"),
	})
	require.NoError(t, err)
	assert.Equal(t, NextActionRetry, *snap.NextAction)
	assert.Equal(t, "cancelled_by_user", *store.TaskStates[sessionID].BlockedReason)
}

func TestMachine_InvalidState(t *testing.T) {
	m := NewMachine(true)
	_, err := m.Upsert(context.Background(), repotest.NewStore().UnitOfWork().SessionTaskStateRepository(), Update{State: "paused"})
	assert.True(t, errors.Is(err, ErrInvalidState))
}
