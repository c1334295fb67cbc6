package taskregistry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"knowledge-agent-be/pkg/agent/progress"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestMemoryRegistry_ConcurrentBeginOneWins(t *testing.T) {
	r := NewMemoryRegistry(nil)

	const n = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   []string
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			taskID := string(rune('a' + i))
			_, err := r.Begin(context.Background(), "s1", taskID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, taskID)
				return
			}
			var ce *ConflictError
			if assert.True(t, errors.As(err, &ce)) {
				assert.Equal(t, "s1", ce.SessionID)
			}
			assert.ErrorIs(t, err, ErrTaskConflict)
			conflicts++
		}(i)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, n-1, conflicts)

	active, ok := r.ActiveTask(context.Background(), "s1")
	require.True(t, ok)
	assert.Equal(t, winners[0], active)
	r.End("s1", winners[0])
}

func TestMemoryRegistry_BeginSameTaskConflicts(t *testing.T) {
	r := NewMemoryRegistry(nil)
	turnCtx, err := r.Begin(context.Background(), "s1", "t1")
	require.NoError(t, err)

	_, err = r.Begin(context.Background(), "s1", "t1")
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "t1", ce.ActiveTaskID)

	// the running turn is untouched by the rejected Begin
	assert.NoError(t, turnCtx.Err())
	assert.NoError(t, r.Check(turnCtx, "t1"))
	active, ok := r.ActiveTask(context.Background(), "s1")
	require.True(t, ok)
	assert.Equal(t, "t1", active)

	r.End("s1", "t1")
	assert.Error(t, turnCtx.Err())
}

func TestMemoryRegistry_TaskIDCannotSpanSessions(t *testing.T) {
	r := NewMemoryRegistry(nil)
	_, err := r.Begin(context.Background(), "s1", "t1")
	require.NoError(t, err)

	_, err = r.Begin(context.Background(), "s2", "t1")
	assert.ErrorIs(t, err, ErrTaskConflict)

	r.End("s2", "t1")
	_, ok := r.ActiveTask(context.Background(), "s1")
	assert.True(t, ok)
	r.End("s1", "t1")
}

func TestMemoryRegistry_UnclaimedCancelFlagsExpire(t *testing.T) {
	r := NewMemoryRegistry(nil)
	r.flagTTL = time.Millisecond

	_, err := r.Cancel(context.Background(), "never-started", "s1")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	assert.False(t, r.IsCancelled(context.Background(), "never-started"))

	_, err = r.Cancel(context.Background(), "other", "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, r.flags.ItemCount())
}

func TestMemoryRegistry_SessionsAreIndependent(t *testing.T) {
	r := NewMemoryRegistry(nil)
	_, err := r.Begin(context.Background(), "s1", "t1")
	require.NoError(t, err)
	_, err = r.Begin(context.Background(), "s2", "t2")
	require.NoError(t, err)
	r.End("s1", "t1")
	r.End("s2", "t2")
}

func TestMemoryRegistry_CancelStopsTurnContext(t *testing.T) {
	rec := &progress.Recorder{}
	r := NewMemoryRegistry(rec)

	turnCtx, err := r.Begin(context.Background(), "s1", "t1")
	require.NoError(t, err)
	require.NoError(t, r.Check(turnCtx, "t1"))

	sessionID, err := r.Cancel(context.Background(), "t1", "")
	require.NoError(t, err)
	assert.Equal(t, "s1", sessionID)

	<-turnCtx.Done()
	assert.True(t, r.IsCancelled(context.Background(), "t1"))
	assert.ErrorIs(t, r.Check(context.Background(), "t1"), ErrTaskCancelled)

	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, progress.CancelRequested, events[0].EventType)
	assert.Equal(t, progress.StatusCancelling, events[0].Status)
	assert.Equal(t, "s1", events[0].SessionID)
	assert.Nil(t, events[0].Progress)

	r.End("s1", "t1")
}

func TestMemoryRegistry_CancelBeforeBeginUsesFallback(t *testing.T) {
	rec := &progress.Recorder{}
	r := NewMemoryRegistry(rec)

	sessionID, err := r.Cancel(context.Background(), "t1", "s9")
	require.NoError(t, err)
	assert.Equal(t, "s9", sessionID)

	// a flag set before Begin still cancels the turn
	turnCtx, err := r.Begin(context.Background(), "s9", "t1")
	require.NoError(t, err)
	assert.Error(t, turnCtx.Err())
	assert.ErrorIs(t, r.Check(turnCtx, "t1"), ErrTaskCancelled)
	r.End("s9", "t1")
}

func TestMemoryRegistry_CancelUnknownWithoutFallback(t *testing.T) {
	rec := &progress.Recorder{}
	r := NewMemoryRegistry(rec)

	_, err := r.Cancel(context.Background(), "ghost", "")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.False(t, r.IsCancelled(context.Background(), "ghost"))
	assert.Empty(t, rec.Events())
}

func TestMemoryRegistry_CheckHonoursParentContext(t *testing.T) {
	r := NewMemoryRegistry(nil)
	parent, cancel := context.WithCancel(context.Background())
	turnCtx, err := r.Begin(parent, "s1", "t1")
	require.NoError(t, err)

	cancel()
	assert.ErrorIs(t, r.Check(turnCtx, "t1"), ErrTaskCancelled)
	assert.False(t, r.IsCancelled(context.Background(), "t1"))
	r.End("s1", "t1")
}

func TestMemoryRegistry_EndClearsState(t *testing.T) {
	r := NewMemoryRegistry(nil)
	turnCtx, err := r.Begin(context.Background(), "s1", "t1")
	require.NoError(t, err)
	_, err = r.Cancel(context.Background(), "t1", "")
	require.NoError(t, err)

	r.End("s1", "t1")

	assert.Error(t, turnCtx.Err())
	_, ok := r.ActiveTask(context.Background(), "s1")
	assert.False(t, ok)
	assert.False(t, r.IsCancelled(context.Background(), "t1"))

	_, err = r.Begin(context.Background(), "s1", "t2")
	require.NoError(t, err)
	r.End("s1", "t2")
}

func TestMemoryRegistry_EndOfStaleTaskKeepsNewOwner(t *testing.T) {
	r := NewMemoryRegistry(nil)
	_, err := r.Begin(context.Background(), "s1", "t1")
	require.NoError(t, err)
	r.End("s1", "t1")
	_, err = r.Begin(context.Background(), "s1", "t2")
	require.NoError(t, err)

	r.End("s1", "t1")

	active, ok := r.ActiveTask(context.Background(), "s1")
	require.True(t, ok)
	assert.Equal(t, "t2", active)
	r.End("s1", "t2")
}
