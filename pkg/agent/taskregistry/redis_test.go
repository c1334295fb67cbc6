package taskregistry

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRedis connects to REDIS_TEST_ADDR or skips.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisRegistry_Lifecycle(t *testing.T) {
	rdb := newTestRedis(t)
	r := NewRedisRegistry(rdb, nil, time.Minute, nil)
	ctx := context.Background()
	sessionID, taskID := uuid.NewString(), uuid.NewString()

	turnCtx, err := r.Begin(ctx, sessionID, taskID)
	require.NoError(t, err)

	_, err = r.Begin(ctx, sessionID, uuid.NewString())
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, taskID, ce.ActiveTaskID)

	got, err := r.Cancel(ctx, taskID, "")
	require.NoError(t, err)
	assert.Equal(t, sessionID, got)
	assert.Error(t, turnCtx.Err())
	assert.ErrorIs(t, r.Check(ctx, taskID), ErrTaskCancelled)

	r.End(sessionID, taskID)
	_, ok := r.ActiveTask(ctx, sessionID)
	assert.False(t, ok)
	assert.False(t, r.IsCancelled(ctx, taskID))
}

func TestRedisRegistry_CancelUnknown(t *testing.T) {
	rdb := newTestRedis(t)
	r := NewRedisRegistry(rdb, nil, time.Minute, nil)

	_, err := r.Cancel(context.Background(), uuid.NewString(), "")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestRedisRegistry_BeginSameTaskConflicts(t *testing.T) {
	rdb := newTestRedis(t)
	r := NewRedisRegistry(rdb, nil, time.Minute, nil)
	ctx := context.Background()
	sessionID, taskID := uuid.NewString(), uuid.NewString()

	turnCtx, err := r.Begin(ctx, sessionID, taskID)
	require.NoError(t, err)

	_, err = r.Begin(ctx, sessionID, taskID)
	assert.ErrorIs(t, err, ErrTaskConflict)
	assert.NoError(t, turnCtx.Err())

	r.End(sessionID, taskID)
}

type warnRecorder struct {
	mu    sync.Mutex
	warns []string
}

func (l *warnRecorder) Debug(string, string, map[string]interface{}) {}
func (l *warnRecorder) Info(string, string, map[string]interface{})  {}
func (l *warnRecorder) Error(string, string, map[string]interface{}) {}
func (l *warnRecorder) Sync() error                                  { return nil }

func (l *warnRecorder) Warn(module, message string, details map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, message)
}

func TestRedisRegistry_EndLogsFailures(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 100 * time.Millisecond,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	log := &warnRecorder{}
	r := NewRedisRegistry(rdb, nil, time.Minute, log)

	r.End("s1", "t1")

	assert.Equal(t, []string{"Failed to release session", "Failed to clear task keys"}, log.warns)
}
