package taskregistry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"knowledge-agent-be/internal/pkg/logger"
	"knowledge-agent-be/pkg/agent/progress"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "agent:task:session:"
	ownerKeyPrefix   = "agent:task:owner:"
	cancelKeyPrefix  = "agent:task:cancel:"

	// DefaultTaskTTL bounds how long a crashed instance can hold a session.
	DefaultTaskTTL = 30 * time.Minute
	endTimeout     = 5 * time.Second
)

// releaseScript deletes the session key only while it still names the task.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisRegistry shares task ownership across instances. Cancel funcs stay
// local; remote turns observe the cancel key at their next checkpoint.
type RedisRegistry struct {
	rdb    *redis.Client
	ttl    time.Duration
	sink   progress.Sink
	logger logger.ILogger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewRedisRegistry(rdb *redis.Client, sink progress.Sink, ttl time.Duration, log logger.ILogger) *RedisRegistry {
	if ttl <= 0 {
		ttl = DefaultTaskTTL
	}
	return &RedisRegistry{
		rdb:     rdb,
		ttl:     ttl,
		sink:    sink,
		logger:  log,
		cancels: map[string]context.CancelFunc{},
	}
}

// Begin fails with *ConflictError while any task, the same id included, holds the session.
func (r *RedisRegistry) Begin(ctx context.Context, sessionID, taskID string) (context.Context, error) {
	sessionKey := sessionKeyPrefix + sessionID
	ok, err := r.rdb.SetNX(ctx, sessionKey, taskID, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("register task: %w", err)
	}
	if !ok {
		active, err := r.rdb.Get(ctx, sessionKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("read active task: %w", err)
		}
		return nil, &ConflictError{SessionID: sessionID, ActiveTaskID: active}
	}
	if err := r.rdb.Set(ctx, ownerKeyPrefix+taskID, sessionID, r.ttl).Err(); err != nil {
		r.release(context.WithoutCancel(ctx), sessionID, taskID)
		return nil, fmt.Errorf("register task owner: %w", err)
	}

	turnCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancels[taskID] = cancel
	r.mu.Unlock()

	if r.IsCancelled(ctx, taskID) {
		cancel()
	}
	return turnCtx, nil
}

func (r *RedisRegistry) End(sessionID, taskID string) {
	ctx, cancel := context.WithTimeout(context.Background(), endTimeout)
	defer cancel()

	r.release(ctx, sessionID, taskID)
	if err := r.rdb.Del(ctx, ownerKeyPrefix+taskID, cancelKeyPrefix+taskID).Err(); err != nil {
		r.warn("Failed to clear task keys", sessionID, taskID, err)
	}

	r.mu.Lock()
	if c, ok := r.cancels[taskID]; ok {
		c()
		delete(r.cancels, taskID)
	}
	r.mu.Unlock()
}

func (r *RedisRegistry) release(ctx context.Context, sessionID, taskID string) {
	if err := releaseScript.Run(ctx, r.rdb, []string{sessionKeyPrefix + sessionID}, taskID).Err(); err != nil {
		r.warn("Failed to release session", sessionID, taskID, err)
	}
}

func (r *RedisRegistry) warn(msg, sessionID, taskID string, err error) {
	if r.logger == nil {
		return
	}
	r.logger.Warn("TASK_REGISTRY", msg, map[string]interface{}{
		"session_id": sessionID,
		"task_id":    taskID,
		"error":      err.Error(),
	})
}

func (r *RedisRegistry) Cancel(ctx context.Context, taskID, fallbackSessionID string) (string, error) {
	sessionID, err := r.rdb.Get(ctx, ownerKeyPrefix+taskID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("resolve task owner: %w", err)
	}
	if sessionID == "" {
		sessionID = fallbackSessionID
	}
	if sessionID == "" {
		return "", ErrTaskNotFound
	}

	if err := r.rdb.Set(ctx, cancelKeyPrefix+taskID, "1", r.ttl).Err(); err != nil {
		return "", fmt.Errorf("flag cancellation: %w", err)
	}
	r.mu.Lock()
	if c, ok := r.cancels[taskID]; ok {
		c()
	}
	r.mu.Unlock()

	publishCancelRequested(ctx, r.sink, sessionID, taskID)
	return sessionID, nil
}

// IsCancelled treats Redis errors as not cancelled.
func (r *RedisRegistry) IsCancelled(ctx context.Context, taskID string) bool {
	n, err := r.rdb.Exists(context.WithoutCancel(ctx), cancelKeyPrefix+taskID).Result()
	return err == nil && n > 0
}

func (r *RedisRegistry) Check(ctx context.Context, taskID string) error {
	if ctx.Err() != nil || r.IsCancelled(ctx, taskID) {
		return ErrTaskCancelled
	}
	return nil
}

func (r *RedisRegistry) ActiveTask(ctx context.Context, sessionID string) (string, bool) {
	taskID, err := r.rdb.Get(ctx, sessionKeyPrefix+sessionID).Result()
	if err != nil {
		return "", false
	}
	return taskID, true
}
