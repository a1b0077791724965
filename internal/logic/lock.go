package logic

import (
	"context"
	"fmt"
	"time"

	"kbase/internal/types"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"
)

// -----------------------------------------------
// Redis 分布式互斥锁（redsync）
// 锁值为随机 token，超时的持有者不会误释放他人的锁
// -----------------------------------------------

// 锁 key 约定
func datasetLockKey(datasetID int64) string {
	return fmt.Sprintf("kbase:lock:dataset:%d", datasetID)
}

func documentLockKey(documentID int64) string {
	return fmt.Sprintf("kbase:lock:document:%d", documentID)
}

func segmentLockKey(segmentID int64) string {
	return fmt.Sprintf("kbase:lock:segment:%d", segmentID)
}

// RedisLocker 基于 redsync 的互斥锁服务
type RedisLocker struct {
	rs *redsync.Redsync
}

// NewRedisLocker 创建互斥锁服务
func NewRedisLocker(client *goredislib.Client) *RedisLocker {
	pool := goredis.NewPool(client)
	return &RedisLocker{rs: redsync.New(pool)}
}

// Acquire 获取互斥锁
// 少量重试后快速失败，返回 Conflict 错误，不无限等待
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	mutex := l.rs.NewMutex(key,
		redsync.WithExpiry(ttl),
		redsync.WithTries(3),
		redsync.WithRetryDelay(100*time.Millisecond),
	)
	if err := mutex.TryLockContext(ctx); err != nil {
		return nil, types.NewAppErrorWithCause(types.ErrCodeConflict, "锁已被其他调用方持有", err)
	}
	return &redisLock{mutex: mutex}, nil
}

type redisLock struct {
	mutex *redsync.Mutex
}

// Release 释放互斥锁
// redsync 校验 token，锁已过期或易主时返回错误
func (l *redisLock) Release(ctx context.Context) error {
	ok, err := l.mutex.UnlockContext(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return types.NewAppError(types.ErrCodeConflict, "锁已过期或被其他持有者接管")
	}
	return nil
}
