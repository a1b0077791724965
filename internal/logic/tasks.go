package logic

import (
	"context"
	"errors"
	"time"

	"kbase/internal/utils"

	"github.com/redis/go-redis/v9"
)

// -----------------------------------------------
// 索引任务队列
// Redis list，LPush 入队 BRPop 出队
// -----------------------------------------------

// IndexingTask 文档索引任务
type IndexingTask struct {
	DatasetID   int64     `json:"dataset_id"`
	DocumentIDs []int64   `json:"document_ids"`
	Batch       string    `json:"batch"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// TaskQueue 索引任务队列
type TaskQueue struct {
	rdb *redis.Client
	key string
}

// NewTaskQueue 创建任务队列
func NewTaskQueue(rdb *redis.Client, key string) *TaskQueue {
	if key == "" {
		key = "kbase:indexing:queue"
	}
	return &TaskQueue{rdb: rdb, key: key}
}

// Submit 提交索引任务
func (q *TaskQueue) Submit(ctx context.Context, task *IndexingTask) error {
	if task.SubmittedAt.IsZero() {
		task.SubmittedAt = time.Now()
	}
	data, err := utils.Marshal(task)
	if err != nil {
		return err
	}
	return q.rdb.LPush(ctx, q.key, data).Err()
}

// Poll 阻塞等待下一个任务，超时无任务时返回 (nil, nil)
func (q *TaskQueue) Poll(ctx context.Context, timeout time.Duration) (*IndexingTask, error) {
	values, err := q.rdb.BRPop(ctx, timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(values) < 2 {
		return nil, nil
	}

	var task IndexingTask
	if err := utils.UnmarshalString(values[1], &task); err != nil {
		return nil, err
	}
	return &task, nil
}
