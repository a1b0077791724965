package logic

import (
	"context"
	"fmt"
	"sync"
	"time"

	"kbase/internal/logger"
	"kbase/internal/model"
	"kbase/internal/utils"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// -----------------------------------------------
// 向量写入器
// 按批嵌入并写入向量库，批之间限制并发
// -----------------------------------------------

// VectorWriter 分块向量写入器
type VectorWriter struct {
	db        *gorm.DB
	store     VectorStore
	embedder  Embedder
	batchSize int
}

// NewVectorWriter 创建向量写入器
func NewVectorWriter(db *gorm.DB, store VectorStore, embedder Embedder, batchSize int) *VectorWriter {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &VectorWriter{
		db:        db,
		store:     store,
		embedder:  embedder,
		batchSize: batchSize,
	}
}

// Upsert 嵌入并写入文档的全部分块向量
// 分块按批切分，批内先嵌入后写入，批之间最多 concurrency 个并发
// 任一批失败即返回错误，已写入的批不回滚
func (w *VectorWriter) Upsert(ctx context.Context, doc *model.TDocument, segments []*model.TSegment, concurrency int) error {
	if len(segments) == 0 {
		return nil
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	batches := utils.SliceChunk(segments, w.batchSize)

	pool, err := ants.NewPool(concurrency)
	if err != nil {
		return fmt.Errorf("创建向量写入协程池失败: %w", err)
	}
	defer pool.Release()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	setErr := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
		}
	}

	for i := range batches {
		batch := batches[i]
		batchIdx := i

		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()

			mu.Lock()
			failed := firstErr != nil
			mu.Unlock()
			if failed {
				return
			}

			if err := w.writeBatch(ctx, doc, batch); err != nil {
				logger.Error("向量批写入失败",
					zap.Int64("document_id", doc.ID),
					zap.Int("batch", batchIdx),
					zap.Error(err))
				setErr(err)
			}
		})
		if submitErr != nil {
			wg.Done()
			setErr(fmt.Errorf("提交向量写入任务失败: %w", submitErr))
			break
		}
	}

	wg.Wait()
	return firstErr
}

// writeBatch 处理单个批次：嵌入、写入向量库、落库状态
func (w *VectorWriter) writeBatch(ctx context.Context, doc *model.TDocument, batch []*model.TSegment) error {
	texts := make([]string, 0, len(batch))
	for _, seg := range batch {
		texts = append(texts, seg.Content)
	}

	vectors, err := w.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return fmt.Errorf("分块嵌入失败: %w", err)
	}
	if len(vectors) != len(batch) {
		return fmt.Errorf("embedding 结果数量不匹配: 期望 %d, 实际 %d", len(batch), len(vectors))
	}

	points := make([]VectorPoint, 0, len(batch))
	for i, seg := range batch {
		points = append(points, VectorPoint{
			NodeID:          seg.NodeID(),
			Content:         seg.Content,
			Vector:          vectors[i],
			DatasetID:       seg.DatasetID,
			DocumentID:      seg.DocumentID,
			SegmentID:       seg.ID,
			Enabled:         true,
			DocumentEnabled: true,
		})
	}

	if err := w.store.Upsert(ctx, doc.DatasetID, points); err != nil {
		return err
	}

	// 写入成功的批立即置完成，失败批保持原状态
	now := time.Now()
	segmentIDs := make([]int64, 0, len(batch))
	for _, seg := range batch {
		segmentIDs = append(segmentIDs, seg.ID)
	}
	return w.db.WithContext(ctx).Model(&model.TSegment{}).
		Where("id IN ?", segmentIDs).
		Updates(map[string]any{
			"status":       string(model.SegmentStatusCompleted),
			"enabled":      true,
			"completed_at": now,
			"error":        nil,
		}).Error
}
