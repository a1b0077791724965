package logic

import (
	"context"
	"errors"
	"time"

	"kbase/internal/config"
	"kbase/internal/logger"
	"kbase/internal/model"
	"kbase/internal/types"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// -----------------------------------------------
// 启用状态切换
// 数据库行和向量 payload 同步更新，保序以保住不变式：
// 被禁用文档的分块在向量检索中永远不可见
// -----------------------------------------------

// EnablementToggler 文档和分块启用状态切换器
type EnablementToggler struct {
	db       *gorm.DB
	vectors  VectorStore
	keywords *KeywordStore
	locker   Locker
	expiry   time.Duration
}

// NewEnablementToggler 创建启用状态切换器
func NewEnablementToggler(db *gorm.DB, vectors VectorStore, keywords *KeywordStore, locker Locker, cfg config.IndexingConfig) *EnablementToggler {
	cfg.ApplyDefaults()
	return &EnablementToggler{
		db:       db,
		vectors:  vectors,
		keywords: keywords,
		locker:   locker,
		expiry:   time.Duration(cfg.LockExpiry) * time.Second,
	}
}

// SetDocumentEnabled 切换文档启用状态
// 启用时先改文档行再放开分块，禁用时先收紧分块再改文档行
func (t *EnablementToggler) SetDocumentEnabled(ctx context.Context, documentID int64, enabled bool) error {
	var doc model.TDocument
	if err := t.db.WithContext(ctx).First(&doc, documentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.ErrDocumentNotFound
		}
		return err
	}
	if doc.Enabled == enabled {
		return types.ErrEnabledNoChange
	}

	lock, err := t.locker.Acquire(ctx, documentLockKey(documentID), t.expiry)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			logger.Warn("释放文档锁失败", zap.Int64("document_id", documentID), zap.Error(err))
		}
	}()

	if enabled {
		if err := t.updateDocumentEnabled(ctx, &doc, true); err != nil {
			return err
		}
		synced, _, err := t.syncSegmentPayloads(ctx, &doc, true)
		if err != nil {
			return err
		}
		// 单独启用中的分块重新回到关键词索引
		reindex := make([]*model.TSegment, 0, len(synced))
		for _, seg := range synced {
			if seg.Enabled {
				reindex = append(reindex, seg)
			}
		}
		return t.keywords.AddSegments(ctx, doc.DatasetID, reindex)
	}

	_, segments, err := t.syncSegmentPayloads(ctx, &doc, false)
	if err != nil {
		return err
	}
	if err := t.updateDocumentEnabled(ctx, &doc, false); err != nil {
		return err
	}
	segmentIDs := make([]int64, 0, len(segments))
	for _, seg := range segments {
		segmentIDs = append(segmentIDs, seg.ID)
	}
	return t.keywords.RemoveSegments(ctx, doc.DatasetID, segmentIDs)
}

// updateDocumentEnabled 落库文档启用状态
func (t *EnablementToggler) updateDocumentEnabled(ctx context.Context, doc *model.TDocument, enabled bool) error {
	updates := map[string]any{"enabled": enabled}
	if enabled {
		updates["disabled_at"] = nil
	} else {
		updates["disabled_at"] = time.Now()
	}
	return t.db.WithContext(ctx).Model(&model.TDocument{}).
		Where("id = ?", doc.ID).
		Updates(updates).Error
}

// syncSegmentPayloads 同步文档全部已完成分块的向量可见性
// 单个分块同步失败时标记该分块异常并继续，不中断整体切换
// 返回全部已完成分块和其中同步成功的子集
func (t *EnablementToggler) syncSegmentPayloads(ctx context.Context, doc *model.TDocument, enabled bool) (synced, all []*model.TSegment, err error) {
	var segments []*model.TSegment
	if err := t.db.WithContext(ctx).
		Where("document_id = ?", doc.ID).
		Where("status = ?", string(model.SegmentStatusCompleted)).
		Find(&segments).Error; err != nil {
		return nil, nil, err
	}

	synced = make([]*model.TSegment, 0, len(segments))
	for _, seg := range segments {
		nodeID := seg.NodeID()
		if nodeID == "" {
			continue
		}
		err := t.vectors.UpdatePayload(ctx, doc.DatasetID, []string{nodeID},
			map[string]any{"document_enabled": enabled})
		if err != nil {
			logger.Error("同步分块向量可见性失败",
				zap.Int64("document_id", doc.ID),
				zap.Int64("segment_id", seg.ID),
				zap.Error(err))
			t.markSegmentError(ctx, seg.ID, err)
			continue
		}
		synced = append(synced, seg)
	}
	return synced, segments, nil
}

// SetSegmentEnabled 切换单个分块的启用状态
// 只允许切换已完成索引的分块，启用分块要求其文档也处于启用状态
func (t *EnablementToggler) SetSegmentEnabled(ctx context.Context, segmentID int64, enabled bool) error {
	var seg model.TSegment
	if err := t.db.WithContext(ctx).First(&seg, segmentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.ErrSegmentNotFound
		}
		return err
	}
	if seg.Status != string(model.SegmentStatusCompleted) {
		return types.ErrSegmentNotReady
	}
	if seg.Enabled == enabled {
		return types.ErrEnabledNoChange
	}

	if enabled {
		var doc model.TDocument
		if err := t.db.WithContext(ctx).First(&doc, seg.DocumentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.ErrDocumentNotFound
			}
			return err
		}
		if !doc.Enabled {
			return types.NewAppError(types.ErrCodeInvalidState, "文档处于禁用状态，分块不可单独启用")
		}
	}

	lock, err := t.locker.Acquire(ctx, segmentLockKey(segmentID), t.expiry)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			logger.Warn("释放分块锁失败", zap.Int64("segment_id", segmentID), zap.Error(err))
		}
	}()

	if nodeID := seg.NodeID(); nodeID != "" {
		err := t.vectors.UpdatePayload(ctx, seg.DatasetID, []string{nodeID},
			map[string]any{"enabled": enabled})
		if err != nil {
			return types.NewAppErrorWithCause(types.ErrCodeVectorWrite, "同步分块向量可见性失败", err)
		}
	}

	updates := map[string]any{"enabled": enabled}
	if enabled {
		updates["disabled_at"] = nil
	} else {
		updates["disabled_at"] = time.Now()
	}
	if err := t.db.WithContext(ctx).Model(&model.TSegment{}).
		Where("id = ?", segmentID).
		Updates(updates).Error; err != nil {
		return err
	}

	// 禁用的分块从关键词倒排索引摘除，启用时重新登记
	if enabled {
		seg.Enabled = true
		return t.keywords.AddSegments(ctx, seg.DatasetID, []*model.TSegment{&seg})
	}
	return t.keywords.RemoveSegments(ctx, seg.DatasetID, []int64{segmentID})
}

// markSegmentError 把分块标记为异常并停用
func (t *EnablementToggler) markSegmentError(ctx context.Context, segmentID int64, cause error) {
	msg := cause.Error()
	if err := t.db.WithContext(ctx).Model(&model.TSegment{}).
		Where("id = ?", segmentID).
		Updates(map[string]any{
			"status":  string(model.SegmentStatusError),
			"enabled": false,
			"error":   msg,
		}).Error; err != nil {
		logger.Error("标记分块异常状态出错",
			zap.Int64("segment_id", segmentID),
			zap.Error(err))
	}
}
