package logic

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"kbase/internal/config"
	"kbase/internal/logger"
	"kbase/internal/model"
	"kbase/internal/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// -----------------------------------------------
// 分块编辑
// 绕过文档流水线直接增改单个分块，同步维护向量和关键词索引
// -----------------------------------------------

// SegmentEditor 分块编辑器
type SegmentEditor struct {
	db        *gorm.DB
	embedder  Embedder
	vectors   VectorStore
	keywords  *KeywordStore
	locker    Locker
	extractor *KeywordExtractor
	cfg       config.IndexingConfig
}

// NewSegmentEditor 创建分块编辑器
func NewSegmentEditor(db *gorm.DB, embedder Embedder, vectors VectorStore, keywords *KeywordStore, locker Locker, cfg config.IndexingConfig) *SegmentEditor {
	cfg.ApplyDefaults()
	return &SegmentEditor{
		db:        db,
		embedder:  embedder,
		vectors:   vectors,
		keywords:  keywords,
		locker:    locker,
		extractor: NewKeywordExtractor(),
		cfg:       cfg,
	}
}

// CreateSegment 在文档末尾追加一个分块
// position 分配在文档锁内进行，新分块立即嵌入写入向量库
func (e *SegmentEditor) CreateSegment(ctx context.Context, documentID int64, content string) (*model.TSegment, error) {
	if content == "" {
		return nil, types.NewAppError(types.ErrCodeBadRequest, "分块内容不能为空")
	}

	var doc model.TDocument
	if err := e.db.WithContext(ctx).First(&doc, documentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrDocumentNotFound
		}
		return nil, err
	}

	lock, err := e.locker.Acquire(ctx, documentLockKey(documentID), time.Duration(e.cfg.LockExpiry)*time.Second)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			logger.Warn("释放文档锁失败", zap.Int64("document_id", documentID), zap.Error(err))
		}
	}()

	var maxPosition int
	err = e.db.WithContext(ctx).Model(&model.TSegment{}).
		Where("document_id = ?", documentID).
		Select("COALESCE(MAX(position), 0)").
		Scan(&maxPosition).Error
	if err != nil {
		return nil, err
	}

	nodeID := uuid.NewString()
	hash := ContentHash(content)
	now := time.Now()
	seg := &model.TSegment{
		DatasetID:     doc.DatasetID,
		DocumentID:    documentID,
		Position:      maxPosition + 1,
		Content:       content,
		WordCount:     utf8.RuneCountInString(content),
		Tokens:        TokenCount(content),
		Keywords:      e.extractor.Extract(content, e.cfg.MaxKeywords),
		IndexNodeID:   &nodeID,
		IndexNodeHash: &hash,
		Enabled:       doc.Enabled,
		Status:        string(model.SegmentStatusCompleted),
		CompletedAt:   &now,
	}
	if err := e.db.WithContext(ctx).Create(seg).Error; err != nil {
		return nil, err
	}

	if err := e.upsertVector(ctx, &doc, seg); err != nil {
		e.markSegmentError(ctx, seg.ID, err)
		return nil, err
	}

	if err := e.keywords.AddSegments(ctx, doc.DatasetID, []*model.TSegment{seg}); err != nil {
		return nil, err
	}
	return seg, nil
}

// UpdateSegment 修改分块内容
// 内容哈希未变化时直接返回，变化时重嵌入并更新两类索引
func (e *SegmentEditor) UpdateSegment(ctx context.Context, segmentID int64, content string) (*model.TSegment, error) {
	if content == "" {
		return nil, types.NewAppError(types.ErrCodeBadRequest, "分块内容不能为空")
	}

	var seg model.TSegment
	if err := e.db.WithContext(ctx).First(&seg, segmentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrSegmentNotFound
		}
		return nil, err
	}
	if seg.Status != string(model.SegmentStatusCompleted) {
		return nil, types.ErrSegmentNotReady
	}

	newHash := ContentHash(content)
	if seg.IndexNodeHash != nil && *seg.IndexNodeHash == newHash {
		return &seg, nil
	}

	var doc model.TDocument
	if err := e.db.WithContext(ctx).First(&doc, seg.DocumentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrDocumentNotFound
		}
		return nil, err
	}

	lock, err := e.locker.Acquire(ctx, segmentLockKey(segmentID), time.Duration(e.cfg.LockExpiry)*time.Second)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			logger.Warn("释放分块锁失败", zap.Int64("segment_id", segmentID), zap.Error(err))
		}
	}()

	// 旧关键词先摘除，新关键词在新内容落库后重新登记
	if err := e.keywords.RemoveSegments(ctx, seg.DatasetID, []int64{seg.ID}); err != nil {
		return nil, err
	}

	seg.Content = content
	seg.WordCount = utf8.RuneCountInString(content)
	seg.Tokens = TokenCount(content)
	seg.Keywords = e.extractor.Extract(content, e.cfg.MaxKeywords)
	seg.IndexNodeHash = &newHash
	if seg.IndexNodeID == nil {
		nodeID := uuid.NewString()
		seg.IndexNodeID = &nodeID
	}

	if err := e.db.WithContext(ctx).Model(&model.TSegment{}).
		Where("id = ?", seg.ID).
		Updates(map[string]any{
			"content":         seg.Content,
			"word_count":      seg.WordCount,
			"tokens":          seg.Tokens,
			"keywords":        seg.Keywords,
			"index_node_id":   *seg.IndexNodeID,
			"index_node_hash": newHash,
		}).Error; err != nil {
		return nil, err
	}

	if err := e.upsertVector(ctx, &doc, &seg); err != nil {
		e.markSegmentError(ctx, seg.ID, err)
		return nil, err
	}

	if err := e.keywords.AddSegments(ctx, seg.DatasetID, []*model.TSegment{&seg}); err != nil {
		return nil, err
	}
	return &seg, nil
}

// upsertVector 嵌入单个分块并写入向量库，同 nodeId 覆盖旧向量
func (e *SegmentEditor) upsertVector(ctx context.Context, doc *model.TDocument, seg *model.TSegment) error {
	vector, err := e.embedder.EmbedText(ctx, seg.Content)
	if err != nil {
		return types.NewAppErrorWithCause(types.ErrCodeEmbedding, "分块嵌入失败", err)
	}

	point := VectorPoint{
		NodeID:          seg.NodeID(),
		Content:         seg.Content,
		Vector:          vector,
		DatasetID:       seg.DatasetID,
		DocumentID:      seg.DocumentID,
		SegmentID:       seg.ID,
		Enabled:         seg.Enabled,
		DocumentEnabled: doc.Enabled,
	}
	if err := e.vectors.Upsert(ctx, seg.DatasetID, []VectorPoint{point}); err != nil {
		return types.NewAppErrorWithCause(types.ErrCodeVectorWrite, "分块向量写入失败", err)
	}
	return nil
}

// markSegmentError 把分块标记为异常
func (e *SegmentEditor) markSegmentError(ctx context.Context, segmentID int64, cause error) {
	msg := cause.Error()
	if err := e.db.WithContext(ctx).Model(&model.TSegment{}).
		Where("id = ?", segmentID).
		Updates(map[string]any{
			"status": string(model.SegmentStatusError),
			"error":  msg,
		}).Error; err != nil {
		logger.Error("标记分块异常状态出错",
			zap.Int64("segment_id", segmentID),
			zap.Error(err))
	}
}
