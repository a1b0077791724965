package logic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"kbase/internal/config"
	"kbase/internal/logger"
	"kbase/internal/model"
	"kbase/internal/types"
	"kbase/internal/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// -----------------------------------------------
// 文档索引流水线
// waiting -> parsing -> splitting -> indexing -> completed / error
// -----------------------------------------------

// IndexingRunner 文档索引流水线
type IndexingRunner struct {
	db       *gorm.DB
	loader   FileLoader
	vectors  VectorStore
	keywords *KeywordStore
	writer   *VectorWriter
	locker   Locker
	cfg      config.IndexingConfig
}

// NewIndexingRunner 创建索引流水线
func NewIndexingRunner(
	db *gorm.DB,
	loader FileLoader,
	embedder Embedder,
	vectors VectorStore,
	keywords *KeywordStore,
	locker Locker,
	cfg config.IndexingConfig,
) *IndexingRunner {
	cfg.ApplyDefaults()
	return &IndexingRunner{
		db:       db,
		loader:   loader,
		vectors:  vectors,
		keywords: keywords,
		writer:   NewVectorWriter(db, vectors, embedder, cfg.BatchSize),
		locker:   locker,
		cfg:      cfg,
	}
}

// Run 索引一批文档
// 单个文档失败只标记该文档，不影响同批其余文档
func (r *IndexingRunner) Run(ctx context.Context, datasetID int64, documentIDs []int64) error {
	if len(documentIDs) == 0 {
		return nil
	}

	var dataset model.TDataset
	if err := r.db.WithContext(ctx).First(&dataset, datasetID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.ErrDatasetNotFound
		}
		return err
	}

	dimension := 1536
	if dataset.Dimension != nil && *dataset.Dimension > 0 {
		dimension = int(*dataset.Dimension)
	}
	if err := r.vectors.EnsureCollection(ctx, dataset.ID, dimension); err != nil {
		return err
	}

	for _, documentID := range documentIDs {
		if err := r.processDocument(ctx, &dataset, documentID); err != nil {
			logger.Error("文档索引失败",
				zap.Int64("dataset_id", datasetID),
				zap.Int64("document_id", documentID),
				zap.Error(err))
			r.markDocumentError(ctx, documentID, err)
		}
	}

	utils.SafeGoWithName("dataset-counters", func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		r.refreshDatasetCounters(bgCtx, datasetID)
	})

	return nil
}

// processDocument 单文档全流程
func (r *IndexingRunner) processDocument(ctx context.Context, dataset *model.TDataset, documentID int64) error {
	var doc model.TDocument
	if err := r.db.WithContext(ctx).First(&doc, documentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.ErrDocumentNotFound
		}
		return err
	}
	if doc.DatasetID != dataset.ID {
		return types.NewAppError(types.ErrCodeBadRequest, "文档不属于指定知识库")
	}

	now := time.Now()
	if err := r.db.WithContext(ctx).Model(&model.TDocument{}).
		Where("id = ?", doc.ID).
		Updates(map[string]any{
			"indexing_status":       string(model.DocumentStatusParsing),
			"processing_started_at": now,
			"error":                 nil,
			"stopped_at":            nil,
		}).Error; err != nil {
		return err
	}

	text, err := r.parseStage(ctx, &doc)
	if err != nil {
		return err
	}

	segments, err := r.splitStage(ctx, &doc, text)
	if err != nil {
		return err
	}

	if err := r.indexStage(ctx, &doc, segments); err != nil {
		return err
	}

	if err := r.storeStage(ctx, &doc, segments); err != nil {
		return err
	}

	logger.Info("文档索引完成",
		zap.Int64("dataset_id", dataset.ID),
		zap.Int64("document_id", doc.ID),
		zap.Int("segments", len(segments)))
	return nil
}

// parseStage 解析阶段：读取上传文件，抽取并清洗文本
func (r *IndexingRunner) parseStage(ctx context.Context, doc *model.TDocument) (string, error) {
	if doc.UploadFileID == nil {
		return "", types.ErrUploadFileNotFound
	}

	var file model.TUploadFile
	if err := r.db.WithContext(ctx).First(&file, *doc.UploadFileID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", types.ErrUploadFileNotFound
		}
		return "", err
	}

	blocks, err := r.loader.Load(file.Key)
	if err != nil {
		return "", fmt.Errorf("文件解析失败: %w", err)
	}

	texts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		texts = append(texts, b.Text)
	}
	text := NormalizeRawText(strings.Join(texts, "\n\n"))

	now := time.Now()
	wordCount := int32(utf8.RuneCountInString(text))
	if err := r.db.WithContext(ctx).Model(&model.TDocument{}).
		Where("id = ?", doc.ID).
		Updates(map[string]any{
			"indexing_status":      string(model.DocumentStatusSplitting),
			"word_count":           wordCount,
			"parsing_completed_at": now,
		}).Error; err != nil {
		return "", err
	}
	doc.WordCount = &wordCount

	return text, nil
}

// splitStage 分块阶段：按处理规则切分文本并落库
// 重复索引同一文档时旧分块整体替换，position 在历史最大值之后单调递增
func (r *IndexingRunner) splitStage(ctx context.Context, doc *model.TDocument, text string) ([]*model.TSegment, error) {
	spec := r.loadRuleSpec(ctx, doc)
	cleaned := CleanText(text, spec)
	chunks := NewTextSplitter(spec).Split(cleaned)

	// position 分配在文档锁内进行，避免并发重建分配出重复位置
	lock, err := r.locker.Acquire(ctx, documentLockKey(doc.ID), time.Duration(r.cfg.LockExpiry)*time.Second)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			logger.Warn("释放文档锁失败", zap.Int64("document_id", doc.ID), zap.Error(err))
		}
	}()

	var oldSegments []*model.TSegment
	if err := r.db.WithContext(ctx).
		Where("document_id = ?", doc.ID).
		Find(&oldSegments).Error; err != nil {
		return nil, err
	}

	maxPosition := 0
	oldIDs := make([]int64, 0, len(oldSegments))
	oldNodeIDs := make([]string, 0, len(oldSegments))
	for _, seg := range oldSegments {
		if seg.Position > maxPosition {
			maxPosition = seg.Position
		}
		oldIDs = append(oldIDs, seg.ID)
		if nodeID := seg.NodeID(); nodeID != "" {
			oldNodeIDs = append(oldNodeIDs, nodeID)
		}
	}

	// 旧向量和关键词尽力清理，失败不阻塞重建
	if len(oldNodeIDs) > 0 {
		if err := r.vectors.DeleteByNodeIDs(ctx, doc.DatasetID, oldNodeIDs); err != nil {
			logger.Warn("删除旧向量失败",
				zap.Int64("document_id", doc.ID),
				zap.Error(err))
		}
	}
	if len(oldIDs) > 0 {
		if err := r.keywords.RemoveSegments(ctx, doc.DatasetID, oldIDs); err != nil {
			logger.Warn("清理旧关键词索引失败",
				zap.Int64("document_id", doc.ID),
				zap.Error(err))
		}
	}

	segments := make([]*model.TSegment, 0, len(chunks))
	tokenTotal := 0
	for i, chunk := range chunks {
		nodeID := uuid.NewString()
		hash := ContentHash(chunk)
		tokens := TokenCount(chunk)
		tokenTotal += tokens

		segments = append(segments, &model.TSegment{
			DatasetID:     doc.DatasetID,
			DocumentID:    doc.ID,
			Position:      maxPosition + 1 + i,
			Content:       chunk,
			WordCount:     utf8.RuneCountInString(chunk),
			Tokens:        tokens,
			IndexNodeID:   &nodeID,
			IndexNodeHash: &hash,
			Enabled:       false,
			Status:        string(model.SegmentStatusWaiting),
		})
	}

	now := time.Now()
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(oldIDs) > 0 {
			if err := tx.Where("document_id = ?", doc.ID).Delete(&model.TSegment{}).Error; err != nil {
				return err
			}
		}
		if len(segments) > 0 {
			if err := tx.Create(&segments).Error; err != nil {
				return err
			}
		}
		return tx.Model(&model.TDocument{}).
			Where("id = ?", doc.ID).
			Updates(map[string]any{
				"indexing_status":        string(model.DocumentStatusIndexing),
				"token_count":            int32(tokenTotal),
				"splitting_completed_at": now,
			}).Error
	})
	if err != nil {
		return nil, err
	}

	return segments, nil
}

// indexStage 索引阶段：提取分块关键词并登记到倒排索引
func (r *IndexingRunner) indexStage(ctx context.Context, doc *model.TDocument, segments []*model.TSegment) error {
	if len(segments) == 0 {
		return nil
	}

	extractor := NewKeywordExtractor()
	for _, seg := range segments {
		seg.Keywords = extractor.Extract(seg.Content, r.cfg.MaxKeywords)
		seg.Status = string(model.SegmentStatusIndexing)
		if err := r.db.WithContext(ctx).Model(&model.TSegment{}).
			Where("id = ?", seg.ID).
			Updates(map[string]any{
				"keywords": seg.Keywords,
				"status":   seg.Status,
			}).Error; err != nil {
			return err
		}
	}

	if err := r.keywords.AddSegments(ctx, doc.DatasetID, segments); err != nil {
		return err
	}

	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.TDocument{}).
		Where("id = ?", doc.ID).
		Update("indexing_completed_at", now).Error
}

// storeStage 向量写入阶段，全部成功后文档置完成并启用
func (r *IndexingRunner) storeStage(ctx context.Context, doc *model.TDocument, segments []*model.TSegment) error {
	if err := r.writer.Upsert(ctx, doc, segments, r.cfg.Concurrency); err != nil {
		return err
	}

	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.TDocument{}).
		Where("id = ?", doc.ID).
		Updates(map[string]any{
			"indexing_status": string(model.DocumentStatusCompleted),
			"enabled":         true,
			"completed_at":    now,
			"error":           nil,
		}).Error
}

// markDocumentError 把文档标记为失败终态
func (r *IndexingRunner) markDocumentError(ctx context.Context, documentID int64, cause error) {
	now := time.Now()
	msg := cause.Error()
	if err := r.db.WithContext(ctx).Model(&model.TDocument{}).
		Where("id = ?", documentID).
		Updates(map[string]any{
			"indexing_status": string(model.DocumentStatusError),
			"error":           msg,
			"stopped_at":      now,
		}).Error; err != nil {
		logger.Error("标记文档失败状态出错",
			zap.Int64("document_id", documentID),
			zap.Error(err))
	}
}

// loadRuleSpec 加载文档的处理规则，缺失时使用默认规则
func (r *IndexingRunner) loadRuleSpec(ctx context.Context, doc *model.TDocument) *model.ProcessRuleSpec {
	if doc.ProcessRuleID == nil {
		return model.DefaultProcessRuleSpec()
	}
	var rule model.TProcessRule
	if err := r.db.WithContext(ctx).First(&rule, *doc.ProcessRuleID).Error; err != nil {
		logger.Warn("处理规则不存在，使用默认规则",
			zap.Int64("document_id", doc.ID),
			zap.Error(err))
		return model.DefaultProcessRuleSpec()
	}
	return rule.Spec()
}

// refreshDatasetCounters 刷新知识库的文档数和分块数统计
func (r *IndexingRunner) refreshDatasetCounters(ctx context.Context, datasetID int64) {
	var docCount, segCount int64
	if err := r.db.WithContext(ctx).Model(&model.TDocument{}).
		Where("dataset_id = ?", datasetID).Count(&docCount).Error; err != nil {
		logger.Warn("统计文档数失败", zap.Int64("dataset_id", datasetID), zap.Error(err))
		return
	}
	if err := r.db.WithContext(ctx).Model(&model.TSegment{}).
		Where("dataset_id = ?", datasetID).Count(&segCount).Error; err != nil {
		logger.Warn("统计分块数失败", zap.Int64("dataset_id", datasetID), zap.Error(err))
		return
	}
	if err := r.db.WithContext(ctx).Model(&model.TDataset{}).
		Where("id = ?", datasetID).
		Updates(map[string]any{
			"document_count": int32(docCount),
			"segment_count":  int32(segCount),
		}).Error; err != nil {
		logger.Warn("更新知识库统计失败", zap.Int64("dataset_id", datasetID), zap.Error(err))
	}
}

// RemoveDocument 删除文档及其分块、向量和关键词索引
func (r *IndexingRunner) RemoveDocument(ctx context.Context, documentID int64) error {
	var doc model.TDocument
	if err := r.db.WithContext(ctx).First(&doc, documentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.ErrDocumentNotFound
		}
		return err
	}

	var segments []*model.TSegment
	if err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Find(&segments).Error; err != nil {
		return err
	}

	segmentIDs := make([]int64, 0, len(segments))
	nodeIDs := make([]string, 0, len(segments))
	for _, seg := range segments {
		segmentIDs = append(segmentIDs, seg.ID)
		if nodeID := seg.NodeID(); nodeID != "" {
			nodeIDs = append(nodeIDs, nodeID)
		}
	}

	if len(nodeIDs) > 0 {
		if err := r.vectors.DeleteByNodeIDs(ctx, doc.DatasetID, nodeIDs); err != nil {
			logger.Warn("删除文档向量失败",
				zap.Int64("document_id", documentID),
				zap.Error(err))
		}
	}
	if len(segmentIDs) > 0 {
		if err := r.keywords.RemoveSegments(ctx, doc.DatasetID, segmentIDs); err != nil {
			logger.Warn("清理文档关键词索引失败",
				zap.Int64("document_id", documentID),
				zap.Error(err))
		}
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Delete(&model.TSegment{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.TDocument{}, documentID).Error
	})
	if err != nil {
		return err
	}

	utils.SafeGoWithName("dataset-counters", func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		r.refreshDatasetCounters(bgCtx, doc.DatasetID)
	})
	return nil
}
