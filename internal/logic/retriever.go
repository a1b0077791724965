package logic

import (
	"context"
	"sort"
	"time"

	"kbase/internal/config"
	"kbase/internal/logger"
	"kbase/internal/model"
	"kbase/internal/types"
	"kbase/internal/utils"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// -----------------------------------------------
// 知识检索
// 全文（关键词倒排） / 语义（向量） / 混合
// -----------------------------------------------

// SearchRequest 检索请求
type SearchRequest struct {
	Query          string                  `json:"query"`
	DatasetIDs     []int64                 `json:"dataset_ids"`
	Strategy       model.RetrievalStrategy `json:"strategy"`
	TopK           int                     `json:"top_k"`
	ScoreThreshold float64                 `json:"score_threshold"`
}

// SearchResult 检索结果
type SearchResult struct {
	Segment *model.TSegment `json:"segment"`
	Score   float64         `json:"score"`
}

// Retriever 知识检索器
type Retriever struct {
	db        *gorm.DB
	embedder  Embedder
	vectors   VectorStore
	keywords  *KeywordStore
	extractor *KeywordExtractor
	cfg       config.IndexingConfig
}

// NewRetriever 创建检索器
func NewRetriever(db *gorm.DB, embedder Embedder, vectors VectorStore, keywords *KeywordStore, cfg config.IndexingConfig) *Retriever {
	cfg.ApplyDefaults()
	return &Retriever{
		db:        db,
		embedder:  embedder,
		vectors:   vectors,
		keywords:  keywords,
		extractor: NewKeywordExtractor(),
		cfg:       cfg,
	}
}

// Search 按策略检索，结果按相关度降序
func (r *Retriever) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	if req.Query == "" {
		return nil, types.NewAppError(types.ErrCodeBadRequest, "检索内容不能为空")
	}
	if len(req.DatasetIDs) == 0 {
		return nil, types.NewAppError(types.ErrCodeBadRequest, "至少指定一个知识库")
	}
	if req.Strategy == "" {
		req.Strategy = model.RetrievalStrategySemantic
	}
	if !req.Strategy.IsValid() {
		return nil, types.NewAppError(types.ErrCodeBadRequest, "不支持的检索策略")
	}
	if req.TopK <= 0 {
		req.TopK = r.cfg.TopK
	}
	if req.ScoreThreshold <= 0 {
		req.ScoreThreshold = r.cfg.ScoreThreshold
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&model.TDataset{}).
		Where("id IN ?", req.DatasetIDs).Count(&count).Error; err != nil {
		return nil, err
	}
	if count != int64(len(utils.SliceUnique(req.DatasetIDs))) {
		return nil, types.ErrDatasetNotFound
	}

	var (
		results []SearchResult
		err     error
	)
	switch req.Strategy {
	case model.RetrievalStrategyFullText:
		results, err = r.fullTextSearch(ctx, req)
	case model.RetrievalStrategySemantic:
		results, err = r.semanticSearch(ctx, req)
	case model.RetrievalStrategyHybrid:
		results, err = r.hybridSearch(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	r.bumpHitCounts(results)
	return results, nil
}

// fullTextSearch 关键词倒排检索
// 按命中关键词数降序排序，同分按分块 id 升序，命中分数恒为 0
func (r *Retriever) fullTextSearch(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	queryKeywords := r.extractor.Extract(req.Query, r.cfg.MaxKeywords)
	if len(queryKeywords) == 0 {
		return nil, nil
	}

	matchCount := make(map[int64]int)
	for _, datasetID := range req.DatasetIDs {
		mapping, err := r.keywords.Load(ctx, datasetID)
		if err != nil {
			return nil, err
		}
		for _, kw := range queryKeywords {
			for _, segmentID := range mapping[kw] {
				matchCount[segmentID]++
			}
		}
	}
	if len(matchCount) == 0 {
		return nil, nil
	}

	segmentIDs := make([]int64, 0, len(matchCount))
	for id := range matchCount {
		segmentIDs = append(segmentIDs, id)
	}
	sort.Slice(segmentIDs, func(i, j int) bool {
		a, b := segmentIDs[i], segmentIDs[j]
		if matchCount[a] != matchCount[b] {
			return matchCount[a] > matchCount[b]
		}
		return a < b
	})
	if len(segmentIDs) > req.TopK {
		segmentIDs = segmentIDs[:req.TopK]
	}

	segments, err := r.fetchEnabledSegments(ctx, segmentIDs)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(segmentIDs))
	for _, id := range segmentIDs {
		if seg, ok := segments[id]; ok {
			results = append(results, SearchResult{Segment: seg, Score: 0})
		}
	}
	return results, nil
}

// semanticSearch 向量相似度检索
func (r *Retriever) semanticSearch(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	vector, err := r.embedder.EmbedText(ctx, req.Query)
	if err != nil {
		return nil, types.NewAppErrorWithCause(types.ErrCodeEmbedding, "检索内容嵌入失败", err)
	}

	hits, err := r.vectors.Search(ctx, req.DatasetIDs, vector, req.TopK, float32(req.ScoreThreshold))
	if err != nil {
		return nil, types.NewAppErrorWithCause(types.ErrCodeVectorWrite, "向量检索失败", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	segmentIDs := make([]int64, 0, len(hits))
	for _, h := range hits {
		segmentIDs = append(segmentIDs, h.SegmentID)
	}
	segments, err := r.fetchEnabledSegments(ctx, segmentIDs)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		if seg, ok := segments[h.SegmentID]; ok {
			results = append(results, SearchResult{Segment: seg, Score: h.Score})
		}
	}
	return results, nil
}

// hybridSearch 混合检索
// 语义和全文结果按分块去重合并，语义分数优先，截断到 TopK
func (r *Retriever) hybridSearch(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	semantic, err := r.semanticSearch(ctx, req)
	if err != nil {
		return nil, err
	}
	fullText, err := r.fullTextSearch(ctx, req)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{}, len(semantic))
	merged := make([]SearchResult, 0, len(semantic)+len(fullText))
	for _, res := range semantic {
		seen[res.Segment.ID] = struct{}{}
		merged = append(merged, res)
	}
	for _, res := range fullText {
		if _, ok := seen[res.Segment.ID]; ok {
			continue
		}
		merged = append(merged, res)
	}

	if len(merged) > req.TopK {
		merged = merged[:req.TopK]
	}
	return merged, nil
}

// fetchEnabledSegments 批量读取启用状态的分块，要求所属文档也启用
func (r *Retriever) fetchEnabledSegments(ctx context.Context, segmentIDs []int64) (map[int64]*model.TSegment, error) {
	if len(segmentIDs) == 0 {
		return nil, nil
	}

	var segments []*model.TSegment
	err := r.db.WithContext(ctx).
		Where("id IN ?", segmentIDs).
		Where("enabled = ?", true).
		Where("status = ?", string(model.SegmentStatusCompleted)).
		Find(&segments).Error
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, nil
	}

	documentIDs := make([]int64, 0, len(segments))
	for _, seg := range segments {
		documentIDs = append(documentIDs, seg.DocumentID)
	}
	var enabledDocs []int64
	err = r.db.WithContext(ctx).Model(&model.TDocument{}).
		Where("id IN ?", utils.SliceUnique(documentIDs)).
		Where("enabled = ?", true).
		Pluck("id", &enabledDocs).Error
	if err != nil {
		return nil, err
	}
	docEnabled := make(map[int64]struct{}, len(enabledDocs))
	for _, id := range enabledDocs {
		docEnabled[id] = struct{}{}
	}

	result := make(map[int64]*model.TSegment, len(segments))
	for _, seg := range segments {
		if _, ok := docEnabled[seg.DocumentID]; ok {
			result[seg.ID] = seg
		}
	}
	return result, nil
}

// bumpHitCounts 异步累加命中次数，失败只记日志
func (r *Retriever) bumpHitCounts(results []SearchResult) {
	if len(results) == 0 {
		return
	}
	segmentIDs := make([]int64, 0, len(results))
	for _, res := range results {
		segmentIDs = append(segmentIDs, res.Segment.ID)
	}

	utils.SafeGoWithName("hit-count", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.db.WithContext(ctx).Model(&model.TSegment{}).
			Where("id IN ?", segmentIDs).
			Update("hit_count", gorm.Expr("hit_count + 1")).Error; err != nil {
			logger.Warn("更新命中次数失败", zap.Error(err))
		}
	})
}
