package logic

import (
	"context"
	"testing"
	"time"

	"kbase/internal/config"
	"kbase/internal/model"
	"kbase/internal/types"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRetriever(env *pipelineEnv) *Retriever {
	cfg := config.IndexingConfig{}
	cfg.ApplyDefaults()
	return NewRetriever(env.db, env.embedder, env.store, env.keywords, cfg)
}

// seedIndexedSegment 直接落一个已完成索引的分块，跳过流水线
func seedIndexedSegment(t *testing.T, env *pipelineEnv, datasetID, documentID int64, content string, keywords []string) *model.TSegment {
	t.Helper()
	nodeID := uuid.NewString()
	now := time.Now()
	seg := mustCreate(t, env.db, &model.TSegment{
		DatasetID:   datasetID,
		DocumentID:  documentID,
		Content:     content,
		Keywords:    model.StringList(keywords),
		IndexNodeID: &nodeID,
		Enabled:     true,
		Status:      string(model.SegmentStatusCompleted),
		CompletedAt: &now,
	})

	require.NoError(t, env.keywords.AddSegments(context.Background(), datasetID, []*model.TSegment{seg}))
	require.NoError(t, env.store.Upsert(context.Background(), datasetID, []VectorPoint{{
		NodeID:          nodeID,
		Content:         content,
		Vector:          []float32{float32(len(content)), 1, 0, 0},
		DatasetID:       datasetID,
		DocumentID:      documentID,
		SegmentID:       seg.ID,
		Enabled:         true,
		DocumentEnabled: true,
	}}))
	return seg
}

func seedEnabledDocument(t *testing.T, env *pipelineEnv, datasetID int64) *model.TDocument {
	t.Helper()
	return mustCreate(t, env.db, &model.TDocument{
		DatasetID:      datasetID,
		Name:           "doc",
		Enabled:        true,
		IndexingStatus: string(model.DocumentStatusCompleted),
	})
}

func TestRetrieverValidation(t *testing.T) {
	env := newPipelineEnv(t)
	r := newTestRetriever(env)
	ctx := context.Background()

	_, err := r.Search(ctx, SearchRequest{Query: "", DatasetIDs: []int64{1}})
	assert.Equal(t, types.ErrCodeBadRequest, types.GetErrorCode(err))

	_, err = r.Search(ctx, SearchRequest{Query: "q"})
	assert.Equal(t, types.ErrCodeBadRequest, types.GetErrorCode(err))

	_, err = r.Search(ctx, SearchRequest{Query: "q", DatasetIDs: []int64{1}, Strategy: "bm25"})
	assert.Equal(t, types.ErrCodeBadRequest, types.GetErrorCode(err))

	_, err = r.Search(ctx, SearchRequest{Query: "q", DatasetIDs: []int64{999}})
	assert.ErrorIs(t, err, types.ErrDatasetNotFound)
}

func TestRetrieverFullTextRanking(t *testing.T) {
	env := newPipelineEnv(t)
	r := newTestRetriever(env)
	ctx := context.Background()

	dataset := mustCreate(t, env.db, &model.TDataset{Name: "kb"})
	doc := seedEnabledDocument(t, env, dataset.ID)

	seg1 := seedIndexedSegment(t, env, dataset.ID, doc.ID, "golang redis cache", []string{"golang", "redis", "cache"})
	seg2 := seedIndexedSegment(t, env, dataset.ID, doc.ID, "golang worker pool", []string{"golang", "worker", "pool"})
	seg3 := seedIndexedSegment(t, env, dataset.ID, doc.ID, "mysql storage", []string{"mysql", "storage"})

	results, err := r.Search(ctx, SearchRequest{
		Query:      "golang redis",
		DatasetIDs: []int64{dataset.ID},
		Strategy:   model.RetrievalStrategyFullText,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// seg1 命中两个关键词排第一，seg2 命中一个排第二，seg3 无命中
	assert.Equal(t, seg1.ID, results[0].Segment.ID)
	assert.Equal(t, seg2.ID, results[1].Segment.ID)
	assert.Zero(t, results[0].Score)
	_ = seg3
}

func TestRetrieverFullTextTieBreakBySegmentID(t *testing.T) {
	env := newPipelineEnv(t)
	r := newTestRetriever(env)
	ctx := context.Background()

	dataset := mustCreate(t, env.db, &model.TDataset{Name: "kb"})
	doc := seedEnabledDocument(t, env, dataset.ID)

	segA := seedIndexedSegment(t, env, dataset.ID, doc.ID, "vector search", []string{"vector"})
	segB := seedIndexedSegment(t, env, dataset.ID, doc.ID, "vector index", []string{"vector"})

	results, err := r.Search(ctx, SearchRequest{
		Query:      "vector",
		DatasetIDs: []int64{dataset.ID},
		Strategy:   model.RetrievalStrategyFullText,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, segA.ID, results[0].Segment.ID)
	assert.Equal(t, segB.ID, results[1].Segment.ID)
}

func TestRetrieverFullTextSkipsDisabled(t *testing.T) {
	env := newPipelineEnv(t)
	r := newTestRetriever(env)
	ctx := context.Background()

	dataset := mustCreate(t, env.db, &model.TDataset{Name: "kb"})
	doc := seedEnabledDocument(t, env, dataset.ID)
	seg := seedIndexedSegment(t, env, dataset.ID, doc.ID, "golang tips", []string{"golang"})

	require.NoError(t, env.db.Model(&model.TSegment{}).
		Where("id = ?", seg.ID).Update("enabled", false).Error)

	results, err := r.Search(ctx, SearchRequest{
		Query:      "golang",
		DatasetIDs: []int64{dataset.ID},
		Strategy:   model.RetrievalStrategyFullText,
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieverFullTextSkipsDisabledDocument(t *testing.T) {
	env := newPipelineEnv(t)
	r := newTestRetriever(env)
	ctx := context.Background()

	dataset := mustCreate(t, env.db, &model.TDataset{Name: "kb"})
	doc := seedEnabledDocument(t, env, dataset.ID)
	seedIndexedSegment(t, env, dataset.ID, doc.ID, "golang tips", []string{"golang"})

	require.NoError(t, env.db.Model(&model.TDocument{}).
		Where("id = ?", doc.ID).Update("enabled", false).Error)

	results, err := r.Search(ctx, SearchRequest{
		Query:      "golang",
		DatasetIDs: []int64{dataset.ID},
		Strategy:   model.RetrievalStrategyFullText,
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieverSemantic(t *testing.T) {
	env := newPipelineEnv(t)
	r := newTestRetriever(env)
	ctx := context.Background()

	dataset := mustCreate(t, env.db, &model.TDataset{Name: "kb"})
	doc := seedEnabledDocument(t, env, dataset.ID)

	// 假嵌入按文本长度生成向量，长度最接近查询的分块得分最高
	near := seedIndexedSegment(t, env, dataset.ID, doc.ID, "1234567890", []string{"near"})
	far := seedIndexedSegment(t, env, dataset.ID, doc.ID, "this is a much longer segment content", []string{"far"})

	results, err := r.Search(ctx, SearchRequest{
		Query:          "1234567890",
		DatasetIDs:     []int64{dataset.ID},
		Strategy:       model.RetrievalStrategySemantic,
		ScoreThreshold: 0.01,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, near.ID, results[0].Segment.ID)
	assert.Equal(t, far.ID, results[1].Segment.ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestRetrieverSemanticTopK(t *testing.T) {
	env := newPipelineEnv(t)
	r := newTestRetriever(env)
	ctx := context.Background()

	dataset := mustCreate(t, env.db, &model.TDataset{Name: "kb"})
	doc := seedEnabledDocument(t, env, dataset.ID)
	for i := 0; i < 8; i++ {
		seedIndexedSegment(t, env, dataset.ID, doc.ID, "segment content here", []string{"content"})
	}

	results, err := r.Search(ctx, SearchRequest{
		Query:          "segment content",
		DatasetIDs:     []int64{dataset.ID},
		Strategy:       model.RetrievalStrategySemantic,
		TopK:           3,
		ScoreThreshold: 0.01,
	})
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestRetrieverHybridMerge(t *testing.T) {
	env := newPipelineEnv(t)
	r := newTestRetriever(env)
	ctx := context.Background()

	dataset := mustCreate(t, env.db, &model.TDataset{Name: "kb"})
	doc := seedEnabledDocument(t, env, dataset.ID)

	// both 同时被语义和全文命中，只应出现一次并带语义分数
	both := seedIndexedSegment(t, env, dataset.ID, doc.ID, "golang query", []string{"golang"})
	textOnly := seedIndexedSegment(t, env, dataset.ID, doc.ID,
		"golang very very very long content far away from query", []string{"golang"})

	results, err := r.Search(ctx, SearchRequest{
		Query:          "golang query",
		DatasetIDs:     []int64{dataset.ID},
		Strategy:       model.RetrievalStrategyHybrid,
		ScoreThreshold: 0.01,
	})
	require.NoError(t, err)

	seen := make(map[int64]int)
	for _, res := range results {
		seen[res.Segment.ID]++
	}
	assert.Equal(t, 1, seen[both.ID], "同一分块不应重复出现")
	assert.Equal(t, 1, seen[textOnly.ID])

	// 语义命中的分数保留
	for _, res := range results {
		if res.Segment.ID == both.ID {
			assert.Positive(t, res.Score)
		}
	}
}

func TestRetrieverMultiDataset(t *testing.T) {
	env := newPipelineEnv(t)
	r := newTestRetriever(env)
	ctx := context.Background()

	ds1 := mustCreate(t, env.db, &model.TDataset{Name: "kb1"})
	ds2 := mustCreate(t, env.db, &model.TDataset{Name: "kb2"})
	doc1 := seedEnabledDocument(t, env, ds1.ID)
	doc2 := seedEnabledDocument(t, env, ds2.ID)

	seedIndexedSegment(t, env, ds1.ID, doc1.ID, "golang in kb1", []string{"golang"})
	seedIndexedSegment(t, env, ds2.ID, doc2.ID, "golang in kb2", []string{"golang"})

	results, err := r.Search(ctx, SearchRequest{
		Query:      "golang",
		DatasetIDs: []int64{ds1.ID, ds2.ID},
		Strategy:   model.RetrievalStrategyFullText,
	})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestRetrieverBumpsHitCount(t *testing.T) {
	env := newPipelineEnv(t)
	r := newTestRetriever(env)
	ctx := context.Background()

	dataset := mustCreate(t, env.db, &model.TDataset{Name: "kb"})
	doc := seedEnabledDocument(t, env, dataset.ID)
	seg := seedIndexedSegment(t, env, dataset.ID, doc.ID, "golang tips", []string{"golang"})

	_, err := r.Search(ctx, SearchRequest{
		Query:      "golang",
		DatasetIDs: []int64{dataset.ID},
		Strategy:   model.RetrievalStrategyFullText,
	})
	require.NoError(t, err)

	// 命中次数异步累加
	require.Eventually(t, func() bool {
		var got model.TSegment
		if err := env.db.First(&got, seg.ID).Error; err != nil {
			return false
		}
		return got.HitCount == 1
	}, 2*time.Second, 10*time.Millisecond)
}
