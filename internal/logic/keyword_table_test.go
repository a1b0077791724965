package logic

import (
	"context"
	"sort"
	"testing"
	"time"

	"kbase/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestKeywordMappingAddSegment(t *testing.T) {
	m := KeywordMapping{}
	m.AddSegment(2, []string{"redis", "cache"})
	m.AddSegment(1, []string{"redis"})
	m.AddSegment(1, []string{"redis"}) // 重复登记不产生重复项

	assert.Equal(t, []int64{1, 2}, m["redis"])
	assert.Equal(t, []int64{2}, m["cache"])
}

func TestKeywordMappingRemoveSegments(t *testing.T) {
	m := KeywordMapping{
		"redis": {1, 2, 3},
		"cache": {2},
	}
	m.RemoveSegments([]int64{2})

	assert.Equal(t, []int64{1, 3}, m["redis"])
	_, ok := m["cache"]
	assert.False(t, ok, "空倒排列表的关键词应被删除")
}

func TestKeywordMappingAddRemoveRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := KeywordMapping{}
		segmentIDs := rapid.SliceOfNDistinct(rapid.Int64Range(1, 1000), 1, 20,
			func(v int64) int64 { return v }).Draw(t, "segmentIDs")
		keywords := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-z]{2,8}`), 1, 10,
			func(s string) string { return s }).Draw(t, "keywords")

		for _, id := range segmentIDs {
			m.AddSegment(id, keywords)
		}

		// 每个关键词的列表有序且覆盖全部分块
		expected := append([]int64(nil), segmentIDs...)
		sort.Slice(expected, func(i, j int) bool { return expected[i] < expected[j] })
		for _, kw := range keywords {
			if len(m[kw]) != len(expected) {
				t.Fatalf("关键词 %s 倒排长度不符: %d != %d", kw, len(m[kw]), len(expected))
			}
			for i := range expected {
				if m[kw][i] != expected[i] {
					t.Fatalf("关键词 %s 倒排内容不符", kw)
				}
			}
		}

		// 全部摘除后索引为空
		m.RemoveSegments(segmentIDs)
		if len(m) != 0 {
			t.Fatalf("摘除全部分块后索引应为空, 剩余 %d 个关键词", len(m))
		}
	})
}

func TestKeywordStoreAddAndLoad(t *testing.T) {
	db := newTestDB(t)
	locker := newFakeLocker()
	store := NewKeywordStore(db, locker, time.Minute)
	ctx := context.Background()

	segments := []*model.TSegment{
		{ID: 1, Keywords: model.StringList{"golang", "并发"}},
		{ID: 2, Keywords: model.StringList{"golang"}},
	}
	require.NoError(t, store.AddSegments(ctx, 7, segments))

	mapping, err := store.Load(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, mapping["golang"])
	assert.Equal(t, []int64{1}, mapping["并发"])
}

func TestKeywordStoreRemoveSegments(t *testing.T) {
	db := newTestDB(t)
	store := NewKeywordStore(db, newFakeLocker(), time.Minute)
	ctx := context.Background()

	require.NoError(t, store.AddSegments(ctx, 7, []*model.TSegment{
		{ID: 1, Keywords: model.StringList{"golang"}},
		{ID: 2, Keywords: model.StringList{"golang", "redis"}},
	}))
	require.NoError(t, store.RemoveSegments(ctx, 7, []int64{2}))

	mapping, err := store.Load(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, mapping["golang"])
	assert.NotContains(t, mapping, "redis")
}

func TestKeywordStoreSkipsWhenLockHeld(t *testing.T) {
	db := newTestDB(t)
	locker := newFakeLocker()
	locker.denied[datasetLockKey(7)] = true
	store := NewKeywordStore(db, locker, time.Minute)
	ctx := context.Background()

	// 拿不到锁时静默跳过，不报错也不写库
	err := store.AddSegments(ctx, 7, []*model.TSegment{
		{ID: 1, Keywords: model.StringList{"golang"}},
	})
	require.NoError(t, err)

	mapping, err := store.Load(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, mapping)
}

func TestKeywordStoreLoadMissingDataset(t *testing.T) {
	db := newTestDB(t)
	store := NewKeywordStore(db, newFakeLocker(), time.Minute)

	mapping, err := store.Load(context.Background(), 999)
	require.NoError(t, err)
	assert.Empty(t, mapping)
}

func TestKeywordStoreIsolatedPerDataset(t *testing.T) {
	db := newTestDB(t)
	store := NewKeywordStore(db, newFakeLocker(), time.Minute)
	ctx := context.Background()

	require.NoError(t, store.AddSegments(ctx, 1, []*model.TSegment{
		{ID: 10, Keywords: model.StringList{"shared"}},
	}))
	require.NoError(t, store.AddSegments(ctx, 2, []*model.TSegment{
		{ID: 20, Keywords: model.StringList{"shared"}},
	}))

	m1, err := store.Load(ctx, 1)
	require.NoError(t, err)
	m2, err := store.Load(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{10}, m1["shared"])
	assert.Equal(t, []int64{20}, m2["shared"])
}
