package logic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeywordExtractorByFrequency(t *testing.T) {
	e := NewKeywordExtractor()

	text := "golang golang golang redis redis mysql"
	keywords := e.Extract(text, 10)

	require.Len(t, keywords, 3)
	assert.Equal(t, []string{"golang", "redis", "mysql"}, keywords)
}

func TestKeywordExtractorMaxLimit(t *testing.T) {
	e := NewKeywordExtractor()

	keywords := e.Extract("alpha beta gamma delta epsilon zeta", 3)
	assert.Len(t, keywords, 3)
}

func TestKeywordExtractorSkipsStopwords(t *testing.T) {
	e := NewKeywordExtractor()

	keywords := e.Extract("the quick brown fox and the lazy dog", 10)
	assert.NotContains(t, keywords, "the")
	assert.NotContains(t, keywords, "and")
	assert.Contains(t, keywords, "quick")
}

func TestKeywordExtractorChinese(t *testing.T) {
	e := NewKeywordExtractor()

	keywords := e.Extract("向量检索 向量检索 关键词提取", 10)
	require.NotEmpty(t, keywords)
	assert.Equal(t, "向量检索", keywords[0])
}

func TestKeywordExtractorCaseInsensitive(t *testing.T) {
	e := NewKeywordExtractor()

	keywords := e.Extract("Redis REDIS redis", 10)
	require.Len(t, keywords, 1)
	assert.Equal(t, "redis", keywords[0])
}

func TestKeywordExtractorStableOrder(t *testing.T) {
	e := NewKeywordExtractor()

	text := "zebra apple zebra apple mango"
	first := e.Extract(text, 10)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, e.Extract(text, 10))
	}
}

func TestKeywordExtractorEmptyText(t *testing.T) {
	e := NewKeywordExtractor()
	assert.Empty(t, e.Extract("", 10))
	assert.Empty(t, e.Extract("the a an", 10))
}
