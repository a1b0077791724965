package logic

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// -----------------------------------------------
// 关键词提取
// 纯函数：文本 -> 按词频排序的关键词列表
// -----------------------------------------------

// KeywordExtractor 基于词频的关键词提取器
type KeywordExtractor struct {
	tokenPattern *regexp.Regexp
	stopwords    map[string]struct{}
}

// NewKeywordExtractor 创建关键词提取器
func NewKeywordExtractor() *KeywordExtractor {
	return &KeywordExtractor{
		tokenPattern: regexp.MustCompile(`\p{Han}+|\p{L}+(?:['’]\p{L}+)*|\p{N}+`),
		stopwords:    defaultStopwords(),
	}
}

// Extract 提取至多 max 个关键词
// 按词频降序排序，同频按首次出现顺序，结果对相同输入稳定
func (e *KeywordExtractor) Extract(text string, max int) []string {
	if max <= 0 {
		max = 10
	}

	freq := make(map[string]int)
	firstSeen := make(map[string]int)
	order := 0

	for _, tok := range e.tokens(text) {
		if _, ok := e.stopwords[tok]; ok {
			continue
		}
		if utf8.RuneCountInString(tok) < 2 {
			continue
		}
		if _, ok := freq[tok]; !ok {
			firstSeen[tok] = order
			order++
		}
		freq[tok]++
	}

	keywords := make([]string, 0, len(freq))
	for k := range freq {
		keywords = append(keywords, k)
	}
	sort.Slice(keywords, func(i, j int) bool {
		a, b := keywords[i], keywords[j]
		if freq[a] != freq[b] {
			return freq[a] > freq[b]
		}
		return firstSeen[a] < firstSeen[b]
	})

	if len(keywords) > max {
		keywords = keywords[:max]
	}
	return keywords
}

func (e *KeywordExtractor) tokens(text string) []string {
	lower := strings.ToLower(text)
	return e.tokenPattern.FindAllString(lower, -1)
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		// 英文常用停用词
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to",
		"of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were",
		"be", "been", "being", "it", "this", "that", "these", "those", "from",
		"up", "down", "over", "under", "again", "further", "than", "so", "such",
		"into", "about", "between", "through", "during", "before", "after",
		"above", "below", "out", "off", "own", "same", "too", "very", "can",
		"will", "just", "not", "no", "nor", "only", "do", "does", "did", "have",
		"has", "had", "you", "your", "we", "our", "they", "their", "he", "she",
		"his", "her", "its", "what", "which", "who", "when", "where", "why",
		"how", "all", "any", "both", "each", "few", "more", "most", "other",
		"some", "there", "here", "should", "now",
		// 中文常用停用词
		"的", "了", "和", "是", "在", "我", "有", "他", "这", "中", "大", "来",
		"上", "国", "个", "到", "说", "们", "为", "子", "与", "也", "就", "要",
		"于", "以", "及", "而", "或", "等", "被", "并", "不", "没有", "可以",
		"我们", "你们", "他们", "什么", "一个", "这个", "那个", "因为", "所以",
		"但是", "如果", "这样", "进行", "通过",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
