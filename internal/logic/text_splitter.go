package logic

import (
	"regexp"
	"strings"

	"kbase/internal/model"
)

// -----------------------------------------------
// 文本清洗与分块
// -----------------------------------------------

var (
	controlCharPattern  = regexp.MustCompile("[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]")
	zeroWidthPattern    = regexp.MustCompile("[\uFEFF\u200B\u200C\u200D]")
	extraSpacePattern   = regexp.MustCompile(`[ \t]{2,}`)
	extraNewlinePattern = regexp.MustCompile(`\n{3,}`)
	urlPattern          = regexp.MustCompile(`https?://[^\s]+`)
	emailPattern        = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
)

// NormalizeRawText 解析阶段的基础清洗
// 去除控制字符和零宽标记，统一换行
func NormalizeRawText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = controlCharPattern.ReplaceAllString(text, "")
	text = zeroWidthPattern.ReplaceAllString(text, "")
	return text
}

// CleanText 按处理规则执行预处理替换
func CleanText(text string, spec *model.ProcessRuleSpec) string {
	if spec.RemoveURLsEmails {
		text = urlPattern.ReplaceAllString(text, "")
		text = emailPattern.ReplaceAllString(text, "")
	}
	if spec.RemoveExtraSpaces {
		text = extraSpacePattern.ReplaceAllString(text, " ")
		text = extraNewlinePattern.ReplaceAllString(text, "\n\n")
	}
	return strings.TrimSpace(text)
}

// TextSplitter 文本分块器
// 按分隔符优先级递归拆分，再按块大小和重叠合并
type TextSplitter struct {
	separators   []string
	chunkSize    int
	chunkOverlap int
}

// NewTextSplitter 根据处理规则创建分块器
func NewTextSplitter(spec *model.ProcessRuleSpec) *TextSplitter {
	s := *spec
	s.Normalize()
	return &TextSplitter{
		separators:   s.Separators,
		chunkSize:    s.ChunkSize,
		chunkOverlap: s.ChunkOverlap,
	}
}

// Split 将文本拆分为有序分块
// 每个分块不超过 chunkSize 个字符（按 rune 计）
func (s *TextSplitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	pieces := s.splitRecursive(text, s.separators)
	chunks := s.merge(pieces)

	result := make([]string, 0, len(chunks))
	for _, c := range chunks {
		c = strings.TrimSpace(c)
		if c != "" {
			result = append(result, c)
		}
	}
	return result
}

// splitRecursive 按分隔符优先级拆分，保证每段不超过块大小
func (s *TextSplitter) splitRecursive(text string, separators []string) []string {
	if len([]rune(text)) <= s.chunkSize {
		return []string{text}
	}
	if len(separators) == 0 {
		return s.hardSplit(text)
	}

	sep := separators[0]
	rest := separators[1:]
	if !strings.Contains(text, sep) {
		return s.splitRecursive(text, rest)
	}

	var pieces []string
	for _, part := range splitKeepSeparator(text, sep) {
		if len([]rune(part)) <= s.chunkSize {
			pieces = append(pieces, part)
			continue
		}
		pieces = append(pieces, s.splitRecursive(part, rest)...)
	}
	return pieces
}

// hardSplit 无可用分隔符时按滑动窗口硬切
func (s *TextSplitter) hardSplit(text string) []string {
	runes := []rune(text)
	totalLen := len(runes)

	step := s.chunkSize - s.chunkOverlap
	if step <= 0 {
		step = s.chunkSize
	}

	var chunks []string
	for start := 0; start < totalLen; start += step {
		end := start + s.chunkSize
		if end > totalLen {
			end = totalLen
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == totalLen {
			break
		}
	}
	return chunks
}

// merge 将细粒度段落合并为接近块大小的分块，块间保留重叠
func (s *TextSplitter) merge(pieces []string) []string {
	var chunks []string
	var current []rune

	for _, piece := range pieces {
		pr := []rune(piece)
		if len(current) > 0 && len(current)+len(pr) > s.chunkSize {
			chunks = append(chunks, string(current))
			current = s.overlapTail(current)
			if len(current)+len(pr) > s.chunkSize {
				current = nil
			}
		}
		current = append(current, pr...)
	}
	if len(current) > 0 {
		chunks = append(chunks, string(current))
	}
	return chunks
}

// overlapTail 返回上一分块的重叠尾部
func (s *TextSplitter) overlapTail(chunk []rune) []rune {
	if s.chunkOverlap <= 0 || len(chunk) <= s.chunkOverlap {
		return nil
	}
	tail := chunk[len(chunk)-s.chunkOverlap:]
	return append([]rune(nil), tail...)
}

// splitKeepSeparator 按分隔符拆分并将分隔符保留在前一段末尾
func splitKeepSeparator(text, sep string) []string {
	parts := strings.Split(text, sep)
	result := make([]string, 0, len(parts))
	for i, p := range parts {
		if i < len(parts)-1 {
			p += sep
		}
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
