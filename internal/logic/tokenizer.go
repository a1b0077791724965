package logic

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// -----------------------------------------------
// 共享分词器
// -----------------------------------------------

var (
	tokenizerOnce sync.Once
	tokenEncoder  *tiktoken.Tiktoken
)

// TokenCount 计算文本的 token 数量
// 编码器初始化失败时退化为按字符计数
func TokenCount(text string) int {
	tokenizerOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			tokenEncoder = enc
		}
	})

	if tokenEncoder == nil {
		return utf8.RuneCountInString(text)
	}
	return len(tokenEncoder.Encode(text, nil, nil))
}
