package logic

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"kbase/internal/logger"
	"kbase/internal/utils"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// -----------------------------------------------
// Embedding API 客户端
// 调用 OpenAI-compatible /v1/embeddings 接口
// -----------------------------------------------

// OpenAIEmbedder 嵌入模型客户端
type OpenAIEmbedder struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewOpenAIEmbedder 创建嵌入模型客户端
func NewOpenAIEmbedder(baseURL, apiKey, model string) *OpenAIEmbedder {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIEmbedder{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		Timeout: 60 * time.Second,
	}
}

// embeddingRequest OpenAI Embedding API 请求
type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embeddingResponse OpenAI Embedding API 响应
type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

type embeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

// EmbedTexts 批量生成文本 Embedding
func (c *OpenAIEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	// 分批处理，每批最多 20 条，避免超过 API 限制
	batchSize := 20
	var allEmbeddings [][]float32

	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		embeddings, err := c.callEmbeddingAPI(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("embedding API 调用失败 (batch %d-%d): %w", i, end, err)
		}

		allEmbeddings = append(allEmbeddings, embeddings...)
	}

	return allEmbeddings, nil
}

// EmbedText 生成单条文本的 Embedding
func (c *OpenAIEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	results, err := c.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("embedding 结果为空")
	}
	return results[0], nil
}

// callEmbeddingAPI 调用 Embedding API
func (c *OpenAIEmbedder) callEmbeddingAPI(ctx context.Context, texts []string) ([][]float32, error) {
	bodyBytes, err := utils.Marshal(embeddingRequest{
		Model: c.Model,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("请求序列化失败: %w", err)
	}

	url := c.BaseURL + "/embeddings"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("创建 HTTP 请求失败: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	httpClient := &http.Client{Timeout: c.Timeout}
	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP 请求失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding API 返回错误 (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var embResp embeddingResponse
	if err := utils.Unmarshal(respBody, &embResp); err != nil {
		return nil, fmt.Errorf("响应解析失败: %w", err)
	}

	if embResp.Error != nil {
		return nil, fmt.Errorf("embedding API 错误: %s", embResp.Error.Message)
	}

	// 按 index 归位结果
	embeddings := make([][]float32, len(texts))
	for _, d := range embResp.Data {
		if d.Index >= 0 && d.Index < len(embeddings) {
			embeddings[d.Index] = d.Embedding
		}
	}

	for i, emb := range embeddings {
		if emb == nil {
			return nil, fmt.Errorf("缺少第 %d 条文本的 embedding 结果", i)
		}
	}

	return embeddings, nil
}

// -----------------------------------------------
// Embedding 缓存
// 按内容哈希缓存向量，避免重复调用模型
// -----------------------------------------------

// CachedEmbedder 带 Redis 缓存的嵌入模型包装
type CachedEmbedder struct {
	inner Embedder
	rdb   *redis.Client
	ttl   time.Duration
}

// NewCachedEmbedder 创建带缓存的嵌入模型
func NewCachedEmbedder(inner Embedder, rdb *redis.Client, ttl time.Duration) *CachedEmbedder {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CachedEmbedder{inner: inner, rdb: rdb, ttl: ttl}
}

// EmbedText 生成单条文本的 Embedding，优先命中缓存
func (c *CachedEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	results, err := c.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// EmbedTexts 批量生成 Embedding，缓存未命中的部分才调用模型
func (c *CachedEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	var missTexts []string
	var missIndexes []int

	for i, text := range texts {
		cached, err := c.rdb.Get(ctx, embeddingCacheKey(text)).Bytes()
		if err == nil {
			var vec []float32
			if err := utils.Unmarshal(cached, &vec); err == nil && len(vec) > 0 {
				results[i] = vec
				continue
			}
		}
		missTexts = append(missTexts, text)
		missIndexes = append(missIndexes, i)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	embeddings, err := c.inner.EmbedTexts(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	for j, idx := range missIndexes {
		results[idx] = embeddings[j]
		data, err := utils.Marshal(embeddings[j])
		if err != nil {
			continue
		}
		if err := c.rdb.Set(ctx, embeddingCacheKey(missTexts[j]), data, c.ttl).Err(); err != nil {
			logger.Warn("写入 embedding 缓存失败", zap.Error(err))
		}
	}

	return results, nil
}

func embeddingCacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "kbase:embedding:" + hex.EncodeToString(sum[:])
}

// ContentHash 计算分块内容哈希，用于变更检测
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
