package logic

import (
	"context"
	"time"
)

// -----------------------------------------------
// 外部协作方接口
// 核心只依赖这些契约，生产实现见 qdrant / embedding / lock / storage 各文件
// -----------------------------------------------

// TextBlock 文件加载器返回的文本块
type TextBlock struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// FileLoader 文件加载器
// 根据对象存储 key 返回抽取出的文本块
type FileLoader interface {
	Load(key string) ([]TextBlock, error)
}

// Embedder 嵌入模型
// 文本 -> 向量 的不透明函数
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorPoint 向量数据点，以分块的 nodeId 为主键
type VectorPoint struct {
	NodeID          string    `json:"node_id"`
	Content         string    `json:"content"`
	Vector          []float32 `json:"vector"`
	DatasetID       int64     `json:"dataset_id"`
	DocumentID      int64     `json:"document_id"`
	SegmentID       int64     `json:"segment_id"`
	Enabled         bool      `json:"enabled"`
	DocumentEnabled bool      `json:"document_enabled"`
}

// VectorHit 向量检索命中结果
type VectorHit struct {
	NodeID     string  `json:"node_id"`
	SegmentID  int64   `json:"segment_id"`
	DocumentID int64   `json:"document_id"`
	DatasetID  int64   `json:"dataset_id"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
}

// VectorStore 向量数据库
type VectorStore interface {
	EnsureCollection(ctx context.Context, datasetID int64, dimension int) error
	Upsert(ctx context.Context, datasetID int64, points []VectorPoint) error
	UpdatePayload(ctx context.Context, datasetID int64, nodeIDs []string, payload map[string]any) error
	DeleteByNodeIDs(ctx context.Context, datasetID int64, nodeIDs []string) error
	Search(ctx context.Context, datasetIDs []int64, vector []float32, topK int, scoreThreshold float32) ([]VectorHit, error)
}

// Lock 已持有的互斥锁
type Lock interface {
	Release(ctx context.Context) error
}

// Locker 分布式互斥锁服务
// Acquire 短暂等待后失败返回，不无限阻塞
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}
