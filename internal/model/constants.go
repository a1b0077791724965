package model

// DocumentStatus 文档索引状态
type DocumentStatus string

const (
	DocumentStatusWaiting   DocumentStatus = "waiting"   // 等待处理
	DocumentStatusParsing   DocumentStatus = "parsing"   // 解析中
	DocumentStatusSplitting DocumentStatus = "splitting" // 分块中
	DocumentStatusIndexing  DocumentStatus = "indexing"  // 索引中
	DocumentStatusCompleted DocumentStatus = "completed" // 已完成
	DocumentStatusError     DocumentStatus = "error"     // 已失败
)

// IsTerminal 判断是否是终态
func (s DocumentStatus) IsTerminal() bool {
	return s == DocumentStatusCompleted || s == DocumentStatusError
}

// IsValid 验证文档状态是否有效
func (s DocumentStatus) IsValid() bool {
	switch s {
	case DocumentStatusWaiting, DocumentStatusParsing, DocumentStatusSplitting,
		DocumentStatusIndexing, DocumentStatusCompleted, DocumentStatusError:
		return true
	default:
		return false
	}
}

// SegmentStatus 分块状态
type SegmentStatus string

const (
	SegmentStatusWaiting   SegmentStatus = "waiting"   // 等待处理
	SegmentStatusIndexing  SegmentStatus = "indexing"  // 索引中
	SegmentStatusCompleted SegmentStatus = "completed" // 已完成
	SegmentStatusError     SegmentStatus = "error"     // 已失败
)

// RetrievalStrategy 检索策略
type RetrievalStrategy string

const (
	RetrievalStrategyFullText RetrievalStrategy = "full_text" // 关键词全文检索
	RetrievalStrategySemantic RetrievalStrategy = "semantic"  // 向量语义检索
	RetrievalStrategyHybrid   RetrievalStrategy = "hybrid"    // 混合检索
)

// IsValid 验证检索策略是否有效
func (s RetrievalStrategy) IsValid() bool {
	switch s {
	case RetrievalStrategyFullText, RetrievalStrategySemantic, RetrievalStrategyHybrid:
		return true
	default:
		return false
	}
}
