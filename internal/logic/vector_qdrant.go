package logic

import (
	"context"
	"fmt"
	"sort"

	"kbase/internal/config"
	"kbase/internal/logger"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
)

// -----------------------------------------------
// Qdrant 向量存储
// 每个知识库一个 collection，按 nodeId 作为 point ID
// -----------------------------------------------

// QdrantStore Qdrant 向量数据库实现
type QdrantStore struct {
	client *qdrant.Client
}

// NewQdrantStore 创建 Qdrant 向量存储
func NewQdrantStore(cfg config.QdrantConfig) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 Qdrant 客户端失败: %w", err)
	}
	return &QdrantStore{client: client}, nil
}

// collectionName 知识库对应的 collection 名称
func collectionName(datasetID int64) string {
	return fmt.Sprintf("kb_%d", datasetID)
}

// EnsureCollection 确保知识库的 collection 存在
func (s *QdrantStore) EnsureCollection(ctx context.Context, datasetID int64, dimension int) error {
	name := collectionName(datasetID)

	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("检查 collection 失败: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("创建 collection 失败: %w", err)
	}

	logger.Info("创建向量 collection",
		zap.String("collection", name),
		zap.Int("dimension", dimension))
	return nil
}

// Upsert 批量写入向量点，同 nodeId 覆盖写
func (s *QdrantStore) Upsert(ctx context.Context, datasetID int64, points []VectorPoint) error {
	if len(points) == 0 {
		return nil
	}

	qdrantPoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		qdrantPoints = append(qdrantPoints, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.NodeID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: map[string]*qdrant.Value{
				"content":          qdrant.NewValueString(p.Content),
				"dataset_id":       qdrant.NewValueInt(p.DatasetID),
				"document_id":      qdrant.NewValueInt(p.DocumentID),
				"segment_id":       qdrant.NewValueInt(p.SegmentID),
				"enabled":          qdrant.NewValueBool(p.Enabled),
				"document_enabled": qdrant.NewValueBool(p.DocumentEnabled),
			},
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collectionName(datasetID),
		Points:         qdrantPoints,
	})
	if err != nil {
		return fmt.Errorf("向量写入失败: %w", err)
	}
	return nil
}

// UpdatePayload 按 nodeId 更新向量点的 payload 字段
func (s *QdrantStore) UpdatePayload(ctx context.Context, datasetID int64, nodeIDs []string, payload map[string]any) error {
	if len(nodeIDs) == 0 || len(payload) == 0 {
		return nil
	}

	ids := make([]*qdrant.PointId, 0, len(nodeIDs))
	for _, nodeID := range nodeIDs {
		ids = append(ids, qdrant.NewIDUUID(nodeID))
	}

	values := make(map[string]*qdrant.Value, len(payload))
	for k, v := range payload {
		switch val := v.(type) {
		case bool:
			values[k] = qdrant.NewValueBool(val)
		case int64:
			values[k] = qdrant.NewValueInt(val)
		case int:
			values[k] = qdrant.NewValueInt(int64(val))
		case float64:
			values[k] = qdrant.NewValueDouble(val)
		case string:
			values[k] = qdrant.NewValueString(val)
		default:
			return fmt.Errorf("不支持的 payload 类型: %T", v)
		}
	}

	_, err := s.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: collectionName(datasetID),
		Payload:        values,
		PointsSelector: qdrant.NewPointsSelector(ids...),
	})
	if err != nil {
		return fmt.Errorf("更新向量 payload 失败: %w", err)
	}
	return nil
}

// DeleteByNodeIDs 按 nodeId 删除向量点
func (s *QdrantStore) DeleteByNodeIDs(ctx context.Context, datasetID int64, nodeIDs []string) error {
	if len(nodeIDs) == 0 {
		return nil
	}

	ids := make([]*qdrant.PointId, 0, len(nodeIDs))
	for _, nodeID := range nodeIDs {
		ids = append(ids, qdrant.NewIDUUID(nodeID))
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collectionName(datasetID),
		Points:         qdrant.NewPointsSelector(ids...),
	})
	if err != nil {
		return fmt.Errorf("删除向量失败: %w", err)
	}
	return nil
}

// Search 在多个知识库内做相似度检索
// 只返回分块和所属文档均启用的结果，合并后按分数降序截断
func (s *QdrantStore) Search(ctx context.Context, datasetIDs []int64, vector []float32, topK int, scoreThreshold float32) ([]VectorHit, error) {
	var hits []VectorHit

	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatchBool("enabled", true),
			qdrant.NewMatchBool("document_enabled", true),
		},
	}

	for _, datasetID := range datasetIDs {
		name := collectionName(datasetID)

		exists, err := s.client.CollectionExists(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("检查 collection 失败: %w", err)
		}
		if !exists {
			continue
		}

		query := &qdrant.QueryPoints{
			CollectionName: name,
			Query:          qdrant.NewQueryDense(vector),
			Limit:          qdrant.PtrOf(uint64(topK)),
			Filter:         filter,
			WithPayload:    qdrant.NewWithPayload(true),
		}
		if scoreThreshold > 0 {
			query.ScoreThreshold = qdrant.PtrOf(scoreThreshold)
		}

		points, err := s.client.Query(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("向量检索失败 (collection=%s): %w", name, err)
		}

		for _, point := range points {
			hit := VectorHit{
				DatasetID: datasetID,
				Score:     float64(point.Score),
			}
			if uuid := point.Id.GetUuid(); uuid != "" {
				hit.NodeID = uuid
			}
			if payload := point.Payload; payload != nil {
				if v, ok := payload["content"]; ok {
					hit.Content = v.GetStringValue()
				}
				if v, ok := payload["segment_id"]; ok {
					hit.SegmentID = v.GetIntegerValue()
				}
				if v, ok := payload["document_id"]; ok {
					hit.DocumentID = v.GetIntegerValue()
				}
			}
			hits = append(hits, hit)
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}
