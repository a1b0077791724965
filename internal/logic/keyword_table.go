package logic

import (
	"context"
	"errors"
	"sort"
	"time"

	"kbase/internal/logger"
	"kbase/internal/model"
	"kbase/internal/utils"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// -----------------------------------------------
// 关键词倒排索引
// 每个知识库一行，整表 JSON 读改写，改动需持有知识库锁
// -----------------------------------------------

// KeywordMapping 关键词 -> 分块 ID 列表
type KeywordMapping map[string][]int64

// AddSegment 将分块登记到其关键词的倒排列表
// 列表保持升序去重
func (m KeywordMapping) AddSegment(segmentID int64, keywords []string) {
	for _, kw := range keywords {
		ids := m[kw]
		if utils.SliceContains(ids, segmentID) {
			continue
		}
		ids = append(ids, segmentID)
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		m[kw] = ids
	}
}

// RemoveSegments 将分块从所有倒排列表中摘除，空列表的关键词一并删除
func (m KeywordMapping) RemoveSegments(segmentIDs []int64) {
	if len(segmentIDs) == 0 {
		return
	}
	removed := make(map[int64]struct{}, len(segmentIDs))
	for _, id := range segmentIDs {
		removed[id] = struct{}{}
	}

	for kw, ids := range m {
		kept := ids[:0]
		for _, id := range ids {
			if _, ok := removed[id]; !ok {
				kept = append(kept, id)
			}
		}
		if len(kept) == 0 {
			delete(m, kw)
		} else {
			m[kw] = kept
		}
	}
}

// KeywordStore 关键词倒排索引的持久化访问
type KeywordStore struct {
	db     *gorm.DB
	locker Locker
	expiry time.Duration
}

// NewKeywordStore 创建关键词索引访问器
func NewKeywordStore(db *gorm.DB, locker Locker, expiry time.Duration) *KeywordStore {
	if expiry <= 0 {
		expiry = 60 * time.Second
	}
	return &KeywordStore{db: db, locker: locker, expiry: expiry}
}

// AddSegments 把若干分块的关键词合并进知识库倒排索引
// 拿不到知识库锁时记录日志后跳过，不阻塞索引主流程
func (s *KeywordStore) AddSegments(ctx context.Context, datasetID int64, segments []*model.TSegment) error {
	return s.mutate(ctx, datasetID, func(mapping KeywordMapping) {
		for _, seg := range segments {
			mapping.AddSegment(seg.ID, seg.Keywords)
		}
	})
}

// RemoveSegments 把若干分块从知识库倒排索引中摘除
func (s *KeywordStore) RemoveSegments(ctx context.Context, datasetID int64, segmentIDs []int64) error {
	if len(segmentIDs) == 0 {
		return nil
	}
	return s.mutate(ctx, datasetID, func(mapping KeywordMapping) {
		mapping.RemoveSegments(segmentIDs)
	})
}

// Load 读取知识库的倒排索引，不存在时返回空表
func (s *KeywordStore) Load(ctx context.Context, datasetID int64) (KeywordMapping, error) {
	var row model.TKeywordTable
	err := s.db.WithContext(ctx).Where("dataset_id = ?", datasetID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return KeywordMapping{}, nil
		}
		return nil, err
	}
	return decodeKeywordTable(row.KeywordTable)
}

// mutate 在知识库锁保护下对倒排索引做读改写
func (s *KeywordStore) mutate(ctx context.Context, datasetID int64, fn func(KeywordMapping)) error {
	lock, err := s.locker.Acquire(ctx, datasetLockKey(datasetID), s.expiry)
	if err != nil {
		logger.Warn("获取知识库锁失败，跳过本次关键词索引更新",
			zap.Int64("dataset_id", datasetID),
			zap.Error(err))
		return nil
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			logger.Warn("释放知识库锁失败",
				zap.Int64("dataset_id", datasetID),
				zap.Error(err))
		}
	}()

	row, err := s.getOrCreate(ctx, datasetID)
	if err != nil {
		return err
	}

	mapping, err := decodeKeywordTable(row.KeywordTable)
	if err != nil {
		logger.Warn("关键词索引内容损坏，重建为空表",
			zap.Int64("dataset_id", datasetID),
			zap.Error(err))
		mapping = KeywordMapping{}
	}

	fn(mapping)

	data, err := utils.Marshal(mapping)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&model.TKeywordTable{}).
		Where("id = ?", row.ID).
		Update("keyword_table", datatypes.JSON(data)).Error
}

// getOrCreate 读取知识库的倒排索引行，不存在则创建
func (s *KeywordStore) getOrCreate(ctx context.Context, datasetID int64) (*model.TKeywordTable, error) {
	var row model.TKeywordTable
	err := s.db.WithContext(ctx).Where("dataset_id = ?", datasetID).First(&row).Error
	if err == nil {
		return &row, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	empty, err := utils.Marshal(KeywordMapping{})
	if err != nil {
		return nil, err
	}
	row = model.TKeywordTable{
		DatasetID:    datasetID,
		KeywordTable: empty,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		// 并发创建触发唯一索引冲突时复读已有行
		var existing model.TKeywordTable
		if ferr := s.db.WithContext(ctx).Where("dataset_id = ?", datasetID).First(&existing).Error; ferr == nil {
			return &existing, nil
		}
		return nil, err
	}
	return &row, nil
}

func decodeKeywordTable(data []byte) (KeywordMapping, error) {
	if len(data) == 0 {
		return KeywordMapping{}, nil
	}
	var mapping KeywordMapping
	if err := utils.Unmarshal(data, &mapping); err != nil {
		return nil, err
	}
	if mapping == nil {
		mapping = KeywordMapping{}
	}
	return mapping, nil
}
