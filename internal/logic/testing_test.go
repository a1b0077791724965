package logic

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"kbase/internal/model"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newTestDB 创建内存数据库并建表
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	// 内存库按连接隔离，并且写并发会触发锁冲突，统一收敛到单连接
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&model.TDataset{},
		&model.TUploadFile{},
		&model.TProcessRule{},
		&model.TDocument{},
		&model.TSegment{},
		&model.TKeywordTable{},
	))
	return db
}

// mustCreate 插入一行并返回
func mustCreate[T any](t *testing.T, db *gorm.DB, row *T) *T {
	t.Helper()
	require.NoError(t, db.Create(row).Error)
	return row
}

// -----------------------------------------------
// 协作方的内存假实现
// -----------------------------------------------

// fakeEmbedder 确定性嵌入器，向量由文本长度派生
type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
	fail  error
}

func (e *fakeEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	fail := e.fail
	e.mu.Unlock()
	if fail != nil {
		return nil, fail
	}
	if e.delay > 0 {
		time.Sleep(e.delay)
	}

	result := make([][]float32, len(texts))
	for i, text := range texts {
		result[i] = []float32{float32(len(text)), 1, 0, 0}
	}
	return result, nil
}

func (e *fakeEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// fakePoint 假向量库中的一个点
type fakePoint struct {
	point   VectorPoint
	payload map[string]any
}

// fakeVectorStore 内存向量库
// 记录并发写入的峰值，用于验证写入器的并发上限
type fakeVectorStore struct {
	mu          sync.Mutex
	collections map[int64]int
	points      map[int64]map[string]*fakePoint
	inFlight    int
	maxInFlight int
	upsertDelay time.Duration
	failUpsert  error
	failPayload error
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{
		collections: make(map[int64]int),
		points:      make(map[int64]map[string]*fakePoint),
	}
}

func (s *fakeVectorStore) EnsureCollection(ctx context.Context, datasetID int64, dimension int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[datasetID]; !ok {
		s.collections[datasetID] = dimension
		s.points[datasetID] = make(map[string]*fakePoint)
	}
	return nil
}

func (s *fakeVectorStore) Upsert(ctx context.Context, datasetID int64, points []VectorPoint) error {
	s.mu.Lock()
	if s.failUpsert != nil {
		err := s.failUpsert
		s.mu.Unlock()
		return err
	}
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	s.mu.Unlock()

	if s.upsertDelay > 0 {
		time.Sleep(s.upsertDelay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--
	if s.points[datasetID] == nil {
		s.points[datasetID] = make(map[string]*fakePoint)
	}
	for _, p := range points {
		s.points[datasetID][p.NodeID] = &fakePoint{
			point: p,
			payload: map[string]any{
				"enabled":          p.Enabled,
				"document_enabled": p.DocumentEnabled,
			},
		}
	}
	return nil
}

func (s *fakeVectorStore) UpdatePayload(ctx context.Context, datasetID int64, nodeIDs []string, payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPayload != nil {
		return s.failPayload
	}
	for _, nodeID := range nodeIDs {
		if p, ok := s.points[datasetID][nodeID]; ok {
			for k, v := range payload {
				p.payload[k] = v
			}
		}
	}
	return nil
}

func (s *fakeVectorStore) DeleteByNodeIDs(ctx context.Context, datasetID int64, nodeIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, nodeID := range nodeIDs {
		delete(s.points[datasetID], nodeID)
	}
	return nil
}

func (s *fakeVectorStore) Search(ctx context.Context, datasetIDs []int64, vector []float32, topK int, scoreThreshold float32) ([]VectorHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var hits []VectorHit
	for _, datasetID := range datasetIDs {
		for _, p := range s.points[datasetID] {
			if enabled, ok := p.payload["enabled"].(bool); !ok || !enabled {
				continue
			}
			if enabled, ok := p.payload["document_enabled"].(bool); !ok || !enabled {
				continue
			}
			// 分数由向量首维的接近程度派生，检索确定可复现
			diff := p.point.Vector[0] - vector[0]
			if diff < 0 {
				diff = -diff
			}
			score := 1 / (1 + float64(diff))
			if score < float64(scoreThreshold) {
				continue
			}
			hits = append(hits, VectorHit{
				NodeID:     p.point.NodeID,
				SegmentID:  p.point.SegmentID,
				DocumentID: p.point.DocumentID,
				DatasetID:  datasetID,
				Content:    p.point.Content,
				Score:      score,
			})
		}
	}

	for i := 0; i < len(hits); i++ {
		for j := i + 1; j < len(hits); j++ {
			if hits[j].Score > hits[i].Score {
				hits[i], hits[j] = hits[j], hits[i]
			}
		}
	}
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *fakeVectorStore) pointCount(datasetID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.points[datasetID])
}

func (s *fakeVectorStore) payloadOf(datasetID int64, nodeID string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.points[datasetID][nodeID]
	if !ok {
		return nil
	}
	copied := make(map[string]any, len(p.payload))
	for k, v := range p.payload {
		copied[k] = v
	}
	return copied
}

// fakeLocker 进程内互斥锁，可按 key 注入获取失败
type fakeLocker struct {
	mu      sync.Mutex
	held    map[string]bool
	denied  map[string]bool
	history []string
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{
		held:   make(map[string]bool),
		denied: make(map[string]bool),
	}
}

func (l *fakeLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history = append(l.history, key)
	if l.denied[key] || l.held[key] {
		return nil, fmt.Errorf("锁已被占用: %s", key)
	}
	l.held[key] = true
	return &fakeLock{locker: l, key: key}, nil
}

type fakeLock struct {
	locker *fakeLocker
	key    string
}

func (f *fakeLock) Release(ctx context.Context) error {
	f.locker.mu.Lock()
	defer f.locker.mu.Unlock()
	delete(f.locker.held, f.key)
	return nil
}

// fakeLoader 内存文件加载器
type fakeLoader struct {
	files map[string]string
	fail  map[string]error
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{
		files: make(map[string]string),
		fail:  make(map[string]error),
	}
}

func (l *fakeLoader) Load(key string) ([]TextBlock, error) {
	if err := l.fail[key]; err != nil {
		return nil, err
	}
	text, ok := l.files[key]
	if !ok {
		return nil, fmt.Errorf("文件不存在: %s", key)
	}
	return []TextBlock{{Text: text}}, nil
}
