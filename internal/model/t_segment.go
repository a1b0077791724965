package model

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

const TableNameTSegment = "t_segment"

// StringList 字符串列表，JSON 方式持久化
type StringList []string

// Value 实现 driver.Valuer 接口
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		l = StringList{}
	}
	return sonic.Marshal(l)
}

// Scan 实现 sql.Scanner 接口
func (l *StringList) Scan(val interface{}) error {
	if val == nil {
		*l = nil
		return nil
	}
	var b []byte
	switch v := val.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("StringList.Scan: unsupported type %T", val)
	}
	return sonic.Unmarshal(b, l)
}

// TSegment 知识库分块表
type TSegment struct {
	ID            int64      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	CreatedAt     *time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt     *time.Time `gorm:"column:updated_at" json:"updated_at"`
	DatasetID     int64      `gorm:"column:dataset_id;not null;index:idx_seg_dataset_id" json:"dataset_id"`
	DocumentID    int64      `gorm:"column:document_id;not null;index:idx_seg_document_id" json:"document_id"`
	Position      int        `gorm:"column:position;not null;default:0" json:"position"`
	Content       string     `gorm:"column:content;type:text;not null" json:"content"`
	WordCount     int        `gorm:"column:word_count;default:0" json:"word_count"`
	Tokens        int        `gorm:"column:tokens;default:0" json:"tokens"`
	Keywords      StringList `gorm:"column:keywords;type:json" json:"keywords"`
	IndexNodeID   *string    `gorm:"column:index_node_id;type:varchar(64);index:idx_seg_node_id" json:"index_node_id"`
	IndexNodeHash *string    `gorm:"column:index_node_hash;type:varchar(64)" json:"index_node_hash"`
	HitCount      int        `gorm:"column:hit_count;default:0" json:"hit_count"`
	Enabled       bool       `gorm:"column:enabled;default:0" json:"enabled"`
	DisabledAt    *time.Time `gorm:"column:disabled_at" json:"disabled_at"`
	Status        string     `gorm:"column:status;type:varchar(20);default:waiting;index:idx_seg_status" json:"status"`
	Error         *string    `gorm:"column:error;type:text" json:"error"`
	CompletedAt   *time.Time `gorm:"column:completed_at" json:"completed_at"`
}

func (*TSegment) TableName() string {
	return TableNameTSegment
}

// NodeID 返回向量库主键，未分配时为空串
func (s *TSegment) NodeID() string {
	if s.IndexNodeID == nil {
		return ""
	}
	return *s.IndexNodeID
}
