package model

import (
	"time"

	"gorm.io/datatypes"
)

const TableNameTKeywordTable = "t_keyword_table"

// TKeywordTable 知识库关键词倒排索引表
// 每个知识库一行，keyword_table 为 关键词 -> 分块 id 集合 的 JSON 映射
// 所有修改都是整值读改写，必须在数据集级互斥锁内进行
type TKeywordTable struct {
	ID           int64          `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	CreatedAt    *time.Time     `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    *time.Time     `gorm:"column:updated_at" json:"updated_at"`
	DatasetID    int64          `gorm:"column:dataset_id;not null;uniqueIndex:uk_kwt_dataset_id" json:"dataset_id"`
	KeywordTable datatypes.JSON `gorm:"column:keyword_table;type:json" json:"keyword_table"`
}

func (*TKeywordTable) TableName() string {
	return TableNameTKeywordTable
}
