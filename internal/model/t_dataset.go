package model

import "time"

const TableNameTDataset = "t_dataset"

// TDataset 知识库表
type TDataset struct {
	ID            int64      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	CreatedAt     *time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt     *time.Time `gorm:"column:updated_at" json:"updated_at"`
	Name          string     `gorm:"column:name;type:varchar(255);not null" json:"name"`
	Description   *string    `gorm:"column:description;type:text" json:"description"`
	Collection    *string    `gorm:"column:collection;type:varchar(64)" json:"collection"`
	Dimension     *int32     `gorm:"column:dimension;default:1536" json:"dimension"`
	DocumentCount *int32     `gorm:"column:document_count;default:0" json:"document_count"`
	SegmentCount  *int32     `gorm:"column:segment_count;default:0" json:"segment_count"`
}

func (*TDataset) TableName() string {
	return TableNameTDataset
}
