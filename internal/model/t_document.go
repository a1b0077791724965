package model

import "time"

const TableNameTDocument = "t_document"

// TDocument 知识库文档表
type TDocument struct {
	ID                  int64      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	CreatedAt           *time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt           *time.Time `gorm:"column:updated_at" json:"updated_at"`
	DatasetID           int64      `gorm:"column:dataset_id;not null;index:idx_doc_dataset_id" json:"dataset_id"`
	UploadFileID        *int64     `gorm:"column:upload_file_id" json:"upload_file_id"`
	ProcessRuleID       *int64     `gorm:"column:process_rule_id" json:"process_rule_id"`
	Batch               string     `gorm:"column:batch;type:varchar(64);index:idx_doc_batch" json:"batch"`
	Name                string     `gorm:"column:name;type:varchar(255);not null" json:"name"`
	Position            int        `gorm:"column:position;not null;default:0" json:"position"`
	WordCount           *int32     `gorm:"column:word_count;default:0" json:"word_count"`
	TokenCount          *int32     `gorm:"column:token_count;default:0" json:"token_count"`
	IndexingStatus      string     `gorm:"column:indexing_status;type:varchar(32);default:waiting;index:idx_doc_indexing_status" json:"indexing_status"`
	Error               *string    `gorm:"column:error;type:text" json:"error"`
	Enabled             bool       `gorm:"column:enabled;default:0" json:"enabled"`
	DisabledAt          *time.Time `gorm:"column:disabled_at" json:"disabled_at"`
	ProcessingStartedAt *time.Time `gorm:"column:processing_started_at" json:"processing_started_at"`
	ParsingCompletedAt  *time.Time `gorm:"column:parsing_completed_at" json:"parsing_completed_at"`
	SplittingCompletedAt *time.Time `gorm:"column:splitting_completed_at" json:"splitting_completed_at"`
	IndexingCompletedAt *time.Time `gorm:"column:indexing_completed_at" json:"indexing_completed_at"`
	CompletedAt         *time.Time `gorm:"column:completed_at" json:"completed_at"`
	StoppedAt           *time.Time `gorm:"column:stopped_at" json:"stopped_at"`
}

func (*TDocument) TableName() string {
	return TableNameTDocument
}

// Status 返回文档索引状态枚举
func (d *TDocument) Status() DocumentStatus {
	return DocumentStatus(d.IndexingStatus)
}
