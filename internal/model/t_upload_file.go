package model

import "time"

const TableNameTUploadFile = "t_upload_file"

// TUploadFile 上传文件表
type TUploadFile struct {
	ID        int64      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	CreatedAt *time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt *time.Time `gorm:"column:updated_at" json:"updated_at"`
	Name      string     `gorm:"column:name;type:varchar(255);not null" json:"name"`
	Key       string     `gorm:"column:key;type:varchar(512);not null" json:"key"`
	Extension *string    `gorm:"column:extension;type:varchar(20)" json:"extension"`
	Size      *int64     `gorm:"column:size;default:0" json:"size"`
}

func (*TUploadFile) TableName() string {
	return TableNameTUploadFile
}
