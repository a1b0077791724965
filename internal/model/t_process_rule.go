package model

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

const TableNameTProcessRule = "t_process_rule"

// ProcessRuleSpec 文档处理规则
// 预处理开关 + 分块参数，带默认值，不使用自由格式 map
type ProcessRuleSpec struct {
	RemoveExtraSpaces bool     `json:"remove_extra_spaces"` // 折叠重复空白/换行
	RemoveURLsEmails  bool     `json:"remove_urls_emails"`  // 去除 URL 和邮箱
	Separators        []string `json:"separators"`          // 分块分隔符，按优先级排列
	ChunkSize         int      `json:"chunk_size"`
	ChunkOverlap      int      `json:"chunk_overlap"`
}

// Value 实现 driver.Valuer 接口
func (r ProcessRuleSpec) Value() (driver.Value, error) {
	return sonic.Marshal(r)
}

// Scan 实现 sql.Scanner 接口
func (r *ProcessRuleSpec) Scan(val interface{}) error {
	if val == nil {
		return nil
	}
	var b []byte
	switch v := val.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("ProcessRuleSpec.Scan: unsupported type %T", val)
	}
	return sonic.Unmarshal(b, r)
}

// DefaultProcessRuleSpec 返回默认处理规则
func DefaultProcessRuleSpec() *ProcessRuleSpec {
	return &ProcessRuleSpec{
		RemoveExtraSpaces: true,
		RemoveURLsEmails:  false,
		Separators:        []string{"\n\n", "\n", "。", ". ", " "},
		ChunkSize:         500,
		ChunkOverlap:      50,
	}
}

// Normalize 填充缺失字段的默认值
func (r *ProcessRuleSpec) Normalize() {
	def := DefaultProcessRuleSpec()
	if len(r.Separators) == 0 {
		r.Separators = def.Separators
	}
	if r.ChunkSize <= 0 {
		r.ChunkSize = def.ChunkSize
	}
	if r.ChunkOverlap < 0 {
		r.ChunkOverlap = 0
	}
	if r.ChunkOverlap >= r.ChunkSize {
		r.ChunkOverlap = r.ChunkSize / 5
	}
}

// TProcessRule 文档处理规则表
type TProcessRule struct {
	ID        int64            `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	CreatedAt *time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt *time.Time       `gorm:"column:updated_at" json:"updated_at"`
	DatasetID int64            `gorm:"column:dataset_id;not null;index:idx_rule_dataset_id" json:"dataset_id"`
	Mode      string           `gorm:"column:mode;type:varchar(20);default:custom" json:"mode"` // automatic, custom
	Rules     *ProcessRuleSpec `gorm:"column:rules;type:json" json:"rules"`
}

func (*TProcessRule) TableName() string {
	return TableNameTProcessRule
}

// Spec 返回生效的处理规则
// automatic 模式或规则缺失时回落到默认值
func (p *TProcessRule) Spec() *ProcessRuleSpec {
	if p == nil || p.Rules == nil || p.Mode == "automatic" {
		return DefaultProcessRuleSpec()
	}
	spec := *p.Rules
	spec.Normalize()
	return &spec
}
