package logic

import (
	"fmt"
	"os"
	"path/filepath"

	"kbase/internal/types"
)

// -----------------------------------------------
// 本地文件加载器
// 根据上传文件的存储 key 读取并抽取文本
// -----------------------------------------------

// LocalFileLoader 本地文件系统加载器
type LocalFileLoader struct {
	basePath string
}

// NewLocalFileLoader 创建本地文件加载器
func NewLocalFileLoader(basePath string) *LocalFileLoader {
	if basePath == "" {
		basePath = "./data/uploads"
	}
	return &LocalFileLoader{basePath: basePath}
}

// Load 读取文件并返回文本块
func (l *LocalFileLoader) Load(key string) ([]TextBlock, error) {
	fullPath := filepath.Join(l.basePath, key)
	data, err := os.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.NewAppErrorWithCause(types.ErrCodeUploadFileNotFound, "上传文件不存在", err)
		}
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}

	return []TextBlock{
		{
			Text: string(data),
			Metadata: map[string]string{
				"source": key,
			},
		},
	}, nil
}

// FullPath 返回完整物理路径
func (l *LocalFileLoader) FullPath(key string) string {
	return filepath.Join(l.basePath, key)
}
