package types

import (
	"errors"
	"fmt"
)

// ErrorCode 错误码
type ErrorCode string

const (
	// 通用错误码
	ErrCodeUnknown    ErrorCode = "UNKNOWN_ERROR"
	ErrCodeNotFound   ErrorCode = "NOT_FOUND"
	ErrCodeBadRequest ErrorCode = "BAD_REQUEST"
	ErrCodeConflict   ErrorCode = "CONFLICT"
	ErrCodeInternal   ErrorCode = "INTERNAL_ERROR"

	// 知识库相关错误码
	ErrCodeDatasetNotFound     ErrorCode = "DATASET_NOT_FOUND"
	ErrCodeDocumentNotFound    ErrorCode = "DOCUMENT_NOT_FOUND"
	ErrCodeSegmentNotFound     ErrorCode = "SEGMENT_NOT_FOUND"
	ErrCodeUploadFileNotFound  ErrorCode = "UPLOAD_FILE_NOT_FOUND"
	ErrCodeProcessRuleNotFound ErrorCode = "PROCESS_RULE_NOT_FOUND"

	// 索引相关错误码
	ErrCodeLockNotAcquired ErrorCode = "LOCK_NOT_ACQUIRED"
	ErrCodeInvalidState    ErrorCode = "INVALID_STATE"
	ErrCodeVectorWrite     ErrorCode = "VECTOR_WRITE_FAILED"
	ErrCodeEmbedding       ErrorCode = "EMBEDDING_FAILED"
)

// AppError 应用错误
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	Cause   error     `json:"-"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 返回原始错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError 创建应用错误
func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// NewAppErrorWithDetails 创建带详情的应用错误
func NewAppErrorWithDetails(code ErrorCode, message, details string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// NewAppErrorWithCause 创建带原因的应用错误
func NewAppErrorWithCause(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Details: cause.Error(),
		Cause:   cause,
	}
}

// 预定义错误
var (
	ErrDatasetNotFound     = NewAppError(ErrCodeDatasetNotFound, "知识库不存在")
	ErrDocumentNotFound    = NewAppError(ErrCodeDocumentNotFound, "文档不存在")
	ErrSegmentNotFound     = NewAppError(ErrCodeSegmentNotFound, "分块不存在")
	ErrUploadFileNotFound  = NewAppError(ErrCodeUploadFileNotFound, "上传文件不存在")
	ErrProcessRuleNotFound = NewAppError(ErrCodeProcessRuleNotFound, "处理规则不存在")

	ErrLockNotAcquired = NewAppError(ErrCodeLockNotAcquired, "锁已被其他调用方持有")
	ErrEnabledNoChange = NewAppError(ErrCodeBadRequest, "启用状态未发生变化")
	ErrSegmentNotReady = NewAppError(ErrCodeInvalidState, "分块尚未完成索引，不可编辑")
)

// IsAppError 检查是否为应用错误
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetErrorCode 获取错误码
func GetErrorCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeUnknown
}
