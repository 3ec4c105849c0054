// Package errors 提供统一的错误定义
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 通用错误 (1xxx)
	CodeSuccess         ErrorCode = "0"
	CodeUnknown         ErrorCode = "1000"
	CodeInvalidParam    ErrorCode = "1001"
	CodeNotFound        ErrorCode = "1002"
	CodeConflict        ErrorCode = "1003"
	CodeTooManyRequests ErrorCode = "1004"
	CodeInternalError   ErrorCode = "1005"

	// 资源错误 (2xxx)
	CodeNovelNotFound   ErrorCode = "2001"
	CodeJobNotFound     ErrorCode = "2002"
	CodeChapterNotFound ErrorCode = "2003"

	// 任务错误 (3xxx)
	CodeJobTerminal    ErrorCode = "3001"
	CodeJobDataInvalid ErrorCode = "3002"
	CodeJobStale       ErrorCode = "3003"
	CodeJobNotQueued   ErrorCode = "3004"

	// 生成错误 (4xxx)
	CodeGenerationFailed ErrorCode = "4001"
	CodeOutlineParse     ErrorCode = "4002"
	CodeOutlineCount     ErrorCode = "4003"
	CodeLLMCallFailed    ErrorCode = "4004"
	CodeLLMRateLimited   ErrorCode = "4005"
	CodeLLMTimeout       ErrorCode = "4006"

	// 外部服务错误 (5xxx)
	CodeStorageError ErrorCode = "5001"
	CodeCacheError   ErrorCode = "5002"
)

// AppError 应用错误
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	HTTPStatus int       `json:"-"`
	Err        error     `json:"-"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail 返回携带详细信息的副本,不修改原错误(预定义错误是共享的)
func (e *AppError) WithDetail(detail string) *AppError {
	ne := *e
	ne.Detail = detail
	return &ne
}

// WithError 返回携带底层错误的副本
func (e *AppError) WithError(err error) *AppError {
	ne := *e
	ne.Err = err
	return &ne
}

// New 创建新的应用错误
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

// Wrap 包装错误
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Err:        err,
	}
}

// codeToHTTPStatus 错误码转 HTTP 状态码
func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case CodeSuccess:
		return http.StatusOK
	case CodeInvalidParam, CodeJobDataInvalid:
		return http.StatusBadRequest
	case CodeNotFound, CodeNovelNotFound, CodeJobNotFound, CodeChapterNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeJobTerminal, CodeJobNotQueued:
		return http.StatusConflict
	case CodeTooManyRequests, CodeLLMRateLimited:
		return http.StatusTooManyRequests
	case CodeLLMTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// 预定义错误
var (
	ErrInvalidParam    = New(CodeInvalidParam, "invalid parameter")
	ErrNotFound        = New(CodeNotFound, "resource not found")
	ErrConflict        = New(CodeConflict, "resource conflict")
	ErrTooManyRequests = New(CodeTooManyRequests, "too many requests")
	ErrInternalError   = New(CodeInternalError, "internal server error")

	ErrNovelNotFound   = New(CodeNovelNotFound, "novel not found")
	ErrJobNotFound     = New(CodeJobNotFound, "job not found")
	ErrChapterNotFound = New(CodeChapterNotFound, "chapter not found")

	ErrJobTerminal    = New(CodeJobTerminal, "job already in terminal state")
	ErrJobDataInvalid = New(CodeJobDataInvalid, "job data invalid")
	ErrJobStale       = New(CodeJobStale, "job exceeded staleness timeout")
	ErrJobNotQueued   = New(CodeJobNotQueued, "job is no longer queued")

	ErrGenerationFailed = New(CodeGenerationFailed, "generation failed")
	ErrOutlineParse     = New(CodeOutlineParse, "outline response not parseable")
	ErrLLMCallFailed    = New(CodeLLMCallFailed, "LLM call failed")
)

// IsAppError 检查错误链中是否包含 AppError
func IsAppError(err error) bool {
	return AsAppError(err) != nil
}

// AsAppError 提取错误链中的 AppError,不包含时返回 nil
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}
