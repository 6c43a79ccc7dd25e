package common

import (
	"errors"
	"net/http"
)

// ErrorKind 錯誤分類
type ErrorKind string

const (
	// 可重試錯誤
	KindTransient ErrorKind = "TRANSIENT"

	// 不可重試錯誤
	KindConflict   ErrorKind = "PERMANENT_CONFLICT"
	KindNotFound   ErrorKind = "PERMANENT_NOT_FOUND"
	KindValidation ErrorKind = "PERMANENT_VALIDATION"
	KindAuth       ErrorKind = "PERMANENT_AUTH"
	KindOther      ErrorKind = "PERMANENT_OTHER"
)

// APIError 對外部服務請求的類型化錯誤
type APIError struct {
	Kind    ErrorKind // 錯誤分類
	Status  int       // HTTP 狀態碼（網路錯誤為 0）
	Message string    // 錯誤信息
	Err     error     // 原始錯誤
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Retryable 是否可重試
func (e *APIError) Retryable() bool {
	return e.Kind == KindTransient
}

// NewAPIError 創建新的 API 錯誤
func NewAPIError(kind ErrorKind, status int, message string, err error) *APIError {
	return &APIError{
		Kind:    kind,
		Status:  status,
		Message: message,
		Err:     err,
	}
}

// ClassifyStatus 依 HTTP 狀態碼分類錯誤
func ClassifyStatus(status int) ErrorKind {
	switch status {
	case http.StatusRequestTimeout,
		http.StatusTooEarly,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return KindTransient
	case http.StatusConflict:
		return KindConflict
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return KindValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuth
	}
	return KindOther
}

// KindOf 取出錯誤分類，非 APIError 視為 PERMANENT_OTHER
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindOther
}

// IsAuthError 是否為認證錯誤（致命，應中止工作階段）
func IsAuthError(err error) bool {
	return KindOf(err) == KindAuth
}

// IsConflictError 是否為資源衝突錯誤
func IsConflictError(err error) bool {
	return KindOf(err) == KindConflict
}

// IsNotFoundError 是否為資源不存在錯誤
func IsNotFoundError(err error) bool {
	return KindOf(err) == KindNotFound
}

// ValidationError 表示前置驗證錯誤
type ValidationError struct {
	Field   string
	Message string
}

// Error 實現 error 介面
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return e.Field + ": " + e.Message
	}
	return e.Message
}

// NewValidationError 創建新的驗證錯誤
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError 檢查是否為驗證錯誤
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
