package pkg

import (
	"errors"
	"net/http"
)

// AppError 跨层传递的业务错误，Code 稳定，Origin 为底层原因
type AppError struct {
	Code    string
	Message string
	Origin  error
}

func (e *AppError) Error() string {
	if e.Origin != nil {
		return e.Message + ": " + e.Origin.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Origin }

const (
	ErrInvalidInput     = "INVALID_INPUT"
	ErrNotFound         = "NOT_FOUND"
	ErrForbidden        = "FORBIDDEN"
	ErrUnauthorized     = "UNAUTHORIZED"
	ErrAlreadyMember    = "ALREADY_MEMBER"
	ErrNotMember        = "NOT_MEMBER"
	ErrPrivateCommunity = "PRIVATE_COMMUNITY"
	ErrConflict         = "CONFLICT"
	ErrDatabase         = "DATABASE_ERROR"
	ErrTransport        = "TRANSPORT_ERROR"
	ErrTimeout          = "TIMEOUT"
)

func NewAppError(code, message string, origin error) *AppError {
	return &AppError{Code: code, Message: message, Origin: origin}
}

func Invalid(message string) *AppError {
	return &AppError{Code: ErrInvalidInput, Message: message}
}

func NotFound(message string) *AppError {
	return &AppError{Code: ErrNotFound, Message: message}
}

func Forbidden(message string) *AppError {
	return &AppError{Code: ErrForbidden, Message: message}
}

// Database 包装存储层错误；已带 Code 的错误原样返回
func Database(message string, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return err
	}
	return &AppError{Code: ErrDatabase, Message: message, Origin: err}
}

// CodeOf 取错误链上第一个 AppError 的 Code，没有则为空串
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

func IsCode(err error, code string) bool {
	return CodeOf(err) == code
}

// HTTPStatus 错误码到 HTTP 状态码的唯一映射处
func HTTPStatus(code string) int {
	switch code {
	case ErrInvalidInput:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden, ErrPrivateCommunity, ErrNotMember:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrAlreadyMember, ErrConflict:
		return http.StatusConflict
	case ErrTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
