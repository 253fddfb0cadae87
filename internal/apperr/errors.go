// Package apperr 定义了业务错误的分类。
// 每个业务错误都带有稳定的机器码和面向用户的消息，HTTP层根据分类决定状态码。
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind 是错误的分类
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindContention
	KindNotFound
	KindForbidden
	KindUnauthorized
	KindUpstream
)

// String 返回分类名称，主要用于日志
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindContention:
		return "contention"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindUnauthorized:
		return "unauthorized"
	case KindUpstream:
		return "upstream"
	default:
		return "internal"
	}
}

// HTTPStatus 将错误分类映射到HTTP状态码
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindContention:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindUpstream:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error 是业务错误。相同Code的错误在 errors.Is 下视为相等。
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

// New 创建一个业务错误，通常用于包级哨兵错误
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	return e.Message
}

// Is 按Code比较，使带有不同消息的同类错误也能匹配哨兵
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithMessage 返回一个Code相同但消息不同的副本
func (e *Error) WithMessage(format string, args ...any) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

// Validation 构造一个输入校验错误
func Validation(code, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

// As 从错误链中提取业务错误
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf 返回错误链中业务错误的分类，找不到时视为内部错误
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindInternal
}
