package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// Kind 错误类别
type Kind string

const (
	KindValidation          Kind = "validation"
	KindConcurrencyConflict Kind = "concurrency_conflict"
	KindStateViolation      Kind = "state_violation"
	KindPermissionDenied    Kind = "permission_denied"
	KindNotFound            Kind = "not_found"
	KindMinterContention    Kind = "minter_contention"
	KindIntegrityFault      Kind = "integrity_fault"
	KindBusy                Kind = "busy"
)

// Error 业务错误
type Error struct {
	Kind           Kind
	Message        string
	Reasons        []string
	CurrentVersion int
	cause          error
}

func (e *Error) Error() string {
	msg := e.Message
	if len(e.Reasons) > 0 {
		msg += ": " + strings.Join(e.Reasons, "; ")
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.cause }

// Retryable 调用方可刷新后重试
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindConcurrencyConflict, KindMinterContention, KindBusy:
		return true
	}
	return false
}

func Validation(msg string, reasons ...string) *Error {
	return &Error{Kind: KindValidation, Message: msg, Reasons: reasons}
}

func Validationf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Conflict(msg string, currentVersion int) *Error {
	return &Error{Kind: KindConcurrencyConflict, Message: msg, CurrentVersion: currentVersion}
}

func StateViolation(msg string) *Error {
	return &Error{Kind: KindStateViolation, Message: msg}
}

func StateViolationf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindStateViolation, Message: fmt.Sprintf(format, args...)}
}

func PermissionDenied(msg string) *Error {
	return &Error{Kind: KindPermissionDenied, Message: msg}
}

func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func MinterContention(msg string, cause error) *Error {
	return &Error{Kind: KindMinterContention, Message: msg, cause: cause}
}

// Busy 瞬时失败重试耗尽，与业务版本冲突无关
func Busy(msg string, cause error) *Error {
	return &Error{Kind: KindBusy, Message: msg, cause: cause}
}

// IntegrityFault 不变量被破坏，保留调用栈
func IntegrityFault(msg string) *Error {
	return &Error{Kind: KindIntegrityFault, Message: msg, cause: pkgerrors.New(msg)}
}

// KindOf 返回错误类别，非业务错误返回空串
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func IsNotFound(err error) bool         { return IsKind(err, KindNotFound) }
func IsConflict(err error) bool         { return IsKind(err, KindConcurrencyConflict) }
func IsStateViolation(err error) bool   { return IsKind(err, KindStateViolation) }
func IsPermissionDenied(err error) bool { return IsKind(err, KindPermissionDenied) }
func IsValidation(err error) bool       { return IsKind(err, KindValidation) }
func IsBusy(err error) bool             { return IsKind(err, KindBusy) }

// HTTPStatus 错误类别对应的HTTP状态码
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindStateViolation:
		return http.StatusBadRequest
	case KindConcurrencyConflict, KindMinterContention:
		return http.StatusConflict
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
