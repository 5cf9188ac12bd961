package feed

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	BadRequest   ErrorCode = "bad-request"
	NotAvailable ErrorCode = "not-available"
	NotFound     ErrorCode = "not-found"
	Malformed    ErrorCode = "malformed"
	Closed       ErrorCode = "closed"
	UnknownError ErrorCode = "unknown-error"
)

type ErrorInfo struct {
	Code    ErrorCode // machine-readble ErrorCode enumeration
	Message string    // human-readable debug message (logged on the server, sent to subscribers on error)
}

func (e *ErrorInfo) Error() string {
	return string(e.Message)
}

func NewErr(code ErrorCode, format string, args ...any) error {
	return &ErrorInfo{Code: code, Message: fmt.Sprintf(format, args...)}
}

func IsNotFoundError(err error) bool {
	return IsError(err, NotFound)
}

func IsMalformedError(err error) bool {
	return IsError(err, Malformed)
}

func IsClosedError(err error) bool {
	return IsError(err, Closed)
}

// IsError reports whether err (or anything it wraps) is an ErrorInfo with the given code.
func IsError(err error, ofType ErrorCode) bool {
	var e *ErrorInfo
	if errors.As(err, &e) {
		return e.Code == ofType
	}
	return false
}

