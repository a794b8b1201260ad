package common

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrorCode classifies errors raised by the index engine.
type ErrorCode int

const (
	// CapacityExceededError means the index already holds the maximum number of distinct values.
	CapacityExceededError ErrorCode = iota + 1
	// CorruptPageError means a page failed a layout check: wrong kind tag, bad magic, or an impossible offset.
	CorruptPageError
	// ConcurrentInsertError signals that another inserter registered a value while we were looking; the
	// resolve-or-append step must be retried. It never escapes the value directory.
	ConcurrentInsertError
	// InvalidRowIDError means a row identifier's slot is outside the range a heap block can hold.
	InvalidRowIDError
	// InvalidBlockError means a block number was out of range for the requested operation.
	InvalidBlockError
	// UnknownOptionError means an unrecognized reloption was supplied.
	UnknownOptionError
	// IndexNotEmptyError means a build was requested on an index file that already contains pages.
	IndexNotEmptyError
	// BufferPoolFullError means every frame in the buffer pool is pinned.
	BufferPoolFullError
	// FeatureNotSupportedError means the caller asked the access method for something it cannot do, such as a
	// backward scan.
	FeatureNotSupportedError
)

func (c ErrorCode) String() string {
	switch c {
	case CapacityExceededError:
		return "CapacityExceededError"
	case CorruptPageError:
		return "CorruptPageError"
	case ConcurrentInsertError:
		return "ConcurrentInsertError"
	case InvalidRowIDError:
		return "InvalidRowIDError"
	case InvalidBlockError:
		return "InvalidBlockError"
	case UnknownOptionError:
		return "UnknownOptionError"
	case IndexNotEmptyError:
		return "IndexNotEmptyError"
	case BufferPoolFullError:
		return "BufferPoolFullError"
	case FeatureNotSupportedError:
		return "FeatureNotSupportedError"
	}
	return "UnknownError"
}

// GoDBError is the error type for conditions the engine detects itself.
type GoDBError struct {
	Code      ErrorCode
	ErrString string
}

func (e GoDBError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.ErrString)
}

// NewError builds a GoDBError with a formatted message.
func NewError(code ErrorCode, format string, args ...any) error {
	return errors.WithStack(GoDBError{Code: code, ErrString: fmt.Sprintf(format, args...)})
}

// IsError reports whether err, or anything it wraps, is a GoDBError with the given code.
func IsError(err error, code ErrorCode) bool {
	var e GoDBError
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
