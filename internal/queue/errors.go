package queue

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorCode classifies a queue error.
type ErrorCode string

const (
	// ErrCodeStoreUnavailable means the backing store could not be reached.
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	// ErrCodePushFailed means a store write failed.
	ErrCodePushFailed ErrorCode = "PUSH_FAILED"
	// ErrCodePopFailed means a store read failed.
	ErrCodePopFailed ErrorCode = "POP_FAILED"
	// ErrCodeEncodeFailed means a message could not be serialized.
	ErrCodeEncodeFailed ErrorCode = "ENCODE_FAILED"
	// ErrCodeDecodeFailed means a stored record was unreadable.
	ErrCodeDecodeFailed ErrorCode = "DECODE_FAILED"
	// ErrCodeBatchFailed means a batch group failed to commit; every id in
	// the group needs resubmission.
	ErrCodeBatchFailed ErrorCode = "BATCH_FAILED"
)

// Sentinel errors for comparison with errors.Is.
var (
	ErrStoreUnavailable = errors.New("backing store unavailable")
	ErrEncodeFailed     = errors.New("message encode failed")
	ErrDecodeFailed     = errors.New("message decode failed")
	ErrBatchFailed      = errors.New("batch commit failed")
	ErrManagerClosed    = errors.New("queue manager closed")
)

// QueueError carries a code and context alongside the underlying cause.
type QueueError struct {
	// Code classifies the failure.
	Code ErrorCode
	// Message is the human-readable description.
	Message string
	// Key is the queue key involved, if any.
	Key string
	// MessageID is the message involved, if any.
	MessageID string
	// Cause is the underlying error.
	Cause error
	// Retryable indicates the operation may succeed on retry.
	Retryable bool
}

// NewQueueError creates a QueueError with the retryability derived from the
// code.
func NewQueueError(code ErrorCode, message string, cause error) *QueueError {
	return &QueueError{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: code == ErrCodeStoreUnavailable || code == ErrCodePushFailed ||
			code == ErrCodePopFailed || code == ErrCodeBatchFailed,
	}
}

// Error implements the error interface.
func (e *QueueError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *QueueError) Unwrap() error { return e.Cause }

// Is matches QueueErrors by code.
func (e *QueueError) Is(target error) bool {
	if t, ok := target.(*QueueError); ok {
		return e.Code == t.Code
	}
	return errors.Is(e.Cause, target)
}

// WithKey attaches the queue key.
func (e *QueueError) WithKey(key string) *QueueError {
	e.Key = key
	return e
}

// WithMessageID attaches the message id.
func (e *QueueError) WithMessageID(id string) *QueueError {
	e.MessageID = id
	return e
}

// IsRetryableError reports whether the error may succeed on retry.
func IsRetryableError(err error) bool {
	var qe *QueueError
	if errors.As(err, &qe) {
		return qe.Retryable
	}
	return false
}

// BatchError reports which destination groups of a batch failed. Groups are
// all-or-nothing: every message id listed under a key needs resubmission.
type BatchError struct {
	// Failed maps destination keys to the message ids that were not
	// committed.
	Failed map[string][]string
	// Causes maps destination keys to the underlying error.
	Causes map[string]error
}

// NewBatchError creates an empty BatchError.
func NewBatchError() *BatchError {
	return &BatchError{
		Failed: make(map[string][]string),
		Causes: make(map[string]error),
	}
}

// Add records a failed destination group.
func (e *BatchError) Add(key string, ids []string, cause error) {
	e.Failed[key] = append(e.Failed[key], ids...)
	e.Causes[key] = cause
}

// HasFailures returns true when any group failed.
func (e *BatchError) HasFailures() bool { return len(e.Failed) > 0 }

// ErrorOrNil returns nil when every group committed.
func (e *BatchError) ErrorOrNil() error {
	if e.HasFailures() {
		return e
	}
	return nil
}

// FailedIDs returns every message id needing resubmission, sorted.
func (e *BatchError) FailedIDs() []string {
	var ids []string
	for _, group := range e.Failed {
		ids = append(ids, group...)
	}
	sort.Strings(ids)
	return ids
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	keys := make([]string, 0, len(e.Failed))
	for k := range e.Failed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Sprintf("batch commit failed for %d group(s): %s", len(keys), strings.Join(keys, ", "))
}

// Is matches the ErrBatchFailed sentinel.
func (e *BatchError) Is(target error) bool { return target == ErrBatchFailed }

// MultiError aggregates errors from shutdown and sweep paths.
type MultiError struct {
	Errors []error
}

// Add appends a non-nil error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true when any error was added.
func (e *MultiError) HasErrors() bool { return len(e.Errors) > 0 }

// ErrorOrNil returns nil when no error was added.
func (e *MultiError) ErrorOrNil() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

// Error implements the error interface.
func (e *MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("multiple errors (%d): %v", len(e.Errors), e.Errors[0])
}

// Unwrap returns the first error for errors.Is compatibility.
func (e *MultiError) Unwrap() error {
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return nil
}
