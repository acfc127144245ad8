// Package errors provides standardized error handling for the pipeline stages.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeKeyDerivationFailed ErrorCode = "KEY_DERIVATION_FAILED"
	ErrCodeInvalidMessage      ErrorCode = "INVALID_MESSAGE"

	ErrCodeAgentNotFound        ErrorCode = "AGENT_NOT_FOUND"
	ErrCodeAgentRunFailed       ErrorCode = "AGENT_RUN_FAILED"
	ErrCodeInvalidAgentResponse ErrorCode = "INVALID_AGENT_RESPONSE"
	ErrCodeAgentRateLimited     ErrorCode = "AGENT_RATE_LIMITED"
	ErrCodeAgentUnavailable     ErrorCode = "AGENT_UNAVAILABLE"

	ErrCodeSourceFetchFailed ErrorCode = "SOURCE_FETCH_FAILED"

	ErrCodeElasticsearchConnectionFailed ErrorCode = "ELASTICSEARCH_CONNECTION_FAILED"
	ErrCodeIndexOperationFailed          ErrorCode = "INDEX_OPERATION_FAILED"
	ErrCodeIndexNotFound                 ErrorCode = "INDEX_NOT_FOUND"

	ErrCodeQueueSendFailed    ErrorCode = "QUEUE_SEND_FAILED"
	ErrCodeQueueReceiveFailed ErrorCode = "QUEUE_RECEIVE_FAILED"

	ErrCodeNotificationSendFailed ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeJournalWriteFailed     ErrorCode = "JOURNAL_WRITE_FAILED"

	ErrCodeStageTimeout ErrorCode = "STAGE_TIMEOUT"
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause so errors.Is keeps working on sentinel errors.
func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithMetadata attaches a key/value pair and returns the same error.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

func newError(code ErrorCode, message string, cause error, retryable bool) *StandardError {
	details := ""
	if cause != nil {
		details = cause.Error()
	}
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// ==========================
// 2. Error Constructors
// ==========================

// NewKeyDerivationError creates a non-retryable error for articles without an identifier.
func NewKeyDerivationError(sourceIdentifier string, err error) *StandardError {
	return newError(ErrCodeKeyDerivationFailed, "Document key derivation failed", err, false).
		WithMetadata("sourceIdentifier", sourceIdentifier)
}

// NewInvalidMessageError creates a non-retryable error for undecodable queue bodies.
func NewInvalidMessageError(queue string, err error) *StandardError {
	return newError(ErrCodeInvalidMessage, fmt.Sprintf("Invalid message on queue '%s'", queue), err, false)
}

// NewAgentNotFoundError creates a non-retryable agent resolution error.
func NewAgentNotFoundError(agentName string, err error) *StandardError {
	return newError(ErrCodeAgentNotFound, fmt.Sprintf("Agent '%s' not found", agentName), err, false)
}

// NewAgentRunFailedError creates a non-retryable run failure error.
func NewAgentRunFailedError(agentName string, err error) *StandardError {
	return newError(ErrCodeAgentRunFailed, fmt.Sprintf("Agent '%s' run failed", agentName), err, false)
}

// NewInvalidAgentResponseError creates a non-retryable malformed response error.
func NewInvalidAgentResponseError(agentName string, err error) *StandardError {
	return newError(ErrCodeInvalidAgentResponse, fmt.Sprintf("Agent '%s' returned an invalid response", agentName), err, false)
}

// NewAgentRateLimitedError creates a retryable error for exhausted rate-limit retries.
func NewAgentRateLimitedError(agentName string, attempts int, err error) *StandardError {
	return newError(ErrCodeAgentRateLimited, fmt.Sprintf("Agent '%s' rate limited", agentName), err, true).
		WithMetadata("attempts", attempts)
}

// NewAgentUnavailableError creates a retryable error for agent service transport failures.
func NewAgentUnavailableError(agentName string, err error) *StandardError {
	return newError(ErrCodeAgentUnavailable, fmt.Sprintf("Agent '%s' unavailable", agentName), err, true)
}

// NewStageTimeoutError creates a retryable error for a handler that ran out of time.
func NewStageTimeoutError(err error) *StandardError {
	return newError(ErrCodeStageTimeout, "Stage handler timed out", err, true)
}

// NewSourceFetchFailedError creates a retryable content source error.
func NewSourceFetchFailedError(err error) *StandardError {
	return newError(ErrCodeSourceFetchFailed, "Content source request failed", err, true)
}

// NewElasticsearchConnectionFailedError creates a retryable Elasticsearch connection error.
func NewElasticsearchConnectionFailedError(err error) *StandardError {
	return newError(ErrCodeElasticsearchConnectionFailed, "Elasticsearch connection error", err, true)
}

// NewIndexOperationFailedError creates a retryable index write/read error.
func NewIndexOperationFailedError(operation string, err error) *StandardError {
	return newError(ErrCodeIndexOperationFailed, fmt.Sprintf("Index operation '%s' failed", operation), err, true)
}

// NewIndexNotFoundError creates a non-retryable index not found error.
func NewIndexNotFoundError(indexName string) *StandardError {
	return &StandardError{
		Code:      ErrCodeIndexNotFound,
		Message:   "Elasticsearch index not found",
		Details:   fmt.Sprintf("indexName: %s", indexName),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueueSendFailedError creates a retryable send error.
func NewQueueSendFailedError(queue string, err error) *StandardError {
	return newError(ErrCodeQueueSendFailed, fmt.Sprintf("Send to queue '%s' failed", queue), err, true)
}

// NewQueueReceiveFailedError creates a retryable receive error.
func NewQueueReceiveFailedError(queue string, err error) *StandardError {
	return newError(ErrCodeQueueReceiveFailed, fmt.Sprintf("Receive from queue '%s' failed", queue), err, true)
}

// NewNotificationSendFailedError creates a retryable notification send error.
func NewNotificationSendFailedError(notificationType string, err error) *StandardError {
	return newError(ErrCodeNotificationSendFailed, "Notification delivery failed", err, true).
		WithMetadata("type", notificationType)
}

// NewJournalWriteFailedError creates a retryable journal error.
func NewJournalWriteFailedError(err error) *StandardError {
	return newError(ErrCodeJournalWriteFailed, "Stage journal write failed", err, true)
}

// ==========================
// 3. Classification
// ==========================

// Normalize returns err as a *StandardError. A bare deadline becomes STAGE_TIMEOUT;
// any other unknown error becomes INTERNAL_ERROR.
func Normalize(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return NewStageTimeoutError(err)
	}
	return newError(ErrCodeInternal, "Unexpected error", err, false)
}

// CodeOf returns the error code carried by err, or INTERNAL_ERROR.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	return Normalize(err).Code
}

// GetRetryCount returns how many redeliveries a code is worth before giving up.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeAgentRateLimited:
		return 5
	case ErrCodeAgentUnavailable, ErrCodeStageTimeout,
		ErrCodeSourceFetchFailed, ErrCodeElasticsearchConnectionFailed, ErrCodeIndexOperationFailed,
		ErrCodeQueueSendFailed, ErrCodeQueueReceiveFailed, ErrCodeNotificationSendFailed:
		return 3
	case ErrCodeJournalWriteFailed:
		return 1
	default:
		return 0
	}
}

// IsRetryableErrorCode reports whether redelivery can change the outcome.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory groups codes for logging and metrics.
func GetErrorCategory(code ErrorCode) string {
	c := string(code)
	switch {
	case strings.HasPrefix(c, "AGENT_") || c == string(ErrCodeInvalidAgentResponse):
		return "AGENT"
	case strings.HasPrefix(c, "QUEUE_") || c == string(ErrCodeInvalidMessage):
		return "TRANSPORT"
	case strings.Contains(c, "ELASTICSEARCH") || strings.HasPrefix(c, "INDEX_"):
		return "INDEX"
	case c == string(ErrCodeSourceFetchFailed):
		return "SOURCE"
	case c == string(ErrCodeKeyDerivationFailed):
		return "DATA"
	case c == string(ErrCodeNotificationSendFailed):
		return "NOTIFICATION"
	case c == string(ErrCodeJournalWriteFailed):
		return "JOURNAL"
	default:
		return "INTERNAL"
	}
}
