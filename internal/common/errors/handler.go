// internal/common/errors/handler.go
package errors

import (
	"context"
)

// ErrorHandler settles failed queue messages with standardized error handling
type ErrorHandler struct {
	logger Logger
}

type Logger interface {
	Error(msg string, fields map[string]interface{})
}

// MessageSettler is bound to a single received message.
type MessageSettler interface {
	Abandon(ctx context.Context, reason string) error
	DeadLetter(ctx context.Context, reason string) error
}

// MessageInfo describes the message being settled, for logging and retry decisions.
type MessageInfo struct {
	ID            string
	Queue         string
	Stage         string
	DeliveryCount int
}

// Outcome reports what the handler did with a failed message.
type Outcome string

const (
	OutcomeAbandoned    Outcome = "abandoned"
	OutcomeDeadLettered Outcome = "dead_lettered"
)

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// HandleMessageError decides between redelivery and dead-lettering for a failed message.
// Non-retryable codes go straight to the dead-letter sub-queue; retryable codes are
// abandoned until their retry allowance is used up.
func (h *ErrorHandler) HandleMessageError(ctx context.Context, settler MessageSettler, msg MessageInfo, err error) (*StandardError, Outcome) {
	stdErr := Normalize(err)
	retries := GetRetryCount(stdErr.Code)

	outcome := OutcomeDeadLettered
	if retries > 0 && msg.DeliveryCount <= retries {
		outcome = OutcomeAbandoned
	}

	h.logError(msg, stdErr, outcome)

	var settleErr error
	if outcome == OutcomeAbandoned {
		settleErr = settler.Abandon(ctx, stdErr.Error())
	} else {
		settleErr = settler.DeadLetter(ctx, stdErr.Error())
	}
	if settleErr != nil {
		h.logger.Error("Failed to settle message", map[string]interface{}{
			"messageId": msg.ID,
			"queue":     msg.Queue,
			"outcome":   string(outcome),
			"error":     settleErr.Error(),
		})
	}

	return stdErr, outcome
}

func (h *ErrorHandler) logError(msg MessageInfo, stdErr *StandardError, outcome Outcome) {
	h.logger.Error("Message failed", map[string]interface{}{
		"messageId":     msg.ID,
		"queue":         msg.Queue,
		"stage":         msg.Stage,
		"deliveryCount": msg.DeliveryCount,
		"errorCode":     string(stdErr.Code),
		"message":       stdErr.Message,
		"details":       stdErr.Details,
		"retryable":     stdErr.Retryable,
		"retries":       GetRetryCount(stdErr.Code),
		"errorCategory": GetErrorCategory(stdErr.Code),
		"outcome":       string(outcome),
	})
}
