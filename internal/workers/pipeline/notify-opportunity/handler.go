// internal/workers/pipeline/notify-opportunity/handler.go
package notifyopportunity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "feedly-pipeline/internal/common/errors"
	"feedly-pipeline/internal/common/journal"
	"feedly-pipeline/internal/common/logger"
	"feedly-pipeline/internal/common/queue"
	"feedly-pipeline/internal/models"
	"feedly-pipeline/pkg/registry"

	"github.com/google/uuid"
)

const (
	TaskType = registry.WorkerNotifyOpportunity
)

const (
	channelEmail = "email"
	channelSNS   = "sns"
)

var ErrMissingID = errors.New("opportunity event has no id")

type EmailSender interface {
	SendText(ctx context.Context, from string, to []string, subject, body string) (string, error)
}

type TopicPublisher interface {
	PublishToTopic(ctx context.Context, topicARN, subject, message string, attributes map[string]string) (string, error)
}

type Handler struct {
	config  *Config
	email   EmailSender
	topic   TopicPublisher
	journal journal.Journal
	logger  logger.Logger
	now     func() time.Time
}

// NewHandler builds the handler. email and topic may be nil when the channel is disabled.
func NewHandler(config *Config, email EmailSender, topic TopicPublisher, j journal.Journal, log logger.Logger) *Handler {
	if j == nil {
		j = journal.NoopJournal{}
	}
	return &Handler{
		config:  config,
		email:   email,
		topic:   topic,
		journal: j,
		logger:  log.WithFields(map[string]interface{}{"taskType": TaskType}),
		now:     time.Now,
	}
}

func (h *Handler) Handle(ctx context.Context, d *queue.Delivery) error {
	h.logger.Info("processing message", map[string]interface{}{
		"messageId":     d.ID,
		"deliveryCount": d.DeliveryCount,
	})

	_, err := h.execute(ctx, d.ID, d.Body)
	return err
}

func (h *Handler) Execute(ctx context.Context, body []byte) (*Output, error) {
	return h.execute(ctx, "", body)
}

// execute sends the notification on every enabled channel. With a messageID,
// each channel that succeeds is journaled and skipped when the same message is
// redelivered.
func (h *Handler) execute(ctx context.Context, messageID string, body []byte) (*Output, error) {
	var event models.OpportunityEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, apperrors.NewInvalidMessageError(h.config.InputQueue, err)
	}
	if event.ID == "" {
		return nil, apperrors.NewInvalidMessageError(h.config.InputQueue, ErrMissingID)
	}

	var data map[string]interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, apperrors.NewInvalidMessageError(h.config.InputQueue, err)
	}

	subject := renderTemplate(subjectTemplate, data)
	text := renderTemplate(bodyTemplate, data)

	out := &Output{
		NotificationID: uuid.New().String(),
		Status:         StatusDisabled,
		SentAt:         h.now().UTC().Format(time.RFC3339),
	}

	sent := h.sentChannels(ctx, event.ID, messageID)

	if h.config.EmailEnabled && h.email != nil && len(h.config.Recipients) > 0 {
		if !sent[channelEmail] {
			if _, err := h.email.SendText(ctx, h.config.FromEmail, h.config.Recipients, subject, text); err != nil {
				return h.fail(ctx, event.ID, out, channelEmail, err)
			}
			h.markSent(ctx, event.ID, messageID, channelEmail)
		}
		out.Status = StatusSent
	}

	if h.config.SNSEnabled && h.topic != nil && h.config.TopicARN != "" {
		if !sent[channelSNS] {
			attrs := map[string]string{
				"docId":           event.ID,
				"evaluationScore": fmt.Sprintf("%d", event.EvaluationScore),
			}
			if _, err := h.topic.PublishToTopic(ctx, h.config.TopicARN, subject, text, attrs); err != nil {
				return h.fail(ctx, event.ID, out, channelSNS, err)
			}
			h.markSent(ctx, event.ID, messageID, channelSNS)
		}
		out.Status = StatusSent
	}

	if out.Status == StatusDisabled {
		h.logger.Warn("No notification channel enabled", map[string]interface{}{"docId": event.ID})
	} else {
		h.logger.Info("Opportunity notification sent", map[string]interface{}{
			"docId":          event.ID,
			"notificationId": out.NotificationID,
		})
	}

	h.record(ctx, event.ID, journal.StatusSucceeded, out.Status)
	return out, nil
}

// sentChannels returns the channels already delivered for messageID. A
// disabled or failing journal yields none, so every channel is sent again.
func (h *Handler) sentChannels(ctx context.Context, docID, messageID string) map[string]bool {
	sent := make(map[string]bool)
	if messageID == "" {
		return sent
	}

	history, err := h.journal.History(ctx, docID)
	if err != nil {
		if !errors.Is(err, journal.ErrJournalDisabled) {
			h.logger.Warn("Journal read failed", map[string]interface{}{"docId": docID, "error": err.Error()})
		}
		return sent
	}

	for _, e := range history {
		if e.Stage != registry.StageNotify || e.Status != journal.StatusSucceeded {
			continue
		}
		channel, id, ok := strings.Cut(e.Detail, ":")
		if ok && id == messageID {
			sent[channel] = true
		}
	}
	if len(sent) > 0 {
		h.logger.Info("Skipping channels already notified", map[string]interface{}{
			"docId":     docID,
			"messageId": messageID,
			"channels":  len(sent),
		})
	}
	return sent
}

func (h *Handler) markSent(ctx context.Context, docID, messageID, channel string) {
	if messageID == "" {
		return
	}
	h.record(ctx, docID, journal.StatusSucceeded, channel+":"+messageID)
}

func (h *Handler) fail(ctx context.Context, docID string, out *Output, channel string, err error) (*Output, error) {
	h.logger.Error("notification send failed", map[string]interface{}{
		"docId":   docID,
		"channel": channel,
		"error":   err.Error(),
	})
	out.Status = StatusFailed
	h.record(ctx, docID, journal.StatusFailed, channel)
	return out, apperrors.NewNotificationSendFailedError(channel, err)
}

func (h *Handler) record(ctx context.Context, key, status, detail string) {
	err := h.journal.Record(context.WithoutCancel(ctx), journal.Entry{
		DocID:  key,
		Stage:  registry.StageNotify,
		Status: status,
		Detail: detail,
	})
	if err != nil {
		h.logger.Warn("Journal write failed", map[string]interface{}{"docId": key, "error": err.Error()})
	}
}

// renderTemplate replaces {{key}} placeholders and drops any left unresolved.
func renderTemplate(tmpl string, data map[string]interface{}) string {
	result := tmpl

	for k, v := range data {
		placeholder := "{{" + k + "}}"
		if !strings.Contains(result, placeholder) {
			continue
		}
		result = strings.ReplaceAll(result, placeholder, formatValue(v))
	}

	for {
		start := strings.Index(result, "{{")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}}")
		if end == -1 {
			break
		}
		end += start + 2
		result = result[:start] + result[end:]
	}

	return result
}

func formatValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
