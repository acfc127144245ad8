// internal/workers/pipeline/enrich-event/handler.go
package enrichevent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"feedly-pipeline/internal/common/docid"
	apperrors "feedly-pipeline/internal/common/errors"
	"feedly-pipeline/internal/common/journal"
	"feedly-pipeline/internal/common/logger"
	"feedly-pipeline/internal/common/queue"
	"feedly-pipeline/internal/common/transform"
	"feedly-pipeline/internal/models"
	"feedly-pipeline/pkg/registry"
)

const (
	TaskType = registry.WorkerEnrichEvent
)

type AgentCaller interface {
	Invoke(ctx context.Context, agentName string, payload interface{}) (map[string]interface{}, error)
	Cooldown(ctx context.Context) error
}

type DocumentWriter interface {
	Upsert(ctx context.Context, doc models.IndexedDocument) error
}

type Sender interface {
	Send(ctx context.Context, queue string, body []byte) (string, error)
}

type Handler struct {
	config  *Config
	agent   AgentCaller
	index   DocumentWriter
	sender  Sender
	journal journal.Journal
	logger  logger.Logger
}

func NewHandler(config *Config, agent AgentCaller, index DocumentWriter, sender Sender, j journal.Journal, log logger.Logger) *Handler {
	if j == nil {
		j = journal.NoopJournal{}
	}
	return &Handler{
		config:  config,
		agent:   agent,
		index:   index,
		sender:  sender,
		journal: j,
		logger:  log.WithFields(map[string]interface{}{"taskType": TaskType}),
	}
}

// Handle processes one raw-event delivery.
func (h *Handler) Handle(ctx context.Context, d *queue.Delivery) error {
	h.logger.Info("processing message", map[string]interface{}{
		"messageId":     d.ID,
		"deliveryCount": d.DeliveryCount,
	})

	_, err := h.Execute(ctx, d.Body)
	return err
}

// Execute enriches a raw article, stores the document and emits the enriched event.
func (h *Handler) Execute(ctx context.Context, body []byte) (*Output, error) {
	article, err := models.ParseArticle(body)
	if err != nil {
		return nil, apperrors.NewInvalidMessageError(h.config.InputQueue, err)
	}

	key := article.DocID
	if key == "" {
		sourceID := docid.SourceIdentifier(article.ID, article.OriginID)
		key, err = docid.DeriveKey(sourceID)
		if err != nil {
			h.logger.Error("Document key derivation failed", map[string]interface{}{
				"sourceIdentifier": sourceID,
				"title":            article.Title,
			})
			return nil, err
		}
	}

	out, err := h.enrich(ctx, key, article)
	if err != nil {
		h.logger.Error("Enrichment failed", map[string]interface{}{
			"docId": key,
			"error": err.Error(),
		})
		h.record(ctx, key, journal.StatusFailed, string(apperrors.CodeOf(err)))
		return nil, err
	}

	h.record(ctx, key, journal.StatusSucceeded, "")
	return out, nil
}

func (h *Handler) enrich(ctx context.Context, key string, article *models.Article) (*Output, error) {
	normalized := transform.NormalizeContent(article)
	payload := transform.BuildAgentPayload(article, normalized)

	start := time.Now()
	enrichment, err := h.agent.Invoke(ctx, h.config.AgentName, payload)
	if err != nil {
		return nil, err
	}
	if err := h.agent.Cooldown(ctx); err != nil {
		return nil, err
	}

	doc := transform.BuildEnrichedDocument(key, payload, enrichment)
	if err := h.index.Upsert(ctx, doc); err != nil {
		return nil, err
	}

	event, err := json.Marshal(transform.BuildEnrichedEvent(doc))
	if err != nil {
		return nil, apperrors.NewQueueSendFailedError(h.config.OutputQueue, fmt.Errorf("encode enriched event: %w", err))
	}
	msgID, err := h.sender.Send(ctx, h.config.OutputQueue, event)
	if err != nil {
		return nil, err
	}

	h.logger.Info("Event enriched", map[string]interface{}{
		"docId":    key,
		"title":    doc.Title,
		"vertical": doc.Vertical,
		"duration": time.Since(start).String(),
	})

	return &Output{DocID: key, Title: doc.Title, Vertical: doc.Vertical, MessageID: msgID}, nil
}

func (h *Handler) record(ctx context.Context, key, status, detail string) {
	err := h.journal.Record(context.WithoutCancel(ctx), journal.Entry{
		DocID:  key,
		Stage:  registry.StageEnrich,
		Status: status,
		Detail: detail,
	})
	if err != nil {
		h.logger.Warn("Journal write failed", map[string]interface{}{"docId": key, "error": err.Error()})
	}
}
