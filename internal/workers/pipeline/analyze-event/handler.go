// internal/workers/pipeline/analyze-event/handler.go
package analyzeevent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "feedly-pipeline/internal/common/errors"
	"feedly-pipeline/internal/common/journal"
	"feedly-pipeline/internal/common/logger"
	"feedly-pipeline/internal/common/queue"
	"feedly-pipeline/internal/common/transform"
	"feedly-pipeline/internal/models"
	"feedly-pipeline/pkg/registry"
)

const (
	TaskType = registry.WorkerAnalyzeEvent
)

var ErrMissingID = errors.New("enriched event has no id")

type AgentCaller interface {
	Invoke(ctx context.Context, agentName string, payload interface{}) (map[string]interface{}, error)
	Cooldown(ctx context.Context) error
}

type DocumentMerger interface {
	Merge(ctx context.Context, id string, partial interface{}) error
}

type Sender interface {
	Send(ctx context.Context, queue string, body []byte) (string, error)
}

type Handler struct {
	config  *Config
	agent   AgentCaller
	index   DocumentMerger
	sender  Sender
	journal journal.Journal
	logger  logger.Logger
	now     func() time.Time
}

func NewHandler(config *Config, agent AgentCaller, index DocumentMerger, sender Sender, j journal.Journal, log logger.Logger) *Handler {
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
		now:     time.Now,
	}
}

func (h *Handler) Handle(ctx context.Context, d *queue.Delivery) error {
	h.logger.Info("processing message", map[string]interface{}{
		"messageId":     d.ID,
		"deliveryCount": d.DeliveryCount,
	})

	_, err := h.Execute(ctx, d.Body)
	return err
}

// Execute scores an enriched event, merges the analysis into its document and
// publishes an opportunity when the agent flags one.
func (h *Handler) Execute(ctx context.Context, body []byte) (*Output, error) {
	var event models.EnrichedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, apperrors.NewInvalidMessageError(h.config.InputQueue, err)
	}
	if event.ID == "" {
		return nil, apperrors.NewInvalidMessageError(h.config.InputQueue, ErrMissingID)
	}

	out, err := h.analyze(ctx, event)
	if err != nil {
		h.logger.Error("Analysis failed", map[string]interface{}{
			"docId": event.ID,
			"error": err.Error(),
		})
		h.record(ctx, event.ID, journal.StatusFailed, string(apperrors.CodeOf(err)))
		return nil, err
	}

	h.record(ctx, event.ID, journal.StatusSucceeded, out.AnalysisStatus)
	return out, nil
}

func (h *Handler) analyze(ctx context.Context, event models.EnrichedEvent) (*Output, error) {
	resp, err := h.agent.Invoke(ctx, h.config.AgentName, transform.BuildAnalysisPayload(event))
	if err != nil {
		return nil, err
	}
	if err := h.agent.Cooldown(ctx); err != nil {
		return nil, err
	}

	analysis := transform.ParseAnalysis(resp)
	merge := transform.BuildAnalysisMerge(analysis, h.now())
	if err := h.index.Merge(ctx, event.ID, merge); err != nil {
		return nil, err
	}

	out := &Output{
		DocID:            event.ID,
		EvaluationScore:  analysis.EvaluationScore,
		AuditOpportunity: analysis.AuditOpportunity,
		AnalysisStatus:   merge.AnalysisStatus,
	}

	if !analysis.AuditOpportunity {
		h.logger.Info("Event analyzed", map[string]interface{}{
			"docId": event.ID,
			"score": analysis.EvaluationScore,
		})
		return out, nil
	}

	opportunity, err := json.Marshal(transform.BuildOpportunityEvent(event, analysis))
	if err != nil {
		return nil, apperrors.NewQueueSendFailedError(h.config.OutputQueue, fmt.Errorf("encode opportunity: %w", err))
	}
	if _, err := h.sender.Send(ctx, h.config.OutputQueue, opportunity); err != nil {
		return nil, err
	}
	out.Published = true

	h.logger.Info("Opportunity published", map[string]interface{}{
		"docId":  event.ID,
		"score":  analysis.EvaluationScore,
		"reason": analysis.AuditOpportunityReason,
	})
	return out, nil
}

func (h *Handler) record(ctx context.Context, key, status, detail string) {
	err := h.journal.Record(context.WithoutCancel(ctx), journal.Entry{
		DocID:  key,
		Stage:  registry.StageAnalyze,
		Status: status,
		Detail: detail,
	})
	if err != nil {
		h.logger.Warn("Journal write failed", map[string]interface{}{"docId": key, "error": err.Error()})
	}
}
