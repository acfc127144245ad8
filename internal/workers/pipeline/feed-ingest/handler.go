// internal/workers/pipeline/feed-ingest/handler.go
package feedingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"feedly-pipeline/internal/common/docid"
	apperrors "feedly-pipeline/internal/common/errors"
	"feedly-pipeline/internal/common/feedly"
	"feedly-pipeline/internal/common/journal"
	"feedly-pipeline/internal/common/logger"
	"feedly-pipeline/internal/common/metrics"
	"feedly-pipeline/internal/models"
	"feedly-pipeline/pkg/registry"
)

const (
	TaskType = registry.WorkerFeedIngest
)

var (
	ErrInvalidInput = errors.New("INVALID_INPUT")
)

type Source interface {
	FetchStream(ctx context.Context, opts feedly.FetchOptions) ([]*models.Article, error)
}

type IndexCleaner interface {
	DeleteAll(ctx context.Context) (int, error)
}

type Sender interface {
	Send(ctx context.Context, queue string, body []byte) (string, error)
}

type Handler struct {
	config  *Config
	source  Source
	index   IndexCleaner
	sender  Sender
	journal journal.Journal
	logger  logger.Logger
	now     func() time.Time
}

func NewHandler(config *Config, source Source, index IndexCleaner, sender Sender, j journal.Journal, log logger.Logger) *Handler {
	if j == nil {
		j = journal.NoopJournal{}
	}
	return &Handler{
		config:  config,
		source:  source,
		index:   index,
		sender:  sender,
		journal: j,
		logger:  log.WithFields(map[string]interface{}{"taskType": TaskType}),
		now:     time.Now,
	}
}

// Execute pulls the stream window and emits one raw event per article.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if input == nil {
		input = &Input{}
	}
	if input.Count < 0 || input.Hours < 0 {
		return nil, fmt.Errorf("%w: count and hours must not be negative", ErrInvalidInput)
	}
	count, hours := input.Count, input.Hours
	if count == 0 {
		count = h.config.DefaultCount
	}
	if hours == 0 {
		hours = h.config.DefaultHours
	}

	ctx, cancel := context.WithTimeout(ctx, h.config.Timeout)
	defer cancel()

	newerThan := h.now().Add(-time.Duration(hours) * time.Hour).UnixMilli()
	h.logger.Info("Starting feed ingest", map[string]interface{}{
		"count":     count,
		"hours":     hours,
		"newerThan": newerThan,
	})

	articles, err := h.source.FetchStream(ctx, feedly.FetchOptions{Count: count, NewerThan: newerThan})
	if err != nil {
		h.logger.Error("Feed fetch failed", map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	if h.config.ClearIndex {
		h.clearIndex(ctx)
	}

	ingested := 0
	for _, a := range articles {
		key := ""
		if id := docid.SourceIdentifier(a.ID, a.OriginID); id != "" {
			key, err = docid.DeriveKey(id)
			if err != nil {
				return nil, err
			}
		}

		body, err := a.EncodeWithDocID(key)
		if err != nil {
			return nil, apperrors.NewQueueSendFailedError(h.config.RawQueue, fmt.Errorf("encode article: %w", err))
		}
		if _, err := h.sender.Send(ctx, h.config.RawQueue, body); err != nil {
			h.logger.Error("Failed to send raw event", map[string]interface{}{
				"docId":    key,
				"ingested": ingested,
				"error":    err.Error(),
			})
			return nil, err
		}
		ingested++

		if key != "" {
			h.record(ctx, key)
		}
	}

	metrics.MessagesProcessed.WithLabelValues(string(registry.StageIngest)).Add(float64(ingested))
	h.logger.Info("Feed ingest completed", map[string]interface{}{
		"ingested": ingested,
		"queue":    h.config.RawQueue,
	})

	return &Output{Status: StatusSuccess, Ingested: ingested, Source: SourceFeedly}, nil
}

// clearIndex empties the index before new articles arrive. Failures only warn.
func (h *Handler) clearIndex(ctx context.Context) {
	deleted, err := h.index.DeleteAll(ctx)
	if err != nil {
		h.logger.Warn("Failed to clear index", map[string]interface{}{"error": err.Error()})
		return
	}
	h.logger.Info("Index cleared before ingest", map[string]interface{}{"deleted": deleted})
}

func (h *Handler) record(ctx context.Context, key string) {
	err := h.journal.Record(ctx, journal.Entry{
		DocID:  key,
		Stage:  registry.StageIngest,
		Status: journal.StatusSucceeded,
	})
	if err != nil {
		h.logger.Warn("Journal write failed", map[string]interface{}{"docId": key, "error": err.Error()})
	}
}
