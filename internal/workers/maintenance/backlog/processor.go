// internal/workers/maintenance/backlog/processor.go
package backlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"feedly-pipeline/internal/common/index"
	"feedly-pipeline/internal/common/logger"
	"feedly-pipeline/internal/common/transform"
	"feedly-pipeline/internal/models"
)

const (
	enrichContentLimit  = 4000
	analyzeContentLimit = 6000
)

type AgentCaller interface {
	Invoke(ctx context.Context, agentName string, payload interface{}) (map[string]interface{}, error)
	Cooldown(ctx context.Context) error
}

type DocumentStore interface {
	Search(ctx context.Context, filter index.Filter, limit int) ([]models.IndexedDocument, error)
	MergeBatch(ctx context.Context, docs []index.MergeDoc, batchSize int) (*index.BulkResult, error)
}

// EnrichPayload is the reduced article sent when enriching stored documents.
type EnrichPayload struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	Content  string `json:"content"`
	Entities string `json:"entities"`
	Topics   string `json:"topics"`
}

type Result struct {
	Processed     int      `json:"processed"`
	Succeeded     int      `json:"succeeded"`
	Failed        int      `json:"failed"`
	Opportunities int      `json:"opportunities"`
	Errors        []string `json:"errors,omitempty"`
}

type Processor struct {
	config *Config
	agent  AgentCaller
	store  DocumentStore
	logger logger.Logger
	now    func() time.Time
}

func NewProcessor(config *Config, agent AgentCaller, store DocumentStore, log logger.Logger) *Processor {
	return &Processor{
		config: config,
		agent:  agent,
		store:  store,
		logger: log.WithFields(map[string]interface{}{"component": "backlog"}),
		now:    time.Now,
	}
}

// EnrichBacklog enriches stored documents that have no competitor yet.
func (p *Processor) EnrichBacklog(ctx context.Context) (*Result, error) {
	docs, err := p.store.Search(ctx, index.Filter{IsNull: []string{"competitorNameMain"}}, p.config.SearchLimit)
	if err != nil {
		return nil, err
	}
	p.logger.Info("Enrichment backlog loaded", map[string]interface{}{"documents": len(docs)})

	result := &Result{Processed: len(docs)}
	var merges []index.MergeDoc

	for i, doc := range docs {
		payload := EnrichPayload{
			Title:    doc.Title,
			URL:      doc.URL,
			Content:  truncate(doc.Content, enrichContentLimit),
			Entities: doc.Entities,
			Topics:   doc.Topics,
		}

		resp, err := p.call(ctx, p.config.EnrichmentAgent, payload)
		if err != nil {
			p.itemFailed(result, doc.ID, err)
			continue
		}

		fields, err := nonNullFields(transform.BuildBusinessFields(resp))
		if err != nil {
			p.itemFailed(result, doc.ID, err)
			continue
		}
		merges = append(merges, index.MergeDoc{Key: doc.ID, Fields: fields})

		p.logger.Debug("Document enriched", map[string]interface{}{
			"docId":    doc.ID,
			"position": i + 1,
			"total":    len(docs),
		})
	}

	return p.flush(ctx, merges, result)
}

// AnalyzeBacklog scores stored documents whose analysis is missing or pending.
func (p *Processor) AnalyzeBacklog(ctx context.Context) (*Result, error) {
	filter := index.NullOrEquals("analysisStatus", models.AnalysisStatusPending)
	docs, err := p.store.Search(ctx, filter, p.config.SearchLimit)
	if err != nil {
		return nil, err
	}
	p.logger.Info("Analysis backlog loaded", map[string]interface{}{"documents": len(docs)})

	result := &Result{Processed: len(docs)}
	var merges []index.MergeDoc

	for _, doc := range docs {
		event := transform.BuildEnrichedEvent(doc)
		event.Content = truncate(event.Content, analyzeContentLimit)

		resp, err := p.call(ctx, p.config.AnalysisAgent, transform.BuildAnalysisPayload(event))
		if err != nil {
			p.itemFailed(result, doc.ID, err)
			continue
		}

		analysis := transform.ParseAnalysis(resp)
		if analysis.AuditOpportunity {
			result.Opportunities++
		}
		merges = append(merges, index.MergeDoc{
			Key:    doc.ID,
			Fields: transform.BuildAnalysisMerge(analysis, p.now()),
		})
	}

	return p.flush(ctx, merges, result)
}

func (p *Processor) call(ctx context.Context, agentName string, payload interface{}) (map[string]interface{}, error) {
	resp, err := p.agent.Invoke(ctx, agentName, payload)
	if err != nil {
		return nil, err
	}
	if err := p.agent.Cooldown(ctx); err != nil {
		return nil, err
	}
	return resp, nil
}

func (p *Processor) itemFailed(result *Result, docID string, err error) {
	result.Failed++
	result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", docID, err))
	p.logger.Warn("Backlog item failed", map[string]interface{}{
		"docId": docID,
		"error": err.Error(),
	})
}

func (p *Processor) flush(ctx context.Context, merges []index.MergeDoc, result *Result) (*Result, error) {
	if len(merges) > 0 {
		bulk, err := p.store.MergeBatch(ctx, merges, p.config.BatchSize)
		if bulk != nil {
			result.Succeeded += bulk.Succeeded
			result.Failed += bulk.Failed
			result.Errors = append(result.Errors, bulk.Errors...)
		}
		if err != nil {
			return result, err
		}
	}

	p.logger.Info("Backlog processed", map[string]interface{}{
		"processed":     result.Processed,
		"succeeded":     result.Succeeded,
		"failed":        result.Failed,
		"opportunities": result.Opportunities,
	})
	return result, nil
}

// nonNullFields keeps only the business fields the agent actually filled.
func nonNullFields(b models.BusinessFields) (map[string]interface{}, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	var all map[string]interface{}
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, err
	}
	for k, v := range all {
		if v == nil {
			delete(all, k)
		}
	}
	return all, nil
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
