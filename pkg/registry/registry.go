// pkg/registry/registry.go
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"feedly-pipeline/internal/common/config"
)

// Worker task types, one per stage.
const (
	WorkerFeedIngest        = "feed-ingest"
	WorkerEnrichEvent       = "enrich-event"
	WorkerAnalyzeEvent      = "analyze-event"
	WorkerNotifyOpportunity = "notify-opportunity"
)

// Default builds the registry from configuration.
func Default(queues config.QueuesConfig, agents config.AgentsConfig) *StageRegistry {
	return &StageRegistry{
		Version:     "1.0.0",
		LastUpdated: time.Now().UTC().Format(time.RFC3339),
		Stages: []StageDefinition{
			{
				Stage:       StageIngest,
				DisplayName: "Feed ingest",
				Description: "Reads the Feedly stream and emits one raw event per article",
				WorkerType:  WorkerFeedIngest,
				OutputQueue: queues.RawEvents,
				ErrorCodes:  []string{"SOURCE_FETCH_FAILED", "QUEUE_SEND_FAILED"},
			},
			{
				Stage:       StageEnrich,
				DisplayName: "Enrich event",
				Description: "Extracts business fields and upserts the indexed document",
				WorkerType:  WorkerEnrichEvent,
				InputQueue:  queues.RawEvents,
				OutputQueue: queues.EnrichedEvents,
				Agent:       agents.Enrichment.Name,
				ErrorCodes:  []string{"INVALID_MESSAGE", "KEY_DERIVATION_FAILED", "AGENT_RUN_FAILED", "INVALID_AGENT_RESPONSE", "AGENT_RATE_LIMITED", "INDEX_OPERATION_FAILED"},
			},
			{
				Stage:       StageAnalyze,
				DisplayName: "Analyze event",
				Description: "Scores the event and flags audit opportunities",
				WorkerType:  WorkerAnalyzeEvent,
				InputQueue:  queues.EnrichedEvents,
				OutputQueue: queues.Opportunities,
				Agent:       agents.Analysis.Name,
				ErrorCodes:  []string{"INVALID_MESSAGE", "AGENT_RUN_FAILED", "INVALID_AGENT_RESPONSE", "AGENT_RATE_LIMITED", "INDEX_OPERATION_FAILED"},
			},
			{
				Stage:       StageNotify,
				DisplayName: "Notify opportunity",
				Description: "Sends opportunity notifications by email and SNS",
				WorkerType:  WorkerNotifyOpportunity,
				InputQueue:  queues.Opportunities,
				ErrorCodes:  []string{"INVALID_MESSAGE", "NOTIFICATION_SEND_FAILED"},
			},
		},
	}
}

// LoadRegistry reads a registry from a JSON file.
func LoadRegistry(path string) (*StageRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var reg StageRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", path, err)
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return &reg, nil
}

// Save writes the registry as indented JSON.
func (r *StageRegistry) Save(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects duplicate stages and stages reading their own output.
func (r *StageRegistry) Validate() error {
	seen := make(map[Stage]bool, len(r.Stages))
	for _, def := range r.Stages {
		if def.Stage == "" {
			return fmt.Errorf("registry: stage name is required")
		}
		if seen[def.Stage] {
			return fmt.Errorf("registry: duplicate stage %q", def.Stage)
		}
		seen[def.Stage] = true
		if def.InputQueue != "" && def.InputQueue == def.OutputQueue {
			return fmt.Errorf("registry: stage %q reads and writes %q", def.Stage, def.InputQueue)
		}
	}
	return nil
}

func (r *StageRegistry) Lookup(stage Stage) (StageDefinition, bool) {
	for _, def := range r.Stages {
		if def.Stage == stage {
			return def, true
		}
	}
	return StageDefinition{}, false
}

// ByInputQueue returns the stage consuming queue.
func (r *StageRegistry) ByInputQueue(queue string) (StageDefinition, bool) {
	if queue == "" {
		return StageDefinition{}, false
	}
	for _, def := range r.Stages {
		if def.InputQueue == queue {
			return def, true
		}
	}
	return StageDefinition{}, false
}

// Queues lists every queue in the topology, in stage order, without duplicates.
func (r *StageRegistry) Queues() []string {
	var out []string
	seen := make(map[string]bool)
	add := func(q string) {
		if q != "" && !seen[q] {
			seen[q] = true
			out = append(out, q)
		}
	}
	for _, def := range r.Stages {
		add(def.InputQueue)
		add(def.OutputQueue)
	}
	return out
}

func (r *StageRegistry) IsKnownQueue(queue string) bool {
	for _, q := range r.Queues() {
		if q == queue {
			return true
		}
	}
	return false
}
