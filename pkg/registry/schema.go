// pkg/registry/schema.go
package registry

// Stage names one step of the pipeline.
type Stage string

const (
	StageIngest  Stage = "ingest"
	StageEnrich  Stage = "enrich"
	StageAnalyze Stage = "analyze"
	StageNotify  Stage = "notify"
)

// StageRegistry describes the pipeline topology.
type StageRegistry struct {
	Version     string            `json:"version"`
	LastUpdated string            `json:"lastUpdated"`
	Stages      []StageDefinition `json:"stages"`
}

// StageDefinition wires one stage to its queues and agent.
// Ingest has no input queue and notify has no output queue.
type StageDefinition struct {
	Stage       Stage    `json:"stage"`
	DisplayName string   `json:"displayName"`
	Description string   `json:"description"`
	WorkerType  string   `json:"workerType"`
	InputQueue  string   `json:"inputQueue,omitempty"`
	OutputQueue string   `json:"outputQueue,omitempty"`
	Agent       string   `json:"agent,omitempty"`
	ErrorCodes  []string `json:"errorCodes"`
}
