// internal/workers/maintenance/backlog/config.go
package backlog

import "feedly-pipeline/internal/common/config"

const (
	defaultBatchSize   = 100
	defaultSearchLimit = 1000
)

type Config struct {
	EnrichmentAgent string
	AnalysisAgent   string
	BatchSize       int
	SearchLimit     int
}

func LoadConfig(cfg *config.Config) *Config {
	c := &Config{
		EnrichmentAgent: cfg.Agents.Enrichment.Name,
		AnalysisAgent:   cfg.Agents.Analysis.Name,
		BatchSize:       cfg.Index.BatchSize,
		SearchLimit:     cfg.Index.SearchLimit,
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.SearchLimit <= 0 {
		c.SearchLimit = defaultSearchLimit
	}
	return c
}
