// internal/workers/pipeline/analyze-event/config.go
package analyzeevent

import (
	"time"

	"feedly-pipeline/internal/common/config"
)

type Config struct {
	AgentName   string
	InputQueue  string
	OutputQueue string
	Timeout     time.Duration
}

func LoadConfig(cfg *config.Config) *Config {
	c := &Config{
		AgentName:   cfg.Agents.Analysis.Name,
		InputQueue:  cfg.Queues.EnrichedEvents,
		OutputQueue: cfg.Queues.Opportunities,
		Timeout:     15 * time.Minute,
	}
	if wc := config.GetWorkerConfig(cfg, TaskType); wc.Timeout > 0 {
		c.Timeout = config.GetDuration(wc.Timeout)
	}
	return c
}
