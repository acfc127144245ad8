// internal/workers/pipeline/feed-ingest/config.go
package feedingest

import (
	"time"

	"feedly-pipeline/internal/common/config"
)

type Config struct {
	RawQueue     string
	ClearIndex   bool
	DefaultCount int
	DefaultHours int
	Timeout      time.Duration
}

func LoadConfig(cfg *config.Config) *Config {
	c := &Config{
		RawQueue:     cfg.Queues.RawEvents,
		ClearIndex:   cfg.Index.ClearOnIngest,
		DefaultCount: 50,
		DefaultHours: 24,
		Timeout:      5 * time.Minute,
	}
	if wc := config.GetWorkerConfig(cfg, TaskType); wc.Timeout > 0 {
		c.Timeout = config.GetDuration(wc.Timeout)
	}
	return c
}
