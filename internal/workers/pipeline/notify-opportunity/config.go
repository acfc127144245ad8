// internal/workers/pipeline/notify-opportunity/config.go
package notifyopportunity

import (
	"time"

	"feedly-pipeline/internal/common/config"
)

type Config struct {
	InputQueue   string
	EmailEnabled bool
	FromEmail    string
	Recipients   []string
	SNSEnabled   bool
	TopicARN     string
	AWSRegion    string
	Timeout      time.Duration
}

func LoadConfig(cfg *config.Config) *Config {
	n := cfg.Notifications
	c := &Config{
		InputQueue:   cfg.Queues.Opportunities,
		EmailEnabled: n.Email.Enabled,
		FromEmail:    n.Email.FromEmail,
		Recipients:   n.Email.Recipients,
		SNSEnabled:   n.SNS.Enabled,
		TopicARN:     n.SNS.TopicARN,
		AWSRegion:    n.AWS.Region,
		Timeout:      30 * time.Second,
	}
	if wc := config.GetWorkerConfig(cfg, TaskType); wc.Timeout > 0 {
		c.Timeout = config.GetDuration(wc.Timeout)
	}
	return c
}
