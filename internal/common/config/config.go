// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Server        ServerConfig            `mapstructure:"server"`
	Feedly        FeedlyConfig            `mapstructure:"feedly"`
	Index         IndexConfig             `mapstructure:"index"`
	Agents        AgentsConfig            `mapstructure:"agents"`
	Queues        QueuesConfig            `mapstructure:"queues"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	Notifications NotificationConfig      `mapstructure:"notifications"`
	Journal       JournalConfig           `mapstructure:"journal"`
	Logging       LoggingConfig           `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Address      string `mapstructure:"address"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // milliseconds
	WriteTimeout int    `mapstructure:"write_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Database        string `mapstructure:"database"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	MaxConnections  int    `mapstructure:"max_connections"`
	MaxIdle         int    `mapstructure:"max_idle"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // milliseconds
	SSLMode         string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	APIKey    string   `mapstructure:"api_key"`
	URL       string   `mapstructure:"url"` // Single URL for backwards compatibility
}

// GetURL returns the first address or the URL field
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

// RedisConfig addresses the queue store. Addresses with a MasterName selects
// Sentinel; several Addresses without one select a cluster.
type RedisConfig struct {
	Address      string   `mapstructure:"address"`
	Addresses    []string `mapstructure:"addresses"`
	MasterName   string   `mapstructure:"master_name"`
	Password     string   `mapstructure:"password"`
	DB           int      `mapstructure:"db"`
	PoolSize     int      `mapstructure:"pool_size"`
	MinIdleConns int      `mapstructure:"min_idle_conns"`
	DialTimeout  int      `mapstructure:"dial_timeout"` // milliseconds
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// --- Pipeline Configuration Sections ---

// FeedlyConfig holds settings for the content source behind the API gateway.
type FeedlyConfig struct {
	BaseURL         string `mapstructure:"base_url"`
	SubscriptionKey string `mapstructure:"subscription_key"`
	StreamID        string `mapstructure:"stream_id"`
	Timeout         int    `mapstructure:"timeout"`     // milliseconds
	PageSize        int    `mapstructure:"page_size"`   // items per request
	MaxPages        int    `mapstructure:"max_pages"`   // continuation limit
	MaxAttempts     int    `mapstructure:"max_attempts"`
	RetryDelay      int    `mapstructure:"retry_delay"` // milliseconds, multiplied by attempt
	PageDelay       int    `mapstructure:"page_delay"`  // milliseconds between pages
}

// IndexConfig holds settings for the document index on top of Elasticsearch.
type IndexConfig struct {
	Name          string `mapstructure:"name"`
	BatchSize     int    `mapstructure:"batch_size"`
	SearchLimit   int    `mapstructure:"search_limit"`
	ClearOnIngest bool   `mapstructure:"clear_on_ingest"`
	Refresh       string `mapstructure:"refresh"`
}

// AgentConfig identifies one agent by name with an optional pre-resolved id.
type AgentConfig struct {
	Name string `mapstructure:"name"`
	ID   string `mapstructure:"id"`
}

// AgentsConfig holds settings for the agent service and both pipeline agents.
type AgentsConfig struct {
	Endpoint       string              `mapstructure:"endpoint"`
	APIKey         string              `mapstructure:"api_key"`
	APIVersion     string              `mapstructure:"api_version"`
	Azure          bool                `mapstructure:"azure"`
	Enrichment     AgentConfig         `mapstructure:"enrichment"`
	Analysis       AgentConfig         `mapstructure:"analysis"`
	MaxAttempts    int                 `mapstructure:"max_attempts"`
	BackoffBase    int                 `mapstructure:"backoff_base"`  // milliseconds
	Cooldown       int                 `mapstructure:"cooldown"`      // milliseconds
	PollInterval   int                 `mapstructure:"poll_interval"` // milliseconds
	StrictResponse bool                `mapstructure:"strict_response"`
	RequiredFields map[string][]string `mapstructure:"required_fields"`
}

// AgentIDs maps agent names to their configured ids, skipping empty ones.
func (a AgentsConfig) AgentIDs() map[string]string {
	ids := make(map[string]string)
	if a.Enrichment.Name != "" && a.Enrichment.ID != "" {
		ids[a.Enrichment.Name] = a.Enrichment.ID
	}
	if a.Analysis.Name != "" && a.Analysis.ID != "" {
		ids[a.Analysis.Name] = a.Analysis.ID
	}
	return ids
}

// QueuesConfig names the pipeline queues and the transport delivery policy.
type QueuesConfig struct {
	RawEvents      string `mapstructure:"raw_events"`
	EnrichedEvents string `mapstructure:"enriched_events"`
	Opportunities  string `mapstructure:"opportunities"`
	MaxDeliveries  int    `mapstructure:"max_deliveries"`
	ReceiveWait    int    `mapstructure:"receive_wait"`  // milliseconds
	PollInterval   int    `mapstructure:"poll_interval"` // milliseconds
}

// NotificationConfig holds settings for the notify-opportunity worker.
type NotificationConfig struct {
	Email struct {
		Enabled    bool     `mapstructure:"enabled"`
		FromEmail  string   `mapstructure:"from_email"`
		Recipients []string `mapstructure:"recipients"`
	} `mapstructure:"email"`
	SNS struct {
		Enabled  bool   `mapstructure:"enabled"`
		TopicARN string `mapstructure:"topic_arn"`
	} `mapstructure:"sns"`
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
}

// JournalConfig toggles the Postgres stage journal.
type JournalConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// HealthFlags reports which external collaborators are configured.
func (c *Config) HealthFlags() map[string]bool {
	return map[string]bool{
		"feedly_apim": c.Feedly.BaseURL != "",
		"ai_search":   c.Database.Elasticsearch.GetURL() != "",
		"ai_project":  c.Agents.Endpoint != "",
	}
}
