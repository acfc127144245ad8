// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DefaultRawEventsQueue      = "q-raw-events"
	DefaultEnrichedEventsQueue = "q-enriched-events"
	DefaultOpportunitiesQueue  = "q-opportunities"

	DefaultEnrichmentAgent = "lac-weak-signals"
	DefaultAnalysisAgent   = "lac-analyst-leads"
)

func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setViperDefaults(v)

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// environment overlay is optional
	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig()

	return finish(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setViperDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return finish(v)
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	overrideEmptyConfig(&cfg)
	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile loads the first .env found walking up from the working directory
func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			// unset variables expand to "" so the env fallbacks below can still apply
			if expanded := os.ExpandEnv(strVal); expanded != strVal {
				v.Set(key, expanded)
			}
		}
	}
}

// setViperDefaults covers booleans whose zero value is not the default.
func setViperDefaults(v *viper.Viper) {
	v.SetDefault("index.clear_on_ingest", true)
}

// overrideEmptyConfig falls back to the environment names used by the deployed functions.
func overrideEmptyConfig(cfg *Config) {
	setIfEmpty(&cfg.Feedly.BaseURL, "FEEDLY_APIM_URL")
	setIfEmpty(&cfg.Feedly.SubscriptionKey, "APIM_SUBSCRIPTION_KEY")
	setIfEmpty(&cfg.Feedly.StreamID, "FEEDLY_STREAM_ID")

	if cfg.Database.Elasticsearch.URL == "" && len(cfg.Database.Elasticsearch.Addresses) == 0 {
		setIfEmpty(&cfg.Database.Elasticsearch.URL, "AI_SEARCH_ENDPOINT")
	}
	setIfEmpty(&cfg.Database.Elasticsearch.APIKey, "AI_SEARCH_KEY")
	setIfEmpty(&cfg.Index.Name, "AI_SEARCH_INDEX")

	setIfEmpty(&cfg.Agents.Endpoint, "AI_PROJECT_ENDPOINT")
	setIfEmpty(&cfg.Agents.APIKey, "AI_PROJECT_KEY")
	setIfEmpty(&cfg.Agents.Enrichment.Name, "AI_AGENT_NAME")
	setIfEmpty(&cfg.Agents.Enrichment.ID, "AI_AGENT_ID")
	setIfEmpty(&cfg.Agents.Analysis.Name, "AI_ANALYST_AGENT_NAME")
	setIfEmpty(&cfg.Agents.Analysis.ID, "AI_ANALYST_AGENT_ID")

	if cfg.Agents.Cooldown == 0 {
		if val := os.Getenv("AGENT_COOLDOWN_SECONDS"); val != "" {
			if secs, err := strconv.Atoi(val); err == nil {
				cfg.Agents.Cooldown = secs * 1000
			}
		}
	}

	setIfEmpty(&cfg.Database.Redis.Address, "QUEUE_REDIS_ADDRESS")
	setIfEmpty(&cfg.Database.Redis.Password, "QUEUE_REDIS_PASSWORD")

	setIfEmpty(&cfg.Database.Postgres.User, "DB_USER")
	setIfEmpty(&cfg.Database.Postgres.Password, "DB_PASSWORD")
}

func setIfEmpty(field *string, envKey string) {
	if *field != "" {
		return
	}
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "feedly-pipeline"
	}

	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30000
	}
	if cfg.Server.WriteTimeout == 0 {
		// reprocessing sleeps between messages inside the request
		cfg.Server.WriteTimeout = 600000
	}

	if cfg.Feedly.Timeout == 0 {
		cfg.Feedly.Timeout = 30000
	}
	if cfg.Feedly.PageSize == 0 {
		cfg.Feedly.PageSize = 20
	}
	if cfg.Feedly.MaxPages == 0 {
		cfg.Feedly.MaxPages = 50
	}
	if cfg.Feedly.MaxAttempts == 0 {
		cfg.Feedly.MaxAttempts = 3
	}
	if cfg.Feedly.RetryDelay == 0 {
		cfg.Feedly.RetryDelay = 2000
	}
	if cfg.Feedly.PageDelay == 0 {
		cfg.Feedly.PageDelay = 500
	}

	if cfg.Index.BatchSize == 0 {
		cfg.Index.BatchSize = 100
	}
	if cfg.Index.SearchLimit == 0 {
		cfg.Index.SearchLimit = 1000
	}

	if cfg.Agents.Enrichment.Name == "" {
		cfg.Agents.Enrichment.Name = DefaultEnrichmentAgent
	}
	if cfg.Agents.Analysis.Name == "" {
		cfg.Agents.Analysis.Name = DefaultAnalysisAgent
	}
	if cfg.Agents.MaxAttempts == 0 {
		cfg.Agents.MaxAttempts = 5
	}
	if cfg.Agents.BackoffBase == 0 {
		cfg.Agents.BackoffBase = 15000
	}
	if cfg.Agents.Cooldown == 0 {
		cfg.Agents.Cooldown = 5000
	}
	if cfg.Agents.PollInterval == 0 {
		cfg.Agents.PollInterval = 1000
	}
	if cfg.Agents.RequiredFields == nil {
		cfg.Agents.RequiredFields = map[string][]string{
			cfg.Agents.Enrichment.Name: {"vertical"},
			cfg.Agents.Analysis.Name:   {"evaluationScore", "auditOpportunity"},
		}
	}

	if cfg.Queues.RawEvents == "" {
		cfg.Queues.RawEvents = DefaultRawEventsQueue
	}
	if cfg.Queues.EnrichedEvents == "" {
		cfg.Queues.EnrichedEvents = DefaultEnrichedEventsQueue
	}
	if cfg.Queues.Opportunities == "" {
		cfg.Queues.Opportunities = DefaultOpportunitiesQueue
	}
	if cfg.Queues.MaxDeliveries == 0 {
		cfg.Queues.MaxDeliveries = 10
	}
	if cfg.Queues.ReceiveWait == 0 {
		cfg.Queues.ReceiveWait = 5000
	}
	if cfg.Queues.PollInterval == 0 {
		cfg.Queues.PollInterval = 250
	}

	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.ConnMaxLifetime == 0 {
		cfg.Database.Postgres.ConnMaxLifetime = 300000
	}
	if cfg.Database.Redis.PoolSize == 0 {
		cfg.Database.Redis.PoolSize = 10
	}
	if cfg.Database.Redis.DialTimeout == 0 {
		cfg.Database.Redis.DialTimeout = 5000
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}

	if cfg.Database.Elasticsearch.URL == "" && len(cfg.Database.Elasticsearch.Addresses) > 0 {
		cfg.Database.Elasticsearch.URL = cfg.Database.Elasticsearch.Addresses[0]
	}
	if len(cfg.Database.Elasticsearch.Addresses) == 0 && cfg.Database.Elasticsearch.URL != "" {
		cfg.Database.Elasticsearch.Addresses = []string{cfg.Database.Elasticsearch.URL}
	}

	if cfg.Notifications.AWS.Region == "" {
		cfg.Notifications.AWS.Region = "eu-west-1"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	for key, worker := range cfg.Workers {
		if worker.MaxJobsActive == 0 {
			worker.MaxJobsActive = 1
		}
		if worker.Timeout == 0 {
			worker.Timeout = 600000
		}
		if worker.MaxRetries == 0 {
			worker.MaxRetries = 3
		}
		cfg.Workers[key] = worker
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if cfg.Database.Elasticsearch.GetURL() == "" {
		return fmt.Errorf("database.elasticsearch.addresses or url is required")
	}
	if cfg.Index.Name == "" {
		return fmt.Errorf("index.name is required")
	}
	if cfg.Database.Redis.Address == "" && len(cfg.Database.Redis.Addresses) == 0 {
		return fmt.Errorf("database.redis.address or addresses is required")
	}
	if cfg.Journal.Enabled {
		if cfg.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required when journal is enabled")
		}
		if cfg.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required when journal is enabled")
		}
	}
	if cfg.Notifications.SNS.Enabled && cfg.Notifications.SNS.TopicARN == "" {
		return fmt.Errorf("notifications.sns.topic_arn is required when sns is enabled")
	}

	queues := map[string]bool{}
	for _, q := range []string{cfg.Queues.RawEvents, cfg.Queues.EnrichedEvents, cfg.Queues.Opportunities} {
		if queues[q] {
			return fmt.Errorf("queue names must be distinct, %q is repeated", q)
		}
		queues[q] = true
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// GetWorkerConfig retrieves worker-specific configuration with fallback to defaults
func GetWorkerConfig(cfg *Config, workerName string) WorkerConfig {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker
	}

	return WorkerConfig{
		Enabled:       true,
		MaxJobsActive: 1,
		Timeout:       600000,
		MaxRetries:    3,
	}
}

// IsWorkerEnabled checks if a specific worker is enabled
func IsWorkerEnabled(cfg *Config, workerName string) bool {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker.Enabled
	}
	return true
}
