// cmd/tools/backlog/main.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"feedly-pipeline/internal/common/agent"
	"feedly-pipeline/internal/common/config"
	"feedly-pipeline/internal/common/database"
	"feedly-pipeline/internal/common/index"
	"feedly-pipeline/internal/common/logger"
	"feedly-pipeline/internal/common/queue"
	"feedly-pipeline/internal/common/validation"
	"feedly-pipeline/internal/workers/maintenance/backlog"
	"feedly-pipeline/pkg/registry"
)

var configPath string

func main() {
	enrichCmd := flag.NewFlagSet("enrich", flag.ExitOnError)
	analyzeCmd := flag.NewFlagSet("analyze", flag.ExitOnError)
	wipeCmd := flag.NewFlagSet("wipe-index", flag.ExitOnError)
	statsCmd := flag.NewFlagSet("queue-stats", flag.ExitOnError)
	registryCmd := flag.NewFlagSet("registry", flag.ExitOnError)

	for _, fs := range []*flag.FlagSet{enrichCmd, analyzeCmd, wipeCmd, statsCmd, registryCmd} {
		fs.StringVar(&configPath, "config", "", "Path to config file (defaults to configs/config.yaml lookup)")
	}

	limit := enrichCmd.Int("limit", 0, "Maximum documents to process (0 uses index.search_limit)")
	analyzeLimit := analyzeCmd.Int("limit", 0, "Maximum documents to process (0 uses index.search_limit)")
	confirm := wipeCmd.Bool("yes", false, "Confirm deletion of every document in the index")
	registryOut := registryCmd.String("out", "", "Write the stage registry to this file")
	registryIn := registryCmd.String("validate", "", "Validate a stage registry file")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "enrich":
		enrichCmd.Parse(os.Args[2:])
		cfg := mustLoadConfig()
		if *limit > 0 {
			cfg.Index.SearchLimit = *limit
		}
		result, err := newProcessor(ctx, cfg).EnrichBacklog(ctx)
		exitOnError("enrich backlog", err)
		printJSON(result)

	case "analyze":
		analyzeCmd.Parse(os.Args[2:])
		cfg := mustLoadConfig()
		if *analyzeLimit > 0 {
			cfg.Index.SearchLimit = *analyzeLimit
		}
		result, err := newProcessor(ctx, cfg).AnalyzeBacklog(ctx)
		exitOnError("analyze backlog", err)
		printJSON(result)

	case "wipe-index":
		wipeCmd.Parse(os.Args[2:])
		if !*confirm {
			fmt.Println("Error: pass -yes to delete every document in the index.")
			os.Exit(1)
		}
		cfg := mustLoadConfig()
		store := newStore(cfg)
		deleted, err := store.DeleteAll(ctx)
		exitOnError("wipe index", err)
		fmt.Printf("Deleted %d documents from %s\n", deleted, store.Name())

	case "queue-stats":
		statsCmd.Parse(os.Args[2:])
		cfg := mustLoadConfig()
		exitOnError("queue stats", queueStats(ctx, cfg))

	case "registry":
		registryCmd.Parse(os.Args[2:])
		switch {
		case *registryIn != "":
			_, err := registry.LoadRegistry(*registryIn)
			exitOnError("registry validation", err)
			fmt.Println("Registry validation passed.")
		case *registryOut != "":
			cfg := mustLoadConfig()
			reg := registry.Default(cfg.Queues, cfg.Agents)
			exitOnError("write registry", reg.Save(*registryOut))
			fmt.Printf("Wrote stage registry to %s\n", *registryOut)
		default:
			fmt.Println("Error: registry needs -out or -validate.")
			registryCmd.Usage()
			os.Exit(1)
		}

	case "help":
		fallthrough
	default:
		help()
	}
}

func mustLoadConfig() *config.Config {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	exitOnError("load config", err)
	return cfg
}

func newLogger(cfg *config.Config) logger.Logger {
	return logger.NewZapAdapter(logger.New(cfg.Logging.Level, "console"))
}

func newStore(cfg *config.Config) *index.Store {
	es, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
	exitOnError("connect elasticsearch", err)
	exitOnError("ping elasticsearch", es.Ping())
	return index.NewStore(es.Client, cfg.Index, newLogger(cfg))
}

func newProcessor(ctx context.Context, cfg *config.Config) *backlog.Processor {
	log := newLogger(cfg)
	store := newStore(cfg)
	exitOnError("ensure index", store.EnsureIndex(ctx))

	validator, err := validation.NewResponseValidator(cfg.Agents.RequiredFields)
	exitOnError("agent response schemas", err)

	agents := agent.NewRetrier(
		agent.NewClientFactory(cfg.Agents, validator, log),
		cfg.Agents.MaxAttempts,
		config.GetDuration(cfg.Agents.BackoffBase),
		log,
		agent.WithCooldown(config.GetDuration(cfg.Agents.Cooldown)),
	)
	return backlog.NewProcessor(backlog.LoadConfig(cfg), agents, store, log)
}

func queueStats(ctx context.Context, cfg *config.Config) error {
	redis, err := database.NewRedis(cfg.Database.Redis)
	if err != nil {
		return err
	}
	defer redis.Close()

	broker := queue.NewRedisBroker(redis.Client, newLogger(cfg))
	if err := broker.Ping(ctx); err != nil {
		return err
	}

	reg := registry.Default(cfg.Queues, cfg.Agents)
	fmt.Printf("%-24s %10s %12s\n", "QUEUE", "ACTIVE", "DEADLETTER")
	for _, name := range reg.Queues() {
		active, err := broker.Length(ctx, name, queue.SubQueueNone)
		if err != nil {
			return err
		}
		dead, err := broker.Length(ctx, name, queue.SubQueueDeadLetter)
		if err != nil {
			return err
		}
		fmt.Printf("%-24s %10d %12d\n", name, active, dead)
	}
	return nil
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	exitOnError("encode result", err)
	fmt.Println(string(data))
}

func exitOnError(action string, err error) {
	if err != nil {
		fmt.Printf("Error: %s: %v\n", action, err)
		os.Exit(1)
	}
}

func help() {
	fmt.Println("Usage: backlog <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  enrich       Enrich indexed documents that have no business fields yet")
	fmt.Println("  analyze      Analyze indexed documents whose analysis is missing or pending")
	fmt.Println("  wipe-index   Delete every document in the index (-yes required)")
	fmt.Println("  queue-stats  Print active and dead-letter depth of each pipeline queue")
	fmt.Println("  registry     Export (-out) or validate (-validate) the stage registry")
	fmt.Println("  help         Show this help message")
	fmt.Println("\nEvery command accepts -config <path>.")
}
