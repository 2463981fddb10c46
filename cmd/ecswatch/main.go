package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/opsdrift/ecswatch/internal/actions"
	"github.com/opsdrift/ecswatch/internal/config"
	"github.com/opsdrift/ecswatch/internal/events"
	"github.com/opsdrift/ecswatch/internal/history"
	"github.com/opsdrift/ecswatch/internal/history/postgres"
	"github.com/opsdrift/ecswatch/internal/history/sqlite"
	"github.com/opsdrift/ecswatch/internal/monitor"
	"github.com/opsdrift/ecswatch/internal/nodefacts"
	"github.com/opsdrift/ecswatch/internal/notify"
	"github.com/opsdrift/ecswatch/internal/policy"
)

var (
	// Version information (set via ldflags at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// Command-line flags
	configFile string
	logLevel   string
	inputPath  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ecswatch",
	Short: "ecswatch - ECS agent-disconnect monitor",
	Long:  "Processes ECS container-instance state-change batches and alerts when a running node has its ECS agent disconnected",
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process one batch of state-change records",
	RunE:  runProcess,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List previously dispatched alerts",
	RunE:  runHistory,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ecswatch version %s\n", Version)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		fmt.Printf("  Git Commit: %s\n", GitCommit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file (default: searches for config.yaml in ., ./configs, /etc/ecswatch)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config file)")

	processCmd.Flags().StringVarP(&inputPath, "input", "i", "-", "Batch JSON file to process ('-' reads stdin)")

	historyCmd.Flags().String("cluster", "", "Filter by cluster short name")
	historyCmd.Flags().String("node", "", "Filter by node id")
	historyCmd.Flags().Int("limit", 20, "Maximum number of alerts to list")

	rootCmd.AddCommand(processCmd, historyCmd, versionCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}

func runProcess(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)

	batch, err := readBatch(inputPath)
	if err != nil {
		return err
	}

	ctx := context.Background()

	awscfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	ecsClient := ecs.NewFromConfig(awscfg)

	provider := nodefacts.NewProvider(ecsClient, ec2.NewFromConfig(awscfg), ssm.NewFromConfig(awscfg), logger)
	evaluator := monitor.NewEvaluator(policy.New(ecsClient, logger))

	var notifier notify.Notifier
	switch cfg.NotificationChannel {
	case notify.ChannelSlack:
		notifier = notify.NewSlackNotifier()
	default:
		notifier = notify.NewSNSNotifier(sns.NewFromConfig(awscfg), logger)
	}

	store, err := openHistoryStore(cfg, logger)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	processor := monitor.NewProcessor(provider, evaluator, notifier, store, monitor.Config{
		TagKey:           cfg.MonitoringTagKey,
		TagValue:         cfg.MonitoringTagValue,
		CheckAllClusters: cfg.CheckAllClusters,
		Destination:      cfg.Destination(),
		Channel:          cfg.NotificationChannel,
	}, logger)

	if cfg.CustomAction.Command != "" {
		runner := actions.NewRunner(actions.Config{
			Command: cfg.CustomAction.Command,
			Timeout: time.Duration(cfg.CustomAction.TimeoutSeconds) * time.Second,
		}, logger)
		processor.OnAlert = func(state nodefacts.NodeState) {
			if err := runner.Run(ctx, state); err != nil {
				logger.Error("custom action failed", "node_id", state.NodeID, "error", err)
			}
		}
	}

	if err := processor.Process(ctx, batch); err != nil {
		return fmt.Errorf("execution error: %w", err)
	}

	logger.Info("batch processed")
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.History.Backend == "" {
		return fmt.Errorf("alert history is not configured (set history.backend)")
	}

	logger := newLogger(cfg.LogLevel)

	store, err := openHistoryStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	alerts, err := store.ListAlerts(context.Background(), historyFilters(cmd.Flags()))
	if err != nil {
		return fmt.Errorf("failed to list alerts: %w", err)
	}

	if len(alerts) == 0 {
		fmt.Println("no alerts recorded")
		return nil
	}
	for _, a := range alerts {
		fmt.Printf("%s  %-20s %-25s %s\n",
			a.DispatchedAt.Format(time.RFC3339), a.ClusterName, a.NodeID, a.Subject)
	}
	return nil
}

func historyFilters(flags *pflag.FlagSet) *history.Filters {
	cluster, _ := flags.GetString("cluster")
	node, _ := flags.GetString("node")
	limit, _ := flags.GetInt("limit")
	return &history.Filters{
		ClusterName: cluster,
		NodeID:      node,
		Limit:       limit,
	}
}

// openHistoryStore runs migrations and opens the configured backend.
// Returns nil when history is disabled.
func openHistoryStore(cfg *config.Config, logger *slog.Logger) (history.Store, error) {
	switch cfg.History.Backend {
	case "":
		return nil, nil

	case "sqlite":
		if err := history.RunMigrations(&history.MigrationConfig{
			MigrationsPath: cfg.History.MigrationsPath,
			DatabaseType:   "sqlite",
			DatabasePath:   cfg.History.Path,
		}); err != nil {
			return nil, fmt.Errorf("failed to migrate alert store: %w", err)
		}
		storeCfg := sqlite.DefaultConfig()
		storeCfg.Path = cfg.History.Path
		store, err := sqlite.New(storeCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open alert store: %w", err)
		}
		logger.Info("alert history enabled", "backend", "sqlite", "path", cfg.History.Path)
		return store, nil

	case "postgres":
		if err := history.RunMigrations(&history.MigrationConfig{
			MigrationsPath: cfg.History.MigrationsPath,
			DatabaseType:   "postgres",
			DatabaseURL:    cfg.History.URL,
		}); err != nil {
			return nil, fmt.Errorf("failed to migrate alert store: %w", err)
		}
		storeCfg := postgres.DefaultConfig()
		storeCfg.URL = cfg.History.URL
		store, err := postgres.New(storeCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open alert store: %w", err)
		}
		logger.Info("alert history enabled", "backend", "postgres")
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported history backend: %s", cfg.History.Backend)
	}
}

// readBatch reads one batch document from the given path, or stdin for "-".
func readBatch(path string) (*events.Batch, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read batch input: %w", err)
	}

	var batch events.Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("failed to parse batch input: %w", err)
	}
	return &batch, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	})
	return slog.New(handler)
}
