// The insights binary drives the registry insights engine: consolidating
// state exports, detecting changes across daily snapshots, serving the
// reporting API, and following the changefeed.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gartstein/mca-insights/internal/registry/auth"
	"github.com/gartstein/mca-insights/internal/registry/config"
	"github.com/gartstein/mca-insights/internal/registry/consolidate"
	"github.com/gartstein/mca-insights/internal/registry/db"
	"github.com/gartstein/mca-insights/internal/registry/events"
	"github.com/gartstein/mca-insights/internal/registry/handlers"
	"github.com/gartstein/mca-insights/internal/registry/loader"
	"github.com/gartstein/mca-insights/internal/registry/models"
	"github.com/gartstein/mca-insights/internal/registry/pipeline"
	"github.com/gartstein/mca-insights/internal/registry/processor"
	"github.com/gartstein/mca-insights/internal/registry/query"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var configPath string

func main() {
	logger, _ := zap.NewProduction()
	defer func() {
		_ = logger.Sync()
	}()

	root := &cobra.Command{
		Use:           "insights",
		Short:         "Corporate registry insights engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "directory containing config.yaml")

	root.AddCommand(
		newConsolidateCmd(logger),
		newChangesCmd(logger),
		newServeCmd(logger),
		newFollowCmd(logger),
		newTokenCmd(),
	)

	if err := root.Execute(); err != nil {
		logger.Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}

func newConsolidateCmd(logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "consolidate",
		Short: "Merge state exports into the master companies table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, repo, err := setup(logger)
			if err != nil {
				return err
			}
			defer repo.Close()

			p := buildPipeline(cfg, repo, nil, logger)
			count, err := p.RunConsolidation(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Consolidated %d companies\n", count)
			return nil
		},
	}
}

func newChangesCmd(logger *zap.Logger) *cobra.Command {
	var format, exportPath string
	cmd := &cobra.Command{
		Use:   "changes [snapshot files...]",
		Short: "Detect changes across daily snapshots and append them to the change log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, repo, err := setup(logger)
			if err != nil {
				return err
			}
			defer repo.Close()

			if len(args) > 0 {
				cfg.Snapshots = args
			}
			if exportPath != "" {
				cfg.ChangeLogExport = exportPath
			}

			producer, err := buildProducer(cfg, logger)
			if err != nil {
				return err
			}
			if producer != nil {
				defer producer.Close()
			}

			p := buildPipeline(cfg, repo, producer, logger)
			summary, err := p.RunChangeDetection(cmd.Context())
			if err != nil {
				return err
			}
			if summary.TotalChanges == 0 {
				fmt.Println("No changes detected")
				return nil
			}
			return printSummary(summary, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "summary output format: json or yaml")
	cmd.Flags().StringVar(&exportPath, "export", "", "write the full change log to this file (.csv or .json)")
	return cmd
}

func newServeCmd(logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the reporting API",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, repo, err := setup(logger)
			if err != nil {
				return err
			}
			defer repo.Close()

			producer, err := buildProducer(cfg, logger)
			if err != nil {
				return err
			}
			if producer != nil {
				defer producer.Close()
			}

			p := buildPipeline(cfg, repo, producer, logger)
			engine := query.NewEngine(repo, logger)
			handler := handlers.NewHandler(repo, engine, p, logger)
			server := handlers.NewServer(cfg.HTTPPort, handler, cfg.JWTSecret, logger)

			errChan := make(chan error, 1)
			go func() {
				errChan <- server.Start()
			}()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			select {
			case err := <-errChan:
				return err
			case <-stop:
				server.Stop()
				logger.Info("Server stopped properly")
				return nil
			}
		},
	}
}

func newFollowCmd(logger *zap.Logger) *cobra.Command {
	var groupID string
	cmd := &cobra.Command{
		Use:   "follow",
		Short: "Follow the change event feed and print events as JSON lines",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if len(cfg.KafkaBrokers) == 0 {
				return fmt.Errorf("no kafka brokers configured")
			}

			consumer := events.NewConsumer(cfg.KafkaBrokers, groupID, cfg.KafkaTopic, logger)
			defer consumer.Close()
			consumer.RegisterHandler(func(_ context.Context, ev models.ChangeEvent) error {
				line, err := json.Marshal(ev)
				if err != nil {
					return err
				}
				fmt.Println(string(line))
				return nil
			})

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			consumer.Start(ctx)
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&groupID, "group", "insights-follow", "kafka consumer group id")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API token for the protected endpoints",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return fmt.Errorf("jwt_secret is not configured")
			}
			token, err := auth.GenerateToken(subject, cfg.JWTSecret)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "insights-cli", "token subject")
	return cmd
}

// setup loads config and connects the repository.
func setup(logger *zap.Logger) (*config.Config, *db.Repository, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	repo, err := db.NewRepository(&db.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Connected to database", zap.String("host", cfg.Database.Host))
	return cfg, repo, nil
}

// buildProducer returns nil when no brokers are configured; the pipeline
// then runs without a changefeed.
func buildProducer(cfg *config.Config, logger *zap.Logger) (*events.Producer, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, nil
	}
	return events.NewProducer(cfg.KafkaBrokers, logger, cfg.KafkaTopic)
}

func buildPipeline(cfg *config.Config, repo *db.Repository, producer *events.Producer, logger *zap.Logger) *pipeline.Pipeline {
	fileLoader := loader.NewFileLoader(logger)
	consolidator := consolidate.New(fileLoader, logger)
	proc := processor.New(fileLoader, logger, processor.Options{
		FailFast: !cfg.SkipUnreadableSnapshots,
	})

	var eventSink pipeline.EventProducer
	if producer != nil {
		eventSink = producer
	}
	return pipeline.New(consolidator, proc, repo, eventSink, logger, pipeline.Options{
		StateFiles:         cfg.StateFiles,
		Snapshots:          cfg.Snapshots,
		ConsolidatedExport: cfg.ConsolidatedExport,
		ChangeLogExport:    cfg.ChangeLogExport,
	})
}

func printSummary(summary models.ChangeSummary, format string) error {
	switch format {
	case "yaml":
		out, err := yaml.Marshal(summary)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
	default:
		out, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	}
	return nil
}
