package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/smartdevs17/crm-sync-engine/internal/config"
	"github.com/smartdevs17/crm-sync-engine/internal/crm"
	"github.com/smartdevs17/crm-sync-engine/internal/metrics"
	"github.com/smartdevs17/crm-sync-engine/internal/schema"
	"github.com/smartdevs17/crm-sync-engine/internal/server"
	"github.com/smartdevs17/crm-sync-engine/internal/storage"
	"github.com/smartdevs17/crm-sync-engine/internal/sync"
	"github.com/smartdevs17/crm-sync-engine/internal/synclog"
	"github.com/smartdevs17/crm-sync-engine/pkg/utils"
)

var (
	version    = "1.0.0"
	commit     = "dev"
	configPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "syncd",
		Short: "Bidirectional CRM to relational store sync engine",
		Long: `syncd replicates CRM objects into a local relational database and
propagates local changes back, with append-only schema evolution,
soft deletes and most-recent-write-wins conflict resolution.`,
		RunE: runServer,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(testCmd())
	rootCmd.AddCommand(discoverCmd())
	rootCmd.AddCommand(schemaSyncCmd())
	rootCmd.AddCommand(drainCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// bootstrap loads config, initializes logging and opens storage
func bootstrap() (*config.Config, storage.Storage, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}

	if err := utils.InitLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.FilePath,
		utils.LoggerOptions{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
		}); err != nil {
		return nil, nil, err
	}

	store, err := storage.NewStorage(&storage.StorageConfig{
		Type:             cfg.Storage.Type,
		ConnectionString: cfg.Storage.ConnectionString,
		MaxConnections:   cfg.Storage.MaxConnections,
		MaxIdleTime:      cfg.Storage.MaxIdleTime,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := store.Connect(); err != nil {
		return nil, nil, err
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, nil, err
	}
	return cfg, store, nil
}

func newCRMClient(cfg *config.Config) crm.Client {
	return crm.NewHTTPClient(&crm.ClientConfig{
		BaseURL:        cfg.CRM.BaseURL,
		AppID:          cfg.CRM.AppID,
		AppSecret:      cfg.CRM.AppSecret,
		RequestTimeout: cfg.CRM.RequestTimeout,
	})
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, store, err := bootstrap()
	if err != nil {
		return err
	}
	defer store.Close()

	logger := utils.GetLogger()
	logger.WithFields(logrus.Fields{
		"version":     version,
		"commit":      commit,
		"environment": cfg.App.Environment,
		"storage":     cfg.Storage.Type,
	}).Info("Starting sync engine")

	client := newCRMClient(cfg)
	metricsManager := metrics.NewManager(cfg.Metrics.Enabled)
	metricsManager.SetServiceInfo(version, cfg.Storage.Type)

	syncLog := synclog.NewLogger(store)
	orchestrator := schema.NewOrchestrator(client, store)
	orchestrator.Manager().SetMetricsManager(metricsManager)

	inbound := sync.NewInbound(client, store, syncLog)
	inbound.SetMetricsManager(metricsManager)
	writer := sync.NewWriter(client, store, syncLog)
	writer.SetMetricsManager(metricsManager)
	outbox := sync.NewOutbox(store, writer)
	outbox.SetMetricsManager(metricsManager)
	capture := sync.NewCapture(store)
	scheduler := sync.NewScheduler(store, outbox, inbound)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	srv := server.NewServer(cfg, server.Deps{
		Storage:      store,
		Inbound:      inbound,
		Outbox:       outbox,
		Capture:      capture,
		Scheduler:    scheduler,
		Orchestrator: orchestrator,
		SyncLog:      syncLog,
		Metrics:      metricsManager,
	})

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		logger.WithFields(logrus.Fields{
			"signal": sig.String(),
		}).Info("Shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{
			"error": err.Error(),
		}).Error("HTTP server shutdown failed")
	}
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("syncd %s (%s)\n", version, commit)
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			fmt.Printf("Configuration valid: storage=%s server=%s\n",
				cfg.Storage.Type, cfg.ServerAddress())
			return nil
		},
	})
	return cmd
}

func testCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Test storage and CRM connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := bootstrap()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Ping(); err != nil {
				return fmt.Errorf("storage ping failed: %w", err)
			}
			fmt.Println("Storage: OK")

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := newCRMClient(cfg).Authenticate(ctx); err != nil {
				return fmt.Errorf("CRM authentication failed: %w", err)
			}
			fmt.Println("CRM: OK")
			return nil
		},
	}
}

func discoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Discover the CRM object catalogue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := bootstrap()
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			defs, err := schema.NewDiscovery(newCRMClient(cfg), store).DiscoverObjects(ctx)
			if err != nil {
				return err
			}
			for _, def := range defs {
				kind := "standard"
				if def.IsCustom {
					kind = "custom"
				}
				fmt.Printf("%-40s %-10s %s\n", def.APIName, kind, def.DisplayName)
			}
			fmt.Printf("%d objects discovered\n", len(defs))
			return nil
		},
	}
}

func schemaSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema-sync [object]",
		Short: "Synchronize schema for one object or all enabled objects",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := bootstrap()
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()

			orchestrator := schema.NewOrchestrator(newCRMClient(cfg), store)
			if len(args) == 1 {
				result, err := orchestrator.SyncObject(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("%s: table_created=%v columns_added=%d fields=%d\n",
					result.ObjectAPIName, result.TableCreated, len(result.ColumnsAdded), result.FieldsTotal)
				return nil
			}

			result, err := orchestrator.SyncAll(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Schema sync: %d succeeded, %d failed\n", result.Succeeded, result.Failed)
			for object, errText := range result.Errors {
				fmt.Printf("  %s: %s\n", object, errText)
			}
			return nil
		},
	}
}

func drainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Run one outbox drain pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := bootstrap()
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()

			syncLog := synclog.NewLogger(store)
			writer := sync.NewWriter(newCRMClient(cfg), store, syncLog)
			result, err := sync.NewOutbox(store, writer).ProcessPending(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Drain: processed=%d succeeded=%d skipped=%d failed=%d in %s\n",
				result.Processed, result.Succeeded, result.Skipped, result.Failed,
				result.Duration.Round(time.Millisecond))
			return nil
		},
	}
}
