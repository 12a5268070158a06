// File: cmd/toxlog/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/smartdevs17/toxicity-log-service/internal/auth"
	"github.com/smartdevs17/toxicity-log-service/internal/config"
	"github.com/smartdevs17/toxicity-log-service/internal/metrics"
	"github.com/smartdevs17/toxicity-log-service/internal/models"
	"github.com/smartdevs17/toxicity-log-service/internal/report"
	"github.com/smartdevs17/toxicity-log-service/internal/server"
	"github.com/smartdevs17/toxicity-log-service/internal/storage"
	"github.com/smartdevs17/toxicity-log-service/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// Application represents the main application
type Application struct {
	config  *config.Config
	logger  *logrus.Logger
	metrics *metrics.Manager
	storage storage.Storage
	server  *server.HTTPServer
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	app := &Application{
		config:  cfg,
		metrics: metrics.NewManager(),
	}

	// Initialize logger
	if err := app.initializeLogger(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Initialize storage
	if err := app.initializeStorage(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	// Initialize HTTP server
	if err := app.initializeServer(); err != nil {
		app.storage.Close()
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}

	return app, nil
}

// initializeLogger initializes the application logger
func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging

	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	app.logger = utils.GetLogger()
	app.logger.WithFields(logrus.Fields{
		"level":  logCfg.Level,
		"format": logCfg.Format,
		"output": logCfg.Output,
	}).Info("Logger initialized")

	return nil
}

// initializeStorage connects to the database and ensures the schema
func (app *Application) initializeStorage() error {
	app.logger.WithField("type", app.config.Storage.Type).Info("Initializing storage layer")

	store, err := openStorage(&app.config.Storage)
	if err != nil {
		return err
	}

	app.storage = storage.NewStorageWithMetrics(store, app.metrics)
	app.logger.Info("Storage layer initialized successfully")
	return nil
}

// initializeServer initializes the HTTP server
func (app *Application) initializeServer() error {
	if !app.config.AdminEnabled() {
		app.logger.Warn("ADMIN_USERNAME/ADMIN_PASSWORD not set, the log view will reject every request")
	}

	gate := auth.NewGate(app.config.Admin.Username, app.config.Admin.Password, app.config.Admin.Realm, app.metrics)

	serverCfg := &server.ServerConfig{
		Port:          app.config.Server.Port,
		Host:          app.config.Server.Host,
		ReadTimeout:   app.config.Server.ReadTimeout,
		WriteTimeout:  app.config.Server.WriteTimeout,
		EnableMetrics: app.config.Server.EnableMetrics,
		EnableHealth:  app.config.Server.EnableHealth,
		MaxBodyBytes:  app.config.Server.MaxBodyBytes,
		Version:       AppVersion,
	}

	var err error
	app.server, err = server.NewHTTPServer(serverCfg, app.storage, gate, app.metrics)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	return nil
}

// Start starts the application
func (app *Application) Start() error {
	if err := app.server.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	app.logger.WithFields(logrus.Fields{
		"version":        AppVersion,
		"environment":    app.config.App.Environment,
		"server_address": fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port),
		"storage":        app.config.Storage.Type,
	}).Info("Toxicity log service started")

	return nil
}

// Stop stops the application gracefully
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("Stopping toxicity log service")

	if app.server != nil {
		if err := app.server.Stop(ctx); err != nil {
			app.logger.WithError(err).Error("Failed to stop HTTP server")
		}
	}

	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close storage")
		}
	}

	app.logger.Info("Toxicity log service stopped")
	return nil
}

// openStorage creates, connects and migrates the configured backend
func openStorage(cfg *config.StorageConfig) (storage.Storage, error) {
	store, err := storage.NewStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	if err := store.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to storage: %w", err)
	}

	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to run storage migrations: %w", err)
	}

	return store, nil
}

// loadConfig loads and validates configuration, applying CLI overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = viper.GetString("log-level")
	}
	if viper.GetBool("debug") {
		cfg.App.Debug = true
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// CLI Commands

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "toxlog",
	Short:   "Toxicity classification log service",
	Long:    `Records toxicity classifier predictions and serves a password-protected view of them with CSV and database export.`,
	Version: AppVersion,
	RunE:    runServer,
}

// runServer is the main command to run the service
func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Create application
	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// Set up signal handling for graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	// Start application
	if err := app.Start(); err != nil {
		app.Stop(context.Background())
		return fmt.Errorf("failed to start application: %w", err)
	}

	// Wait for shutdown signal
	sig := <-signalChan
	app.logger.WithField("signal", sig.String()).Info("Received shutdown signal")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return app.Stop(ctx)
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("toxlog %s\n", AppVersion)
	},
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

// validateConfigCmd validates the configuration
var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("Database: %s\n", cfg.Storage.Type)
		fmt.Printf("Listen: %s:%d\n", cfg.Server.Host, cfg.Server.Port)
		fmt.Printf("Admin view enabled: %t\n", cfg.AdminEnabled())

		return nil
	},
}

// migrateCmd ensures the schema exists and exits
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := utils.InitLogger(cfg.Logging.Level, cfg.Logging.Format, "stderr", ""); err != nil {
			return err
		}

		store, err := openStorage(&cfg.Storage)
		if err != nil {
			return err
		}
		defer store.Close()

		fmt.Printf("Schema is up to date (%s)\n", cfg.Storage.Type)
		return nil
	},
}

// exportCmd groups offline export commands
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored records",
}

// exportCSVCmd writes every record as CSV
var exportCSVCmd = &cobra.Command{
	Use:   "csv",
	Short: "Export all records as CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := utils.InitLogger(cfg.Logging.Level, cfg.Logging.Format, "stderr", ""); err != nil {
			return err
		}

		store, err := openStorage(&cfg.Storage)
		if err != nil {
			return err
		}
		defer store.Close()

		records, err := store.QueryRecords(cmd.Context(), models.RecordQuery{OrderBy: models.OrderByID})
		if err != nil {
			return fmt.Errorf("failed to read records: %w", err)
		}

		out := cmd.OutOrStdout()
		if path, _ := cmd.Flags().GetString("out"); path != "" && path != "-" {
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", path, err)
			}
			defer f.Close()
			out = f
		}

		if err := report.WriteCSV(out, records); err != nil {
			return fmt.Errorf("failed to write CSV: %w", err)
		}

		utils.GetLogger().WithField("records", len(records)).Info("Export complete")
		return nil
	},
}

// init initializes the CLI commands
func init() {
	// Add persistent flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug mode")

	// Bind flags to viper
	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	exportCSVCmd.Flags().StringP("out", "o", "-", "output file, - for stdout")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(exportCmd)
	configCmd.AddCommand(validateConfigCmd)
	exportCmd.AddCommand(exportCSVCmd)
}

// main is the entry point
func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
