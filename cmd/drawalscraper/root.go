package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/jgoulah/drawalscraper/internal/config"
	"github.com/jgoulah/drawalscraper/internal/database"
	"github.com/jgoulah/drawalscraper/internal/logger"
)

var (
	cfgFile  string
	envFile  string
	dbDSN    string
	dbDriver string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "drawalscraper",
	Short: "Collect DISCOM drawal schedules from the SLDC report endpoint",
	Long: `drawalscraper downloads day-ahead drawal schedules for every DISCOM from the
State Load Despatch Centre report endpoint, normalizes them into one row per
DISCOM per 15-minute time block and upserts them into SQLite or PostgreSQL.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before environment overrides")
	rootCmd.PersistentFlags().StringVar(&dbDSN, "db", "", "database DSN or SQLite file (overrides config)")
	rootCmd.PersistentFlags().StringVar(&dbDriver, "driver", "", "database driver: sqlite or postgres (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
}

// getConfigPath returns the config file path
func getConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the env file and config, applies flag overrides and
// configures logging
func loadConfig() (*config.Config, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, err
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if dbDriver != "" {
		if dbDriver != cfg.Database.Driver && dbDSN == "" {
			// The configured DSN belongs to the other driver
			cfg.Database.DSN = ""
		}
		cfg.Database.Driver = dbDriver
	}
	if dbDSN != "" {
		cfg.Database.DSN = dbDSN
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := logger.Configure(cfg.Logging, os.Stderr); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openDB opens the configured database
func openDB(cfg config.DatabaseConfig) (*database.DB, error) {
	if cfg.Driver == "sqlite" && cfg.DSN != ":memory:" {
		// Ensure directory exists
		dir := filepath.Dir(cfg.DSN)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	return database.New(cfg.Driver, cfg.ConnString())
}

// closer is anything the app must release on exit
type closer func() error

// app holds the resources a command opened
type app struct {
	closers []closer
}

func (a *app) onClose(c closer) {
	a.closers = append(a.closers, c)
}

// Close releases resources in reverse order and reports every failure
func (a *app) Close() error {
	var result *multierror.Error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
