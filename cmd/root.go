package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"mnemo/internal/config"
	"mnemo/internal/logging"
)

var (
	flagDB       string
	flagOllama   string
	flagModel    string
	flagConfig   string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "mnemo",
	Short: "Local semantic memory over your notes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTUI()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database path (default <root>/.mnemo/index.db)")
	rootCmd.PersistentFlags().StringVar(&flagOllama, "ollama", "", "ollama base URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagModel, "model", "", "embedding model (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file path (default <root>/.mnemo/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "log level (debug, info, warn, error)")
}

// loadConfig merges the config file with command-line overrides.
func loadConfig(root string) (*config.Config, error) {
	path := flagConfig
	if path == "" {
		path = filepath.Join(root, ".mnemo", "config.yaml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if flagOllama != "" {
		cfg.Embedding.OllamaURL = flagOllama
	}
	if flagModel != "" {
		cfg.Embedding.Model = flagModel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveDB returns the database path, defaulting under the given root.
func resolveDB(root string) string {
	if flagDB != "" {
		return flagDB
	}
	return filepath.Join(root, ".mnemo", "index.db")
}

// requireDB resolves the database path and fails if no index exists yet.
func requireDB() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	dbPath := resolveDB(wd)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return "", fmt.Errorf("index not found at %s\nRun 'mnemo index <path>' first to build the index", dbPath)
	}
	return dbPath, nil
}

func newLogger() zerolog.Logger {
	return logging.New(flagLogLevel)
}
