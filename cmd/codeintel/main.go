// Package main implements the codeintel CLI: a semantic code
// intelligence engine that scans a project, extracts language-aware
// units, embeds and indexes them, and answers similarity, duplication,
// and impact queries over the result.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"codeintel/internal/config"
	"codeintel/internal/logging"
)

var (
	verbose    bool
	workspace  string
	configPath string
	timeout    time.Duration

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "codeintel",
	Short: "Semantic code intelligence engine",
	Long: `codeintel scans a project tree, extracts language-aware units,
embeds and indexes them in a local vector store, and builds a
relationship graph of calls, imports, and containment between units.

It answers semantic search, duplicate-detection, and change-impact
queries over the indexed project without sending code anywhere beyond
the configured embedding provider.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		ws := workspace
		if ws == "" {
			ws, _ = os.Getwd()
		}
		if err := logging.Initialize(ws); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to initialize file logging: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "project root (default: current directory)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a codeintel.yaml config file")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Minute, "operation timeout")

	rootCmd.AddCommand(ingestCmd, searchCmd, similarCmd, duplicatesCmd, neighborsCmd, impactCmd, reachesCmd)
}

func resolveWorkspace() (string, error) {
	if workspace == "" {
		return os.Getwd()
	}
	return filepath.Abs(workspace)
}

// loadConfig layers an optional YAML file and CODEINTEL_*-prefixed
// environment variables over the engine's documented defaults, so a
// deployment can override e.g. CODEINTEL_EMBEDDING_BATCH_SIZE without
// touching a config file at all.
func loadConfig() (config.Config, error) {
	cfg := config.Default()

	v := viper.New()
	v.SetEnvPrefix("CODEINTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var defaults map[string]any
	if raw, err := yaml.Marshal(cfg); err == nil && yaml.Unmarshal(raw, &defaults) == nil {
		for k, val := range defaults {
			v.SetDefault(k, val)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
