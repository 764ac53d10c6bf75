// Package config defines the engine's Config struct, unmarshalled from
// YAML over documented defaults so a partial file only overrides what it
// sets. Covers every part of the configuration surface: scanner filters,
// extractor tuning, embedding pipeline parameters, cache wiring,
// duplicate thresholds, and risk bands.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level, YAML-unmarshalled configuration for one
// engine instance.
type Config struct {
	Scanner    ScannerConfig    `yaml:"scanner" mapstructure:"scanner"`
	Extractor  ExtractorConfig  `yaml:"extractor" mapstructure:"extractor"`
	Embedding  EmbeddingConfig  `yaml:"embedding" mapstructure:"embedding"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Similarity SimilarityConfig `yaml:"similarity" mapstructure:"similarity"`
	Risk       RiskConfig       `yaml:"risk" mapstructure:"risk"`
	Logging    LoggingConfig    `yaml:"logging" mapstructure:"logging"`
}

// ScannerConfig controls which files the File Scanner visits.
type ScannerConfig struct {
	IncludeGlobs []string `yaml:"include_globs" mapstructure:"include_globs"`
	ExcludeGlobs []string `yaml:"exclude_globs" mapstructure:"exclude_globs"`
	MaxFileBytes int64    `yaml:"max_file_bytes" mapstructure:"max_file_bytes"`
}

// ExtractorConfig controls which languages the Unit Extractor enables
// and the block-unit floor for the line-window fallback.
type ExtractorConfig struct {
	Languages     []string `yaml:"languages" mapstructure:"languages"`
	MinBlockLines int      `yaml:"min_block_lines" mapstructure:"min_block_lines"`
}

// EmbeddingConfig pins the vector schema and tunes the embedding pipeline.
type EmbeddingConfig struct {
	ModelID        string `yaml:"embedding_model_id" mapstructure:"embedding_model_id"`
	Dimension      int    `yaml:"embedding_dim" mapstructure:"embedding_dim"`
	BatchSize      int    `yaml:"batch_size" mapstructure:"batch_size"`
	MaxConcurrency int    `yaml:"max_concurrency" mapstructure:"max_concurrency"`
}

// CacheConfig wires the L3 remote tier; L1/L2 have no external
// configuration surface beyond size, which defaults sensibly.
type CacheConfig struct {
	RemoteURL       string `yaml:"remote_cache_url" mapstructure:"remote_cache_url"`
	RemoteTimeoutMs int    `yaml:"remote_cache_timeout_ms" mapstructure:"remote_cache_timeout_ms"`
	L1MaxEntries    int    `yaml:"l1_max_entries" mapstructure:"l1_max_entries"`
	L2Dir           string `yaml:"l2_dir" mapstructure:"l2_dir"`
}

// SimilarityConfig sets the duplicate-classification thresholds and the
// candidate pool size per unit.
type SimilarityConfig struct {
	ExactThreshold      float64 `yaml:"t_exact" mapstructure:"t_exact"`
	SemanticThreshold   float64 `yaml:"t_semantic" mapstructure:"t_semantic"`
	StructuralThreshold float64 `yaml:"t_structural" mapstructure:"t_structural"`
	TopKNeighbors       int     `yaml:"top_k_neighbors" mapstructure:"top_k_neighbors"`
}

// RiskConfig maps affected-node counts from impact analysis to bands.
type RiskConfig struct {
	Critical int `yaml:"critical" mapstructure:"critical"`
	High     int `yaml:"high" mapstructure:"high"`
	Medium   int `yaml:"medium" mapstructure:"medium"`
}

// LoggingConfig mirrors internal/logging's own config shape so one YAML
// document can drive both.
type LoggingConfig struct {
	Level      string          `yaml:"level" mapstructure:"level"`
	DebugMode  bool            `yaml:"debug_mode" mapstructure:"debug_mode"`
	JSONFormat bool            `yaml:"json_format" mapstructure:"json_format"`
	Categories map[string]bool `yaml:"categories" mapstructure:"categories"`
}

// Default returns the engine's documented defaults: a generous file size
// cap, 500ms remote cache timeout, and the documented risk thresholds.
func Default() Config {
	return Config{
		Scanner: ScannerConfig{
			ExcludeGlobs: []string{
				"**/node_modules/**", "**/vendor/**", "**/dist/**", "**/build/**",
				"**/.git/**", "**/.codeintel/**",
			},
			MaxFileBytes: 2 << 20, // 2 MiB
		},
		Extractor: ExtractorConfig{
			Languages:     []string{"go", "python", "javascript", "typescript", "rust", "java", "cpp", "csharp"},
			MinBlockLines: 5,
		},
		Embedding: EmbeddingConfig{
			ModelID:        "text-embedding-004",
			Dimension:      768,
			BatchSize:      32,
			MaxConcurrency: 4,
		},
		Cache: CacheConfig{
			RemoteTimeoutMs: 500,
			L1MaxEntries:    10_000,
			L2Dir:           ".codeintel/cache/embeddings",
		},
		Similarity: SimilarityConfig{
			ExactThreshold:      1.0,
			SemanticThreshold:   0.90,
			StructuralThreshold: 0.80,
			TopKNeighbors:       20,
		},
		Risk: RiskConfig{Critical: 50, High: 20, Medium: 10},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads and unmarshals a YAML config file over the documented
// defaults, so a partial file only overrides the fields it sets.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects a config whose values would make the pipeline
// misbehave rather than merely underperform.
func (c Config) Validate() error {
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.embedding_dim must be > 0")
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding.batch_size must be > 0")
	}
	if c.Embedding.MaxConcurrency <= 0 {
		return fmt.Errorf("embedding.max_concurrency must be > 0")
	}
	if c.Cache.RemoteTimeoutMs < 0 {
		return fmt.Errorf("cache.remote_cache_timeout_ms must be >= 0")
	}
	if c.Similarity.ExactThreshold < c.Similarity.SemanticThreshold ||
		c.Similarity.SemanticThreshold < c.Similarity.StructuralThreshold {
		return fmt.Errorf("similarity thresholds must satisfy t_exact >= t_semantic >= t_structural")
	}
	return nil
}
