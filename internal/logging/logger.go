// Package logging provides a per-subsystem categorized logger. Each
// category writes to its own dated file under <workspace>/.codeintel/logs
// and can be independently enabled/disabled via config, matching the way
// the rest of the engine wants noisy subsystems (the extractor, the cache)
// silenced without losing ledger/pipeline output.
package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category identifies which subsystem a logger belongs to.
type Category string

const (
	CategoryBoot        Category = "boot"
	CategoryScanner     Category = "scanner"
	CategoryLedger      Category = "ledger"
	CategoryExtract     Category = "extract"
	CategoryCache       Category = "cache"
	CategoryEmbedding   Category = "embedding"
	CategoryVectorStore Category = "vectorstore"
	CategorySimilarity  Category = "similarity"
	CategoryGraph       Category = "graph"
	CategoryPipeline    Category = "pipeline"
	CategoryCLI         Category = "cli"
)

const (
	LevelDebug = iota
	LevelInfo
	LevelWarn
	LevelError
)

type loggingConfig struct {
	DebugMode  bool            `json:"debug_mode" yaml:"debug_mode"`
	Categories map[string]bool `json:"categories" yaml:"categories"`
	Level      string          `json:"level" yaml:"level"`
	JSONFormat bool            `json:"json_format" yaml:"json_format"`
}

var (
	configMu sync.RWMutex
	config   = loggingConfig{Level: "info"}
	logLevel = LevelInfo
	logsDir  string

	loggersMu sync.RWMutex
	loggers   = make(map[Category]*Logger)
)

// StructuredLogEntry is the JSON line shape written when JSONFormat is set.
type StructuredLogEntry struct {
	Timestamp int64                  `json:"ts"`
	Category  string                 `json:"category"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger writes to one category's log file. A nil-backed Logger (category
// disabled) is a safe no-op, so callers never need to check IsCategoryEnabled
// before logging.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

// Initialize sets up the logs directory under workspace and loads any
// existing config. Safe to call multiple times; later calls just reload.
func Initialize(workspace string) error {
	logsDir = filepath.Join(workspace, ".codeintel", "logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("create logs dir: %w", err)
	}
	loadConfig(workspace)
	Get(CategoryBoot).Info("logging initialized at %s", logsDir)
	return nil
}

// Configure installs a logging config directly, for a caller that has
// already parsed its own settings, instead of this package re-reading a
// side-channel JSON file.
func Configure(debugMode bool, level string, jsonFormat bool, categories map[string]bool) {
	configMu.Lock()
	defer configMu.Unlock()
	config = loggingConfig{
		DebugMode:  debugMode,
		Level:      level,
		JSONFormat: jsonFormat,
		Categories: categories,
	}
	logLevel = levelFromString(level, debugMode)
}

func loadConfig(workspace string) {
	path := filepath.Join(workspace, ".codeintel", "logging.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var c loggingConfig
	if err := json.Unmarshal(data, &c); err != nil {
		return
	}
	configMu.Lock()
	config = c
	logLevel = levelFromString(c.Level, c.DebugMode)
	configMu.Unlock()
}

func levelFromString(level string, debugMode bool) int {
	if debugMode {
		return LevelDebug
	}
	switch level {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// IsDebugMode reports whether debug-level logging is active.
func IsDebugMode() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return config.DebugMode || logLevel == LevelDebug
}

// IsCategoryEnabled reports whether a category should log. Categories
// default to enabled when no explicit map entry exists.
func IsCategoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()
	if config.Categories == nil {
		return true
	}
	enabled, ok := config.Categories[string(category)]
	if !ok {
		return true
	}
	return enabled
}

// Get returns the logger for category, creating and opening its log file
// on first use. If the category is disabled or logsDir hasn't been set up
// (tests, library use without Initialize), the returned Logger is a no-op.
func Get(category Category) *Logger {
	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	l := &Logger{category: category}
	if IsCategoryEnabled(category) && logsDir != "" {
		name := fmt.Sprintf("%s_%s.log", time.Now().Format("2006-01-02"), category)
		f, err := os.OpenFile(filepath.Join(logsDir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err == nil {
			l.file = f
			l.logger = log.New(f, "", log.LstdFlags)
		}
	}
	loggers[category] = l
	return l
}

func (l *Logger) logJSON(level, msg string) {
	entry := StructuredLogEntry{
		Timestamp: time.Now().UnixMilli(),
		Category:  string(l.category),
		Level:     level,
		Message:   msg,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Printf("[%s] %s", level, msg)
		return
	}
	l.logger.Printf("%s", data)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("debug", msg)
	} else {
		l.logger.Printf("[DEBUG] %s", msg)
	}
}

func (l *Logger) Info(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("info", msg)
	} else {
		l.logger.Printf("[INFO] %s", msg)
	}
}

func (l *Logger) Warn(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("warn", msg)
	} else {
		l.logger.Printf("[WARN] %s", msg)
	}
}

func (l *Logger) Error(format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("error", msg)
	} else {
		l.logger.Printf("[ERROR] %s", msg)
	}
}

// StructuredLog writes a log entry with arbitrary structured fields,
// regardless of JSONFormat (fields would otherwise be lost to %v text).
func (l *Logger) StructuredLog(level, msg string, fields map[string]interface{}) {
	if l.logger == nil {
		return
	}
	entry := StructuredLogEntry{
		Timestamp: time.Now().UnixMilli(),
		Category:  string(l.category),
		Level:     level,
		Message:   msg,
		Fields:    fields,
	}
	if config.JSONFormat {
		if data, err := json.Marshal(entry); err == nil {
			l.logger.Printf("%s", data)
			return
		}
	}
	l.logger.Printf("[%s] %s | fields=%v", level, msg, fields)
}

// Timer measures an operation's duration for a single StructuredLog line
// on Stop. The idiom pipeline stages use to report per-file and per-batch
// timings without scattering time.Now() calls everywhere.
type Timer struct {
	logger *Logger
	op     string
	start  time.Time
}

// StartTimer begins timing op under category. Call Stop or StopWithInfo
// when the operation completes.
func StartTimer(category Category, op string) *Timer {
	return &Timer{logger: Get(category), op: op, start: time.Now()}
}

// Stop logs the elapsed duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	t.logger.Debug("%s took %s", t.op, elapsed)
	return elapsed
}

// StopWithInfo logs the elapsed duration at info level with extra fields.
func (t *Timer) StopWithInfo(fields map[string]interface{}) time.Duration {
	elapsed := time.Since(t.start)
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["elapsed_ms"] = elapsed.Milliseconds()
	t.logger.StructuredLog("info", t.op+" complete", fields)
	return elapsed
}

// CloseAll closes every open log file. Call at shutdown.
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}
