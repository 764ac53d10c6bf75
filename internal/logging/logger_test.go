package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func resetState() {
	CloseAll()
	CloseAudit()
	loggers = make(map[Category]*Logger)
	logsDir = ""
	config = loggingConfig{Level: "info"}
	logLevel = LevelInfo
	auditLogger = nil
}

func TestAllCategoriesLog(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "logging_test")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	configDir := filepath.Join(tempDir, ".codeintel")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatalf("create config dir: %v", err)
	}
	configContent := `{
		"level": "debug",
		"debug_mode": true,
		"categories": {
			"boot": true, "scanner": true, "ledger": true, "extract": true,
			"cache": true, "embedding": true, "vectorstore": true,
			"similarity": true, "graph": true, "pipeline": true, "cli": true
		}
	}`
	if err := os.WriteFile(filepath.Join(configDir, "logging.json"), []byte(configContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	resetState()
	if err := Initialize(tempDir); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if !IsDebugMode() {
		t.Error("expected debug mode enabled")
	}

	categories := []Category{
		CategoryBoot, CategoryScanner, CategoryLedger, CategoryExtract,
		CategoryCache, CategoryEmbedding, CategoryVectorStore,
		CategorySimilarity, CategoryGraph, CategoryPipeline, CategoryCLI,
	}
	for _, cat := range categories {
		if !IsCategoryEnabled(cat) {
			t.Errorf("category %s should be enabled", cat)
		}
		logger := Get(cat)
		logger.Info("info message for %s", cat)
		logger.Debug("debug message for %s", cat)
		logger.Warn("warn message for %s", cat)
		logger.Error("error message for %s", cat)
	}
	CloseAll()

	logsPath := filepath.Join(tempDir, ".codeintel", "logs")
	entries, err := os.ReadDir(logsPath)
	if err != nil {
		t.Fatalf("read logs dir: %v", err)
	}
	for _, cat := range categories {
		found := false
		for _, entry := range entries {
			if strings.Contains(entry.Name(), string(cat)+".log") {
				found = true
				content, err := os.ReadFile(filepath.Join(logsPath, entry.Name()))
				if err != nil {
					t.Errorf("read log file for %s: %v", cat, err)
					continue
				}
				if len(content) == 0 {
					t.Errorf("log file for %s is empty", cat)
				}
				break
			}
		}
		if !found {
			t.Errorf("no log file found for category: %s", cat)
		}
	}
}

func TestDebugModeDisabled(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "logging_test_disabled")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	configDir := filepath.Join(tempDir, ".codeintel")
	os.MkdirAll(configDir, 0o755)
	configContent := `{"level": "warn", "debug_mode": false, "categories": {"boot": false, "graph": false}}`
	os.WriteFile(filepath.Join(configDir, "logging.json"), []byte(configContent), 0o644)

	resetState()
	if err := Initialize(tempDir); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if IsDebugMode() {
		t.Error("expected debug mode disabled")
	}
	if IsCategoryEnabled(CategoryGraph) {
		t.Error("graph should be disabled")
	}

	logger := Get(CategoryGraph)
	logger.Info("should not be logged")
	logger.Debug("should not be logged")
	CloseAll()

	logsPath := filepath.Join(tempDir, ".codeintel", "logs")
	entries, _ := os.ReadDir(logsPath)
	for _, e := range entries {
		if strings.Contains(e.Name(), "graph") {
			t.Errorf("expected no graph log file, found %s", e.Name())
		}
	}
}

func TestCategoryToggle(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "logging_test_category")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	configDir := filepath.Join(tempDir, ".codeintel")
	os.MkdirAll(configDir, 0o755)
	configContent := `{
		"level": "debug",
		"debug_mode": true,
		"categories": {"boot": true, "scanner": true, "graph": false, "similarity": false}
	}`
	os.WriteFile(filepath.Join(configDir, "logging.json"), []byte(configContent), 0o644)

	resetState()
	if err := Initialize(tempDir); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	if !IsCategoryEnabled(CategoryBoot) {
		t.Error("boot should be enabled")
	}
	if !IsCategoryEnabled(CategoryScanner) {
		t.Error("scanner should be enabled")
	}
	if IsCategoryEnabled(CategoryGraph) {
		t.Error("graph should be disabled")
	}
	if IsCategoryEnabled(CategorySimilarity) {
		t.Error("similarity should be disabled")
	}
	if !IsCategoryEnabled(CategoryExtract) {
		t.Error("extract (not in config) should default to enabled")
	}

	Get(CategoryScanner).Info("should be logged")
	Get(CategoryGraph).Info("should not be logged")
	Get(CategoryExtract).Info("should be logged (default enabled)")
	CloseAll()

	logsPath := filepath.Join(tempDir, ".codeintel", "logs")
	entries, _ := os.ReadDir(logsPath)

	var hasScanner, hasGraph, hasExtract bool
	for _, e := range entries {
		name := e.Name()
		if strings.Contains(name, "scanner") {
			hasScanner = true
		}
		if strings.Contains(name, "graph") {
			hasGraph = true
		}
		if strings.Contains(name, "extract") {
			hasExtract = true
		}
	}
	if !hasScanner {
		t.Error("expected scanner log file")
	}
	if hasGraph {
		t.Error("should not have graph log file (disabled)")
	}
	if !hasExtract {
		t.Error("expected extract log file (default enabled)")
	}
}

func TestTimerLogging(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "logging_test_timer")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	configDir := filepath.Join(tempDir, ".codeintel")
	os.MkdirAll(configDir, 0o755)
	os.WriteFile(filepath.Join(configDir, "logging.json"), []byte(`{"level": "debug", "debug_mode": true}`), 0o644)

	resetState()
	Initialize(tempDir)

	timer := StartTimer(CategoryPipeline, "TestOperation")
	time.Sleep(time.Millisecond)
	elapsed := timer.Stop()
	if elapsed <= 0 {
		t.Error("timer should have recorded non-zero duration")
	}

	CloseAll()
}
