package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadOverridesOnlySetFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "embedding:\n  embedding_dim: 384\n  embedding_model_id: custom-model\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 384, cfg.Embedding.Dimension)
	assert.Equal(t, "custom-model", cfg.Embedding.ModelID)
	// Unset fields still carry the default.
	assert.Equal(t, 32, cfg.Embedding.BatchSize)
	assert.Equal(t, 500, cfg.Cache.RemoteTimeoutMs)
}

func TestValidateRejectsBadThresholdOrdering(t *testing.T) {
	cfg := Default()
	cfg.Similarity.SemanticThreshold = 0.95
	cfg.Similarity.ExactThreshold = 0.90
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroDimension(t *testing.T) {
	cfg := Default()
	cfg.Embedding.Dimension = 0
	assert.Error(t, cfg.Validate())
}
