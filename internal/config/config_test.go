package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoEnv(t *testing.T) {
	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 100.0, cfg.Weights.ExactMatch)
	assert.Equal(t, 0.30, cfg.Weights.Similarity)
	assert.Equal(t, 2.0, cfg.Weights.FrequencyBoost)
	assert.Equal(t, 0.20, cfg.SimilarityThreshold)
	assert.Equal(t, 10, cfg.DefaultLimit)
	assert.Equal(t, 50, cfg.MaxLimit)
	assert.True(t, cfg.EnableIntentDetection)
	assert.Empty(t, cfg.Warnings)
}

func TestLoadHonorsEnvOverride(t *testing.T) {
	t.Setenv("CLINICAL_CORE_RANK_W_EXACT_MATCH", "150")
	t.Setenv("CLINICAL_CORE_SEARCH_DEFAULT_LIMIT", "25")
	t.Setenv("CLINICAL_CORE_SEARCH_DEBUG", "true")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 150.0, cfg.Weights.ExactMatch)
	assert.Equal(t, 25, cfg.DefaultLimit)
	assert.True(t, cfg.DebugSearch)
}

func TestLoadFallsBackToDefaultOnInvalidBool(t *testing.T) {
	t.Setenv("CLINICAL_CORE_SEARCH_DEBUG", "not-a-bool")

	cfg, err := Load()

	require.NoError(t, err)
	assert.False(t, cfg.DebugSearch)
	assert.NotEmpty(t, cfg.Warnings)
}

func TestLoadFallsBackToDefaultOnInvalidInt(t *testing.T) {
	t.Setenv("CLINICAL_CORE_SEARCH_DEFAULT_LIMIT", "not-a-number")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 10, cfg.DefaultLimit)
	assert.NotEmpty(t, cfg.Warnings)
}

func TestLoadNeverReturnsAnError(t *testing.T) {
	t.Setenv("CLINICAL_CORE_RANK_W_SIMILARITY", "garbage")
	t.Setenv("CLINICAL_CORE_SERVER_READ_TIMEOUT", "garbage")

	cfg, err := Load()

	require.NoError(t, err)
	require.NotNil(t, cfg)
}
