package dbosruntime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{DatabaseURL: "postgres://localhost/dbos"}
	cfg.WithDefaults()

	assert.Equal(t, "default", cfg.QueueName)
	assert.Equal(t, "become-worker", cfg.AppName)
	assert.Equal(t, 1, cfg.Concurrency)
}

func TestConfigKeepsExplicitValues(t *testing.T) {
	cfg := Config{QueueName: "gpu", AppName: "predict", Concurrency: 2}
	cfg.WithDefaults()

	assert.Equal(t, "gpu", cfg.QueueName)
	assert.Equal(t, "predict", cfg.AppName)
	assert.Equal(t, 2, cfg.Concurrency)
}

func TestNewRuntimeRequiresDatabaseURL(t *testing.T) {
	_, err := NewRuntime(context.Background(), Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DBOS_SYSTEM_DATABASE_URL")
}
