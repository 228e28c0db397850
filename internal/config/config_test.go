package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("ETLRUND_CONFIG", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/etlrund")
	t.Setenv("ETLRUND_CONFIG", "")
	t.Setenv("POLL_INTERVAL_SECONDS", "")
	t.Setenv("MAX_RUN_RETRIES", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 1*time.Second, cfg.RetryBaseDur)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/etlrund")
	t.Setenv("ETLRUND_CONFIG", "")
	t.Setenv("POLL_INTERVAL_SECONDS", "10")
	t.Setenv("MAX_RUN_RETRIES", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, 5, cfg.MaxRetries)
}

func TestLoad_AllowlistOverrideFromFile(t *testing.T) {
	content := `
allowed_tables:
  - reporting.orders
  - reporting.customers
allowed_indices:
  - orders_index
`
	path := writeTemp(t, content)
	t.Setenv("DATABASE_URL", "postgres://localhost/etlrund")
	t.Setenv("ETLRUND_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"reporting.orders", "reporting.customers"}, cfg.AllowedTables)
	assert.Equal(t, []string{"orders_index"}, cfg.AllowedIndices)
}

func TestLoad_InvalidYAML_ReturnsError(t *testing.T) {
	path := writeTemp(t, "{{not yaml")
	t.Setenv("DATABASE_URL", "postgres://localhost/etlrund")
	t.Setenv("ETLRUND_CONFIG", path)

	_, err := Load()
	assert.Error(t, err)
}

func TestResolvePath_EnvVar_TakesPriority(t *testing.T) {
	tmp := writeTemp(t, "allowed_tables: []")
	t.Setenv("ETLRUND_CONFIG", tmp)

	path := ResolvePath()
	assert.Equal(t, tmp, path)
}

func TestResolvePath_NoEnvVar_NoFile_ReturnsEmpty(t *testing.T) {
	t.Setenv("ETLRUND_CONFIG", "")

	dir := t.TempDir()
	origDir, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(origDir)

	path := ResolvePath()
	assert.Equal(t, "", path)
}

// writeTemp creates a temporary YAML file and returns its path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	f.Close()
	return f.Name()
}

var _ = filepath.Join
