package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  port: 9090
database:
  host: db.internal
  password_env: TEST_DB_PASSWORD
worker:
  worker_count: 8
provider:
  primary: openai
  providers:
    - id: openai
      kind: http
      endpoint: ${TEST_PROVIDER_ENDPOINT}
      api_key_env: OPENAI_API_KEY
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestInitialize_MergesUserConfigOverDefaults(t *testing.T) {
	t.Setenv("TEST_PROVIDER_ENDPOINT", "https://provider.internal/v1")
	path := writeTempConfig(t, sampleYAML)

	cfg, err := Initialize(context.Background(), path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "db.internal", cfg.Database.Host)
	require.Equal(t, 8, cfg.Worker.WorkerCount)
	require.Equal(t, "https://provider.internal/v1", cfg.Providers.Providers[0].Endpoint)

	// Untouched sections retain the built-in defaults.
	require.Equal(t, DefaultPipelineConfig().ComplianceRegenerationThreshold,
		cfg.Pipeline.ComplianceRegenerationThreshold)
	require.Equal(t, DefaultWorkerConfig().RetryBackoff, cfg.Worker.RetryBackoff)
}

func TestInitialize_MissingFileReturnsConfigNotFound(t *testing.T) {
	_, err := Initialize(context.Background(), "/nonexistent/path/config.yaml")
	require.Error(t, err)
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	require.ErrorIs(t, err, ErrConfigNotFound)
}

func TestInitialize_InvalidYAMLRejected(t *testing.T) {
	path := writeTempConfig(t, "server: [this is not a valid mapping")
	_, err := Initialize(context.Background(), path)
	require.Error(t, err)
}

func TestInitialize_FailsValidationWhenProviderListEmpty(t *testing.T) {
	path := writeTempConfig(t, "server:\n  port: 8080\n")
	_, err := Initialize(context.Background(), path)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrValidationFailed)
}
