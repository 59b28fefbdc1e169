package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBackendRegistryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backends.yaml")
	content := `
schema_version: v1
instances:
  - name: prometheus-prod
    kind: metric
    type: prometheus
    enabled: true
    config:
      url: "http://prometheus:9090"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	registry, err := LoadBackendRegistry(path)
	require.NoError(t, err)
	require.Len(t, registry.Instances, 1)
	assert.Equal(t, "prometheus-prod", registry.Instances[0].Name)
	assert.Equal(t, "http://prometheus:9090", registry.Instances[0].Config["url"])
}

func TestLoadBackendRegistryMissingFile(t *testing.T) {
	_, err := LoadBackendRegistry("/nonexistent/backends.yaml")
	require.Error(t, err)
}

func TestLoadBackendRegistryInvalidSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backends.yaml")
	require.NoError(t, os.WriteFile(path, []byte("schema_version: v9\ninstances: []\n"), 0o644))

	_, err := LoadBackendRegistry(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}
