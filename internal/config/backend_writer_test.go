package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteBackendRegistryThenLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backends.yaml")

	registry := &BackendRegistryFile{
		SchemaVersion: "v1",
		Instances: []BackendInstance{
			{Name: "tempo-prod", Kind: BackendKindTrace, Type: "tempo", Enabled: true,
				Config: map[string]interface{}{"url": "http://tempo:3200"}},
		},
	}

	require.NoError(t, WriteBackendRegistry(path, registry))

	loaded, err := LoadBackendRegistry(path)
	require.NoError(t, err)
	require.Len(t, loaded.Instances, 1)
	assert.Equal(t, "tempo-prod", loaded.Instances[0].Name)
}

func TestWriteBackendRegistryLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backends.yaml")

	require.NoError(t, WriteBackendRegistry(path, &BackendRegistryFile{SchemaVersion: "v1"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "backends.yaml", entries[0].Name())
}
