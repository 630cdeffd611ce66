package manifest_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conclave-project/conclave/internal/fspath"
	"github.com/conclave-project/conclave/pkg/manifest"
)

func writeManifest(t *testing.T, dir, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.toml"), []byte(contents), 0o644))
}

func TestDiscoverMissingDirIsNotAnError(t *testing.T) {
	root := t.TempDir()

	found, err := manifest.Discover(fspath.Path(root), fspath.Path(filepath.Join(root, "nope")))
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestDiscoverParsesEachSubdirectory(t *testing.T) {
	root := t.TempDir()
	pluginsDir := filepath.Join(root, "plugins")
	writeManifest(t, filepath.Join(pluginsDir, "ping"), `
id = "ping"
name = "Ping"
version = "0.1.0"
api_version = "1"
exec = "./ping"
`)
	require.NoError(t, os.WriteFile(filepath.Join(pluginsDir, "ping", "ping"), []byte("#!/bin/sh\n"), 0o755))

	found, err := manifest.Discover(fspath.Path(root), fspath.Path(pluginsDir))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "ping", found[0].Manifest.ID)
	assert.Equal(t, "Ping", found[0].Manifest.Name)
}

func TestDiscoverRejectsDuplicateIDs(t *testing.T) {
	root := t.TempDir()
	pluginsDir := filepath.Join(root, "plugins")

	for _, name := range []string{"a", "b"} {
		writeManifest(t, filepath.Join(pluginsDir, name), `
id = "dup"
name = "Dup"
version = "0.1.0"
api_version = "1"
exec = "./dup"
`)
	}

	_, err := manifest.Discover(fspath.Path(root), fspath.Path(pluginsDir))
	require.Error(t, err)

	var parseErrs manifest.ParseErrors
	require.ErrorAs(t, err, &parseErrs)
	assert.ErrorIs(t, parseErrs[0], manifest.ErrDuplicateID)
}

func TestDiscoverSkipsInvalidManifestsButKeepsGoodOnes(t *testing.T) {
	root := t.TempDir()
	pluginsDir := filepath.Join(root, "plugins")
	writeManifest(t, filepath.Join(pluginsDir, "broken"), `name = "no id"`)
	writeManifest(t, filepath.Join(pluginsDir, "good"), `
id = "good"
name = "Good"
version = "0.1.0"
api_version = "1"
exec = "./good"
`)
	require.NoError(t, os.WriteFile(filepath.Join(pluginsDir, "good", "good"), []byte(""), 0o755))

	found, err := manifest.Discover(fspath.Path(root), fspath.Path(pluginsDir))
	require.Error(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "good", found[0].Manifest.ID)
}

func TestResolveExecAbsoluteOrWithSeparator(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "plugindir")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	got, err := manifest.ResolveExec(fspath.Path(root), fspath.Path(dir), "./bin/run")
	require.NoError(t, err)
	assert.Equal(t, fspath.Path(filepath.Join(dir, "bin", "run")), got)
}

func TestResolveExecSearchesDistDir(t *testing.T) {
	root := t.TempDir()
	dist := filepath.Join(root, "dist")
	require.NoError(t, os.MkdirAll(dist, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dist, "myplugin-abc123"), []byte(""), 0o755))

	got, err := manifest.ResolveExec(fspath.Path(root), fspath.Path(filepath.Join(root, "plugins", "x")), "myplugin")
	require.NoError(t, err)
	assert.Equal(t, fspath.Path(filepath.Join(dist, "myplugin-abc123")), got)
}
