package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jlaustill/c-next/pkg/config"
)

func TestConfigTemplateMatchesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, config.DefaultFiles[0])
	require.NoError(t, os.WriteFile(path, []byte(configTemplate), 0600))

	parsed, loader := config.Loader(path)
	require.NoError(t, loader.Load())
	require.NoError(t, parsed.Validate())

	defaults, loader := config.Loader(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, loader.Load())

	// The starter file only spells out the defaults, loading it must not
	// change any behavior.
	require.Equal(t, defaults, parsed)

	require.Equal(t, "src", parsed.SourceDir)
	require.Equal(t, "npx tsc", parsed.Compiler.Command)
	require.Equal(t, []string{".cn", ".cnm"}, parsed.SourceExts)
	require.Equal(t, []string{".cpp", ".h"}, parsed.GeneratedExts)
	require.False(t, parsed.CheckStale)
}

func TestToolManifestTemplateParses(t *testing.T) {
	var manifest toolManifest
	require.NoError(t, yaml.Unmarshal([]byte(toolManifestTemplate), &manifest))

	require.Equal(t, "20.11.1", manifest.Vars["NODE_VERSION"])
	require.Len(t, manifest.Tools, 2)

	linux, ok := manifest.Tools["node-linux"]
	require.True(t, ok)
	require.Equal(t, "linux", linux.Condition)
	require.Equal(t, ".tools/node", linux.Dest)
	require.Equal(t, 1, linux.Strip)
	require.Contains(t, linux.URL, "{NODE_VERSION}")

	vars := map[string]string{"NODE_VERSION": manifest.Vars["NODE_VERSION"], "linux": "true"}
	require.True(t, evalConditions(&linux, vars))
	require.Equal(t, "https://nodejs.org/dist/v20.11.1/node-v20.11.1-linux-x64.tar.xz", linux.URL)

	windows, ok := manifest.Tools["node-windows"]
	require.True(t, ok)
	require.Equal(t, "windows", windows.Condition)
	require.False(t, evalConditions(&windows, vars))
}

func TestWriteTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cnext-build.yaml")

	require.NoError(t, writeTemplate(path, "first", false))
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "first", string(content))

	err = writeTemplate(path, "second", false)
	require.Error(t, err)
	require.Contains(t, err.Error(), "already exists")

	require.NoError(t, writeTemplate(path, "second", true))
	content, err = os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "second", string(content))
}
