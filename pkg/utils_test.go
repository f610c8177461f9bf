package pkg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindProjectRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "platformio.ini"), []byte("[env]\n"), 0600))

	nested := filepath.Join(root, "src", "lib")
	require.NoError(t, os.MkdirAll(nested, 0770))

	found, err := FindProjectRoot(nested)
	require.NoError(t, err)
	require.Equal(t, root, found)
}

func TestFindProjectRootCustomMarker(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "cnext-build.yaml"), nil, 0600))

	nested := filepath.Join(root, "generated")
	require.NoError(t, os.MkdirAll(nested, 0770))

	found, err := FindProjectRoot(nested, "cnext-build.yaml")
	require.NoError(t, err)
	require.Equal(t, root, found)
}

func TestFindProjectRootNotFound(t *testing.T) {
	_, err := FindProjectRoot(t.TempDir(), "cnext-marker-that-never-exists")
	require.Error(t, err)
	require.Contains(t, err.Error(), "Project root not found")
}
