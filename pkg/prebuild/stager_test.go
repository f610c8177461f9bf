package prebuild

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testContext() context.Context {
	logger := zerolog.Nop()
	return WithLogger(context.Background(), &logger)
}

func testStager() Stager {
	return Stager{Exts: []string{".cpp", ".h"}}
}

func TestStageCopiesMatchingFiles(t *testing.T) {
	generated := t.TempDir()
	target := t.TempDir()

	err := os.WriteFile(filepath.Join(generated, "main.cpp"), []byte("int main() {}"), 0644)
	require.NoError(t, err)
	err = os.WriteFile(filepath.Join(generated, "main.h"), []byte("#pragma once"), 0644)
	require.NoError(t, err)
	err = os.WriteFile(filepath.Join(generated, "notes.txt"), []byte("skip me"), 0644)
	require.NoError(t, err)

	staged, err := testStager().Stage(testContext(), generated, target)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"main.cpp", "main.h"}, staged)

	content, err := os.ReadFile(filepath.Join(target, "main.cpp"))
	require.NoError(t, err)
	require.Equal(t, "int main() {}", string(content))

	_, err = os.Stat(filepath.Join(target, "notes.txt"))
	require.True(t, os.IsNotExist(err))
}

func TestStageMissingGeneratedDirIsNoop(t *testing.T) {
	target := t.TempDir()

	staged, err := testStager().Stage(testContext(), filepath.Join(target, "missing"), target)
	require.NoError(t, err)
	require.Empty(t, staged)
}

func TestStageOverwritesExistingFiles(t *testing.T) {
	generated := t.TempDir()
	target := t.TempDir()

	err := os.WriteFile(filepath.Join(generated, "main.cpp"), []byte("new content"), 0644)
	require.NoError(t, err)
	err = os.WriteFile(filepath.Join(target, "main.cpp"), []byte("stale content"), 0600)
	require.NoError(t, err)

	staged, err := testStager().Stage(testContext(), generated, target)
	require.NoError(t, err)
	require.Equal(t, []string{"main.cpp"}, staged)

	content, err := os.ReadFile(filepath.Join(target, "main.cpp"))
	require.NoError(t, err)
	require.Equal(t, "new content", string(content))
}

func TestStagePreservesMetadata(t *testing.T) {
	generated := t.TempDir()
	target := t.TempDir()

	src := filepath.Join(generated, "main.cpp")
	err := os.WriteFile(src, []byte("int main() {}"), 0644)
	require.NoError(t, err)

	mtime := time.Now().Add(-2 * time.Hour).Truncate(time.Second)
	err = os.Chtimes(src, mtime, mtime)
	require.NoError(t, err)

	srcInfo, err := os.Stat(src)
	require.NoError(t, err)

	_, err = testStager().Stage(testContext(), generated, target)
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(target, "main.cpp"))
	require.NoError(t, err)
	require.True(t, info.ModTime().Equal(mtime))
	require.Equal(t, srcInfo.Mode().Perm(), info.Mode().Perm())
}

func TestStageCreatesTargetDir(t *testing.T) {
	generated := t.TempDir()
	target := filepath.Join(t.TempDir(), "nested", "src")

	err := os.WriteFile(filepath.Join(generated, "main.cpp"), []byte("x"), 0644)
	require.NoError(t, err)

	staged, err := testStager().Stage(testContext(), generated, target)
	require.NoError(t, err)
	require.Equal(t, []string{"main.cpp"}, staged)
}
