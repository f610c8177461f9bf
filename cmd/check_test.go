package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/require"
)

func writeTimedFile(t *testing.T, path string, mtime time.Time) {
	t.Helper()

	require.NoError(t, os.WriteFile(path, []byte("x"), 0600))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestRunCheckReportsStaleTree(t *testing.T) {
	dir := t.TempDir()
	srcDir := filepath.Join(dir, "src")
	require.NoError(t, os.Mkdir(srcDir, 0770))

	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	writeTimedFile(t, filepath.Join(srcDir, "main.cn"), base.Add(time.Minute))
	writeTimedFile(t, filepath.Join(srcDir, "main.cpp"), base)

	c := newFlagsCmd()
	require.NoError(t, c.Flags().Set("project-dir", dir))

	err := runCheck(c, nil)
	require.Error(t, err)
	require.True(t, eris.Is(err, errStale))
	require.Equal(t, 1, ExitCode(err))
}

func TestRunCheckReportsFirstBuild(t *testing.T) {
	dir := t.TempDir()
	srcDir := filepath.Join(dir, "src")
	require.NoError(t, os.Mkdir(srcDir, 0770))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "main.cn"), []byte("x"), 0600))

	c := newFlagsCmd()
	require.NoError(t, c.Flags().Set("project-dir", dir))

	err := runCheck(c, nil)
	require.True(t, eris.Is(err, errStale))
}

func TestRunCheckReportsFreshTree(t *testing.T) {
	dir := t.TempDir()
	srcDir := filepath.Join(dir, "src")
	require.NoError(t, os.Mkdir(srcDir, 0770))

	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	writeTimedFile(t, filepath.Join(srcDir, "main.cn"), base)
	writeTimedFile(t, filepath.Join(srcDir, "main.cpp"), base.Add(time.Minute))

	c := newFlagsCmd()
	require.NoError(t, c.Flags().Set("project-dir", dir))

	require.NoError(t, runCheck(c, nil))
}

func TestRunCheckEmptySourceTree(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "src"), 0770))

	c := newFlagsCmd()
	require.NoError(t, c.Flags().Set("project-dir", dir))

	require.NoError(t, runCheck(c, nil))
}
