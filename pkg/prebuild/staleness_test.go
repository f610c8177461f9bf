package prebuild

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func touchFile(t *testing.T, path string, mtime time.Time) {
	t.Helper()

	err := os.WriteFile(path, []byte("content"), 0600)
	require.NoError(t, err)

	err = os.Chtimes(path, mtime, mtime)
	require.NoError(t, err)
}

func testDetector() Detector {
	return Detector{
		SourceExts:    []string{".cn", ".cnm"},
		GeneratedExts: []string{".cpp", ".h"},
	}
}

func TestCheckNoSources(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour).Truncate(time.Second)

	touchFile(t, filepath.Join(dir, "old.cpp"), base)

	verdict, err := testDetector().Check(dir)
	require.NoError(t, err)
	require.False(t, verdict.Stale)
	require.Equal(t, ReasonNoSources, verdict.Reason)
}

func TestCheckMissingDir(t *testing.T) {
	verdict, err := testDetector().Check(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	require.False(t, verdict.Stale)
	require.Equal(t, ReasonNoSources, verdict.Reason)
}

func TestCheckFirstBuild(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour).Truncate(time.Second)

	touchFile(t, filepath.Join(dir, "main.cn"), base)
	touchFile(t, filepath.Join(dir, "module.cnm"), base)

	verdict, err := testDetector().Check(dir)
	require.NoError(t, err)
	require.True(t, verdict.Stale)
	require.Equal(t, ReasonFirstBuild, verdict.Reason)
}

func TestCheckSourceNewerThanOldestGenerated(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour).Truncate(time.Second)

	touchFile(t, filepath.Join(dir, "main.cn"), base.Add(100*time.Second))
	touchFile(t, filepath.Join(dir, "old.cpp"), base.Add(50*time.Second))
	touchFile(t, filepath.Join(dir, "new.h"), base.Add(200*time.Second))

	verdict, err := testDetector().Check(dir)
	require.NoError(t, err)
	require.True(t, verdict.Stale)
	require.Equal(t, ReasonSourceNewer, verdict.Reason)
	require.True(t, verdict.NewestSource.Equal(base.Add(100*time.Second)))
	require.True(t, verdict.OldestGenerated.Equal(base.Add(50*time.Second)))
}

func TestCheckGeneratedUpToDate(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour).Truncate(time.Second)

	touchFile(t, filepath.Join(dir, "main.cn"), base.Add(30*time.Second))
	touchFile(t, filepath.Join(dir, "old.cpp"), base.Add(50*time.Second))
	touchFile(t, filepath.Join(dir, "new.h"), base.Add(200*time.Second))

	verdict, err := testDetector().Check(dir)
	require.NoError(t, err)
	require.False(t, verdict.Stale)
	require.Equal(t, ReasonUpToDate, verdict.Reason)
}

func TestCheckTieIsFresh(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour).Truncate(time.Second)

	touchFile(t, filepath.Join(dir, "main.cn"), base)
	touchFile(t, filepath.Join(dir, "main.cpp"), base)

	verdict, err := testDetector().Check(dir)
	require.NoError(t, err)
	require.False(t, verdict.Stale)
	require.Equal(t, ReasonUpToDate, verdict.Reason)
}

func TestCollectArtifactsFilters(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour).Truncate(time.Second)

	touchFile(t, filepath.Join(dir, "main.cn"), base)
	touchFile(t, filepath.Join(dir, "UPPER.CN"), base)
	touchFile(t, filepath.Join(dir, "readme.md"), base)
	touchFile(t, filepath.Join(dir, "noext"), base)

	err := os.Mkdir(filepath.Join(dir, "sub.cn"), 0700)
	require.NoError(t, err)

	set, err := CollectArtifacts(dir, []string{".cn"})
	require.NoError(t, err)
	require.Len(t, set, 2)

	for _, item := range set {
		require.NotEqual(t, "sub.cn", filepath.Base(item.Path))
	}
}

func TestArtifactSetBounds(t *testing.T) {
	base := time.Now().Truncate(time.Second)
	set := ArtifactSet{
		{Path: "a", ModTime: base.Add(50 * time.Second)},
		{Path: "b", ModTime: base.Add(200 * time.Second)},
		{Path: "c", ModTime: base.Add(100 * time.Second)},
	}

	require.Equal(t, base.Add(200*time.Second), set.Newest())
	require.Equal(t, base.Add(50*time.Second), set.Oldest())

	empty := ArtifactSet{}
	require.True(t, empty.Newest().IsZero())
	require.True(t, empty.Oldest().IsZero())
}

func TestMatchesExt(t *testing.T) {
	exts := []string{".cn", "cnm"}

	require.True(t, MatchesExt("main.cn", exts))
	require.True(t, MatchesExt("MAIN.CN", exts))
	require.True(t, MatchesExt("module.cnm", exts))
	require.False(t, MatchesExt("main.cpp", exts))
	require.False(t, MatchesExt("plain", exts))
}
