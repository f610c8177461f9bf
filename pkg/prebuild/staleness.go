package prebuild

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Artifact is a single file considered by the staleness check.
type Artifact struct {
	Path    string
	ModTime time.Time
}

// ArtifactSet holds the artifacts of one kind (sources or generated files)
// found in a directory.
type ArtifactSet []Artifact

// Newest returns the most recent modification time in the set or the zero
// time for an empty set.
func (s ArtifactSet) Newest() time.Time {
	var newest time.Time
	for _, item := range s {
		if item.ModTime.Sub(newest) > 0 {
			newest = item.ModTime
		}
	}

	return newest
}

// Oldest returns the earliest modification time in the set or the zero time
// for an empty set.
func (s ArtifactSet) Oldest() time.Time {
	var oldest time.Time
	for _, item := range s {
		if oldest.IsZero() || oldest.Sub(item.ModTime) > 0 {
			oldest = item.ModTime
		}
	}

	return oldest
}

// Reason explains how a staleness verdict was reached.
type Reason string

const (
	// ReasonNoSources means the directory contains nothing to transpile.
	ReasonNoSources Reason = "no sources"
	// ReasonFirstBuild means sources exist but no generated files do.
	ReasonFirstBuild Reason = "no generated files"
	// ReasonSourceNewer means at least one source is newer than the oldest
	// generated file.
	ReasonSourceNewer Reason = "source newer than generated"
	// ReasonUpToDate means every generated file is at least as new as the
	// newest source.
	ReasonUpToDate Reason = "up to date"
)

// Verdict is the outcome of a staleness check. Stale is true whenever the
// generated files have to be rebuilt.
type Verdict struct {
	Stale           bool
	Reason          Reason
	NewestSource    time.Time
	OldestGenerated time.Time
}

// Detector decides whether the transpiler has to run again. A single stale
// generated file or a single freshly edited source is enough to trigger a
// full regeneration.
type Detector struct {
	SourceExts    []string
	GeneratedExts []string
}

// Check inspects the given directory and returns a verdict. The directory
// not existing is treated like an empty directory.
func (d Detector) Check(dir string) (Verdict, error) {
	sources, err := CollectArtifacts(dir, d.SourceExts)
	if err != nil {
		return Verdict{}, err
	}

	if len(sources) == 0 {
		return Verdict{Reason: ReasonNoSources}, nil
	}

	generated, err := CollectArtifacts(dir, d.GeneratedExts)
	if err != nil {
		return Verdict{}, err
	}

	if len(generated) == 0 {
		return Verdict{Stale: true, Reason: ReasonFirstBuild}, nil
	}

	verdict := Verdict{
		NewestSource:    sources.Newest(),
		OldestGenerated: generated.Oldest(),
	}

	// Ties count as fresh, only a strictly newer source triggers a rebuild.
	if verdict.NewestSource.Sub(verdict.OldestGenerated) > 0 {
		verdict.Stale = true
		verdict.Reason = ReasonSourceNewer
	} else {
		verdict.Reason = ReasonUpToDate
	}

	return verdict, nil
}

// CollectArtifacts lists the files directly inside dir that carry one of the
// given extensions. A missing directory yields an empty set.
func CollectArtifacts(dir string, exts []string) (ArtifactSet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, eris.Wrapf(err, "Failed to list %s", dir)
	}

	set := ArtifactSet{}
	for _, entry := range entries {
		if entry.IsDir() || !MatchesExt(entry.Name(), exts) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return nil, eris.Wrapf(err, "Failed to check %s", entry.Name())
		}

		set = append(set, Artifact{
			Path:    filepath.Join(dir, entry.Name()),
			ModTime: info.ModTime(),
		})
	}

	return set, nil
}

// MatchesExt reports whether the file name carries one of the given
// extensions. The comparison ignores case and tolerates extensions
// configured without their leading dot.
func MatchesExt(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return false
	}

	for _, candidate := range exts {
		if ext == normalizeExt(candidate) {
			return true
		}
	}

	return false
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	return ext
}
