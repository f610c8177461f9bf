package prebuild

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
)

// Stager copies freshly generated files into the directory the downstream
// build system scans.
type Stager struct {
	Exts []string
}

// Stage copies every file in generatedDir that matches the configured
// extensions into targetDir, overwriting existing files and preserving file
// mode and modification time. A missing generatedDir stages nothing. The
// returned names are the staged file names in the order they were copied;
// staging is not transactional, a failure leaves the files copied so far in
// place.
func (s Stager) Stage(ctx context.Context, generatedDir, targetDir string) ([]string, error) {
	artifacts, err := CollectArtifacts(generatedDir, s.Exts)
	if err != nil {
		return nil, err
	}

	if len(artifacts) == 0 {
		return nil, nil
	}

	err = os.MkdirAll(targetDir, 0770)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to create %s", targetDir)
	}

	staged := make([]string, 0, len(artifacts))
	for _, item := range artifacts {
		name := filepath.Base(item.Path)
		dest := filepath.Join(targetDir, name)

		err = copyFile(item.Path, dest)
		if err != nil {
			return staged, err
		}

		log(ctx).Debug().
			Str("from", item.Path).
			Str("to", dest).
			Msg("Staged artifact")

		staged = append(staged, name)
	}

	return staged, nil
}

func copyFile(src, dest string) error {
	info, err := os.Stat(src)
	if err != nil {
		return eris.Wrapf(err, "Failed to check %s", src)
	}

	source, err := os.Open(src)
	if err != nil {
		return eris.Wrapf(err, "Failed to open %s", src)
	}
	defer source.Close()

	destFile, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return eris.Wrapf(err, "Failed to create %s", dest)
	}

	_, err = io.Copy(destFile, source)
	if err != nil {
		destFile.Close()
		return eris.Wrapf(err, "Failed to copy %s to %s", src, dest)
	}

	err = destFile.Close()
	if err != nil {
		return eris.Wrapf(err, "Failed to close %s", dest)
	}

	// O_CREATE only applies the mode to new files, make sure overwritten
	// files end up with the source mode as well.
	err = os.Chmod(dest, info.Mode().Perm())
	if err != nil {
		return eris.Wrapf(err, "Failed to update mode of %s", dest)
	}

	err = os.Chtimes(dest, time.Now(), info.ModTime())
	if err != nil {
		return eris.Wrapf(err, "Failed to update timestamps of %s", dest)
	}

	return nil
}
