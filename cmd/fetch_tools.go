package cmd

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/ulikunitz/xz"
	"gopkg.in/yaml.v3"

	"github.com/jlaustill/c-next/pkg"
)

const (
	toolManifestName = "cnext-tools.yml"
	toolStampsName   = "cnext-tools.stamps"
)

type toolSpec struct {
	Condition  string `yaml:"if,omitempty"`
	Rejections string `yaml:"ifNot,omitempty"`
	URL        string
	Dest       string
	Sha256     string
	Strip      int
	MarkExec   []string `yaml:"markExec,omitempty"`
}

type toolManifest struct {
	Vars  map[string]string
	Tools map[string]toolSpec
}

var fetchToolsCmd = &cobra.Command{
	Use:   "fetch-tools",
	Short: "Downloads and unpacks the external toolchain",
	Long: `Downloads and unpacks the tools listed in cnext-tools.yml in the project
directory. Tools whose recorded stamp still matches the manifest entry are
skipped, so repeated runs only download what changed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		pkg.PrintTask("Loading tool manifest")
		manifest, stamps, err := loadToolManifest(cfg.ProjectDir)
		if err != nil {
			return err
		}

		pkg.PrintTask("Downloading tools")
		err = fetchTools(cmd.Context(), manifest, stamps, cfg.ProjectDir)

		stampData, jErr := json.Marshal(stamps)
		if jErr != nil {
			pkg.PrintError(jErr.Error())
		} else {
			stampPath := filepath.Join(cfg.ProjectDir, toolStampsName)
			jErr = os.WriteFile(stampPath, stampData, os.FileMode(0660))
			if jErr != nil {
				pkg.PrintError(jErr.Error())
			}
		}

		if err == nil {
			pkg.PrintTask("Done")
		}

		return err
	},
}

func init() {
	rootCmd.AddCommand(fetchToolsCmd)
}

func getProgressBar(length int64, desc string) *progressbar.ProgressBar {
	if os.Getenv("CI") == "true" {
		return progressbar.NewOptions64(length, progressbar.OptionSetVisibility(false))
	}

	return progressbar.DefaultBytes(length, desc)
}

func loadToolManifest(projectDir string) (toolManifest, map[string]string, error) {
	var manifest toolManifest

	manifestPath := filepath.Join(projectDir, toolManifestName)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return manifest, nil, eris.Wrapf(err, "Could not open file %s.", manifestPath)
	}

	err = yaml.Unmarshal(data, &manifest)
	if err != nil {
		return manifest, nil, eris.Wrapf(err, "Failed to parse %s.", manifestPath)
	}

	stamps := map[string]string{}
	stampPath := filepath.Join(projectDir, toolStampsName)
	stampData, err := os.ReadFile(stampPath)
	if err != nil {
		if !eris.Is(err, os.ErrNotExist) {
			return manifest, nil, eris.Wrapf(err, "Failed to read stamps file %s.", stampPath)
		}
	} else {
		err = json.Unmarshal(stampData, &stamps)
		if err != nil {
			return manifest, nil, eris.Wrapf(err, "Failed to parse JSON file %s.", stampPath)
		}
	}

	return manifest, stamps, nil
}

// evalConditions expands the {VAR} placeholders in the URL and checks the
// if/ifNot conditions against the variable map.
func evalConditions(meta *toolSpec, vars map[string]string) bool {
	varMatcher := regexp.MustCompile(`\{([A-Z0-9_]+)\}`)

	meta.URL = varMatcher.ReplaceAllStringFunc(meta.URL, func(varName string) string {
		value, ok := vars[varName[1:len(varName)-1]]
		if ok {
			return value
		}

		return ""
	})

	for _, condition := range strings.Split(meta.Condition, ",") {
		if condition == "" {
			continue
		}

		value, ok := vars[strings.TrimSpace(condition)]
		if !ok || value == "" {
			return false
		}
	}

	for _, condition := range strings.Split(meta.Rejections, ",") {
		if condition == "" {
			continue
		}

		value, ok := vars[strings.TrimSpace(condition)]
		if ok && value != "" {
			return false
		}
	}

	return true
}

func fetchTools(ctx context.Context, manifest toolManifest, stamps map[string]string, projectDir string) error {
	client := &http.Client{
		Timeout: time.Minute * 30,
	}

	vars := manifest.Vars
	if vars == nil {
		vars = map[string]string{}
	}

	vars[runtime.GOARCH] = "true"
	vars[runtime.GOOS] = "true"
	if os.Getenv("CI") == "true" {
		vars["ci"] = "true"
	}

	for name, meta := range manifest.Tools {
		if !evalConditions(&meta, vars) {
			continue
		}

		destPath := filepath.Join(projectDir, meta.Dest)
		destInfo, err := os.Stat(destPath)
		destExists := err == nil

		stampToken := meta.URL + "#" + meta.Sha256
		stamp, ok := stamps[name]
		if ok && stampToken == stamp && destExists {
			continue
		}

		pkg.PrintSubtask(name + ":  " + meta.URL)
		if meta.Sha256 == "" {
			return eris.Errorf("Tool %s doesn't have a checksum", name)
		}

		err = fetchTool(ctx, client, name, meta, destPath, destExists, destInfo, projectDir)
		if err != nil {
			return err
		}

		stamps[name] = stampToken
	}

	return nil
}

func fetchTool(ctx context.Context, client *http.Client, name string, meta toolSpec, destPath string, destExists bool, destInfo os.FileInfo, projectDir string) error {
	arHandle, err := os.CreateTemp(projectDir, "cnext-tools-*.tmp")
	if err != nil {
		return eris.Wrap(err, "Failed to create download file")
	}
	defer func() {
		arHandle.Close()
		os.Remove(arHandle.Name())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, meta.URL, nil)
	if err != nil {
		return eris.Wrapf(err, "Failed to prepare download for %s", meta.URL)
	}

	resp, err := client.Do(req)
	if err != nil {
		return eris.Wrapf(err, "Failed to start download for %s", meta.URL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("Download of %s failed with status %d", meta.URL, resp.StatusCode)
	}

	buf := make([]byte, 4096)
	hash := sha256.New()
	bar := getProgressBar(resp.ContentLength, "     download")
	for {
		n, err := resp.Body.Read(buf)
		if err != nil && n < 1 {
			if err == io.EOF {
				break
			}

			return eris.Wrapf(err, "Failed during download of %s", meta.URL)
		}

		_, err = hash.Write(buf[:n])
		if err != nil {
			return eris.Wrapf(err, "Failed to calculate checksum for %s", meta.URL)
		}

		_, err = arHandle.Write(buf[:n])
		if err != nil {
			return eris.Wrap(err, "Failed to write download to disk")
		}

		bar.Write(buf[:n])
	}
	bar.Finish()

	digest := hex.EncodeToString(hash.Sum(nil))
	if digest != meta.Sha256 {
		return eris.Errorf("Checksum check for %s failed (got %s, expected %s)", name, digest, meta.Sha256)
	}

	if destExists {
		pkg.PrintSubtask(fmt.Sprintf("Remove %s", destPath))
		if destInfo.IsDir() {
			err = os.RemoveAll(destPath)
		} else {
			err = os.Remove(destPath)
		}
		if err != nil {
			return err
		}
	}

	extractor, err := getExtractor(meta.URL)
	if err != nil {
		return err
	}

	_, err = arHandle.Seek(0, io.SeekStart)
	if err != nil {
		return eris.Wrap(err, "Failed to rewind download file")
	}

	bar = getProgressBar(resp.ContentLength, "      extract")
	err = extractor(arHandle, bar, destPath, meta)
	if err != nil {
		return err
	}

	if runtime.GOOS != "windows" {
		// .zip files don't carry permissions which means we have to manually
		// fix permissions for binaries in .zip files
		for _, binPath := range meta.MarkExec {
			binPath = filepath.Join(destPath, binPath)
			fi, err := os.Stat(binPath)
			if err != nil {
				return eris.Wrapf(err, "Failed to read permissions for %s", binPath)
			}

			err = os.Chmod(binPath, fi.Mode()|0700)
			if err != nil {
				return eris.Wrapf(err, "Failed to mark %s as executable", binPath)
			}
		}
	}

	return nil
}

type archiveExtractor func(*os.File, *progressbar.ProgressBar, string, toolSpec) error

// openExtractorDest resolves an archive entry to its destination below
// destPath, honoring the configured strip count, and creates the file. A nil
// handle with a nil error means the entry should be skipped. Entries that
// resolve to a path outside destPath are rejected.
func openExtractorDest(destPath string, item string, strip int) (*os.File, string, error) {
	pathParts := strings.Split(filepath.Clean(item), string(filepath.Separator))
	if strip >= len(pathParts) {
		return nil, "", nil
	}

	dest := filepath.Join(destPath, strings.Join(pathParts[strip:], string(filepath.Separator)))
	if dest == destPath {
		return nil, "", nil
	}

	if !strings.HasPrefix(dest, destPath+string(filepath.Separator)) {
		return nil, "", eris.Errorf("Archive entry %s escapes %s", item, destPath)
	}

	destParent := filepath.Dir(dest)
	err := os.MkdirAll(destParent, os.FileMode(0770))
	if err != nil {
		return nil, "", eris.Wrapf(err, "Failed to create directory %s", destParent)
	}

	destHandle, err := os.Create(dest)
	if err != nil {
		return nil, "", eris.Wrapf(err, "Failed to create file %s", dest)
	}

	return destHandle, dest, nil
}

func getExtractor(url string) (archiveExtractor, error) {
	if strings.HasSuffix(url, ".zip") {
		return extractZip, nil
	}

	if strings.HasSuffix(url, ".tar.gz") {
		return func(f *os.File, bar *progressbar.ProgressBar, destPath string, spec toolSpec) error {
			reader, err := gzip.NewReader(f)
			if err != nil {
				return err
			}
			defer reader.Close()

			return extractTar(reader, f, bar, destPath, spec)
		}, nil
	}

	if strings.HasSuffix(url, ".tar.bz2") {
		return func(f *os.File, bar *progressbar.ProgressBar, destPath string, spec toolSpec) error {
			return extractTar(bzip2.NewReader(f), f, bar, destPath, spec)
		}, nil
	}

	if strings.HasSuffix(url, ".tar.xz") {
		return func(f *os.File, bar *progressbar.ProgressBar, destPath string, spec toolSpec) error {
			reader, err := xz.NewReader(f)
			if err != nil {
				return err
			}

			return extractTar(reader, f, bar, destPath, spec)
		}, nil
	}

	if strings.HasSuffix(url, ".tar.br") {
		return func(f *os.File, bar *progressbar.ProgressBar, destPath string, spec toolSpec) error {
			return extractTar(brotli.NewReader(f), f, bar, destPath, spec)
		}, nil
	}

	return nil, eris.New("Archive format not supported")
}

func extractZip(f *os.File, bar *progressbar.ProgressBar, destPath string, spec toolSpec) error {
	stat, err := f.Stat()
	if err != nil {
		return err
	}

	archive, err := zip.NewReader(f, stat.Size())
	if err != nil {
		return err
	}

	for _, item := range archive.File {
		if strings.HasSuffix(item.Name, "/") {
			continue
		}

		destHandle, dest, err := openExtractorDest(destPath, item.Name, spec.Strip)
		if err != nil {
			return err
		}

		if destHandle == nil {
			continue
		}

		itemHandle, err := item.Open()
		if err != nil {
			destHandle.Close()
			return eris.Wrap(err, "Failed to open archive entry")
		}

		err = copyEntry(destHandle, itemHandle, f, bar, item.Name, dest)
		itemHandle.Close()
		destHandle.Close()
		if err != nil {
			return err
		}
	}

	return nil
}

func extractTar(r io.Reader, f *os.File, bar *progressbar.ProgressBar, destPath string, spec toolSpec) error {
	archive := tar.NewReader(r)

	for {
		item, err := archive.Next()
		if err != nil {
			if err == io.EOF {
				break
			}

			return eris.Wrap(err, "Failed to read archive entry")
		}

		fi := item.FileInfo()
		if fi.IsDir() {
			continue
		}

		destHandle, dest, err := openExtractorDest(destPath, item.Name, spec.Strip)
		if err != nil {
			return err
		}

		if destHandle == nil {
			continue
		}

		if item.Typeflag == tar.TypeSymlink {
			destHandle.Close()
			err = os.Remove(dest)
			if err != nil {
				return eris.Wrapf(err, "Failed to remove placeholder file %s", dest)
			}

			err = os.Symlink(item.Linkname, dest)
			if err != nil {
				return eris.Wrapf(err, "Failed to create symlink %s pointing to %s", dest, item.Linkname)
			}

			continue
		}

		os.Chmod(dest, fi.Mode())

		err = copyEntry(destHandle, archive, f, bar, item.Name, dest)
		destHandle.Close()
		if err != nil {
			return err
		}
	}

	return nil
}

// copyEntry streams one archive entry to disk while advancing the progress
// bar based on the read position in the archive file.
func copyEntry(dest *os.File, src io.Reader, archive *os.File, bar *progressbar.ProgressBar, name, destName string) error {
	buf := make([]byte, 4096)
	for {
		n, err := src.Read(buf)
		if err != nil && n < 1 {
			if err == io.EOF {
				return nil
			}

			return eris.Wrapf(err, "Failed to read archive entry %s", name)
		}

		_, err = dest.Write(buf[:n])
		if err != nil {
			return eris.Wrapf(err, "Failed to write extracted file %s", destName)
		}

		pos, err := archive.Seek(0, io.SeekCurrent)
		if err == nil {
			bar.Set64(pos)
		}
	}
}
