package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/jlaustill/c-next/pkg"
	"github.com/jlaustill/c-next/pkg/prebuild"
)

// errStale is check's regeneration-needed answer. It travels as an error so
// ExitCode can map it to status 1 but is never logged as a failure.
var errStale = eris.New("regeneration needed")

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Reports whether the generated files are out of date",
	Long: `check runs the staleness detection without touching the toolchain. It exits
with status 0 when the generated files are up to date (or there is nothing to
transpile) and with status 1 when a pre-build run is needed.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := newLogger(cfg)

	detector := prebuild.Detector{
		SourceExts:    cfg.SourceExts,
		GeneratedExts: cfg.GeneratedExts,
	}

	srcDir := filepath.Join(cfg.ProjectDir, cfg.SourceDir)
	verdict, err := detector.Check(srcDir)
	if err != nil {
		return err
	}

	logger.Debug().
		Time("newest_source", verdict.NewestSource).
		Time("oldest_generated", verdict.OldestGenerated).
		Msg("Staleness check finished")

	headline := fmt.Sprintf("Up to date (%s)", verdict.Reason)
	if verdict.Stale {
		headline = fmt.Sprintf("Regeneration needed (%s)", verdict.Reason)
	}
	pkg.PrintTask(headline)

	// Both boundaries are known once sources and generated files exist.
	if !verdict.NewestSource.IsZero() {
		pkg.PrintSubtask(fmt.Sprintf("Newest source: %s", verdict.NewestSource.Format(time.RFC3339)))
		pkg.PrintSubtask(fmt.Sprintf("Oldest generated: %s", verdict.OldestGenerated.Format(time.RFC3339)))
	}

	if verdict.Stale {
		return errStale
	}

	return nil
}
