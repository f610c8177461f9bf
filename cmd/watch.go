package cmd

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jlaustill/c-next/pkg"
	"github.com/jlaustill/c-next/pkg/config"
	"github.com/jlaustill/c-next/pkg/prebuild"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Runs the pre-build pipeline whenever a source file changes",
	Long: `watch runs the pipeline once and then keeps watching the source directory.
Changes to transpiler input files trigger another run after a short debounce
delay. Failed toolchain stages are reported and the watch continues; press
Ctrl-C to stop.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		logger := newLogger(cfg)
		ctx := prebuild.WithLogger(cmd.Context(), &logger)

		pipeline := buildPipeline(cfg)

		pkg.PrintTask("c-next pre-build (watch)")
		err = runWatched(ctx, pipeline, &logger)
		if err != nil {
			return err
		}

		return watchLoop(ctx, cfg, pipeline, &logger)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

// runWatched runs the pipeline once. Toolchain failures are logged so the
// watch can keep going, anything else is returned.
func runWatched(ctx context.Context, pipeline prebuild.Pipeline, logger *zerolog.Logger) error {
	_, err := pipeline.Run(ctx)
	if err == nil {
		return nil
	}

	if eris.Is(err, prebuild.ErrToolFailed) {
		logger.Error().Err(err).Msg("Build failed, waiting for changes")
		return nil
	}

	return err
}

func watchLoop(ctx context.Context, cfg *config.Config, pipeline prebuild.Pipeline, logger *zerolog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return eris.Wrap(err, "Failed to create filesystem watcher")
	}
	defer watcher.Close()

	srcDir := filepath.Join(cfg.ProjectDir, cfg.SourceDir)
	err = watcher.Add(srcDir)
	if err != nil {
		return eris.Wrapf(err, "Failed to watch %s", srcDir)
	}

	logger.Info().Str("path", srcDir).Msg("Watching for source changes")

	return watchEvents(ctx, watcher.Events, watcher.Errors, cfg.Watch.Debounce, cfg.SourceExts, pipeline, logger)
}

// watchEvents coalesces bursts of source changes into pipeline runs: every
// matching event restarts the quiet window and the pipeline runs once the
// window expires without further changes.
func watchEvents(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error, quiet time.Duration, sourceExts []string, pipeline prebuild.Pipeline, logger *zerolog.Logger) error {
	debounce := time.NewTimer(quiet)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-events:
			if !ok {
				return nil
			}

			// Staged files land in the watched directory as well, only
			// transpiler inputs may trigger a rebuild.
			if !isSourceEvent(event, sourceExts) {
				continue
			}

			logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Source change detected")

			if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}
			debounce.Reset(quiet)

		case err, ok := <-errs:
			if !ok {
				return nil
			}

			logger.Warn().Err(err).Msg("Watcher error")

		case <-debounce.C:
			err := runWatched(ctx, pipeline, logger)
			if err != nil {
				return err
			}
		}
	}
}

func isSourceEvent(event fsnotify.Event, sourceExts []string) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}

	return prebuild.MatchesExt(filepath.Base(event.Name), sourceExts)
}
