package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/aidarkhanov/nanoid"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jlaustill/c-next/pkg"
	"github.com/jlaustill/c-next/pkg/config"
	"github.com/jlaustill/c-next/pkg/prebuild"
)

var rootCmd = &cobra.Command{
	Use:   "cnext-prebuild",
	Short: "Pre-build step for the c-next toolchain",
	Long: `cnext-prebuild prepares a c-next project for the native build: it compiles
the project's build script, runs the transpiler and stages the generated
files where the native build system picks them up.

Without a subcommand it runs the whole pipeline once in the current project.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		dryRun, err := cmd.Flags().GetBool("dry")
		if err != nil {
			return err
		}

		force, err := cmd.Flags().GetBool("force")
		if err != nil {
			return err
		}

		logger := newLogger(cfg)
		ctx := prebuild.WithLogger(cmd.Context(), &logger)

		pipeline := buildPipeline(cfg)
		pipeline.DryRun = dryRun
		pipeline.Force = force

		if cmd.Flags().Changed("checkstale") {
			gate, err := cmd.Flags().GetBool("checkstale")
			if err != nil {
				return err
			}

			pipeline.CheckStale = gate
		}

		pkg.PrintTask("c-next pre-build")
		_, err = pipeline.Run(ctx)
		if err != nil {
			return err
		}

		pkg.PrintSubtask("Done")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "configuration file (default: cnext-build.{yaml,yml,toml} in the project directory)")
	rootCmd.PersistentFlags().StringP("project-dir", "C", "", "run as if started in this directory")
	rootCmd.PersistentFlags().String("log-level", "", "override the configured log level")

	rootCmd.Flags().BoolP("dry", "n", false, "dry run; only print the commands, don't execute anything")
	rootCmd.Flags().BoolP("force", "f", false, "force build; run the toolchain even if the generated files are up to date")
	rootCmd.Flags().Bool("checkstale", false, "consult the staleness check before running the toolchain")
}

// loadConfig reads the project configuration for the given command. The
// project directory flag decides where configuration and .env files are
// looked up; without the flag the nearest enclosing project directory is
// used.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()

	projectDir, err := flags.GetString("project-dir")
	if err != nil {
		return nil, err
	}

	if projectDir == "" {
		projectDir = discoverProjectDir(".")
	}

	envFile := filepath.Join(projectDir, ".env")
	_, err = os.Stat(envFile)
	if err == nil {
		err = godotenv.Load(envFile)
		if err != nil {
			return nil, eris.Wrapf(err, "Failed to load %s", envFile)
		}
	} else if !eris.Is(err, os.ErrNotExist) {
		return nil, eris.Wrapf(err, "Failed to check %s", envFile)
	}

	configFile, err := flags.GetString("config")
	if err != nil {
		return nil, err
	}

	var files []string
	if configFile != "" {
		files = []string{configFile}
	} else {
		for _, name := range config.DefaultFiles {
			files = append(files, filepath.Join(projectDir, name))
		}
	}

	cfg, loader := config.Loader(files...)
	err = loader.Load()
	if err != nil {
		return nil, eris.Wrap(err, "Failed to load configuration")
	}

	if flags.Changed("project-dir") || cfg.ProjectDir == "." {
		cfg.ProjectDir = projectDir
	}

	level, err := flags.GetString("log-level")
	if err != nil {
		return nil, err
	}

	if level != "" {
		cfg.Log.Level = level
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// discoverProjectDir walks up from startDir towards the nearest directory
// that carries a configuration file or looks like a PlatformIO checkout and
// falls back to startDir when there is none.
func discoverProjectDir(startDir string) string {
	markers := append([]string{}, config.DefaultFiles...)
	markers = append(markers, "platformio.ini", ".git")

	root, err := pkg.FindProjectRoot(startDir, markers...)
	if err != nil {
		return startDir
	}

	return root
}

func newLogger(cfg *config.Config) zerolog.Logger {
	var writer io.Writer = NewConsoleWriter()
	if cfg.Log.JSON {
		writer = os.Stderr
	}

	return zerolog.New(writer).With().
		Timestamp().
		Str("run", nanoid.New()).
		Logger().
		Level(cfg.LogLevel())
}

func buildPipeline(cfg *config.Config) prebuild.Pipeline {
	return prebuild.Pipeline{
		Runner: prebuild.NewRunner(),
		Detector: prebuild.Detector{
			SourceExts:    cfg.SourceExts,
			GeneratedExts: cfg.GeneratedExts,
		},
		Stager: prebuild.Stager{Exts: cfg.GeneratedExts},

		ProjectDir:   cfg.ProjectDir,
		SourceDir:    cfg.SourceDir,
		GeneratedDir: cfg.GeneratedDir,
		BuildScript:  cfg.BuildScript,
		BuildOutDir:  cfg.BuildOutDir,

		CompileTool: cfg.Compiler.Command,
		ExecTool:    cfg.Exec.Command,
		Target:      cfg.Compiler.Target,
		Module:      cfg.Compiler.Module,

		CheckStale: cfg.CheckStale,

		PreHook:  cfg.Hooks.Pre,
		PostHook: cfg.Hooks.Post,
		Env:      cfg.Env,
	}
}

// ExitCode translates an error returned by one of the commands into the
// process exit code: 1 for failed toolchain stages and for check's
// regeneration-needed answer, 2 for everything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	if eris.Is(err, prebuild.ErrToolFailed) || eris.Is(err, errStale) {
		return 1
	}

	return 2
}

// Execute runs the CLI. Toolchain failures exit with status 1, internal
// errors (including panics) with status 2.
func Execute() {
	defer func() {
		if r := recover(); r != nil {
			pkg.PrintError(fmt.Sprintf("Internal error: %v", r))
			os.Exit(2)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if err == nil {
		return
	}

	// check answers through the exit status, its verdict is already printed.
	if !eris.Is(err, errStale) {
		logger := zerolog.New(NewConsoleWriter())
		logger.Error().Err(err).Msg("Failed")
	}
	os.Exit(ExitCode(err))
}
