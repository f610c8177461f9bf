package config

import (
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/jlaustill/c-next/pkg/prebuild"
)

// DefaultFiles lists the configuration files searched in the project
// directory, in order.
var DefaultFiles = []string{"cnext-build.yaml", "cnext-build.yml", "cnext-build.toml"}

// Config describes all configuration options
type Config struct {
	ProjectDir   string `default:"." usage:"Project root, every other path is relative to it"`
	SourceDir    string `default:"src" usage:"Directory that holds the transpiler input files"`
	GeneratedDir string `default:"generated" usage:"Directory the transpiler writes its output to"`

	BuildScript string `default:"cnext-build.ts" usage:"Build script compiled and executed by the pipeline"`
	BuildOutDir string `default:".pio/build" usage:"Directory the compiled build script is written to"`

	SourceExts    []string `default:".cn,.cnm" usage:"Extensions of transpiler input files"`
	GeneratedExts []string `default:".cpp,.h" usage:"Extensions of transpiler output files"`

	Compiler struct {
		Command string `default:"npx tsc" usage:"TypeScript compiler invocation"`
		Target  string `default:"es2022" usage:"ECMAScript target version for the build script"`
		Module  string `default:"node16" usage:"Module system for the compiled build script"`
	}

	Exec struct {
		Command string `default:"node" usage:"JavaScript runtime that executes the compiled build script"`
	}

	CheckStale bool `default:"false" usage:"Skip the toolchain when the generated files are newer than the sources"`

	Hooks struct {
		Pre  string `usage:"Shell snippet executed before the toolchain runs"`
		Post string `usage:"Shell snippet executed after staging"`
	}

	Env map[string]string `usage:"Extra environment variables passed to tools and hooks"`

	Watch struct {
		Debounce time.Duration `default:"500ms" usage:"Delay between a source change and the triggered rebuild"`
	}

	Log struct {
		Level string `default:"info"`
		JSON  bool   `default:"false" usage:"Output JSONND instead of pretty console messages"`
	}
}

var logLevels = map[string]zerolog.Level{
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
}

// Loader initializes an empty config object and returns a new Loader for
// this object. Flags are handled by the CLI layer, the loader only reads
// files and CNEXT_* environment variables.
func Loader(files ...string) (*Config, *aconfig.Loader) {
	if len(files) == 0 {
		files = DefaultFiles
	}

	cfg := Config{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix:  "CNEXT",
		FlagPrefix: "cfg",
		SkipFlags:  true,
		Files:      files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
			".yml":  aconfigyaml.New(),
			".toml": aconfigtoml.New(),
		},
	})
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	if cfg.ProjectDir == "" {
		return eris.New(`Invalid value for projectdir: must not be empty`)
	}

	if cfg.SourceDir == "" {
		return eris.New(`Invalid value for sourcedir: must not be empty`)
	}

	if cfg.GeneratedDir == "" {
		return eris.New(`Invalid value for generateddir: must not be empty`)
	}

	if cfg.BuildScript == "" {
		return eris.New(`Invalid value for buildscript: must not be empty`)
	}

	if len(cfg.SourceExts) == 0 {
		return eris.New(`Invalid value for sourceexts: need at least one extension`)
	}

	if len(cfg.GeneratedExts) == 0 {
		return eris.New(`Invalid value for generatedexts: need at least one extension`)
	}

	_, err := prebuild.ParseTool(cfg.Compiler.Command)
	if err != nil {
		return eris.Wrap(err, `Invalid value for compiler.command`)
	}

	_, err = prebuild.ParseTool(cfg.Exec.Command)
	if err != nil {
		return eris.Wrap(err, `Invalid value for exec.command`)
	}

	if cfg.Watch.Debounce <= 0 {
		return eris.Errorf(`Invalid value for watch.debounce: %s (must be positive)`, cfg.Watch.Debounce)
	}

	_, ok := logLevels[cfg.Log.Level]
	if !ok {
		return eris.Errorf(`Invalid value for log.level: %s`, cfg.Log.Level)
	}

	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}
