package prebuild

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/jlaustill/c-next/pkg"
)

// RunReport summarizes a finished pipeline run.
type RunReport struct {
	// Skipped is true when the staleness gate decided there was nothing to
	// do. Verdict carries the gate's reasoning whenever the gate ran.
	Skipped bool
	Verdict Verdict
	// Staged lists the file names placed into the source directory.
	Staged []string
}

// Pipeline sequences the pre-build steps: an optional staleness gate, the
// build script compilation, the transpiler run and the staging of generated
// files. The zero value is not usable, callers populate it from their
// configuration.
type Pipeline struct {
	Runner   Runner
	Detector Detector
	Stager   Stager

	// ProjectDir is the directory every other path is relative to.
	ProjectDir   string
	SourceDir    string
	GeneratedDir string
	BuildScript  string
	BuildOutDir  string

	CompileTool string
	ExecTool    string
	Target      string
	Module      string

	CheckStale bool
	Force      bool
	DryRun     bool

	PreHook  string
	PostHook string
	Env      map[string]string
}

// Run executes the pipeline. Stage failures are returned as ErrToolFailed
// errors, a tool that cannot be started yields ErrToolMissing and anything
// else is an internal error.
func (p Pipeline) Run(ctx context.Context) (RunReport, error) {
	report := RunReport{}

	if p.Runner == nil {
		p.Runner = NewRunner()
	}

	srcDir := filepath.Join(p.ProjectDir, p.SourceDir)

	if p.CheckStale && !p.Force {
		verdict, err := p.Detector.Check(srcDir)
		if err != nil {
			return report, err
		}

		report.Verdict = verdict
		log(ctx).Debug().
			Bool("stale", verdict.Stale).
			Str("reason", string(verdict.Reason)).
			Msg("Staleness check finished")

		if !verdict.Stale {
			report.Skipped = true
			pkg.PrintSubtask(fmt.Sprintf("Nothing to do (%s)", verdict.Reason))
			return report, nil
		}
	}

	if p.PreHook != "" {
		pkg.PrintSubtask("Running pre hook")

		if !p.DryRun {
			err := RunHook(ctx, "pre", p.PreHook, p.ProjectDir, p.Env)
			if err != nil {
				return report, err
			}
		}
	}

	compileCmd, err := p.compileCommand()
	if err != nil {
		return report, err
	}

	pkg.PrintSubtask("Compiling build script")
	log(ctx).Info().
		Bool("command", true).
		Msg(compileCmd.String())

	if !p.DryRun {
		result, err := p.Runner.Run(ctx, compileCmd)
		if err != nil {
			return report, err
		}

		if !result.Success {
			pkg.PrintError("Build script compilation failed")
			emitToolOutput(os.Stderr, result.Output)
			return report, eris.Wrapf(ErrToolFailed, "build script compilation exited with status %d", result.ExitCode)
		}

		if result.Output != "" {
			log(ctx).Debug().Msg(result.Output)
		}
	}

	if err = ctx.Err(); err != nil {
		return report, err
	}

	execCmd, err := p.execCommand()
	if err != nil {
		return report, err
	}

	pkg.PrintSubtask("Transpiling sources")
	log(ctx).Info().
		Bool("command", true).
		Msg(execCmd.String())

	if !p.DryRun {
		result, err := p.Runner.Run(ctx, execCmd)
		if err != nil {
			return report, err
		}

		if !result.Success {
			pkg.PrintError("Transpiler failed")
			emitToolOutput(os.Stderr, result.Output)
			return report, eris.Wrapf(ErrToolFailed, "transpiler exited with status %d", result.ExitCode)
		}

		// Transpiler diagnostics are meant for the user.
		emitToolOutput(os.Stdout, result.Output)
	}

	if err = ctx.Err(); err != nil {
		return report, err
	}

	if !p.DryRun {
		staged, err := p.Stager.Stage(ctx, filepath.Join(p.ProjectDir, p.GeneratedDir), srcDir)
		if err != nil {
			return report, err
		}

		report.Staged = staged
		for _, name := range staged {
			pkg.PrintSubtask(fmt.Sprintf("Staged %s", name))
		}
	}

	if p.PostHook != "" {
		pkg.PrintSubtask("Running post hook")

		if !p.DryRun {
			err := RunHook(ctx, "post", p.PostHook, p.ProjectDir, p.Env)
			if err != nil {
				return report, err
			}
		}
	}

	return report, nil
}

func (p Pipeline) compileCommand() (Command, error) {
	argv, err := ParseTool(p.CompileTool)
	if err != nil {
		return Command{}, err
	}

	argv = append(argv, p.BuildScript,
		"--target", p.Target,
		"--module", p.Module,
		"--outDir", p.BuildOutDir,
	)

	return Command{Argv: argv, Dir: p.ProjectDir, Env: envList(p.Env)}, nil
}

func (p Pipeline) execCommand() (Command, error) {
	argv, err := ParseTool(p.ExecTool)
	if err != nil {
		return Command{}, err
	}

	script := filepath.Base(p.BuildScript)
	script = strings.TrimSuffix(script, filepath.Ext(script)) + ".js"
	argv = append(argv, filepath.Join(p.BuildOutDir, script))

	return Command{Argv: argv, Dir: p.ProjectDir, Env: envList(p.Env)}, nil
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}

	list := make([]string, 0, len(env))
	for name, value := range env {
		list = append(list, fmt.Sprintf("%s=%s", name, value))
	}

	sort.Strings(list)
	return list
}

func emitToolOutput(w io.Writer, output string) {
	output = strings.TrimRight(output, "\n")
	if output == "" {
		return
	}

	fmt.Fprintln(w, output)
}
