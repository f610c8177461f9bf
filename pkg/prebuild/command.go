package prebuild

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/shell"
)

var (
	// ErrToolFailed marks a toolchain stage that started but exited with a
	// non-zero status.
	ErrToolFailed = eris.New("toolchain stage failed")

	// ErrToolMissing marks a toolchain command that could not be started,
	// usually because the executable is not installed or not on PATH.
	ErrToolMissing = eris.New("toolchain command could not be started")
)

// Command describes a single external toolchain invocation. Argv holds the
// executable name followed by its arguments; the name is resolved through
// PATH unless it contains a path separator.
type Command struct {
	Argv []string
	Dir  string
	Env  []string
}

func (c Command) String() string {
	return strings.Join(c.Argv, " ")
}

// Result captures the outcome of a toolchain invocation that ran to
// completion. Output holds the combined stdout and stderr of the process.
type Result struct {
	Success  bool
	ExitCode int
	Output   string
}

// Runner executes toolchain commands. A command that starts but exits with
// a non-zero status is not an error; it yields a Result with Success set to
// false. Run only returns an error when the command could not be started or
// the context was cancelled.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

type execRunner struct{}

// NewRunner returns a Runner backed by os/exec.
func NewRunner() Runner {
	return execRunner{}
}

func (execRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	if len(cmd.Argv) == 0 {
		return Result{}, eris.New("Can't run an empty command")
	}

	proc := exec.CommandContext(ctx, cmd.Argv[0], cmd.Argv[1:]...)
	proc.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		proc.Env = append(os.Environ(), cmd.Env...)
	}

	output := bytes.Buffer{}
	proc.Stdout = &output
	proc.Stderr = &output

	err := proc.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, ctxErr
	}

	if err == nil {
		return Result{Success: true, Output: output.String()}, nil
	}

	if exitErr, ok := err.(*exec.ExitError); ok {
		return Result{
			ExitCode: exitErr.ExitCode(),
			Output:   output.String(),
		}, nil
	}

	return Result{}, eris.Wrapf(ErrToolMissing, "failed to start %s: %v", cmd.Argv[0], err)
}

// ParseTool splits a configured tool string such as "npx tsc" into argv
// form. Quoting follows shell word splitting rules but no expansions are
// performed.
func ParseTool(tool string) ([]string, error) {
	fields, err := shell.Fields(tool, func(string) string { return "" })
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to parse tool command %q", tool)
	}

	if len(fields) == 0 {
		return nil, eris.Errorf("Tool command %q is empty", tool)
	}

	return fields, nil
}
