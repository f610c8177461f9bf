package prebuild

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

func hookEnv(extra map[string]string) expand.Environ {
	envVars := os.Environ()

	for name, value := range extra {
		envVars = append(envVars, fmt.Sprintf("%s=%s", name, value))
	}

	return expand.ListEnviron(envVars...)
}

// RunHook executes the given shell snippet in dir. Statements run with -e
// semantics: the first failing statement aborts the hook. A failing
// statement yields an ErrToolFailed error while parse and setup problems
// are reported as plain errors.
func RunHook(ctx context.Context, name, script, dir string, env map[string]string) error {
	if strings.TrimSpace(script) == "" {
		return nil
	}

	parser := syntax.NewParser()
	file, err := parser.Parse(strings.NewReader(script), name)
	if err != nil {
		return eris.Wrapf(err, "Failed to parse %s hook", name)
	}

	runner, err := interp.New(
		interp.Dir(dir),
		interp.Env(hookEnv(env)),
		interp.StdIO(nil, os.Stdout, os.Stderr),
		interp.Params("-e"),
	)
	if err != nil {
		return eris.Wrapf(err, "Failed to initialize %s hook runner", name)
	}

	printer := syntax.NewPrinter(
		syntax.Minify(true),
	)
	strBuffer := strings.Builder{}

	for _, stmt := range file.Stmts {
		strBuffer.Reset()
		printer.Print(&strBuffer, stmt)
		log(ctx).Info().
			Str("hook", name).
			Bool("command", true).
			Msg(strBuffer.String())

		err = runner.Run(ctx, stmt)
		if err != nil {
			return eris.Wrapf(ErrToolFailed, "Hook %s failed: %v", name, err)
		}

		if runner.Exited() {
			break
		}
	}

	return nil
}
