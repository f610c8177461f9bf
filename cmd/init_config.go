package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/jlaustill/c-next/pkg"
	"github.com/jlaustill/c-next/pkg/config"
)

const configTemplate = `# c-next pre-build configuration

# Where the transpiler inputs live and where generated files get staged.
sourcedir: src
generateddir: generated

# The build script and the directory its compiled form is written to.
buildscript: cnext-build.ts
buildoutdir: .pio/build

# File extensions considered transpiler input and output.
sourceexts: ".cn,.cnm"
generatedexts: ".cpp,.h"

compiler:
  command: npx tsc
  target: es2022
  module: node16

exec:
  command: node

# Skip the toolchain when the generated files are newer than the sources.
checkstale: false

# Shell snippets that run before the toolchain and after staging.
#hooks:
#  pre: echo starting
#  post: echo finished

# Extra environment variables for tools and hooks.
#env:
#  NODE_OPTIONS: --max-old-space-size=2048

watch:
  debounce: 500ms

log:
  level: info
  json: false
`

const toolManifestTemplate = `# Tools fetched by 'cnext-prebuild fetch-tools'. URLs may contain {VAR}
# placeholders defined under vars. An entry runs when every variable named
# in 'if' is set and none of the 'ifNot' variables are; the current OS and
# architecture are always set. Fill in the sha256 checksums before use.
vars:
  NODE_VERSION: 20.11.1

tools:
  node-linux:
    if: linux
    url: https://nodejs.org/dist/v{NODE_VERSION}/node-v{NODE_VERSION}-linux-x64.tar.xz
    dest: .tools/node
    strip: 1
    sha256: ""

  node-windows:
    if: windows
    url: https://nodejs.org/dist/v{NODE_VERSION}/node-v{NODE_VERSION}-win-x64.zip
    dest: .tools/node
    strip: 1
    sha256: ""
    markExec: []
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Writes a starter configuration into the project directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()

		projectDir, err := flags.GetString("project-dir")
		if err != nil {
			return err
		}

		if projectDir == "" {
			projectDir = "."
		}

		force, err := flags.GetBool("force")
		if err != nil {
			return err
		}

		tools, err := flags.GetBool("tools")
		if err != nil {
			return err
		}

		pkg.PrintTask("Writing starter configuration")
		err = writeTemplate(filepath.Join(projectDir, config.DefaultFiles[0]), configTemplate, force)
		if err != nil {
			return err
		}

		if tools {
			err = writeTemplate(filepath.Join(projectDir, toolManifestName), toolManifestTemplate, force)
			if err != nil {
				return err
			}
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolP("force", "f", false, "overwrite existing files")
	initCmd.Flags().Bool("tools", false, "also write a cnext-tools.yml example")
}

func writeTemplate(path, content string, force bool) error {
	_, err := os.Stat(path)
	if err == nil && !force {
		return eris.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err != nil && !eris.Is(err, os.ErrNotExist) {
		return eris.Wrapf(err, "Failed to check %s", path)
	}

	err = os.WriteFile(path, []byte(content), os.FileMode(0660))
	if err != nil {
		return eris.Wrapf(err, "Failed to write %s", path)
	}

	pkg.PrintSubtask(fmt.Sprintf("Wrote %s", path))
	return nil
}
