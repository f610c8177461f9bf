package pkg

import (
	"os"
	"path/filepath"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
)

// FindProjectRoot walks from the given directory towards the filesystem root
// until it finds a directory that contains one of the passed marker entries
// (for example "platformio.ini" or ".git").
func FindProjectRoot(dir string, markers ...string) (string, error) {
	if len(markers) == 0 {
		markers = []string{"platformio.ini", ".git"}
	}

	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", eris.Wrapf(err, "Failed to resolve directory %s", dir)
	}

	for {
		for _, marker := range markers {
			_, err := os.Stat(filepath.Join(dir, marker))
			if err == nil {
				return dir, nil
			}

			if !eris.Is(err, os.ErrNotExist) {
				return "", eris.Wrap(err, "Error ocurred while searching for project root")
			}
		}

		nextDir := filepath.Dir(dir)
		if dir == nextDir {
			break
		}
		dir = nextDir
	}

	return "", eris.New("Project root not found")
}

func PrintTask(msg string) {
	colorstring.Printf("[blue][bold]==>[default] %s\n", msg)
}

func PrintSubtask(msg string) {
	colorstring.Printf("[green][bold]  ->[reset] %s\n", msg)
}

func PrintError(msg string) {
	colorstring.Printf("[red][bold]  ->[reset] %s\n", msg)
}
