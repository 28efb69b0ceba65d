// Package shell runs project commands through the user's shell with output
// capture, timeouts, and operator cancellation.
package shell

import (
	"os"
	"path/filepath"
)

// Shell is the binary commands are executed through.
type Shell struct {
	Name string
	Path string
}

// knownShells are the flavours trusted from $SHELL.
var knownShells = map[string]bool{
	"bash": true,
	"zsh":  true,
	"sh":   true,
}

// Detect returns the user's shell from $SHELL when it is a known flavour,
// otherwise the first of bash or sh found on $PATH, otherwise /bin/sh.
func Detect() Shell {
	if env := os.Getenv("SHELL"); env != "" {
		if name := filepath.Base(env); knownShells[name] {
			return Shell{Name: name, Path: env}
		}
	}
	for _, name := range []string{"bash", "sh"} {
		if p, err := lookPath(name); err == nil {
			return Shell{Name: name, Path: p}
		}
	}
	return Shell{Name: "sh", Path: "/bin/sh"}
}

// Args builds the exec vector for one command line. login invokes the shell
// with -lc so the user's profile (PATH, aliases' env) applies; otherwise -c.
func (s Shell) Args(command string, login bool) []string {
	if login {
		return []string{s.Path, "-lc", command}
	}
	return []string{s.Path, "-c", command}
}

// lookPath searches $PATH for an executable; a var so tests can override it.
var lookPath = defaultLookPath

func defaultLookPath(name string) (string, error) {
	pathEnv := os.Getenv("PATH")
	if pathEnv == "" {
		pathEnv = "/usr/local/bin:/usr/bin:/bin"
	}
	for _, dir := range filepath.SplitList(pathEnv) {
		candidate := filepath.Join(dir, name)
		if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
			return candidate, nil
		}
	}
	return "", os.ErrNotExist
}
