package shell

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect_UsesKnownShellFromEnv(t *testing.T) {
	t.Setenv("SHELL", "/bin/bash")

	sh := Detect()

	assert.Equal(t, "bash", sh.Name)
	assert.Equal(t, "/bin/bash", sh.Path)
}

func TestDetect_IgnoresUnknownShellFlavour(t *testing.T) {
	t.Setenv("SHELL", "/usr/bin/fish")

	orig := lookPath
	lookPath = func(name string) (string, error) {
		if name == "bash" {
			return "/fake/bin/bash", nil
		}
		return "", os.ErrNotExist
	}
	defer func() { lookPath = orig }()

	sh := Detect()

	assert.Equal(t, "bash", sh.Name)
	assert.Equal(t, "/fake/bin/bash", sh.Path)
}

func TestDetect_FallsBackToBinShWhenNothingFound(t *testing.T) {
	t.Setenv("SHELL", "")

	orig := lookPath
	lookPath = func(string) (string, error) { return "", os.ErrNotExist }
	defer func() { lookPath = orig }()

	sh := Detect()

	assert.Equal(t, "sh", sh.Name)
	assert.Equal(t, "/bin/sh", sh.Path)
}

func TestArgs_WrapsCommandInDashC(t *testing.T) {
	sh := Shell{Name: "bash", Path: "/bin/bash"}

	args := sh.Args("echo 'hello world' | wc -l", false)

	assert.Equal(t, []string{"/bin/bash", "-c", "echo 'hello world' | wc -l"}, args)
}

func TestArgs_LoginShellUsesDashLC(t *testing.T) {
	sh := Shell{Name: "zsh", Path: "/bin/zsh"}

	args := sh.Args("echo hello", true)

	assert.Equal(t, []string{"/bin/zsh", "-lc", "echo hello"}, args)
}
