// Package fileop applies approved file actions inside a project root.
// Each failure mode has its own error so callers can report precisely what
// went wrong: permission denied, missing parent, create-over-existing,
// modify/delete of a missing file, or escape from the project root.
package fileop

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/anvilworks/anvil/internal/fault"
)

// Sentinel errors, one per distinct failure mode.
var (
	ErrPermission    = errors.New("permission denied")
	ErrMissingParent = errors.New("parent directory does not exist")
	ErrExists        = errors.New("file already exists")
	ErrNotExist      = errors.New("file does not exist")
	ErrOutsideRoot   = errors.New("path escapes the project root")
	ErrIsDirectory   = errors.New("path is a directory")
)

// Ops applies file operations confined to one project root.
type Ops struct {
	root string
}

// New creates an Ops rooted at dir.
func New(dir string) *Ops {
	return &Ops{root: dir}
}

// Create writes a new file. Parent directories are created as needed; an
// existing file is never overwritten (that is Modify's job).
func (o *Ops) Create(path, content string) error {
	full, err := o.resolve(path)
	if err != nil {
		return err
	}

	if info, statErr := os.Stat(full); statErr == nil {
		if info.IsDir() {
			return o.wrap(path, ErrIsDirectory)
		}
		return o.wrap(path, ErrExists)
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return o.classify(path, err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return o.classify(path, err)
	}
	return nil
}

// Modify overwrites an existing file. The file must already exist; its
// parent is never created here.
func (o *Ops) Modify(path, content string) error {
	full, err := o.resolve(path)
	if err != nil {
		return err
	}

	info, statErr := os.Stat(full)
	if statErr != nil {
		return o.classify(path, statErr)
	}
	if info.IsDir() {
		return o.wrap(path, ErrIsDirectory)
	}

	if err := os.WriteFile(full, []byte(content), info.Mode().Perm()); err != nil {
		return o.classify(path, err)
	}
	return nil
}

// Delete removes an existing file.
func (o *Ops) Delete(path string) error {
	full, err := o.resolve(path)
	if err != nil {
		return err
	}

	info, statErr := os.Stat(full)
	if statErr != nil {
		return o.classify(path, statErr)
	}
	if info.IsDir() {
		return o.wrap(path, ErrIsDirectory)
	}

	if err := os.Remove(full); err != nil {
		return o.classify(path, err)
	}
	return nil
}

// resolve joins a relative path onto the root, rejecting absolute paths and
// escapes. Classify already validates targets; this guards direct callers.
func (o *Ops) resolve(path string) (string, error) {
	if path == "" {
		return "", o.wrap(path, ErrNotExist)
	}
	if filepath.IsAbs(path) {
		return "", o.wrap(path, ErrOutsideRoot)
	}
	clean := filepath.Clean(path)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", o.wrap(path, ErrOutsideRoot)
	}
	return filepath.Join(o.root, clean), nil
}

// classify maps an OS error onto the sentinel set.
func (o *Ops) classify(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return o.wrap(path, ErrPermission)
	case errors.Is(err, fs.ErrNotExist):
		// A missing intermediate directory and a missing file both surface
		// as ErrNotExist from the OS; distinguish by the parent.
		parent := filepath.Dir(filepath.Join(o.root, path))
		if _, statErr := os.Stat(parent); statErr != nil {
			return o.wrap(path, ErrMissingParent)
		}
		return o.wrap(path, ErrNotExist)
	case errors.Is(err, fs.ErrExist):
		return o.wrap(path, ErrExists)
	default:
		return fault.Wrap(fault.KindFileOp, err, path)
	}
}

func (o *Ops) wrap(path string, sentinel error) error {
	return fault.Wrap(fault.KindFileOp, fmt.Errorf("%s: %w", path, sentinel), "file operation")
}
