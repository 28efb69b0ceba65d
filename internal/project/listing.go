package project

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// Directories never descended into when listing project files.
var skippedDirs = map[string]bool{
	stateDirName:   true,
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	".venv":        true,
	"target":       true,
	"build":        true,
	"dist":         true,
}

// ListFiles walks the project tree and returns up to limit relative paths,
// sorted, for prompt composition and the ls command. The second return
// reports whether the limit cut the listing short.
func ListFiles(dir string, limit int) ([]string, bool, error) {
	var files []string
	truncated := false

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, not fatal.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if path == dir {
				return nil
			}
			if skippedDirs[name] || strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return nil
		}
		if len(files) >= limit {
			truncated = true
			return filepath.SkipAll
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	sort.Strings(files)
	return files, truncated, nil
}
