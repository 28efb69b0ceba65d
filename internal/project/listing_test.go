package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeListingFile(t *testing.T, dir, rel string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestListFiles_Basic(t *testing.T) {
	dir := t.TempDir()
	writeListingFile(t, dir, "main.go")
	writeListingFile(t, dir, "pkg/util.go")

	files, truncated, err := ListFiles(dir, 100)
	require.NoError(t, err)
	assert.False(t, truncated)
	assert.Equal(t, []string{"main.go", filepath.Join("pkg", "util.go")}, files)
}

func TestListFiles_SkipsStateAndVCSDirs(t *testing.T) {
	dir := t.TempDir()
	writeListingFile(t, dir, "app.py")
	writeListingFile(t, dir, ".anvil/context.json")
	writeListingFile(t, dir, ".git/HEAD")
	writeListingFile(t, dir, "node_modules/lib/index.js")
	writeListingFile(t, dir, ".hidden")

	files, _, err := ListFiles(dir, 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"app.py"}, files)
}

func TestListFiles_RespectsLimit(t *testing.T) {
	dir := t.TempDir()
	writeListingFile(t, dir, "a.txt")
	writeListingFile(t, dir, "b.txt")
	writeListingFile(t, dir, "c.txt")

	files, truncated, err := ListFiles(dir, 2)
	require.NoError(t, err)
	assert.Len(t, files, 2)
	assert.True(t, truncated)
}

func TestListFiles_EmptyDir(t *testing.T) {
	files, truncated, err := ListFiles(t.TempDir(), 10)
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.False(t, truncated)
}
