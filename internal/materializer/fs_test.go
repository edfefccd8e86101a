package materializer

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOS(t *testing.T) {
	t.Parallel()
	var fsys OS
	dir := filepath.Join(t.TempDir(), "x", "y")

	require.NoError(t, fsys.MkdirAll(dir))
	p := filepath.Join(dir, "f")
	assert.False(t, fsys.Exists(p))
	require.NoError(t, fsys.WriteFile(p, []byte("data"), 0600))
	assert.True(t, fsys.Exists(p))

	info, err := os.Stat(p)
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0600), info.Mode().Perm())

	moved := filepath.Join(dir, "g")
	require.NoError(t, fsys.Rename(p, moved))
	assert.False(t, fsys.Exists(p))
	assert.True(t, fsys.Exists(moved))

	require.NoError(t, fsys.RemoveAll(filepath.Dir(dir)))
	assert.False(t, fsys.Exists(dir))
	assert.NoError(t, fsys.RemoveAll(dir), "removing a missing path is not an error")
}

func TestOS_ExistsSeesDanglingSymlink(t *testing.T) {
	t.Parallel()
	link := filepath.Join(t.TempDir(), "link")
	if err := os.Symlink(filepath.Join(t.TempDir(), "gone"), link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	assert.True(t, OS{}.Exists(link))
}
