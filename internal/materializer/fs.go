package materializer

import (
	"errors"
	"io/fs"
	"os"
)

// Filesystem is the disk seam behind materialization and cleanup.
type Filesystem interface {
	WriteFile(name string, data []byte, perm fs.FileMode) error
	MkdirAll(name string) error
	// Rename moves name into place. It may fail across devices; callers
	// fall back to copying.
	Rename(oldname, newname string) error
	// RemoveAll deletes name and anything below it. A missing name is not
	// an error.
	RemoveAll(name string) error
	// Exists reports whether anything, including a dangling symlink, is at
	// name.
	Exists(name string) bool
}

// OS is the host Filesystem.
type OS struct{}

var _ Filesystem = OS{}

func (OS) WriteFile(name string, data []byte, perm fs.FileMode) error {
	return os.WriteFile(name, data, perm)
}

func (OS) MkdirAll(name string) error {
	return os.MkdirAll(name, 0755)
}

func (OS) Rename(oldname, newname string) error {
	return os.Rename(oldname, newname)
}

func (OS) RemoveAll(name string) error {
	return os.RemoveAll(name)
}

func (OS) Exists(name string) bool {
	_, err := os.Lstat(name)
	return !errors.Is(err, fs.ErrNotExist)
}
