package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateName_Valid(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	for _, name := range []string{"app", "my-app", "my_app", "App2", "a", "0-_Z"} {
		assert.NoError(t, ValidateName(dir, name), "ValidateName(%q)", name)
	}
}

func TestValidateName_Empty(t *testing.T) {
	t.Parallel()

	// A base dir that does not exist proves the filesystem is never consulted.
	err := ValidateName(filepath.Join(t.TempDir(), "missing"), "")
	require.ErrorIs(t, err, ErrEmptyName)
}

func TestValidateName_InvalidCharacters(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	cases := []string{
		"my app",
		"my.app",
		"app/sub",
		`app\sub`,
		"../escape",
		"café",
		"app!",
		"tab\there",
		"@scope",
	}
	for _, name := range cases {
		err := ValidateName(dir, name)
		assert.ErrorIs(t, err, ErrInvalidCharacters, "ValidateName(%q)", name)
	}
}

func TestValidateName_CharacterCheckBeforeExistence(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "a.b"), 0755))

	err := ValidateName(dir, "a.b")
	require.ErrorIs(t, err, ErrInvalidCharacters)
}

func TestValidateName_DirectoryExists(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	target := filepath.Join(dir, "foo")
	require.NoError(t, os.Mkdir(target, 0755))

	before, err := os.ReadDir(target)
	require.NoError(t, err)

	err = ValidateName(dir, "foo")
	require.ErrorIs(t, err, ErrDirectoryExists)

	after, err := os.ReadDir(target)
	require.NoError(t, err)
	assert.Equal(t, len(before), len(after), "validation must not touch the existing directory")
}

func TestValidateName_FileExists(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "foo"), []byte("x"), 0644))

	require.ErrorIs(t, ValidateName(dir, "foo"), ErrDirectoryExists)
}

func TestValidateName_Repeatable(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, ValidateName(dir, "bad name"), ErrInvalidCharacters)
		require.NoError(t, ValidateName(dir, "good-name"))
	}
	_, err := os.Stat(filepath.Join(dir, "good-name"))
	assert.True(t, os.IsNotExist(err), "validation must not create the directory")
}
