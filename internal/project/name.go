// Package project holds the rules a new project name must satisfy before
// anything is fetched or written.
package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

var (
	ErrEmptyName         = errors.New("project name is empty")
	ErrInvalidCharacters = errors.New("project name contains invalid characters")
	ErrDirectoryExists   = errors.New("a file or directory with that name already exists")
)

var validNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateName checks name against the naming rules and against the contents
// of baseDir. Rules are checked in order and the first failure wins: empty,
// invalid characters, then an existing entry at baseDir/name.
//
// It has no side effects and can be called repeatedly from a prompt loop.
func ValidateName(baseDir, name string) error {
	if name == "" {
		return ErrEmptyName
	}

	if !validNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q (allowed: letters, digits, '-' and '_')", ErrInvalidCharacters, name)
	}

	if _, err := os.Lstat(filepath.Join(baseDir, name)); err == nil {
		return fmt.Errorf("%w: %s", ErrDirectoryExists, name)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("checking %s: %w", name, err)
	}

	return nil
}
