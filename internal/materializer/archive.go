// Package materializer turns an acquired source into files under the project
// directory: a remote tree is copied file by file, an archive is extracted
// through a staging directory with any single wrapping directory removed.
package materializer

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/mholt/archives"
)

// macOSMetadataDir holds resource forks added by the macOS archiver.
const macOSMetadataDir = "__MACOSX"

// ExtractionError reports a failure to unpack or relocate an archive.
type ExtractionError struct {
	Archive string
	Err     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extracting %s: %v", e.Archive, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// ArchiveMaterializer extracts a bundle into a project directory.
type ArchiveMaterializer struct {
	fs     Filesystem
	logger *slog.Logger
}

// NewArchiveMaterializer creates an ArchiveMaterializer. A nil logger means
// slog.Default().
func NewArchiveMaterializer(fsys Filesystem, logger *slog.Logger) *ArchiveMaterializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArchiveMaterializer{fs: fsys, logger: logger}
}

// StagingDir returns a fresh, hidden sibling of targetDir for transient files.
func StagingDir(targetDir string) string {
	parent, name := filepath.Split(filepath.Clean(targetDir))
	return filepath.Join(parent, "."+name+"-staging-"+uuid.NewString())
}

// Materialize extracts archivePath into a staging directory, unwraps a single
// top-level directory if that is all the archive holds, moves the payload into
// targetDir and returns the number of files under targetDir. The staging
// directory is removed whatever the outcome.
func (m *ArchiveMaterializer) Materialize(ctx context.Context, archivePath, targetDir string) (int, error) {
	staging := StagingDir(targetDir)
	if err := m.fs.MkdirAll(staging); err != nil {
		return 0, &ExtractionError{Archive: archivePath, Err: fmt.Errorf("creating staging directory: %w", err)}
	}
	defer func() {
		if err := m.fs.RemoveAll(staging); err != nil {
			m.logger.Warn("removing staging directory", "path", staging, "error", err)
		}
	}()
	m.logger.Debug("extracting", "archive", archivePath, "staging", staging)

	if err := m.extract(ctx, archivePath, staging); err != nil {
		return 0, &ExtractionError{Archive: archivePath, Err: err}
	}

	payload, err := payloadRoot(staging)
	if err != nil {
		return 0, &ExtractionError{Archive: archivePath, Err: err}
	}
	if payload != staging {
		m.logger.Debug("unwrapping top-level directory", "dir", filepath.Base(payload))
	}

	if err := m.fs.MkdirAll(targetDir); err != nil {
		return 0, fmt.Errorf("creating %s: %w", targetDir, err)
	}
	entries, err := os.ReadDir(payload)
	if err != nil {
		return 0, &ExtractionError{Archive: archivePath, Err: err}
	}
	for _, e := range entries {
		src := filepath.Join(payload, e.Name())
		dst := filepath.Join(targetDir, e.Name())
		if err := m.move(src, dst); err != nil {
			return 0, &ExtractionError{Archive: archivePath, Err: fmt.Errorf("moving %s: %w", e.Name(), err)}
		}
	}

	return CountFiles(targetDir)
}

// extract unpacks archivePath into dest. The format is identified from the
// content, not the file name.
func (m *ArchiveMaterializer) extract(ctx context.Context, archivePath, dest string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	format, _, err := archives.Identify(ctx, "", f)
	if err != nil {
		return fmt.Errorf("identifying archive format: %w", err)
	}
	ex, ok := format.(archives.Extractor)
	if !ok {
		return fmt.Errorf("unsupported archive format %s", format.Extension())
	}

	// Zip reads through io.ReaderAt, so extraction starts from the file itself.
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return ex.Extract(ctx, f, func(ctx context.Context, fi archives.FileInfo) error {
		return m.writeEntry(dest, fi)
	})
}

func (m *ArchiveMaterializer) writeEntry(dest string, fi archives.FileInfo) error {
	name, err := entryPath(fi.NameInArchive)
	if err != nil {
		return err
	}
	if name == "" {
		return nil
	}
	if first, _, _ := strings.Cut(name, "/"); first == macOSMetadataDir {
		return nil
	}
	target := filepath.Join(dest, filepath.FromSlash(name))

	mode := fi.Mode()
	switch {
	case fi.IsDir():
		return os.MkdirAll(target, 0755)
	case fi.LinkTarget != "" || mode&fs.ModeSymlink != 0:
		m.logger.Warn("skipping link in archive", "entry", name, "target", fi.LinkTarget)
		return nil
	case !mode.IsRegular():
		m.logger.Warn("skipping special file in archive", "entry", name, "mode", mode.String())
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	rc, err := fi.Open()
	if err != nil {
		return fmt.Errorf("opening %s: %w", name, err)
	}
	defer rc.Close()

	perm := mode.Perm()
	if perm == 0 {
		perm = 0644
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm|0200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return out.Close()
}

// entryPath cleans an archive entry name into a relative slash path. It
// returns "" for the archive root and an error for names that would land
// outside it.
func entryPath(raw string) (string, error) {
	name := strings.ReplaceAll(raw, `\`, "/")
	name = path.Clean(name)
	switch {
	case name == "." || name == "/":
		return "", nil
	case path.IsAbs(name) || name == ".." || strings.HasPrefix(name, "../") || filepath.VolumeName(name) != "":
		return "", fmt.Errorf("entry %q escapes the extraction root", raw)
	}
	return name, nil
}

// payloadRoot returns the directory whose contents are the real payload:
// the only top-level entry when it is a directory, otherwise staging itself.
func payloadRoot(staging string) (string, error) {
	entries, err := os.ReadDir(staging)
	if err != nil {
		return "", err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(staging, entries[0].Name()), nil
	}
	return staging, nil
}

// move renames src to dst, copying when rename fails (for example across
// filesystems).
func (m *ArchiveMaterializer) move(src, dst string) error {
	err := m.fs.Rename(src, dst)
	if err == nil {
		return nil
	}
	m.logger.Debug("rename failed, copying", "src", src, "dst", dst, "error", err)
	if err := copyTree(src, dst); err != nil {
		return err
	}
	return m.fs.RemoveAll(src)
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(p, target, info.Mode().Perm())
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
