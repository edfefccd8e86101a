package materializer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/go-github/v82/github"

	"github.com/cbout22/kickstart/internal/config"
)

// Entry types in a contents API listing.
const (
	entryFile = "file"
	entryDir  = "dir"
)

// Fetcher is the slice of the transport the tree walker needs.
type Fetcher interface {
	FetchBytes(ctx context.Context, url string) ([]byte, error)
}

// TreeWalker copies a remote source tree into a directory by listing each
// directory through a contents API and fetching every file raw.
type TreeWalker struct {
	fetch  Fetcher
	fs     Filesystem
	logger *slog.Logger
}

// NewTreeWalker creates a TreeWalker. A nil logger means slog.Default().
func NewTreeWalker(fetch Fetcher, fsys Filesystem, logger *slog.Logger) *TreeWalker {
	if logger == nil {
		logger = slog.Default()
	}
	return &TreeWalker{fetch: fetch, fs: fsys, logger: logger}
}

// pendingDir is a listing still to be fetched.
type pendingDir struct {
	url string // listing URL including the ref query
	rel string // slash-separated path below the root, "" for the root
}

// Materialize walks the listing at apiRoot for ref and writes every file to
// targetDir at its relative path, fetching content from rawRoot/<path>. It
// returns the number of files written. Requests are issued one at a time.
func (w *TreeWalker) Materialize(ctx context.Context, apiRoot, rawRoot, ref, targetDir string) (int, error) {
	root, err := config.WithRefQuery(apiRoot, ref)
	if err != nil {
		return 0, err
	}
	if err := w.fs.MkdirAll(targetDir); err != nil {
		return 0, fmt.Errorf("creating %s: %w", targetDir, err)
	}

	count := 0
	stack := []pendingDir{{url: root}}
	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := w.list(ctx, dir.url)
		if err != nil {
			return count, err
		}

		var subdirs []pendingDir
		for _, e := range entries {
			name := e.GetName()
			if err := checkEntryName(name); err != nil {
				return count, fmt.Errorf("listing %s: %w", dir.url, err)
			}
			rel := path.Join(dir.rel, name)

			switch e.GetType() {
			case entryDir:
				next, err := w.listingURL(e, apiRoot, rel, ref)
				if err != nil {
					return count, err
				}
				subdirs = append(subdirs, pendingDir{url: next, rel: rel})
			case entryFile:
				if err := w.writeFile(ctx, rawRoot, rel, targetDir); err != nil {
					return count, err
				}
				count++
			default:
				w.logger.Warn("skipping tree entry", "path", rel, "type", e.GetType())
			}
		}

		// Push in reverse so directories are visited in listing order.
		for i := len(subdirs) - 1; i >= 0; i-- {
			stack = append(stack, subdirs[i])
		}
	}
	return count, nil
}

func (w *TreeWalker) list(ctx context.Context, listingURL string) ([]*github.RepositoryContent, error) {
	data, err := w.fetch.FetchBytes(ctx, listingURL)
	if err != nil {
		return nil, err
	}
	var entries []*github.RepositoryContent
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decoding listing %s: %w", listingURL, err)
	}
	w.logger.Debug("listed directory", "url", listingURL, "entries", len(entries))
	return entries, nil
}

// listingURL returns where a directory entry's own listing lives. The entry's
// url field is used when present, otherwise the path is appended to apiRoot.
// Either way the ref query is set, merged with any existing query.
func (w *TreeWalker) listingURL(e *github.RepositoryContent, apiRoot, rel, ref string) (string, error) {
	u := e.GetURL()
	if u == "" {
		u = strings.TrimSuffix(apiRoot, "/") + "/" + escapePath(rel)
	}
	return config.WithRefQuery(u, ref)
}

func (w *TreeWalker) writeFile(ctx context.Context, rawRoot, rel, targetDir string) error {
	data, err := w.fetch.FetchBytes(ctx, rawRoot+"/"+escapePath(rel))
	if err != nil {
		return fmt.Errorf("fetching %s: %w", rel, err)
	}

	dest := filepath.Join(targetDir, filepath.FromSlash(rel))
	if err := w.fs.MkdirAll(filepath.Dir(dest)); err != nil {
		return fmt.Errorf("creating directory for %s: %w", rel, err)
	}
	if err := w.fs.WriteFile(dest, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	w.logger.Debug("wrote file", "path", rel, "bytes", len(data))
	return nil
}

// checkEntryName rejects listing names that are not a single path element.
func checkEntryName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("unsafe entry name %q", name)
	}
	return nil
}

// escapePath escapes each element of a slash-separated path.
func escapePath(rel string) string {
	parts := strings.Split(rel, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
