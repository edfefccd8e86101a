// Package resolver decides which source serves a requested version: the local
// release cache first, then the configured network strategy after a liveness
// probe.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cbout22/kickstart/internal/config"
	"github.com/cbout22/kickstart/internal/manifest"
	"github.com/cbout22/kickstart/internal/transport"
)

// BundleName is the archive file name under each version directory, both in
// the cache and on the archive endpoint.
const BundleName = "src.zip"

var (
	// ErrSourceUnavailable means the configured network source did not answer
	// its liveness probe.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrInvalidVersion means the version cannot name a cache directory or
	// URL path segment.
	ErrInvalidVersion = errors.New("invalid version")
)

// Fetcher is the slice of the transport the resolver needs.
type Fetcher interface {
	FetchBytes(ctx context.Context, url string) ([]byte, error)
	Check(ctx context.Context, url string, timeout time.Duration) error
}

// Resolver picks a Source for a version.
type Resolver struct {
	cfg    *config.Config
	fetch  Fetcher
	logger *slog.Logger
}

// New creates a Resolver. A nil logger means slog.Default().
func New(cfg *config.Config, fetch Fetcher, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{cfg: cfg, fetch: fetch, logger: logger}
}

// Resolve returns the source for version. An empty version means latest.
//
// A bundle in the local cache wins without any network traffic. Otherwise the
// configured strategy's endpoint is probed and ErrSourceUnavailable returned
// if it does not answer.
func (r *Resolver) Resolve(ctx context.Context, version string) (Source, error) {
	if version == "" {
		version = config.LatestVersion
	}
	if err := checkVersion(version); err != nil {
		return nil, err
	}

	if src, ok := r.fromCache(version); ok {
		return src, nil
	}

	switch r.cfg.Strategy {
	case config.Tree:
		return r.resolveTree(ctx, version)
	default:
		return r.resolveArchive(ctx, version)
	}
}

func (r *Resolver) fromCache(version string) (LocalCache, bool) {
	p := r.cachedBundle(version)
	if p == "" {
		return LocalCache{}, false
	}
	r.logger.Debug("using cached bundle", "version", version, "path", p)
	return LocalCache{Path: p, Version: version}, true
}

// cachedBundle returns the cached bundle path for version, or "" when the
// cache is disabled or holds no regular file for it.
func (r *Resolver) cachedBundle(version string) string {
	dir := r.cfg.CacheDir()
	if dir == "" {
		return ""
	}
	p := filepath.Join(dir, version, BundleName)
	info, err := os.Stat(p)
	if err != nil || !info.Mode().IsRegular() {
		return ""
	}
	return p
}

func (r *Resolver) resolveArchive(ctx context.Context, version string) (Source, error) {
	timeout, err := r.cfg.ProbeTimeout()
	if err != nil {
		return nil, err
	}

	if err := r.probe(ctx, r.manifestURL(), timeout); err != nil {
		return nil, err
	}

	if version == config.LatestVersion {
		versions, err := r.fetchManifest(ctx)
		if err != nil {
			return nil, err
		}
		resolved, err := versions.ResolveLatest()
		if err != nil {
			return nil, err
		}
		if err := checkVersion(resolved); err != nil {
			return nil, fmt.Errorf("%s latest: %w", manifest.FileName, err)
		}
		r.logger.Debug("resolved latest", "version", resolved)
		version = resolved

		// The newest release may already be cached under its real name.
		if src, ok := r.fromCache(version); ok {
			return src, nil
		}
	}

	return RemoteArchive{URL: r.bundleURL(version), Version: version}, nil
}

func (r *Resolver) resolveTree(ctx context.Context, version string) (Source, error) {
	timeout, err := r.cfg.ProbeTimeout()
	if err != nil {
		return nil, err
	}

	ref := version
	if ref == config.LatestVersion {
		ref = r.cfg.Tree.DefaultRef
	}

	src := RemoteTree{
		APIRoot: config.ExpandRef(r.cfg.Tree.APIRoot, ref),
		RawRoot: config.ExpandRef(r.cfg.Tree.RawRoot, ref),
		Ref:     ref,
	}
	listing, err := config.WithRefQuery(src.APIRoot, ref)
	if err != nil {
		return nil, err
	}
	if err := r.probe(ctx, listing, timeout); err != nil {
		return nil, err
	}
	r.logger.Debug("using tree API", "api_root", src.APIRoot, "ref", ref)
	return src, nil
}

// probe checks that u answers. A rate-limit refusal is returned as is so the
// caller can tell the user when to retry; any other failure means the source
// is unavailable.
func (r *Resolver) probe(ctx context.Context, u string, timeout time.Duration) error {
	err := r.fetch.Check(ctx, u, timeout)
	if err == nil {
		return nil
	}
	var rl *transport.RateLimitedError
	if errors.As(err, &rl) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, u, err)
}

func (r *Resolver) manifestURL() string {
	return r.cfg.Archive.BaseURL + "/" + manifest.FileName
}

func (r *Resolver) bundleURL(version string) string {
	return r.cfg.Archive.BaseURL + "/" + url.PathEscape(version) + "/" + BundleName
}

func (r *Resolver) fetchManifest(ctx context.Context) (*manifest.Versions, error) {
	data, err := r.fetch.FetchBytes(ctx, r.manifestURL())
	if err != nil {
		return nil, err
	}
	return manifest.Parse(data)
}

// Listing is what --list-versions shows.
type Listing struct {
	Strategy config.Strategy

	// Versions are newest first. Under the tree strategy only cached refs
	// are listed.
	Versions []string
	Latest   string

	// Cached holds the versions with a bundle in the local cache.
	Cached map[string]bool

	// DefaultRef is what latest means under the tree strategy.
	DefaultRef string

	// Offline is set when the endpoint could not be read and only cached
	// versions are listed.
	Offline bool
}

// ListVersions reports the published versions together with the cached ones.
func (r *Resolver) ListVersions(ctx context.Context) (*Listing, error) {
	cached, err := r.CachedVersions()
	if err != nil {
		return nil, err
	}
	l := &Listing{Strategy: r.cfg.Strategy, Cached: make(map[string]bool, len(cached))}
	for _, v := range cached {
		l.Cached[v] = true
	}

	if r.cfg.Strategy == config.Tree {
		l.DefaultRef = r.cfg.Tree.DefaultRef
		l.Versions = cached
		return l, nil
	}

	versions, err := r.fetchManifest(ctx)
	if err != nil {
		if len(cached) == 0 {
			return nil, fmt.Errorf("listing versions: %w", err)
		}
		r.logger.Warn("release manifest unreachable, listing cached versions only", "error", err)
		l.Offline = true
		l.Versions = cached
		return l, nil
	}

	l.Versions = versions.Sorted()
	if latest, err := versions.ResolveLatest(); err == nil {
		l.Latest = latest
	}
	for _, v := range cached {
		if !versions.Contains(v) {
			l.Versions = append(l.Versions, v)
		}
	}
	return l, nil
}

// CachedVersions returns the names of cache subdirectories holding a bundle,
// newest first. A missing or disabled cache yields none.
func (r *Resolver) CachedVersions() ([]string, error) {
	dir := r.cfg.CacheDir()
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cache %s: %w", dir, err)
	}

	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if r.cachedBundle(e.Name()) != "" {
			out = append(out, e.Name())
		}
	}
	return sortVersions(out), nil
}

func sortVersions(vs []string) []string {
	m := manifest.Versions{Versions: vs}
	return m.Sorted()
}

// checkVersion rejects versions that would escape the cache directory or
// split a URL path segment.
func checkVersion(v string) error {
	if v == "." || v == ".." || strings.ContainsAny(v, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidVersion, v)
	}
	return nil
}

