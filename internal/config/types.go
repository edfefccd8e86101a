package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// Strategy selects the network path a deployment fetches releases from.
// Exactly one strategy is active; the local release cache is always
// consulted first regardless of strategy.
type Strategy string

const (
	// Archive downloads {base}/{version}/src.zip from a release endpoint.
	Archive Strategy = "archive"
	// Tree walks a source-control contents API and fetches each file raw.
	Tree Strategy = "tree"
)

// ValidStrategies returns all supported strategies.
func ValidStrategies() []Strategy {
	return []Strategy{Archive, Tree}
}

// IsValid checks whether the strategy is one of the known strategies.
func (s Strategy) IsValid() bool {
	switch s {
	case Archive, Tree:
		return true
	}
	return false
}

// LatestVersion is the sentinel version meaning "most recent published".
const LatestVersion = "latest"

const (
	DefaultArchiveBaseURL = "https://releases.kickstart.dev/starter"
	DefaultTreeAPIRoot    = "https://api.github.com/repos/cbout22/kickstart-template/contents"
	DefaultTreeRawRoot    = "https://raw.githubusercontent.com/cbout22/kickstart-template/{ref}"
	DefaultTreeRef        = "main"
	DefaultCacheDir       = "releases"
	DefaultProbeTimeout   = "5s"
	DefaultMaxRedirects   = 10

	// RefPlaceholder is substituted with the resolved ref in tree roots.
	RefPlaceholder = "{ref}"
)

// Config is the process-wide configuration handed to the orchestrator at
// startup. Nothing downstream reads the environment directly.
type Config struct {
	Strategy         Strategy      `toml:"strategy"`
	Archive          ArchiveConfig `toml:"archive"`
	Tree             TreeConfig    `toml:"tree"`
	Cache            CacheConfig   `toml:"cache"`
	MaxRedirects     int           `toml:"max_redirects"`
	CleanupOnFailure bool          `toml:"cleanup_on_failure"`

	// WorkDir is where the project directory is created and where a relative
	// cache directory is resolved from.
	WorkDir string `toml:"-"`
	// Token is the optional bearer credential for the tree API.
	Token string `toml:"-"`
}

// ArchiveConfig describes the packaged-archive endpoint.
type ArchiveConfig struct {
	BaseURL      string `toml:"base_url"`
	ProbeTimeout string `toml:"probe_timeout"`
}

// TreeConfig describes a contents API and its raw-file counterpart.
// Either root may contain {ref}.
type TreeConfig struct {
	APIRoot    string `toml:"api_root"`
	RawRoot    string `toml:"raw_root"`
	DefaultRef string `toml:"default_ref"`
}

// CacheConfig locates the read-only local release cache. An empty Dir
// disables the cache.
type CacheConfig struct {
	Dir string `toml:"dir"`
}

// Default returns a Config populated with built-in defaults.
func Default() *Config {
	return &Config{
		Strategy: Archive,
		Archive: ArchiveConfig{
			BaseURL:      DefaultArchiveBaseURL,
			ProbeTimeout: DefaultProbeTimeout,
		},
		Tree: TreeConfig{
			APIRoot:    DefaultTreeAPIRoot,
			RawRoot:    DefaultTreeRawRoot,
			DefaultRef: DefaultTreeRef,
		},
		Cache:        CacheConfig{Dir: DefaultCacheDir},
		MaxRedirects: DefaultMaxRedirects,
		WorkDir:      ".",
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if !c.Strategy.IsValid() {
		return fmt.Errorf("invalid strategy %q: must be one of %v", c.Strategy, ValidStrategies())
	}
	if c.MaxRedirects < 0 {
		return fmt.Errorf("max_redirects must not be negative, got %d", c.MaxRedirects)
	}
	if _, err := c.ProbeTimeout(); err != nil {
		return err
	}

	switch c.Strategy {
	case Archive:
		if err := checkHTTPURL("archive.base_url", c.Archive.BaseURL); err != nil {
			return err
		}
	case Tree:
		if err := checkHTTPURL("tree.api_root", c.Tree.APIRoot); err != nil {
			return err
		}
		if err := checkHTTPURL("tree.raw_root", c.Tree.RawRoot); err != nil {
			return err
		}
		if c.Tree.DefaultRef == "" {
			return fmt.Errorf("tree.default_ref must not be empty")
		}
	}
	return nil
}

// ProbeTimeout parses the archive probe timeout.
func (c *Config) ProbeTimeout() (time.Duration, error) {
	raw := c.Archive.ProbeTimeout
	if raw == "" {
		raw = DefaultProbeTimeout
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid archive.probe_timeout %q: %w", raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("archive.probe_timeout must be positive, got %s", d)
	}
	return d, nil
}

// CacheDir returns the cache directory, resolving a relative path against
// WorkDir. It returns "" when the cache is disabled.
func (c *Config) CacheDir() string {
	if c.Cache.Dir == "" {
		return ""
	}
	if filepath.IsAbs(c.Cache.Dir) {
		return c.Cache.Dir
	}
	return filepath.Join(c.WorkDir, c.Cache.Dir)
}

// TargetDir returns the path of the project directory for name.
func (c *Config) TargetDir(name string) string {
	return filepath.Join(c.WorkDir, name)
}

// ExpandRef substitutes ref into a tree root template.
func ExpandRef(root, ref string) string {
	return strings.ReplaceAll(root, RefPlaceholder, url.PathEscape(ref))
}

func checkHTTPURL(key, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s must not be empty", key)
	}
	// The placeholder is not valid in a URL path until expanded.
	u, err := url.Parse(strings.ReplaceAll(raw, RefPlaceholder, "ref"))
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid %s %q: scheme must be http or https", key, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid %s %q: missing host", key, raw)
	}
	return nil
}

// WithRefQuery sets the ref query parameter on a listing URL, keeping any
// query it already carries.
func WithRefQuery(rawURL, ref string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing listing URL %q: %w", rawURL, err)
	}
	q := u.Query()
	q.Set("ref", ref)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
