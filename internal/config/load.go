package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix namespaces environment overrides, e.g. KICKSTART_CACHE_DIR.
	EnvPrefix = "KICKSTART"

	DefaultConfigFile = "config.toml"
	appDirName        = "kickstart"
)

// Keys shared by the TOML file, the environment and the command line.
const (
	KeyStrategy         = "strategy"
	KeyArchiveBaseURL   = "archive.base_url"
	KeyProbeTimeout     = "archive.probe_timeout"
	KeyTreeAPIRoot      = "tree.api_root"
	KeyTreeRawRoot      = "tree.raw_root"
	KeyTreeDefaultRef   = "tree.default_ref"
	KeyCacheDir         = "cache.dir"
	KeyMaxRedirects     = "max_redirects"
	KeyCleanupOnFailure = "cleanup_on_failure"
)

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"strategy":           KeyStrategy,
	"base-url":           KeyArchiveBaseURL,
	"cache-dir":          KeyCacheDir,
	"cleanup-on-failure": KeyCleanupOnFailure,
}

// DefaultFilePath returns the per-user config file location
// (e.g. ~/.config/kickstart/config.toml).
func DefaultFilePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", "."+appDirName, DefaultConfigFile)
	}
	return filepath.Join(dir, appDirName, DefaultConfigFile)
}

// LoadFile decodes a TOML config file on top of cfg. Keys absent from the
// file keep their current values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("parsing config %s: unknown key %q", path, undecoded[0].String())
	}
	return nil
}

// Load builds the effective configuration. Sources, lowest precedence first:
// built-in defaults, the TOML file, KICKSTART_* environment variables, then
// flags in the given set that were explicitly changed.
//
// An empty path means DefaultFilePath, which may be absent. An explicit path
// must exist.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFilePath()
	}
	if err := LoadFile(path, cfg); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyStrategy, string(cfg.Strategy))
	v.SetDefault(KeyArchiveBaseURL, cfg.Archive.BaseURL)
	v.SetDefault(KeyProbeTimeout, cfg.Archive.ProbeTimeout)
	v.SetDefault(KeyTreeAPIRoot, cfg.Tree.APIRoot)
	v.SetDefault(KeyTreeRawRoot, cfg.Tree.RawRoot)
	v.SetDefault(KeyTreeDefaultRef, cfg.Tree.DefaultRef)
	v.SetDefault(KeyCacheDir, cfg.Cache.Dir)
	v.SetDefault(KeyMaxRedirects, cfg.MaxRedirects)
	v.SetDefault(KeyCleanupOnFailure, cfg.CleanupOnFailure)

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("binding flag --%s: %w", name, err)
			}
		}
	}

	cfg.Strategy = Strategy(strings.ToLower(v.GetString(KeyStrategy)))
	cfg.Archive.BaseURL = strings.TrimRight(v.GetString(KeyArchiveBaseURL), "/")
	cfg.Archive.ProbeTimeout = v.GetString(KeyProbeTimeout)
	cfg.Tree.APIRoot = strings.TrimRight(v.GetString(KeyTreeAPIRoot), "/")
	cfg.Tree.RawRoot = strings.TrimRight(v.GetString(KeyTreeRawRoot), "/")
	cfg.Tree.DefaultRef = v.GetString(KeyTreeDefaultRef)
	cfg.Cache.Dir = v.GetString(KeyCacheDir)
	cfg.MaxRedirects = v.GetInt(KeyMaxRedirects)
	cfg.CleanupOnFailure = v.GetBool(KeyCleanupOnFailure)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

