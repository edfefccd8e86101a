package resolver

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbout22/kickstart/internal/config"
	"github.com/cbout22/kickstart/internal/transport"
)

// newTestServer creates an httptest.Server serving the given routes and
// counting every request, routed or not.
func newTestServer(t *testing.T, routes map[string]func(w http.ResponseWriter, r *http.Request)) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if handler, ok := routes[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		t.Logf("unhandled request: %s %s", r.Method, r.URL)
		http.NotFound(w, r)
	}))
	t.Cleanup(ts.Close)
	return ts, &hits
}

func serveJSON(body string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}
}

// newTestConfig returns an archive-strategy config rooted in a temp dir.
func newTestConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.WorkDir = t.TempDir()
	cfg.Archive.BaseURL = baseURL
	cfg.Archive.ProbeTimeout = "2s"
	return cfg
}

// stageBundle places a bundle at {cache}/{version}/src.zip.
func stageBundle(t *testing.T, cfg *config.Config, version string) string {
	t.Helper()
	dir := filepath.Join(cfg.CacheDir(), version)
	require.NoError(t, os.MkdirAll(dir, 0755))
	p := filepath.Join(dir, BundleName)
	require.NoError(t, os.WriteFile(p, []byte("PK"), 0644))
	return p
}

func newResolver(cfg *config.Config, ts *httptest.Server) *Resolver {
	return New(cfg, transport.New(transport.WithHTTPClient(ts.Client())), nil)
}

func TestResolve_LatestFromCacheMakesNoRequests(t *testing.T) {
	t.Parallel()
	ts, hits := newTestServer(t, nil)
	cfg := newTestConfig(t, ts.URL)
	want := stageBundle(t, cfg, config.LatestVersion)

	src, err := newResolver(cfg, ts).Resolve(context.Background(), config.LatestVersion)
	require.NoError(t, err)
	assert.Equal(t, LocalCache{Path: want, Version: config.LatestVersion}, src)
	assert.Zero(t, hits.Load(), "a cached bundle must not touch the network")
}

func TestResolve_EmptyVersionMeansLatest(t *testing.T) {
	t.Parallel()
	ts, hits := newTestServer(t, nil)
	cfg := newTestConfig(t, ts.URL)
	stageBundle(t, cfg, config.LatestVersion)

	src, err := newResolver(cfg, ts).Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.IsType(t, LocalCache{}, src)
	assert.Zero(t, hits.Load())
}

func TestResolve_CachedVersionUnderTreeStrategy(t *testing.T) {
	t.Parallel()
	ts, hits := newTestServer(t, nil)
	cfg := newTestConfig(t, ts.URL)
	cfg.Strategy = config.Tree
	cfg.Tree.APIRoot = ts.URL + "/contents"
	cfg.Tree.RawRoot = ts.URL + "/raw/{ref}"
	stageBundle(t, cfg, "1.0.0")

	src, err := newResolver(cfg, ts).Resolve(context.Background(), "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "local cache", src.Kind())
	assert.Zero(t, hits.Load())
}

func TestResolve_CacheDirectoryWithoutBundleIsIgnored(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"/versions.json": serveJSON(`{"versions":["1.0.0"]}`),
	})
	cfg := newTestConfig(t, ts.URL)
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.CacheDir(), "1.0.0", BundleName), 0755))

	src, err := newResolver(cfg, ts).Resolve(context.Background(), "1.0.0")
	require.NoError(t, err)
	assert.IsType(t, RemoteArchive{}, src)
}

func TestResolve_DisabledCache(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"/versions.json": serveJSON(`{"versions":["1.0.0"]}`),
	})
	cfg := newTestConfig(t, ts.URL)
	stageBundle(t, cfg, "1.0.0")
	cfg.Cache.Dir = ""

	src, err := newResolver(cfg, ts).Resolve(context.Background(), "1.0.0")
	require.NoError(t, err)
	assert.IsType(t, RemoteArchive{}, src)
}

func TestResolve_ArchiveExplicitVersion(t *testing.T) {
	t.Parallel()
	ts, hits := newTestServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"/versions.json": serveJSON(`{"versions":["1.0.0","1.1.0"],"latest":"1.1.0"}`),
	})
	cfg := newTestConfig(t, ts.URL)

	src, err := newResolver(cfg, ts).Resolve(context.Background(), "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, RemoteArchive{URL: ts.URL + "/1.0.0/src.zip", Version: "1.0.0"}, src)
	assert.Equal(t, int32(1), hits.Load(), "only the probe is issued")
}

func TestResolve_ArchiveLatestUsesManifestField(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"/versions.json": serveJSON(`{"versions":["1.0.0","2.0.0"],"latest":"1.0.0"}`),
	})
	cfg := newTestConfig(t, ts.URL)

	src, err := newResolver(cfg, ts).Resolve(context.Background(), config.LatestVersion)
	require.NoError(t, err)
	assert.Equal(t, RemoteArchive{URL: ts.URL + "/1.0.0/src.zip", Version: "1.0.0"}, src)
}

func TestResolve_ArchiveLatestFallsBackToHighestSemver(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"/versions.json": serveJSON(`{"versions":["1.9.0","1.10.0","1.2.0"]}`),
	})
	cfg := newTestConfig(t, ts.URL)

	src, err := newResolver(cfg, ts).Resolve(context.Background(), config.LatestVersion)
	require.NoError(t, err)
	assert.Equal(t, "1.10.0", VersionOf(src))
}

func TestResolve_ArchiveLatestPrefersCachedResolvedVersion(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"/versions.json": serveJSON(`{"versions":["1.0.0","2.0.0"],"latest":"2.0.0"}`),
	})
	cfg := newTestConfig(t, ts.URL)
	want := stageBundle(t, cfg, "2.0.0")

	src, err := newResolver(cfg, ts).Resolve(context.Background(), config.LatestVersion)
	require.NoError(t, err)
	assert.Equal(t, LocalCache{Path: want, Version: "2.0.0"}, src)
}

func TestResolve_ArchiveLatestInvalidManifest(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"/versions.json": serveJSON(`{"latest":"1.0.0"}`),
	})
	cfg := newTestConfig(t, ts.URL)

	_, err := newResolver(cfg, ts).Resolve(context.Background(), config.LatestVersion)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "versions.json")
}

func TestResolve_ArchiveUnreachable(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"/versions.json": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		},
	})
	cfg := newTestConfig(t, ts.URL)

	_, err := newResolver(cfg, ts).Resolve(context.Background(), "1.0.0")
	require.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestResolve_ArchiveProbeTimeout(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"/versions.json": func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		},
	})
	cfg := newTestConfig(t, ts.URL)
	cfg.Archive.ProbeTimeout = "50ms"

	_, err := newResolver(cfg, ts).Resolve(context.Background(), "1.0.0")
	require.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestResolve_TreeLatestUsesDefaultRef(t *testing.T) {
	t.Parallel()
	var gotRef string
	ts, _ := newTestServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"/repos/acme/starter/contents": func(w http.ResponseWriter, r *http.Request) {
			gotRef = r.URL.Query().Get("ref")
			fmt.Fprint(w, `[]`)
		},
	})
	cfg := newTestConfig(t, ts.URL)
	cfg.Strategy = config.Tree
	cfg.Tree.APIRoot = ts.URL + "/repos/acme/starter/contents"
	cfg.Tree.RawRoot = ts.URL + "/raw/acme/starter/{ref}"
	cfg.Tree.DefaultRef = "trunk"

	src, err := newResolver(cfg, ts).Resolve(context.Background(), config.LatestVersion)
	require.NoError(t, err)
	assert.Equal(t, RemoteTree{
		APIRoot: ts.URL + "/repos/acme/starter/contents",
		RawRoot: ts.URL + "/raw/acme/starter/trunk",
		Ref:     "trunk",
	}, src)
	assert.Equal(t, "trunk", gotRef)
}

func TestResolve_TreeExplicitRefUnavailable(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t, nil)
	cfg := newTestConfig(t, ts.URL)
	cfg.Strategy = config.Tree
	cfg.Tree.APIRoot = ts.URL + "/contents"
	cfg.Tree.RawRoot = ts.URL + "/raw/{ref}"

	_, err := newResolver(cfg, ts).Resolve(context.Background(), "v9")
	require.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestResolve_InvalidVersion(t *testing.T) {
	t.Parallel()
	ts, hits := newTestServer(t, nil)
	cfg := newTestConfig(t, ts.URL)

	for _, v := range []string{"..", ".", "../1.0.0", `1.0\x`, "a/b"} {
		_, err := newResolver(cfg, ts).Resolve(context.Background(), v)
		assert.ErrorIs(t, err, ErrInvalidVersion, "Resolve(%q)", v)
	}
	assert.Zero(t, hits.Load())
}

func TestListVersions_Archive(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"/versions.json": serveJSON(`{"versions":["1.0.0","1.2.0","nightly"],"latest":"1.2.0"}`),
	})
	cfg := newTestConfig(t, ts.URL)
	stageBundle(t, cfg, "1.0.0")
	stageBundle(t, cfg, "0.1.0")
	stageBundle(t, cfg, config.LatestVersion)

	l, err := newResolver(cfg, ts).ListVersions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, config.Archive, l.Strategy)
	assert.Equal(t, "1.2.0", l.Latest)
	assert.Equal(t, []string{"1.2.0", "1.0.0", "nightly", "0.1.0", config.LatestVersion}, l.Versions)
	assert.True(t, l.Cached["1.0.0"])
	assert.False(t, l.Cached["1.2.0"])
	assert.False(t, l.Offline)
}

func TestListVersions_OfflineFallsBackToCache(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t, nil)
	cfg := newTestConfig(t, ts.URL)
	stageBundle(t, cfg, "1.0.0")

	l, err := newResolver(cfg, ts).ListVersions(context.Background())
	require.NoError(t, err)
	assert.True(t, l.Offline)
	assert.Equal(t, []string{"1.0.0"}, l.Versions)
}

func TestListVersions_UnreachableWithoutCache(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t, nil)
	cfg := newTestConfig(t, ts.URL)

	_, err := newResolver(cfg, ts).ListVersions(context.Background())
	var se *transport.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
}

func TestListVersions_Tree(t *testing.T) {
	t.Parallel()
	ts, hits := newTestServer(t, nil)
	cfg := newTestConfig(t, ts.URL)
	cfg.Strategy = config.Tree
	cfg.Tree.DefaultRef = "develop"

	l, err := newResolver(cfg, ts).ListVersions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "develop", l.DefaultRef)
	assert.Empty(t, l.Versions)
	assert.Zero(t, hits.Load())
}

func TestCachedVersions_MissingCache(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.WorkDir = t.TempDir()

	got, err := New(cfg, nil, nil).CachedVersions()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestVersionOf(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "1.0.0", VersionOf(LocalCache{Version: "1.0.0"}))
	assert.Equal(t, "2.0.0", VersionOf(RemoteArchive{Version: "2.0.0"}))
	assert.Equal(t, "main", VersionOf(RemoteTree{Ref: "main"}))
}

func TestResolve_RateLimitedProbeIsNotUnavailable(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"/contents": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", "1893456000")
			w.WriteHeader(http.StatusForbidden)
		},
	})
	cfg := newTestConfig(t, ts.URL)
	cfg.Strategy = config.Tree
	cfg.Tree.APIRoot = ts.URL + "/contents"
	cfg.Tree.RawRoot = ts.URL + "/raw/{ref}"

	_, err := newResolver(cfg, ts).Resolve(context.Background(), config.LatestVersion)
	var rl *transport.RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.NotErrorIs(t, err, ErrSourceUnavailable)
}
