package resolver

// Source is where one acquisition reads its files from. It is exactly one of
// LocalCache, RemoteArchive or RemoteTree, chosen once by Resolve and never
// re-evaluated while materializing.
type Source interface {
	// Kind names the variant for logs and reports.
	Kind() string

	source()
}

// LocalCache is a pre-staged bundle on local disk.
type LocalCache struct {
	Path    string // {cacheDir}/{version}/src.zip
	Version string
}

// RemoteArchive is a bundle served by the archive endpoint.
type RemoteArchive struct {
	URL     string // {base}/{version}/src.zip
	Version string
}

// RemoteTree is a source tree served file by file by a contents API.
type RemoteTree struct {
	APIRoot string // listing URL without the ref query
	RawRoot string // prefix for raw file content
	Ref     string
}

func (LocalCache) Kind() string    { return "local cache" }
func (RemoteArchive) Kind() string { return "archive endpoint" }
func (RemoteTree) Kind() string    { return "tree API" }

func (LocalCache) source()    {}
func (RemoteArchive) source() {}
func (RemoteTree) source()    {}

// VersionOf returns the version or ref a source serves.
func VersionOf(s Source) string {
	switch s := s.(type) {
	case LocalCache:
		return s.Version
	case RemoteArchive:
		return s.Version
	case RemoteTree:
		return s.Ref
	}
	return ""
}
