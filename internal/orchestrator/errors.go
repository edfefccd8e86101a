package orchestrator

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/cbout22/kickstart/internal/auth"
	"github.com/cbout22/kickstart/internal/manifest"
	"github.com/cbout22/kickstart/internal/materializer"
	"github.com/cbout22/kickstart/internal/project"
	"github.com/cbout22/kickstart/internal/resolver"
	"github.com/cbout22/kickstart/internal/transport"
)

// Kind is the user-facing category of a failed run.
type Kind int

const (
	KindUnknown Kind = iota
	KindEmptyName
	KindInvalidCharacters
	KindDirectoryExists
	KindInvalidVersion
	KindRateLimited
	KindTransportError
	KindSourceUnavailable
	KindExtractionError
	KindFilesystemError
)

var kindNames = map[Kind]string{
	KindUnknown:           "Error",
	KindEmptyName:         "EmptyName",
	KindInvalidCharacters: "InvalidCharacters",
	KindDirectoryExists:   "DirectoryExists",
	KindInvalidVersion:    "InvalidVersion",
	KindRateLimited:       "RateLimited",
	KindTransportError:    "TransportError",
	KindSourceUnavailable: "SourceUnavailable",
	KindExtractionError:   "ExtractionError",
	KindFilesystemError:   "FilesystemError",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Preflight reports whether the kind is a name problem that a prompt can fix.
func (k Kind) Preflight() bool {
	switch k {
	case KindEmptyName, KindInvalidCharacters, KindDirectoryExists:
		return true
	}
	return false
}

// Classify maps an error from any pipeline stage to its Kind.
func Classify(err error) Kind {
	var (
		rl  *transport.RateLimitedError
		se  *transport.StatusError
		xe  *materializer.ExtractionError
		ve  *manifest.ValidationError
		ue  *url.Error
		ne  net.Error
		pe  *fs.PathError
		fai *Failure
	)
	switch {
	case err == nil:
		return KindUnknown
	case errors.As(err, &fai):
		return fai.Kind
	case errors.Is(err, project.ErrEmptyName):
		return KindEmptyName
	case errors.Is(err, project.ErrInvalidCharacters):
		return KindInvalidCharacters
	case errors.Is(err, project.ErrDirectoryExists):
		return KindDirectoryExists
	case errors.Is(err, resolver.ErrInvalidVersion):
		return KindInvalidVersion
	case errors.Is(err, resolver.ErrSourceUnavailable):
		return KindSourceUnavailable
	case errors.As(err, &rl):
		return KindRateLimited
	case errors.As(err, &xe):
		return KindExtractionError
	case errors.As(err, &se),
		errors.As(err, &ve),
		errors.Is(err, transport.ErrTooManyRedirects),
		errors.As(err, &ue),
		errors.As(err, &ne):
		return KindTransportError
	case errors.As(err, &pe):
		return KindFilesystemError
	}
	return KindUnknown
}

// Failure is the terminal Failed state of a run: the kind, the state the run
// was in when it failed, and the cause.
type Failure struct {
	Kind  Kind
	State State
	Err   error
}

func (f *Failure) Error() string {
	return f.Err.Error()
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Hint suggests what the user can do about the failure.
func (f *Failure) Hint() string {
	return hint(f.Kind, f.Err, time.Now())
}

func hint(kind Kind, err error, now time.Time) string {
	switch kind {
	case KindEmptyName:
		return "pass a project name, e.g. `kickstart my-app`"
	case KindInvalidCharacters:
		return "project names may only contain letters, digits, '-' and '_'"
	case KindDirectoryExists:
		return "choose another name or remove the existing directory"
	case KindInvalidVersion:
		return "run `kickstart --list-versions` to see the available versions"
	case KindRateLimited:
		msg := fmt.Sprintf("set %s to raise the API rate limit", auth.TokenEnvVars()[0])
		var rl *transport.RateLimitedError
		if errors.As(err, &rl) && !rl.Reset.IsZero() {
			msg += fmt.Sprintf(", or retry %s", humanize.RelTime(rl.Reset, now, "ago", "from now"))
		}
		return msg
	case KindTransportError:
		var se *transport.StatusError
		if errors.As(err, &se) && se.StatusCode == 404 {
			return "the requested version was not found; run `kickstart --list-versions`"
		}
		return "check your network connection and try again"
	case KindSourceUnavailable:
		return "the release endpoint did not respond; check your connection or the base URL setting"
	case KindExtractionError:
		return "the downloaded bundle could not be unpacked; try another version"
	case KindFilesystemError:
		var pe *fs.PathError
		if errors.As(err, &pe) {
			return fmt.Sprintf("check that %s is writable and the disk has free space", filepath.Dir(pe.Path))
		}
		return "check that the working directory is writable and the disk has free space"
	}
	return ""
}
