package transport

import (
	"errors"
	"fmt"
	"time"
)

// ErrTooManyRedirects is returned when a redirect chain exceeds the hop limit.
var ErrTooManyRedirects = errors.New("too many redirects")

// RateLimitedError indicates the remote refused the request because the
// caller exhausted its rate limit. Reset is zero when the server did not
// say when the limit lifts.
type RateLimitedError struct {
	URL   string
	Reset time.Time
}

func (e *RateLimitedError) Error() string {
	if e.Reset.IsZero() {
		return fmt.Sprintf("GET %s: rate limited", e.URL)
	}
	return fmt.Sprintf("GET %s: rate limited until %s", e.URL, e.Reset.Local().Format(time.Kitchen))
}

// StatusError is any final response other than 200 that is not a rate limit.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string // e.g. "404 Not Found"
	Body       string // leading bytes of the response body, if any
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("GET %s: HTTP %s", e.URL, e.Status)
	}
	return fmt.Sprintf("GET %s: HTTP %s: %s", e.URL, e.Status, e.Body)
}
