// Package transport performs the GET requests behind every acquisition:
// redirects are followed by hand up to a hop limit, non-200 responses become
// typed errors, and binary downloads stream straight to disk.
package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultMaxRedirects bounds redirect chains.
	DefaultMaxRedirects = 10

	userAgent    = "kickstart"
	maxErrorBody = 256
)

// Client issues GET requests. It is not safe to mutate after New returns.
type Client struct {
	http         *http.Client
	maxRedirects int
	headers      http.Header
	logger       *slog.Logger
	now          func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client. Its redirect policy is
// replaced; everything else (transport, timeout, jar) is kept. A nil client
// leaves http.DefaultClient in place.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithMaxRedirects sets the redirect hop limit. Zero refuses all redirects.
func WithMaxRedirects(n int) Option {
	return func(cl *Client) {
		cl.maxRedirects = n
	}
}

// WithHeader adds a header sent on every request.
func WithHeader(key, value string) Option {
	return func(cl *Client) {
		cl.headers.Set(key, value)
	}
}

// WithLogger sets the logger used for per-request debug events.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = l
	}
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{
		http:         http.DefaultClient,
		maxRedirects: DefaultMaxRedirects,
		headers:      make(http.Header),
		now:          time.Now,
	}
	c.headers.Set("User-Agent", userAgent)
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	// Redirects are followed in get so that every hop is counted and logged.
	hc := *c.http
	hc.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	c.http = &hc
	return c
}

// FetchBytes returns the body of a successful GET.
func (c *Client) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", url, err)
	}
	return data, nil
}

// FetchText returns the body of a successful GET as a string.
func (c *Client) FetchText(ctx context.Context, url string) (string, error) {
	data, err := c.FetchBytes(ctx, url)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FetchToFile streams the body of a successful GET into destPath and returns
// the number of bytes written. If anything fails after destPath is created,
// the partial file is removed before the error is returned.
func (c *Client) FetchToFile(ctx context.Context, url, destPath string) (written int64, err error) {
	resp, err := c.get(ctx, url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	f, err := os.Create(destPath)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", destPath, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", destPath, cerr)
		}
		if err != nil {
			if rmErr := os.Remove(destPath); rmErr != nil && !os.IsNotExist(rmErr) {
				c.logger.Warn("removing partial download", "path", destPath, "error", rmErr)
			}
			written = 0
		}
	}()

	written, err = io.Copy(f, resp.Body)
	if err != nil {
		return written, fmt.Errorf("downloading %s: %w", url, err)
	}

	c.logger.Debug("downloaded", "url", url, "path", destPath, "bytes", written)
	return written, nil
}

// Probe reports whether url answers a GET with 200 within timeout. It never
// returns an error: timeouts, connection failures and non-200 responses all
// read as false.
func (c *Client) Probe(ctx context.Context, url string, timeout time.Duration) bool {
	return c.Check(ctx, url, timeout) == nil
}

// Check is Probe with the reason kept: nil when url answers 200 within
// timeout, otherwise the failure.
func (c *Client) Check(ctx context.Context, url string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.get(ctx, url)
	if err != nil {
		c.logger.Debug("probe failed", "url", url, "error", err)
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

// get issues a GET, following 301/302 (and 303/307/308) responses until a
// final response arrives. A final status other than 200 is returned as an
// error with the body already closed.
func (c *Client) get(ctx context.Context, rawURL string) (*http.Response, error) {
	current := rawURL
	for hop := 0; ; hop++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request for %s: %w", current, err)
		}
		for k, vs := range c.headers {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		c.logger.Debug("http get", "url", current, "hop", hop)
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("GET %s: %w", current, err)
		}

		if isRedirect(resp.StatusCode) {
			loc := resp.Header.Get("Location")
			drain(resp)
			if loc == "" {
				return nil, &StatusError{URL: current, StatusCode: resp.StatusCode, Status: resp.Status, Body: "redirect without Location header"}
			}
			if hop >= c.maxRedirects {
				return nil, fmt.Errorf("GET %s: %w (limit %d)", rawURL, ErrTooManyRedirects, c.maxRedirects)
			}
			next, err := req.URL.Parse(loc)
			if err != nil {
				return nil, fmt.Errorf("GET %s: invalid redirect location %q: %w", current, loc, err)
			}
			current = next.String()
			continue
		}

		if resp.StatusCode != http.StatusOK {
			err := c.classify(current, resp)
			drain(resp)
			return nil, err
		}
		return resp, nil
	}
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// classify turns a non-200 final response into a typed error.
func (c *Client) classify(url string, resp *http.Response) error {
	if reset, limited := c.rateLimit(resp); limited {
		return &RateLimitedError{URL: url, Reset: reset}
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		URL:        url,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(body)),
	}
}

// rateLimit reports whether resp is a rate-limit refusal: a 403 carrying
// rate-limit headers, or any 429. A 403 that reports remaining quota is a
// permission problem, not a rate limit.
func (c *Client) rateLimit(resp *http.Response) (time.Time, bool) {
	h := resp.Header
	resetHeader := h.Get("X-RateLimit-Reset")
	remaining := h.Get("X-RateLimit-Remaining")
	retryAfter := h.Get("Retry-After")

	switch resp.StatusCode {
	case http.StatusForbidden:
		if resetHeader == "" && remaining == "" && retryAfter == "" {
			return time.Time{}, false
		}
		if remaining != "" && remaining != "0" && retryAfter == "" {
			return time.Time{}, false
		}
	case http.StatusTooManyRequests:
	default:
		return time.Time{}, false
	}

	if secs, err := strconv.ParseInt(resetHeader, 10, 64); err == nil {
		return time.Unix(secs, 0), true
	}
	if secs, err := strconv.Atoi(retryAfter); err == nil {
		return c.now().Add(time.Duration(secs) * time.Second), true
	}
	if t, err := http.ParseTime(retryAfter); err == nil {
		return t, true
	}
	return time.Time{}, true
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
