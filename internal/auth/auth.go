// Package auth locates the optional bearer credential for the tree API and
// builds HTTP clients that carry it.
package auth

import (
	"net/http"
	"os"
	"strings"

	"golang.org/x/oauth2"
)

// tokenEnvVars lists the environment variables checked for a token, in
// priority order.
var tokenEnvVars = []string{
	"GITHUB_TOKEN",
	"GH_TOKEN",
}

// Token returns the first non-empty token from the environment and reports
// whether one was found. A missing token is not an error: requests go out
// unauthenticated with a lower rate limit.
func Token() (string, bool) {
	for _, env := range tokenEnvVars {
		if v := os.Getenv(env); v != "" {
			return v, true
		}
	}
	return "", false
}

// TokenEnvVars returns the variable names Token consults, for hints.
func TokenEnvVars() []string {
	out := make([]string, len(tokenEnvVars))
	copy(out, tokenEnvVars)
	return out
}

// NewHTTPClient returns base wrapped so that requests to one of hosts carry
// "Authorization: Bearer <token>". Hosts are compared as URL hosts, port
// included; requests to any other host, such as a redirect target, go out
// without the credential. With an empty token or no hosts base is returned
// unchanged. A nil base means http.DefaultClient.
func NewHTTPClient(base *http.Client, token string, hosts ...string) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	if token == "" || len(hosts) == 0 {
		return base
	}

	rt := base.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}

	scoped := &scopedTransport{
		hosts: make(map[string]bool, len(hosts)),
		authed: &oauth2.Transport{
			Source: oauth2.ReuseTokenSource(nil, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})),
			Base:   rt,
		},
		plain: rt,
	}
	for _, h := range hosts {
		scoped.hosts[strings.ToLower(h)] = true
	}

	client := *base
	client.Transport = scoped
	return &client
}

// scopedTransport authorizes requests to its hosts only.
type scopedTransport struct {
	hosts  map[string]bool
	authed http.RoundTripper
	plain  http.RoundTripper
}

func (t *scopedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.hosts[strings.ToLower(req.URL.Host)] {
		return t.authed.RoundTrip(req)
	}
	return t.plain.RoundTrip(req)
}
