package connconfig

import (
	"net/url"
	"regexp"
)

var websocketPathPattern = regexp.MustCompile(`^/api/v[0-9]+/wsock/websocket$`)

const websocketV1Path = "/api/v1/wsock/websocket"

// NormalizeURL rewrites an http(s) server URL into its ws(s) equivalent with
// the canonical websocket path, leaving an already-canonical path untouched.
func NormalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	if !websocketPathPattern.MatchString(u.Path) {
		u.Path = websocketV1Path
	}

	return u.String()
}

// BaseURL returns the HTTP(S) form of the configured server URL with no
// path, for use by REST clients such as the document store.
func (c *ServerConfig) BaseURL() string {
	u, err := url.Parse(c.TargetServer)
	if err != nil {
		return c.TargetServer
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = ""
	return u.String()
}
