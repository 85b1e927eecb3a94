package transport

import (
	"fmt"
	"net/url"
	"strings"
)

// DetectPath is the detection endpoint path on the inference origin.
const DetectPath = "/ws"

// EndpointURL derives the WebSocket URL from an HTTP origin: https maps to
// wss, anything else to ws, and the path becomes /ws. A base that already
// uses ws or wss keeps its scheme, and a non-root path is kept with /ws
// appended unless it already ends in /ws.
func EndpointURL(base string) (string, error) {
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse endpoint %q: %w", base, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("endpoint %q has no host", base)
	}

	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}

	path := strings.TrimSuffix(u.Path, "/")
	if !strings.HasSuffix(path, DetectPath) {
		path += DetectPath
	}
	u.Path = path
	u.RawPath = ""
	u.Fragment = ""
	return u.String(), nil
}
