package sheetsync

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/formcanvas/sheetsync/pkg/connection"
)

// AgentPath is appended to the configured endpoint.
const AgentPath = "/agent"

const clientIDParam = "client_id"

var toWebsocketScheme = map[string]string{
	"http":                           connection.WebsocketScheme,
	"https":                          connection.SecureWebsocketScheme,
	connection.WebsocketScheme:       connection.WebsocketScheme,
	connection.SecureWebsocketScheme: connection.SecureWebsocketScheme,
}

// ResolveURL builds the WebSocket URL for endpoint.
//
// An absolute endpoint is used as is, with http and https mapped to ws and
// wss. A relative endpoint is resolved against origin. AgentPath is appended
// unless the path already ends with it, and client_id is set as a query
// parameter.
func ResolveURL(endpoint, origin, clientID string) (string, error) {
	if endpoint == "" {
		return "", ErrNoEndpoint
	}

	ref, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}

	u := ref
	if !ref.IsAbs() {
		if origin == "" {
			return "", fmt.Errorf("%w: %q", ErrNoOrigin, endpoint)
		}
		base, err := url.Parse(origin)
		if err != nil {
			return "", fmt.Errorf("%w: origin: %v", ErrInvalidEndpoint, err)
		}
		if !base.IsAbs() || base.Host == "" {
			return "", fmt.Errorf("%w: origin %q is not absolute", ErrInvalidEndpoint, origin)
		}
		u = base.ResolveReference(ref)
	}

	scheme, ok := toWebsocketScheme[strings.ToLower(u.Scheme)]
	if !ok {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidEndpoint, u.Scheme)
	}
	u.Scheme = scheme

	if !strings.HasSuffix(u.Path, AgentPath) {
		u.Path = strings.TrimSuffix(u.Path, "/") + AgentPath
	}
	u.RawPath = ""

	q := u.Query()
	q.Set(clientIDParam, clientID)
	u.RawQuery = q.Encode()
	u.Fragment = ""

	return u.String(), nil
}

// taskBaseURL derives the http base of the task endpoint from the resolved
// WebSocket URL: ws becomes http and the agent path and query are dropped.
func taskBaseURL(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case connection.WebsocketScheme:
		u.Scheme = "http"
	case connection.SecureWebsocketScheme:
		u.Scheme = "https"
	}
	u.Path = strings.TrimSuffix(u.Path, AgentPath)
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
