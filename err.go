package sheetsync

import "errors"

var (
	// ErrNoEndpoint is returned by Config.Validate when Endpoint is empty.
	ErrNoEndpoint = errors.New("sheetsync: no endpoint configured")

	// ErrNoOrigin is returned when a relative endpoint has no origin to resolve against.
	ErrNoOrigin = errors.New("sheetsync: relative endpoint requires an origin")

	// ErrInvalidEndpoint wraps an endpoint or origin that cannot be parsed or
	// has an unsupported scheme.
	ErrInvalidEndpoint = errors.New("sheetsync: invalid endpoint")

	ErrUnknownTransport = errors.New("sheetsync: unknown transport")
	ErrInvalidConfig    = errors.New("sheetsync: invalid config")
)
