package media

import "errors"

// Error kinds surfaced by the resolvers. Callers match them with errors.Is.
var (
	// ErrMalformedURL means no post identifier could be extracted.
	ErrMalformedURL = errors.New("malformed url")

	// ErrUpstreamUnavailable means an external process or API was unreachable or timed out.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrDownloadFailed marks a single media item that could not be materialized.
	ErrDownloadFailed = errors.New("download failed")
)
