package teapi

import (
	"fmt"
	"time"
)

// TransportError reports that a request never produced an HTTP response
// (DNS failure, refused connection, timeout).
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: GET %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HTTPError reports a non-2xx, non-429 status.
type HTTPError struct {
	Endpoint string
	Status   int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: GET %s", e.Status, e.Endpoint)
}

// RateLimitError reports that the API returned HTTP 429 and the single
// post-cooldown retry also failed. There is deliberately no retry budget
// beyond one: the limit reflects the provider's documented 1 req/s policy,
// not a tunable.
type RateLimitError struct {
	Endpoint string
	Cooldown time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: GET %s (retry after %s cooldown also failed)", e.Endpoint, e.Cooldown)
}

// ShapeError reports a payload that decoded to something other than the
// documented shape, or is missing a required field.
type ShapeError struct {
	Endpoint string
	Detail   string
	Err      error
}

func (e *ShapeError) Error() string {
	switch {
	case e.Err != nil && e.Detail != "":
		return fmt.Sprintf("payload shape: %s: %s: %v", e.Endpoint, e.Detail, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("payload shape: %s: %v", e.Endpoint, e.Err)
	default:
		return fmt.Sprintf("payload shape: %s: %s", e.Endpoint, e.Detail)
	}
}

func (e *ShapeError) Unwrap() error { return e.Err }
