package arrivals

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/sony/gobreaker/v2"

	"tidbyt.dev/arrivals/downloader"
)

type Kind int

const (
	KindInternal Kind = iota
	KindInvalidRequest
	KindConfiguration
	KindUpstreamTimeout
	KindUpstreamUnavailable
	KindUpstreamProtocol
	KindStaticDataUnavailable
	KindMalformedEvent
)

func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request"
	case KindConfiguration:
		return "configuration_error"
	case KindUpstreamTimeout:
		return "upstream_timeout"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	case KindUpstreamProtocol:
		return "upstream_protocol_error"
	case KindStaticDataUnavailable:
		return "static_data_unavailable"
	case KindMalformedEvent:
		return "malformed_event"
	}
	return "internal_error"
}

// HTTP status code for failures of this kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case KindUpstreamUnavailable, KindStaticDataUnavailable:
		return http.StatusServiceUnavailable
	case KindUpstreamProtocol:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// Error is a failure classified by Kind. Op names the operation that
// failed, e.g. "fetching realtime feed".
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op
	}
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Matches any *Error of the same Kind, so errors.Is(err,
// &Error{Kind: KindUpstreamTimeout}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Kind of the first *Error in err's chain. Unclassified errors are
// internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Classifies a failed download. A 401 or 403 means the upstream
// rejected our credentials, which is a configuration problem rather
// than an outage.
func classifyFetchError(op string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	var statusErr *downloader.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return newError(KindConfiguration, op, err)
		}
		return newError(KindUpstreamProtocol, op, err)
	}

	var sizeErr *downloader.SizeError
	if errors.As(err, &sizeErr) {
		return newError(KindUpstreamProtocol, op, err)
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return newError(KindUpstreamUnavailable, op, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return newError(KindUpstreamTimeout, op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(KindUpstreamTimeout, op, err)
	}

	// Anything else on the way to the upstream: DNS, refused
	// connections, resets.
	return newError(KindUpstreamUnavailable, op, err)
}
