package broker

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Sentinel errors mapped by the API layer.
var (
	// ErrNotConfigured means required credentials or endpoints are
	// missing; surfaces as 503.
	ErrNotConfigured = errors.New("broker not configured")
	// ErrNotConnected means the venue session is down.
	ErrNotConnected = errors.New("broker not connected")
	// ErrNotSupported means the venue has no such operation.
	ErrNotSupported = errors.New("operation not supported by this venue")
	// ErrOrderNotFound surfaces as 404.
	ErrOrderNotFound = errors.New("order not found")
)

// ErrorKind classifies venue failures.
type ErrorKind string

const (
	KindConnectivity ErrorKind = "connectivity"
	KindAuth         ErrorKind = "authentication"
	KindRateLimit    ErrorKind = "rate_limit"
	KindRejection    ErrorKind = "venue_rejection"
	KindMalformed    ErrorKind = "malformed_response"
	KindTimeout      ErrorKind = "timeout"
)

// VenueError wraps a venue failure with its classification so callers
// can decide whether to retry without parsing message text.
type VenueError struct {
	Venue      string
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *VenueError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (HTTP %d): %s", e.Venue, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Venue, e.Kind, e.Message)
}

func (e *VenueError) Unwrap() error { return e.Err }

// NewVenueError builds a classified venue failure.
func NewVenueError(venue string, kind ErrorKind, message string, err error) *VenueError {
	return &VenueError{Venue: venue, Kind: kind, Message: message, Err: err}
}

// HTTPError classifies a non-2xx venue response by status code.
func HTTPError(venue string, status int, body string) *VenueError {
	return &VenueError{
		Venue:      venue,
		Kind:       kindFromStatus(status),
		StatusCode: status,
		Message:    body,
	}
}

func kindFromStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status == 429:
		return KindRateLimit
	case status >= 400 && status < 500:
		return KindRejection
	case status == 504:
		return KindTimeout
	default:
		return KindConnectivity
	}
}

// IsRetryable reports whether a failed call is worth repeating.
// Rate limits, connectivity drops, and timeouts are transient;
// authentication, rejection, and malformed payloads are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var ve *VenueError
	if errors.As(err, &ve) {
		switch ve.Kind {
		case KindRateLimit, KindConnectivity, KindTimeout:
			return true
		default:
			return false
		}
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "temporary failure") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "rate limit")
}
