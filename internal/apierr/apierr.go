// Package apierr defines the error taxonomy shared across the signaling
// endpoint, forwarder, and cluster router, and maps it to HTTP status codes
// at the boundary.
package apierr

import (
	"errors"
	"net/http"
)

// Sentinel errors named after the taxonomy in the error-handling design:
// client errors, capacity errors, upstream errors, internal errors.
var (
	ErrAlreadyPublishing = errors.New("stream already has a publisher")
	ErrDuplicateTrack    = errors.New("duplicate track of this kind")
	ErrStreamNotFound    = errors.New("stream has no publisher")
	ErrSessionNotFound   = errors.New("session does not exist")
	ErrMalformedOffer    = errors.New("malformed SDP offer")
	ErrMalformedCandidate = errors.New("malformed ICE candidate")
	ErrPolicyDenied      = errors.New("stream denied by policy")
	ErrUnauthorized      = errors.New("missing or invalid authorization")
	ErrNoCapacity        = errors.New("no node has capacity for this request")
	ErrCascadeFailed     = errors.New("cascade reforward did not complete in time")
)

// StatusCode maps a taxonomy error (or any error chain containing one) to
// the HTTP status spec.md assigns it. Unrecognized errors map to 500.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrPolicyDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrStreamNotFound), errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyPublishing):
		return http.StatusConflict
	case errors.Is(err, ErrMalformedOffer), errors.Is(err, ErrMalformedCandidate):
		return http.StatusBadRequest
	case errors.Is(err, ErrNoCapacity), errors.Is(err, ErrCascadeFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Reason returns the short, non-sensitive string sent in an HTTP error body.
// It never includes SDP bodies or other payload content.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
