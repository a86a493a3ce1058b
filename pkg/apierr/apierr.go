// Package apierr defines the gateway-wide error taxonomy (spec §7) as
// Go sentinel errors, following Go convention of explicit error
// values over an exception hierarchy.
package apierr

import "errors"

// Kind is one of the closed taxonomy of failure reasons the gateway
// can surface to a caller. Kind values are never exposed verbatim to
// the external-provider caller (see ErrKind in pkg/provider).
type Kind int

const (
	KindNone Kind = iota
	KindAgentUnknown
	KindRateLimited
	KindRejectedFull
	KindBackpressureRetry
	KindUpstreamTimeout
	KindUpstreamUnavailable
	KindUpstreamBadResponse
	KindCancelled
	KindInternalInvariantViolation
)

func (k Kind) String() string {
	switch k {
	case KindAgentUnknown:
		return "AgentUnknown"
	case KindRateLimited:
		return "RateLimited"
	case KindRejectedFull:
		return "RejectedFull"
	case KindBackpressureRetry:
		return "BackpressureRetry"
	case KindUpstreamTimeout:
		return "UpstreamTimeout"
	case KindUpstreamUnavailable:
		return "UpstreamUnavailable"
	case KindUpstreamBadResponse:
		return "UpstreamBadResponse"
	case KindCancelled:
		return "Cancelled"
	case KindInternalInvariantViolation:
		return "InternalInvariantViolation"
	default:
		return "None"
	}
}

// Error is a taxonomy-carrying error. RequestID lets operators
// correlate a failure with the audit log (spec §7).
type Error struct {
	Kind       Kind
	RequestID  string
	RetryAfter int // seconds, only meaningful for RateLimited/BackpressureRetry/RejectedFull
	msg        string
}

func (e *Error) Error() string {
	if e.msg != "" {
		return e.msg
	}
	return e.Kind.String()
}

// New builds a taxonomy error with a message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

// WithRequestID attaches a request id for audit correlation.
func (e *Error) WithRequestID(id string) *Error {
	e.RequestID = id
	return e
}

// WithRetryAfter attaches a retry-after hint in seconds.
func (e *Error) WithRetryAfter(s int) *Error {
	e.RetryAfter = s
	return e
}

// Is supports errors.Is comparison by Kind, so callers can write
// errors.Is(err, apierr.New(apierr.KindRejectedFull, "")).
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return te.Kind == e.Kind
	}
	return false
}

// KindOf extracts the Kind from err, or KindNone if err does not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindNone
}
