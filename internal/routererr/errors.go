// Copyright 2025 James Ross
package routererr

import "fmt"

// Kind is the error taxonomy of §7: each kind carries a fixed retryability
// and a default backoff used when the caller does not override it.
type Kind string

const (
	KindSeqRetry  Kind = "ESEQ_RETRY"
	KindTimeout   Kind = "ETIMEOUT"
	KindCircuit   Kind = "ECIRCUIT"
	KindPolicy    Kind = "EPOLICY"
	KindBadInput  Kind = "EBAD_INPUT"
	KindContext   Kind = "ECONTEXT"
	KindAdapter   Kind = "EADAPTER"
)

// Retryable and DefaultBackoffMS are fixed per kind per §7.
var (
	retryable = map[Kind]bool{
		KindSeqRetry: true,
		KindTimeout:  true,
		KindCircuit:  true,
		KindPolicy:   false,
		KindBadInput: false,
		KindContext:  true,
		KindAdapter:  true,
	}
	defaultBackoffMS = map[Kind]int{
		KindSeqRetry: 20,
		KindTimeout:  100,
		KindCircuit:  200,
		KindContext:  50,
		KindAdapter:  80,
	}
)

// Error is the canonical admission/routing error. Any error payload returned
// to a client is rendered from this shape: {code, message, retryable,
// backoff_ms?, detail?}.
type Error struct {
	Kind      Kind
	Message   string
	Detail    string
	Retryable bool
	BackoffMS int
	HTTPStatus int
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New constructs an Error for kind with the fixed retryability/backoff from
// the taxonomy, attached to the given HTTP status.
func New(kind Kind, httpStatus int, message string) *Error {
	e := &Error{
		Kind:       kind,
		Message:    message,
		Retryable:  retryable[kind],
		HTTPStatus: httpStatus,
	}
	if b, ok := defaultBackoffMS[kind]; ok {
		e.BackoffMS = b
	}
	return e
}

// WithDetail attaches an opaque detail string (never surfaced to clients for
// abuse-prevention block reasons; those stay in telemetry only).
func (e *Error) WithDetail(detail string) *Error {
	ne := *e
	ne.Detail = detail
	return &ne
}

// Cancelled marks a deadline/context-cancellation outcome, which per §5 is
// distinct from a normal failure and is never retried internally.
func Cancelled() *Error {
	return &Error{Kind: KindContext, Message: "cancelled", Retryable: false, HTTPStatus: 499}
}

var (
	ErrSeqGap         = New(KindSeqRetry, 409, "fragment sequence gap")
	ErrAdapterTimeout = New(KindTimeout, 504, "adapter timeout")
	ErrCircuitOpen    = New(KindCircuit, 503, "circuit open")
	ErrPolicyDenied   = New(KindPolicy, 403, "policy denied")
	ErrBadInput       = New(KindBadInput, 400, "invalid frame or payload")
	ErrPromptTooLarge = New(KindBadInput, 413, "prompt exceeds maximum size")
	ErrContextExceeded = New(KindContext, 408, "window or context exceeded")
	ErrAdapter5xx     = New(KindAdapter, 502, "adapter error")
)

// Admission-layer rejections (§4.5) are backpressure outcomes; they reuse
// KindContext, always render as 429, and carry their reason in Detail, which
// the client payload includes.
type AdmissionReason string

const (
	ReasonRateLimit    AdmissionReason = "rate_limit"
	ReasonCostLimit    AdmissionReason = "cost_limit"
	ReasonAdmitTimeout AdmissionReason = "admit_timeout"
)

// AdmissionRejected builds the 429 returned when a bucket or the fair
// scheduler declines a request; reason is carried in Detail.
func AdmissionRejected(reason AdmissionReason) *Error {
	return &Error{
		Kind:       KindContext,
		Message:    "request rejected",
		Detail:     string(reason),
		Retryable:  true,
		BackoffMS:  50,
		HTTPStatus: 429,
	}
}
