package core

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an orchestration failure so outer layers can map it to a
// client-facing status without string matching.
type Kind int

const (
	// KindUnknown is the zero value for errors not produced by this module.
	KindUnknown Kind = iota
	// KindSessionNotFound means the session id was never issued.
	KindSessionNotFound
	// KindSessionExpired means the session existed but was evicted.
	KindSessionExpired
	// KindUnknownAgent means a forwarding request named an unregistered role.
	KindUnknownAgent
	// KindMalformedForwardingRequest means a forwarding JSON object lacked a mandatory key.
	KindMalformedForwardingRequest
	// KindToolNotFound means the model requested an unregistered tool.
	KindToolNotFound
	// KindToolExecutionFailure is absorbed into the transcript; never returned by the loop.
	KindToolExecutionFailure
	// KindExternalModelFailure wraps provider / network errors from a model call.
	KindExternalModelFailure
	// KindModelUnavailable means the requested model name is not in the allowed set.
	KindModelUnavailable
	// KindLoopBoundExceeded means a tool or forwarding loop hit its round cap.
	KindLoopBoundExceeded
	// KindDuplicateOrInvalid means a tool registration was rejected.
	KindDuplicateOrInvalid
)

var kindNames = map[Kind]string{
	KindUnknown:                    "Unknown",
	KindSessionNotFound:            "SessionNotFound",
	KindSessionExpired:             "SessionExpired",
	KindUnknownAgent:               "UnknownAgent",
	KindMalformedForwardingRequest: "MalformedForwardingRequest",
	KindToolNotFound:               "ToolNotFound",
	KindToolExecutionFailure:       "ToolExecutionFailure",
	KindExternalModelFailure:       "ExternalModelFailure",
	KindModelUnavailable:           "ModelUnavailable",
	KindLoopBoundExceeded:          "LoopBoundExceeded",
	KindDuplicateOrInvalid:         "DuplicateOrInvalid",
}

// String returns the stable name of the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// HTTPStatus returns the status code an API layer should use for the kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindSessionNotFound, KindUnknownAgent, KindToolNotFound:
		return http.StatusNotFound
	case KindSessionExpired:
		return http.StatusGone
	case KindMalformedForwardingRequest, KindModelUnavailable, KindDuplicateOrInvalid:
		return http.StatusBadRequest
	case KindExternalModelFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Sentinels for errors.Is comparisons. Errors created with NewError match the
// sentinel of the same kind.
var (
	ErrSessionNotFound            = &Error{Kind: KindSessionNotFound}
	ErrSessionExpired             = &Error{Kind: KindSessionExpired}
	ErrUnknownAgent               = &Error{Kind: KindUnknownAgent}
	ErrMalformedForwardingRequest = &Error{Kind: KindMalformedForwardingRequest}
	ErrToolNotFound               = &Error{Kind: KindToolNotFound}
	ErrToolExecutionFailure       = &Error{Kind: KindToolExecutionFailure}
	ErrExternalModelFailure       = &Error{Kind: KindExternalModelFailure}
	ErrModelUnavailable           = &Error{Kind: KindModelUnavailable}
	ErrLoopBoundExceeded          = &Error{Kind: KindLoopBoundExceeded}
	ErrDuplicateOrInvalid         = &Error{Kind: KindDuplicateOrInvalid}
)

// Error is the inspectable error type returned by sessions, tools, agents and
// the concierge router.
type Error struct {
	Kind Kind   // Classification
	Op   string // Operation that failed, e.g. "session.GetOrCreate"
	Msg  string // Human readable detail
	Err  error  // Optional wrapped cause
}

// NewError creates an *Error of the given kind.
func NewError(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// WrapError creates an *Error of the given kind wrapping cause.
func WrapError(kind Kind, op string, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...), Err: cause}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
