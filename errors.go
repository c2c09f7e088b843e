package apicache

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrClosed             = errors.New("apicache: client closed")
	ErrUnknownOperation   = errors.New("apicache: unknown operation")
	ErrInvalidOperation   = errors.New("apicache: invalid operation")
	ErrDuplicateOperation = errors.New("apicache: duplicate operation")
	ErrWrongKind          = errors.New("apicache: operation kind mismatch")
	ErrInvalidArgs        = errors.New("apicache: invalid arguments")

	// Kind sentinels; errors.Is(err, ErrAuth) matches any *Error of KindAuth.
	ErrTransport = errors.New("apicache: transport error")
	ErrDomain    = errors.New("apicache: domain error")
	ErrAuth      = errors.New("apicache: authentication error")
)

// ErrorKind classifies a failed call.
type ErrorKind uint8

const (
	// KindTransport: no response (network, timeout, cancelled). Never retried.
	KindTransport ErrorKind = iota + 1
	// KindDomain: the API answered with an error code, or with something that
	// is not an envelope.
	KindDomain
	// KindAuth: 401/403 or an authentication error code. Evicts the token.
	KindAuth
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindDomain:
		return "domain"
	case KindAuth:
		return "auth"
	default:
		return "unknown"
	}
}

const (
	CodeUnexpected = "UNEXPECTED_ERROR"
	msgUnexpected  = "unexpected error"
)

// Error is the error every failed request resolves to.
type Error struct {
	Kind    ErrorKind
	Code    string // envelope error code; empty for transport errors
	Message string // verbatim from the server, or "unexpected error"
	Status  int    // HTTP status; 0 when there was no response
	Err     error  // underlying cause, if any
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("apicache: ")
	b.WriteString(e.Kind.String())
	if e.Code != "" {
		b.WriteString(" ")
		b.WriteString(e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrTransport:
		return e.Kind == KindTransport
	case ErrDomain:
		return e.Kind == KindDomain
	case ErrAuth:
		return e.Kind == KindAuth
	}
	return false
}

// InvalidateError reports that tag generations could not be bumped. Local
// entries were still marked stale; other processes sharing the GenStore may
// keep serving their copies until their next successful validation.
type InvalidateError struct {
	Tags    []Tag
	BumpErr error
}

func (e *InvalidateError) Error() string {
	names := make([]string, len(e.Tags))
	for i, t := range e.Tags {
		names[i] = t.String()
	}
	return fmt.Sprintf("apicache: invalidate [%s]: gen bump failed: %v", strings.Join(names, " "), e.BumpErr)
}

func (e *InvalidateError) Unwrap() error { return e.BumpErr }
