package protocol

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure a session can observe. Handshake,
// transport and room logic all report through the same set of kinds.
type ErrorKind uint8

const (
	// KindClosed means the peer went away or an I/O operation failed.
	KindClosed ErrorKind = iota + 1
	// KindTimeout means no complete line arrived within the read window.
	KindTimeout
	// KindBadCrypto means an encrypted line failed to decode or authenticate.
	KindBadCrypto
	// KindProtocolViolation means a handshake step received an unexpected line.
	KindProtocolViolation
	// KindValidation means a room or user business rule rejected the request.
	KindValidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindClosed:
		return "closed"
	case KindTimeout:
		return "timeout"
	case KindBadCrypto:
		return "bad_crypto"
	case KindProtocolViolation:
		return "protocol_violation"
	case KindValidation:
		return "validation"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Fatal reports whether an error of this kind ends the connection.
func (k ErrorKind) Fatal() bool {
	return k == KindClosed || k == KindBadCrypto
}

// Error is the single error type shared by the handshake, the line transport
// and the room logic. Msg is the client-facing text for validation and
// protocol errors; Err is the underlying cause, if any.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the bare kind sentinels (ErrClosed, ErrTimeout, ...), so
// errors.Is(err, ErrValidation) holds for any validation error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Reply renders the error as the one-line ERRO response sent to the client.
func (e *Error) Reply() string {
	if e.Msg == "" {
		return Erro(MsgUnrecognized)
	}
	return Erro(e.Msg)
}

var (
	ErrClosed            = &Error{Kind: KindClosed}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrBadCrypto         = &Error{Kind: KindBadCrypto}
	ErrProtocolViolation = &Error{Kind: KindProtocolViolation}
	ErrValidation        = &Error{Kind: KindValidation}
)

// Closed wraps an I/O failure.
func Closed(err error) *Error {
	return &Error{Kind: KindClosed, Err: err}
}

// BadCrypto wraps a decode or decrypt failure.
func BadCrypto(err error) *Error {
	return &Error{Kind: KindBadCrypto, Err: err}
}

// Violation builds a protocol violation carrying the client-facing message.
func Violation(msg string) *Error {
	return &Error{Kind: KindProtocolViolation, Msg: msg}
}

// Validation builds a business-rule rejection carrying the client-facing message.
func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Msg: msg}
}

// KindOf extracts the kind of err. Errors outside the taxonomy count as
// KindClosed so callers tear the connection down instead of guessing.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindClosed
}
