package kv

import "github.com/pkg/errors"

// ErrorKind classifies engine failures so callers can switch on kind
// instead of matching error strings.
type ErrorKind int

const (
	// KindNone is the zero value; never attached to a real error.
	KindNone ErrorKind = iota
	// KindInvalidKey marks a key that is empty, oversized, or malformed.
	KindInvalidKey
	// KindValueTooLarge marks a value exceeding the configured maximum.
	KindValueTooLarge
	// KindIo marks a filesystem or lock failure.
	KindIo
	// KindAlreadyLocked marks a log file already held by another process.
	KindAlreadyLocked
	// KindLogCorruption marks a line that failed to parse during replay.
	KindLogCorruption
)

// Error wraps an underlying cause with the ErrorKind the server needs to
// pick a wire-level response.
type Error struct {
	Kind  ErrorKind
	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.Kind.String()
	}
	return e.cause.Error()
}

func (e *Error) Unwrap() error { return e.cause }

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidKey:
		return "invalid key"
	case KindValueTooLarge:
		return "value too large"
	case KindIo:
		return "i/o error"
	case KindAlreadyLocked:
		return "already locked"
	case KindLogCorruption:
		return "log corruption"
	default:
		return "unknown error"
	}
}

func newErr(kind ErrorKind, msg string) error {
	return &Error{Kind: kind, cause: errors.New(msg)}
}

func wrapErr(kind ErrorKind, cause error, msg string) error {
	return &Error{Kind: kind, cause: errors.Wrap(cause, msg)}
}

// KindOf extracts the ErrorKind from err, returning KindNone for errors
// that did not originate in this package.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindNone
}

var (
	// ErrInvalidKey is returned for empty, oversized, or malformed keys.
	ErrInvalidKey = newErr(KindInvalidKey, "invalid key")
	// ErrValueTooLarge is returned when a value exceeds the configured maximum.
	ErrValueTooLarge = newErr(KindValueTooLarge, "value too large")
	// ErrAlreadyLocked is returned when the log file is held by another process.
	ErrAlreadyLocked = newErr(KindAlreadyLocked, "log file already locked by another process")
)
