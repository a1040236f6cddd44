// Package shared holds the error taxonomy used across the password manager
// core. Every error that crosses a package boundary is either one of these
// kinds or is treated as internal.
package shared

import "errors"

// Kind is the closed set of error variants callers can branch on.
type Kind int

const (
	KindInternal Kind = iota
	KindConfiguration
	KindDecryption
	KindInvalidCredentials
	KindInvalidToken
	KindExpiredToken
	KindConflict
	KindUnauthenticated
	KindNotFound
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration error"
	case KindDecryption:
		return "decryption failed"
	case KindInvalidCredentials:
		return "invalid credentials"
	case KindInvalidToken:
		return "invalid token"
	case KindExpiredToken:
		return "token expired"
	case KindConflict:
		return "conflict"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindNotFound:
		return "not found"
	case KindValidation:
		return "validation failed"
	default:
		return "internal error"
	}
}

// Error is a tagged error. Message is safe to show to clients; Err carries the
// underlying cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the per-kind sentinels below, so errors.Is(err, ErrDecryption)
// holds for any decryption error regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Message != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrConfiguration      = &Error{Kind: KindConfiguration}
	ErrDecryption         = &Error{Kind: KindDecryption}
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials}
	ErrInvalidToken       = &Error{Kind: KindInvalidToken}
	ErrExpiredToken       = &Error{Kind: KindExpiredToken}
	ErrConflict           = &Error{Kind: KindConflict}
	ErrUnauthenticated    = &Error{Kind: KindUnauthenticated}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrValidation         = &Error{Kind: KindValidation}
)

// KindOf returns the kind of err, or KindInternal for untagged errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the client-safe message of err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal && e.Kind != KindConfiguration {
		if e.Message != "" {
			return e.Message
		}
		return e.Kind.String()
	}
	return "internal server error"
}

func ConfigurationError(msg string) error {
	return &Error{Kind: KindConfiguration, Message: msg}
}

func DecryptionError(cause error) error {
	return &Error{Kind: KindDecryption, Message: "failed to decrypt entry", Err: cause}
}

func InvalidCredentialsError() error {
	return &Error{Kind: KindInvalidCredentials, Message: "invalid credentials"}
}

func InvalidTokenError(cause error) error {
	return &Error{Kind: KindInvalidToken, Message: "invalid token", Err: cause}
}

func ExpiredTokenError() error {
	return &Error{Kind: KindExpiredToken, Message: "token expired"}
}

func ConflictError(msg string) error {
	return &Error{Kind: KindConflict, Message: msg}
}

func UnauthenticatedError(msg string) error {
	return &Error{Kind: KindUnauthenticated, Message: msg}
}

func NotFoundError(msg string) error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func ValidationError(msg string) error {
	return &Error{Kind: KindValidation, Message: msg}
}

func InternalError(msg string, cause error) error {
	return &Error{Kind: KindInternal, Message: msg, Err: cause}
}
