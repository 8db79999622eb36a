// Package errs defines the error kinds surfaced by the session agent.
//
// Every failure leaving the coordinator is an *Error carrying a Kind and a
// human readable message. errors.Is matches by Kind, so callers can test
// against the sentinels below without caring about the message.
package errs

import (
	"errors"
	"fmt"
)

type Kind string

const (
	ParamError        Kind = "PARAM_ERROR"
	NetworkError      Kind = "NETWORK_ERROR"
	TimeoutError      Kind = "TIMEOUT_ERROR"
	ServerError       Kind = "SERVER_ERROR"
	RateLimited       Kind = "RATE_LIMITED"
	TokenExpired      Kind = "TOKEN_EXPIRED"
	AuthError         Kind = "AUTH_ERROR"
	CodeUsed          Kind = "CODE_USED"
	LoginInProgress   Kind = "LOGIN_IN_PROGRESS"
	RetryLimitReached Kind = "RETRY_LIMIT_REACHED"
	PhoneBindingError Kind = "PHONE_BINDING_ERROR"
	UnknownError      Kind = "UNKNOWN_ERROR"
)

var (
	ErrParam             = &Error{Kind: ParamError}
	ErrNetwork           = &Error{Kind: NetworkError}
	ErrTimeout           = &Error{Kind: TimeoutError}
	ErrServer            = &Error{Kind: ServerError}
	ErrRateLimited       = &Error{Kind: RateLimited}
	ErrTokenExpired      = &Error{Kind: TokenExpired}
	ErrAuth              = &Error{Kind: AuthError}
	ErrCodeUsed          = &Error{Kind: CodeUsed}
	ErrLoginInProgress   = &Error{Kind: LoginInProgress}
	ErrRetryLimitReached = &Error{Kind: RetryLimitReached}
	ErrPhoneBinding      = &Error{Kind: PhoneBindingError}
	ErrUnknown           = &Error{Kind: UnknownError}
)

type Error struct {
	Kind       Kind
	Message    string
	StatusCode int
	Err        error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithStatus records the HTTP status that produced the error.
func (e *Error) WithStatus(status int) *Error {
	e.StatusCode = status
	return e
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// UnknownError when err carries none.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return UnknownError
}

// MessageOf returns the message of the outermost *Error, falling back to
// err.Error().
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// Retryable reports whether the coordinator retries err with backoff.
func Retryable(err error) bool {
	switch KindOf(err) {
	case NetworkError, TimeoutError:
		return true
	case ServerError:
		var e *Error
		errors.As(err, &e)
		return e.StatusCode >= 500
	}
	return false
}

// SessionInvalid reports whether err means the cached credentials are gone.
func SessionInvalid(err error) bool {
	k := KindOf(err)
	return k == TokenExpired || k == AuthError
}
