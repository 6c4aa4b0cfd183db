package auth

import "errors"

var (
	// ErrNotFound means no magic link matches the presented token.
	ErrNotFound = errors.New("auth: magic link not found")
	// ErrExpired means the magic link is past its expiry.
	ErrExpired = errors.New("auth: magic link expired")
	// ErrAlreadyUsed means the magic link was redeemed before, possibly by a concurrent request.
	ErrAlreadyUsed = errors.New("auth: magic link already used")
	// ErrInvalid means no live session matches the presented token.
	ErrInvalid = errors.New("auth: session invalid")
	// ErrAbsent means the request carried no session token in any source.
	ErrAbsent = errors.New("auth: session token absent")
	// ErrUpstreamUnavailable marks failures of the store or the notifier.
	ErrUpstreamUnavailable = errors.New("auth: upstream unavailable")
	// ErrInvalidAddress is returned for addresses that fail validation.
	ErrInvalidAddress = errors.New("auth: invalid address")
)

type upstreamError struct {
	op  string
	err error
}

func (e *upstreamError) Error() string {
	return ErrUpstreamUnavailable.Error() + ": " + e.op + ": " + e.err.Error()
}

func (e *upstreamError) Is(target error) bool {
	return target == ErrUpstreamUnavailable
}

func (e *upstreamError) Unwrap() error {
	return e.err
}

// upstream tags err so that it matches ErrUpstreamUnavailable while keeping the cause.
func upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	return &upstreamError{op: op, err: err}
}
