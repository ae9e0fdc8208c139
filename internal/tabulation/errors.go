package tabulation

import (
	"errors"
	"fmt"
)

// ValidationError is detected client-side and never sent over the network.
type ValidationError struct {
	Field     string
	Condition Condition
	Msg       string
}

func (e *ValidationError) Error() string {
	if e.Condition != "" || e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

type AuthReason string

const (
	AuthSession           AuthReason = "session"
	AuthForbidden         AuthReason = "forbidden"
	AuthRefCodeInvalid    AuthReason = "ref-code-invalid"
	AuthRefCodeUnverified AuthReason = "ref-code-unverified"
)

// AuthorizationError covers expired sessions and rejected referee codes.
type AuthorizationError struct {
	Reason AuthReason
	Msg    string
	Err    error
}

func (e *AuthorizationError) Error() string {
	switch e.Reason {
	case AuthSession:
		return "session expired, please sign in again: " + e.Msg
	case AuthRefCodeInvalid:
		return "referee code does not match"
	case AuthRefCodeUnverified:
		return "referee code could not be verified, check the connection and try again"
	}
	return "not permitted: " + e.Msg
}

func (e *AuthorizationError) Unwrap() error { return e.Err }

// AlreadyLockedError means the server already froze or submitted the record.
type AlreadyLockedError struct {
	Msg string
}

func (e *AlreadyLockedError) Error() string { return "tabulation already submitted: " + e.Msg }

type NotFoundError struct {
	Msg string
}

func (e *NotFoundError) Error() string { return "not found: " + e.Msg }

// TransportError signals a failed or unreachable network; it drives offline degradation.
type TransportError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: server responded %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
