package errors

import (
	"errors"
	"fmt"
)

// RejectCode identifies why a logon (or an established session) was
// refused. The numeric values are part of the wire protocol.
type RejectCode uint8

const (
	CodeHashTimeout        RejectCode = 1
	CodeVersionTooLow      RejectCode = 2
	CodeBanned             RejectCode = 3
	CodePersistedIDClash   RejectCode = 4
	CodeInactiveTimeout    RejectCode = 5
	CodeRegenerationFailed RejectCode = 6
	CodeInternal           RejectCode = 255
)

func (c RejectCode) String() string {
	switch c {
	case CodeHashTimeout:
		return "HASH_TIMEOUT"
	case CodeVersionTooLow:
		return "VERSION_TOO_LOW"
	case CodeBanned:
		return "BANNED"
	case CodePersistedIDClash:
		return "PERSISTED_ID_CLASH"
	case CodeInactiveTimeout:
		return "INACTIVE_TIMEOUT"
	case CodeRegenerationFailed:
		return "REGENERATION_FAILED"
	default:
		return "INTERNAL"
	}
}

// Rejection is the only failure a client ever sees. It is encoded as a
// REJECT_LOGON frame; ban details are only present for CodeBanned.
type Rejection struct {
	Code         RejectCode
	Reason       string
	BanMagnitude uint8
	BanSeconds   uint32
	cause        error
}

// Error implements the error interface
func (e *Rejection) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Reason, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

// Unwrap returns the underlying error
func (e *Rejection) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the rejection
func (e *Rejection) WithCause(err error) *Rejection {
	e.cause = err
	return e
}

// WithBan attaches the ban tier and remaining seconds.
func (e *Rejection) WithBan(magnitude uint8, seconds uint32) *Rejection {
	e.BanMagnitude = magnitude
	e.BanSeconds = seconds
	return e
}

// HasBan reports whether ban details travel with the rejection.
func (e *Rejection) HasBan() bool {
	return e.Code == CodeBanned
}

// New creates a new Rejection
func New(code RejectCode, reason string) *Rejection {
	return &Rejection{
		Code:   code,
		Reason: reason,
	}
}

// Wrap wraps an existing error with a Rejection
func Wrap(code RejectCode, reason string, cause error) *Rejection {
	return &Rejection{
		Code:   code,
		Reason: reason,
		cause:  cause,
	}
}

// Common rejection constructors

func HashTimeout() *Rejection {
	return New(CodeHashTimeout, "Hash timed out, please reconnect fresh")
}

func VersionTooLow(got, minimum uint32) *Rejection {
	return New(CodeVersionTooLow, fmt.Sprintf("Client version %d is too old, version %d or newer is required; please update", got, minimum))
}

func Banned(magnitude uint8, seconds uint32) *Rejection {
	return New(CodeBanned, "You have been temporarily banned for bad behaviour").WithBan(magnitude, seconds)
}

func PersistedIDClash() *Rejection {
	return New(CodePersistedIDClash, "Identity is already in use, please reinstall the application")
}

func InactiveTimeout() *Rejection {
	return New(CodeInactiveTimeout, "Disconnected for inactivity, too many conversations were not accepted")
}

func RegenerationFailed(status int, reason string) *Rejection {
	return New(CodeRegenerationFailed, fmt.Sprintf("Reputation regeneration payment could not be verified; please contact customer support.\n\n(%d) %s.", status, reason))
}

func Internal(cause error) *Rejection {
	return Wrap(CodeInternal, "Internal server error, please try again later", cause)
}

// IsRejection checks if an error is a Rejection
func IsRejection(err error) bool {
	var rej *Rejection
	return errors.As(err, &rej)
}

// AsRejection converts an error to a Rejection if possible
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// GetCode returns the reject code if the error is a Rejection, otherwise
// returns CodeInternal
func GetCode(err error) RejectCode {
	if rej, ok := AsRejection(err); ok {
		return rej.Code
	}
	return CodeInternal
}

// VerificationError is returned by external verifiers (payment receipts)
// that answer with a status code of their own.
type VerificationError struct {
	Status int
	Reason string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification failed (%d): %s", e.Status, e.Reason)
}

// AsVerificationError extracts a VerificationError from err.
func AsVerificationError(err error) (*VerificationError, bool) {
	var verr *VerificationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}
