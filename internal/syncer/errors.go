package syncer

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/roach88/grove/internal/auth"
	"github.com/roach88/grove/internal/event"
	"github.com/roach88/grove/internal/remote"
	"github.com/roach88/grove/internal/store"
)

// Code categorizes sync errors.
type Code string

const (
	// CodeNotConfigured means no remote backend is wired up. Sync is a no-op.
	CodeNotConfigured Code = "NOT_CONFIGURED"

	// CodeNotAuthenticated means there is no identity. Sync refuses to run.
	CodeNotAuthenticated Code = "NOT_AUTHENTICATED"

	// CodeTimeout means a remote call exceeded its deadline.
	CodeTimeout Code = "TIMEOUT"

	// CodeNetwork means the remote could not be reached.
	CodeNetwork Code = "NETWORK"

	// CodeServer is any other remote failure.
	CodeServer Code = "SERVER"

	// CodeDuplicateKey means the client_id already exists remotely. It is
	// resolved as success and never returned by the engine.
	CodeDuplicateKey Code = "DUPLICATE_KEY"

	// CodeValidation means an event was malformed.
	CodeValidation Code = "VALIDATION"

	// CodeQuotaExceeded means local persistence is full.
	CodeQuotaExceeded Code = "QUOTA_EXCEEDED"
)

// Error is a classified sync error.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Op names the operation that failed (push, pull, retry, full_fetch).
	Op string

	// ClientID identifies the affected event, if any.
	ClientID string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.ClientID != "" {
		msg += fmt.Sprintf(" (client_id=%s)", e.ClientID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error { return e.Err }

// Recoverable reports whether the failure leaves work for a later retry
// rather than ending the attempt for good.
func (e *Error) Recoverable() bool {
	switch e.Code {
	case CodeTimeout, CodeNetwork, CodeServer:
		return true
	}
	return false
}

// Classify maps err onto the taxonomy. A nil err returns nil; an *Error is
// returned as is.
func Classify(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}

	code := CodeServer
	var ne net.Error
	switch {
	case errors.Is(err, remote.ErrDuplicateKey):
		code = CodeDuplicateKey
	case errors.Is(err, context.DeadlineExceeded):
		code = CodeTimeout
	case errors.As(err, &ne) && ne.Timeout():
		code = CodeTimeout
	case errors.Is(err, remote.ErrUnavailable), errors.Is(err, context.Canceled), errors.As(err, &ne):
		code = CodeNetwork
	case errors.Is(err, auth.ErrNoIdentity), errors.Is(err, auth.ErrInvalidToken):
		code = CodeNotAuthenticated
	case errors.Is(err, store.ErrQuotaExceeded):
		code = CodeQuotaExceeded
	case event.IsValidationError(err):
		code = CodeValidation
	}
	return &Error{Code: code, Op: op, Err: err}
}

// IsCode reports whether err is an *Error with the given code.
func IsCode(err error, code Code) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsNotConfigured reports whether err means no remote backend is configured.
func IsNotConfigured(err error) bool { return IsCode(err, CodeNotConfigured) }

// IsNotAuthenticated reports whether err means there is no identity.
func IsNotAuthenticated(err error) bool { return IsCode(err, CodeNotAuthenticated) }

// IsQuotaExceeded reports whether err means local persistence is full.
func IsQuotaExceeded(err error) bool {
	return IsCode(err, CodeQuotaExceeded) || errors.Is(err, store.ErrQuotaExceeded)
}

var errNotConfigured = errors.New("no remote backend configured")

// ErrDuplicateEvent is wrapped by a Validation error when Push is given an
// event the log already holds under a legacy (timestamp, type) entry.
var ErrDuplicateEvent = errors.New("event duplicates an existing log entry")
