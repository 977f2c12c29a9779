package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrCapabilityUnavailable is returned when the radio cannot be used at all.
	ErrCapabilityUnavailable = errors.New("radio capability unavailable")
	// ErrPeerUnreachable is returned by radios when a peer no longer answers.
	ErrPeerUnreachable = errors.New("peer unreachable")
	// ErrAttemptConsumed is returned when a handshake machine is run twice.
	ErrAttemptConsumed = errors.New("handshake attempt already consumed")
	// ErrNoProcedure is returned when no exploit procedure matches a device.
	ErrNoProcedure = errors.New("no exploit procedure for device")
)

// Error captures the operation that failed along with the cause.
type Error struct {
	Op  string
	Msg string
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E constructs an Error with the provided context.
func E(op, msg string, err error) error {
	return &Error{Op: op, Msg: msg, Err: err}
}

// Unavailable wraps err so that it matches ErrCapabilityUnavailable.
func Unavailable(op string, err error) error {
	if err == nil || errors.Is(err, ErrCapabilityUnavailable) {
		return E(op, "", err)
	}
	return E(op, err.Error(), ErrCapabilityUnavailable)
}
