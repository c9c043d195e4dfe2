package session

import "errors"

var (
	// ErrNotAuthenticated rejects an operation issued before the
	// handshake completed. Nothing is sent over the wire.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrOperationPending rejects a second operation of the same kind
	// while the first is still in flight.
	ErrOperationPending = errors.New("operation of this kind already pending")
	// ErrTimeout reports that no response arrived within the
	// operation's window.
	ErrTimeout = errors.New("timed out waiting for response")
	// ErrCredentialExpired rejects a JWT credential that is already
	// expired before a handshake is attempted.
	ErrCredentialExpired = errors.New("credential expired")
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session closed")
)
