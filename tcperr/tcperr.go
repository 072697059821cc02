// Package tcperr defines the send engine's error taxonomy as sentinel
// values: a dedicated type keeps foreign errors from being accidentally
// compared against the engine's own error space. Engine-adjacent packages
// are free to wrap one with fmt.Errorf("...: %w", tcperr.ErrNoMemory) and
// callers can still recover it with errors.Is.
package tcperr

// Error is a sentinel error value in the engine's error space.
type Error struct {
	msg string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.msg
}

// Sentinel errors the send engine can produce.
var (
	// ErrNoMemory is returned when the buffer pool or a callback
	// subscription cannot be allocated.
	ErrNoMemory = &Error{"not enough memory"}

	// ErrOutOfBuffers is returned by the iob pool when its page budget
	// is exhausted.
	ErrOutOfBuffers = &Error{"out of I/O buffers"}

	// ErrLostConnection is reported upward when the connection is torn
	// down following FlagClose, FlagAbort or FlagTimedOut.
	ErrLostConnection = &Error{"connection lost"}

	// ErrExpired marks a segment that exceeded MaxRtx retransmissions.
	ErrExpired = &Error{"segment retransmission limit exceeded"}

	// ErrInvalidEndpointState is returned when Write is called on a Conn
	// in StateClosed that was never torn down.
	ErrInvalidEndpointState = &Error{"endpoint is in invalid state"}

	// ErrClosedForSend is returned by Write after Close.
	ErrClosedForSend = &Error{"endpoint is closed for send"}
)
