package btconn

import "fmt"

// HandshakeError is returned when the remote side sends a malformed handshake or identifies a different torrent.
// The connection is closed before the error is returned.
type HandshakeError struct {
	Reason string
	Err    error
}

func (e *HandshakeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("handshake error: %s: %s", e.Reason, e.Err)
	}
	return "handshake error: " + e.Reason
}

func (e *HandshakeError) Unwrap() error { return e.Err }

var (
	errInvalidInfoHash = &HandshakeError{Reason: "info hash mismatch"}
	errOwnConnection   = &HandshakeError{Reason: "dropped own connection"}
)
