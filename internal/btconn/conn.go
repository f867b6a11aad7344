// Package btconn provides support for dialing and accepting peer connections.
// Both directions perform the handshake and return a net.Conn that is ready for message frames.
package btconn

import (
	"errors"
	"io"

	"github.com/fluidtorrent/fluid/internal/peerprotocol"
)

func readHandshake(r io.Reader, protocol string) (peerprotocol.Handshake, error) {
	h, err := peerprotocol.ReadHandshake(r, protocol)
	if errors.Is(err, peerprotocol.ErrInvalidProtocol) {
		return h, &HandshakeError{Reason: "malformed handshake", Err: err}
	}
	if err == io.ErrUnexpectedEOF {
		return h, &HandshakeError{Reason: "truncated handshake", Err: err}
	}
	return h, err
}
