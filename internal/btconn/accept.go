package btconn

import (
	"net"
	"time"

	"github.com/fluidtorrent/fluid/internal/logger"
	"github.com/fluidtorrent/fluid/internal/peerprotocol"
)

// Accept does the handshake for an incoming connection.
// hasInfoHash is called with the info hash requested by the peer; the handshake is answered only if it returns true.
// The connection is not closed on error; the caller owns it.
func Accept(
	conn net.Conn,
	handshakeTimeout time.Duration,
	protocol string,
	hasInfoHash func([20]byte) bool,
	ourID [20]byte) (
	peerID [20]byte, infoHash [20]byte, err error) {
	log := logger.New("conn <- " + conn.RemoteAddr().String())

	if err = conn.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return
	}
	h, err := readHandshake(conn, protocol)
	if err != nil {
		return
	}
	if !hasInfoHash(h.InfoHash) {
		err = errInvalidInfoHash
		return
	}
	if h.PeerID == ourID {
		err = errOwnConnection
		return
	}
	err = peerprotocol.WriteHandshake(conn, peerprotocol.Handshake{
		Protocol: protocol,
		InfoHash: h.InfoHash,
		PeerID:   ourID,
	})
	if err != nil {
		return
	}
	if err = conn.SetDeadline(time.Time{}); err != nil {
		return
	}
	log.Debugf("Handshake completed, peer id: %q", h.PeerID[:])
	return h.PeerID, h.InfoHash, nil
}
