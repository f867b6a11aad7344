package btconn

import (
	"context"
	"net"
	"time"

	"github.com/fluidtorrent/fluid/internal/logger"
	"github.com/fluidtorrent/fluid/internal/peerprotocol"
)

// Dial opens a TCP connection to addr and does the handshake for info hash ih.
// The connection is closed if the peer answers with a different info hash.
// Cancelling ctx aborts both the dial and the handshake.
func Dial(
	ctx context.Context,
	addr string,
	dialTimeout, handshakeTimeout time.Duration,
	protocol string,
	ih [20]byte,
	ourID [20]byte) (
	conn net.Conn, peerID [20]byte, err error) {
	log := logger.New("conn -> " + addr)

	log.Debug("Connecting to peer...")
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err = dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return
	}
	log.Debug("Connected")
	defer func(conn net.Conn) {
		if err != nil {
			conn.Close()
		}
	}(conn)

	done := make(chan struct{})
	defer close(done)
	go func(conn net.Conn) {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}(conn)

	// Handshake must be completed in allowed duration.
	if err = conn.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return
	}
	err = peerprotocol.WriteHandshake(conn, peerprotocol.Handshake{
		Protocol: protocol,
		InfoHash: ih,
		PeerID:   ourID,
	})
	if err != nil {
		return
	}
	h, err := readHandshake(conn, protocol)
	if err != nil {
		return
	}
	if h.InfoHash != ih {
		err = errInvalidInfoHash
		return
	}
	if h.PeerID == ourID {
		err = errOwnConnection
		return
	}
	if err = conn.SetDeadline(time.Time{}); err != nil {
		return
	}
	if ctx.Err() != nil {
		err = ctx.Err()
		return
	}
	log.Debugf("Handshake completed, peer id: %q", h.PeerID[:])
	peerID = h.PeerID
	return
}
