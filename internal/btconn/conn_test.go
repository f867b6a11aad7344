package btconn

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluidtorrent/fluid/internal/peerprotocol"
)

var (
	id1      = [20]byte{0x0C}
	id2      = [20]byte{0x0D}
	infoHash = [20]byte{0x0E, 0x01}
)

const protocol = peerprotocol.DefaultProtocol

func listen(t *testing.T) net.Listener {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestDialAccept(t *testing.T) {
	defer leaktest.Check(t)()
	l := listen(t)

	type result struct {
		peerID, ih [20]byte
		err        error
	}
	resC := make(chan result, 1)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			resC <- result{err: err}
			return
		}
		defer conn.Close()
		id, ih, err := Accept(conn, 5*time.Second, protocol, func(ih [20]byte) bool { return ih == infoHash }, id2)
		resC <- result{id, ih, err}
	}()

	conn, peerID, err := Dial(context.Background(), l.Addr().String(), 5*time.Second, 5*time.Second, protocol, infoHash, id1)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, id2, peerID)

	res := <-resC
	require.NoError(t, res.err)
	assert.Equal(t, id1, res.peerID)
	assert.Equal(t, infoHash, res.ih)
}

// respondWith accepts one connection, reads the handshake and answers with the given info hash.
func respondWith(t *testing.T, l net.Listener, ih [20]byte) chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = peerprotocol.ReadHandshake(conn, protocol)
		_ = peerprotocol.WriteHandshake(conn, peerprotocol.Handshake{Protocol: protocol, InfoHash: ih, PeerID: id2})
		// wait for the dialer to close the connection
		var b [1]byte
		_, _ = conn.Read(b[:])
	}()
	return done
}

func TestDialRejectsInfoHashMismatch(t *testing.T) {
	defer leaktest.Check(t)()
	for bit := 0; bit < 160; bit += 13 {
		l := listen(t)
		other := infoHash
		other[bit/8] ^= 1 << (bit % 8)
		done := respondWith(t, l, other)

		conn, _, err := Dial(context.Background(), l.Addr().String(), time.Second, time.Second, protocol, infoHash, id1)
		assert.Nil(t, conn)
		var herr *HandshakeError
		require.True(t, errors.As(err, &herr), "bit %d: %v", bit, err)
		assert.Equal(t, "info hash mismatch", herr.Reason)
		<-done
	}
}

func TestDialRejectsOwnConnection(t *testing.T) {
	defer leaktest.Check(t)()
	l := listen(t)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = peerprotocol.ReadHandshake(conn, protocol)
		_ = peerprotocol.WriteHandshake(conn, peerprotocol.Handshake{Protocol: protocol, InfoHash: infoHash, PeerID: id1})
		var b [1]byte
		_, _ = conn.Read(b[:])
	}()
	_, _, err := Dial(context.Background(), l.Addr().String(), time.Second, time.Second, protocol, infoHash, id1)
	assert.Equal(t, errOwnConnection, err)
}

func TestDialMalformedHandshake(t *testing.T) {
	defer leaktest.Check(t)()
	l := listen(t)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = peerprotocol.ReadHandshake(conn, protocol)
		_ = peerprotocol.WriteHandshake(conn, peerprotocol.Handshake{Protocol: "not a torrent peer", InfoHash: infoHash, PeerID: id2})
		var b [1]byte
		_, _ = conn.Read(b[:])
	}()
	_, _, err := Dial(context.Background(), l.Addr().String(), time.Second, time.Second, protocol, infoHash, id1)
	var herr *HandshakeError
	require.True(t, errors.As(err, &herr))
	assert.ErrorIs(t, err, peerprotocol.ErrInvalidProtocol)
}

func TestDialRefused(t *testing.T) {
	l := listen(t)
	addr := l.Addr().String()
	l.Close()
	_, _, err := Dial(context.Background(), addr, time.Second, time.Second, protocol, infoHash, id1)
	require.Error(t, err)
	var herr *HandshakeError
	assert.False(t, errors.As(err, &herr))
}

func TestDialCancel(t *testing.T) {
	defer leaktest.Check(t)()
	l := listen(t)
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := l.Accept()
		if err == nil {
			accepted <- conn
		}
	}()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	_, _, err := Dial(ctx, l.Addr().String(), time.Second, 10*time.Second, protocol, infoHash, id1)
	require.Error(t, err)
	assert.Less(t, int64(time.Since(start)), int64(5*time.Second))
	(<-accepted).Close()
}

func TestAcceptUnknownInfoHash(t *testing.T) {
	defer leaktest.Check(t)()
	l := listen(t)
	errC := make(chan error, 1)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			errC <- err
			return
		}
		defer conn.Close()
		_, _, err = Accept(conn, time.Second, protocol, func([20]byte) bool { return false }, id2)
		errC <- err
	}()
	_, _, err := Dial(context.Background(), l.Addr().String(), time.Second, time.Second, protocol, infoHash, id1)
	require.Error(t, err)
	assert.Equal(t, errInvalidInfoHash, <-errC)
}
