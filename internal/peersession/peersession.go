// Package peersession implements the request/response channel to a single peer.
package peersession

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/fluidtorrent/fluid/internal/bitfield"
	"github.com/fluidtorrent/fluid/internal/btconn"
	"github.com/fluidtorrent/fluid/internal/logger"
	"github.com/fluidtorrent/fluid/internal/peerprotocol"
	"github.com/fluidtorrent/fluid/internal/tracker"
)

var (
	// ErrInvalidResponse is returned when the peer answers a request with a message other than a piece.
	ErrInvalidResponse = errors.New("invalid response to piece request")
	// ErrMismatchedIndex is returned when the peer answers a request with a different piece.
	ErrMismatchedIndex = errors.New("piece index in response does not match request")
	// ErrClosed is returned when the session is used after Close.
	ErrClosed = errors.New("session is closed")
)

// Config holds the timeouts and protocol string used by a Session.
type Config struct {
	Protocol             string
	ConnectTimeout       time.Duration
	HandshakeTimeout     time.Duration
	AdvertisementTimeout time.Duration
	RequestTimeout       time.Duration
}

// Advertiser receives the piece indexes a peer advertises right after the handshake.
type Advertiser interface {
	RecordAdvertisement(peer tracker.Peer, indices []uint32)
}

// Session is a connection to a peer on which at most one piece request is outstanding at a time.
type Session struct {
	peer   tracker.Peer
	id     [20]byte
	conn   net.Conn
	reader *bufio.Reader
	config Config
	log    logger.Logger

	// Serializes requests.
	m sync.Mutex

	invalidM sync.Mutex
	invalid  bool

	closeOnce sync.Once
	closeC    chan struct{}
}

// Connect dials peer, does the handshake for infoHash and waits for the peer's advertisement.
// If the first message is a bitfield, the set indexes below numPieces are passed to adv.
// Any error returned means the peer could not be used and no connection is left open.
func Connect(ctx context.Context, peer tracker.Peer, infoHash, ourID [20]byte, numPieces uint32, cfg Config, adv Advertiser) (*Session, error) {
	conn, id, err := btconn.Dial(ctx, peer.String(), cfg.ConnectTimeout, cfg.HandshakeTimeout, cfg.Protocol, infoHash, ourID)
	if err != nil {
		return nil, err
	}
	s := &Session{
		peer:   peer,
		id:     id,
		conn:   conn,
		reader: bufio.NewReader(conn),
		config: cfg,
		log:    logger.New("session -> " + peer.String()),
		closeC: make(chan struct{}),
	}
	err = s.readAdvertisement(ctx, numPieces, adv)
	if err != nil {
		s.Close()
		return nil, err
	}
	err = s.write(peerprotocol.InterestedMessage{})
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) readAdvertisement(ctx context.Context, numPieces uint32, adv Advertiser) error {
	stop := s.closeOnDone(ctx)
	defer stop()

	if err := s.conn.SetReadDeadline(time.Now().Add(s.config.AdvertisementTimeout)); err != nil {
		return err
	}
	_, err := s.reader.Peek(4)
	if isTimeout(err) {
		s.log.Debug("Peer did not advertise any piece")
		return s.conn.SetReadDeadline(time.Time{})
	}
	if err != nil {
		return err
	}
	// A frame has started; allow the rest of it to arrive in request time.
	if err = s.conn.SetReadDeadline(time.Now().Add(s.config.RequestTimeout)); err != nil {
		return err
	}
	msg, err := peerprotocol.ReadMessage(s.reader)
	if err != nil {
		return err
	}
	if err = s.conn.SetReadDeadline(time.Time{}); err != nil {
		return err
	}
	bm, ok := msg.(peerprotocol.BitfieldMessage)
	if !ok {
		s.log.Debugf("First message is not a bitfield: %T", msg)
		return nil
	}
	bf, err := bitfield.FromBytes(bm.Data, numPieces)
	if err != nil {
		s.log.Warningf("Invalid bitfield: %s", err)
		return nil
	}
	indices := bf.Indices()
	s.log.Debugf("Peer has %d of %d pieces", len(indices), numPieces)
	adv.RecordAdvertisement(s.peer, indices)
	return nil
}

// Peer returns the address of the remote peer.
func (s *Session) Peer() tracker.Peer {
	return s.peer
}

// ID returns the peer id sent by the remote peer in the handshake.
func (s *Session) ID() [20]byte {
	return s.id
}

// String returns the peer address.
func (s *Session) String() string {
	return s.peer.String()
}

// RequestPiece requests the whole piece at index and waits for the response.
// Keep-alive messages received while waiting are skipped.
// Any error makes the session invalid. After an unexpected message the reply to the request may still
// be in flight, so the connection cannot be used for another request.
func (s *Session) RequestPiece(ctx context.Context, index uint32) ([]byte, error) {
	s.m.Lock()
	defer s.m.Unlock()

	select {
	case <-s.closeC:
		return nil, ErrClosed
	default:
	}
	if s.Invalid() {
		return nil, ErrClosed
	}

	stop := s.closeOnDone(ctx)
	defer stop()

	data, err := s.requestPiece(index)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		s.setInvalid()
		return nil, err
	}
	return data, nil
}

func (s *Session) requestPiece(index uint32) ([]byte, error) {
	if err := s.conn.SetDeadline(time.Now().Add(s.config.RequestTimeout)); err != nil {
		return nil, err
	}
	if err := s.write(peerprotocol.RequestMessage{Index: index}); err != nil {
		return nil, err
	}
	s.log.Debugf("Requested piece #%d", index)
	for {
		msg, err := peerprotocol.ReadMessage(s.reader)
		if err != nil {
			return nil, err
		}
		switch msg := msg.(type) {
		case peerprotocol.KeepAliveMessage:
			continue
		case peerprotocol.PieceMessage:
			if msg.Index != index {
				return nil, fmt.Errorf("%w: requested #%d, received #%d", ErrMismatchedIndex, index, msg.Index)
			}
			s.log.Debugf("Received piece #%d (%d bytes)", index, len(msg.Data))
			return msg.Data, nil
		default:
			return nil, fmt.Errorf("%w: %T", ErrInvalidResponse, msg)
		}
	}
}

func (s *Session) write(msg peerprotocol.Message) error {
	return peerprotocol.WriteMessage(s.conn, msg)
}

// closeOnDone closes the connection if ctx is cancelled before the returned function is called.
func (s *Session) closeOnDone(ctx context.Context) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-done:
		case <-s.closeC:
		}
	}()
	return func() { close(done) }
}

// Invalid returns true if a transport or decode error happened on the session.
func (s *Session) Invalid() bool {
	s.invalidM.Lock()
	defer s.invalidM.Unlock()
	return s.invalid
}

func (s *Session) setInvalid() {
	s.invalidM.Lock()
	s.invalid = true
	s.invalidM.Unlock()
}

// Close closes the connection. A request in progress returns with an error.
// It is safe to call Close more than once and from multiple goroutines.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closeC)
		s.setInvalid()
		_ = s.conn.Close()
		s.log.Debug("Closed")
	})
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
