// Package seeder answers piece requests of incoming peers from completed pieces.
// It does no choking or upload scheduling.
package seeder

import (
	"net"
	"sync"
	"time"

	"github.com/fluidtorrent/fluid/internal/bitfield"
	"github.com/fluidtorrent/fluid/internal/btconn"
	"github.com/fluidtorrent/fluid/internal/logger"
	"github.com/fluidtorrent/fluid/internal/peerprotocol"
)

// Pieces reports which pieces can be served.
type Pieces interface {
	NumPieces() uint32
	Has(index uint32) bool
	Completed() bitfield.Bitfield
}

// PieceReader reads the data of a completed piece.
type PieceReader interface {
	ReadPiece(index uint32) ([]byte, error)
}

// Config of the Seeder.
type Config struct {
	Protocol         string
	HandshakeTimeout time.Duration
	InfoHash         [20]byte
	PeerID           [20]byte
}

// Seeder accepts connections for a single torrent.
type Seeder struct {
	listener net.Listener
	config   Config
	pieces   Pieces
	reader   PieceReader
	log      logger.Logger

	m      sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool

	closeC chan struct{}
	wg     sync.WaitGroup
}

// New returns a Seeder that serves pieces on listener.
func New(listener net.Listener, cfg Config, pieces Pieces, reader PieceReader, l logger.Logger) *Seeder {
	return &Seeder{
		listener: listener,
		config:   cfg,
		pieces:   pieces,
		reader:   reader,
		log:      l,
		conns:    make(map[net.Conn]struct{}),
		closeC:   make(chan struct{}),
	}
}

// Addr returns the listening address.
func (s *Seeder) Addr() net.Addr {
	return s.listener.Addr()
}

// Run accepts connections until Close is called.
func (s *Seeder) Run() {
	defer s.wg.Wait()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closeC:
				return
			default:
			}
			s.log.Error(err)
			return
		}
		if !s.track(conn) {
			conn.Close()
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handleConn(conn)
		}()
	}
}

func (s *Seeder) track(conn net.Conn) bool {
	s.m.Lock()
	defer s.m.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Seeder) untrack(conn net.Conn) {
	s.m.Lock()
	delete(s.conns, conn)
	s.m.Unlock()
	conn.Close()
}

// Close stops accepting connections and closes the connected ones.
func (s *Seeder) Close() {
	s.m.Lock()
	if s.closed {
		s.m.Unlock()
		return
	}
	s.closed = true
	close(s.closeC)
	for conn := range s.conns {
		conn.Close()
	}
	s.m.Unlock()
	s.listener.Close()
}

func (s *Seeder) handleConn(conn net.Conn) {
	log := logger.New("peer <- " + conn.RemoteAddr().String())
	hasInfoHash := func(ih [20]byte) bool { return ih == s.config.InfoHash }
	_, _, err := btconn.Accept(conn, s.config.HandshakeTimeout, s.config.Protocol, hasInfoHash, s.config.PeerID)
	if err != nil {
		log.Debugln("handshake error:", err)
		return
	}
	bf := s.pieces.Completed()
	err = peerprotocol.WriteMessage(conn, peerprotocol.BitfieldMessage{Data: bf.Bytes()})
	if err != nil {
		log.Debugln("cannot send bitfield:", err)
		return
	}
	for {
		msg, err := peerprotocol.ReadMessage(conn)
		if err != nil {
			log.Debugln("cannot read message:", err)
			return
		}
		req, ok := msg.(peerprotocol.RequestMessage)
		if !ok {
			continue
		}
		if req.Index >= s.pieces.NumPieces() {
			log.Debugf("Peer requested invalid piece #%d", req.Index)
			return
		}
		if !s.pieces.Has(req.Index) {
			log.Debugf("Peer requested missing piece #%d", req.Index)
			continue
		}
		data, err := s.reader.ReadPiece(req.Index)
		if err != nil {
			log.Errorf("Cannot read piece #%d: %s", req.Index, err)
			return
		}
		err = peerprotocol.WriteMessage(conn, peerprotocol.PieceMessage{Index: req.Index, Data: data})
		if err != nil {
			log.Debugln("cannot send piece:", err)
			return
		}
	}
}
