package peerprotocol

import (
	"errors"
	"io"
)

// DefaultProtocol is the protocol identifier sent at the start of the handshake.
const DefaultProtocol = "BitTorrent protocol"

// ErrInvalidProtocol is returned when the protocol identifier in a received handshake is not the expected one.
var ErrInvalidProtocol = errors.New("invalid protocol identifier")

// Handshake is the first frame exchanged on a new connection.
type Handshake struct {
	Protocol string
	Reserved [8]byte
	InfoHash [20]byte
	PeerID   [20]byte
}

// MarshalBinary encodes the handshake as pstrlen | pstr | reserved | info hash | peer id.
func (h Handshake) MarshalBinary() ([]byte, error) {
	if len(h.Protocol) > 255 {
		return nil, errors.New("protocol identifier longer than 255 bytes")
	}
	b := make([]byte, 0, 1+len(h.Protocol)+8+20+20)
	b = append(b, byte(len(h.Protocol)))
	b = append(b, h.Protocol...)
	b = append(b, h.Reserved[:]...)
	b = append(b, h.InfoHash[:]...)
	b = append(b, h.PeerID[:]...)
	return b, nil
}

// WriteHandshake writes h to w in a single write.
func WriteHandshake(w io.Writer, h Handshake) error {
	b, err := h.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// ReadHandshake reads a handshake from r.
// If protocol is not empty, the received identifier must be equal to it.
func ReadHandshake(r io.Reader, protocol string) (h Handshake, err error) {
	var pstrLen [1]byte
	if _, err = io.ReadFull(r, pstrLen[:]); err != nil {
		return
	}
	if protocol != "" && int(pstrLen[0]) != len(protocol) {
		err = ErrInvalidProtocol
		return
	}
	pstr := make([]byte, pstrLen[0])
	if _, err = io.ReadFull(r, pstr); err != nil {
		return
	}
	if protocol != "" && string(pstr) != protocol {
		err = ErrInvalidProtocol
		return
	}
	h.Protocol = string(pstr)
	if _, err = io.ReadFull(r, h.Reserved[:]); err != nil {
		return
	}
	if _, err = io.ReadFull(r, h.InfoHash[:]); err != nil {
		return
	}
	_, err = io.ReadFull(r, h.PeerID[:])
	return
}
