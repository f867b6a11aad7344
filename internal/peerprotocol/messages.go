// Package peerprotocol implements encoding and decoding of the handshake and length-prefixed message frames
// exchanged between peers.
package peerprotocol

import (
	"encoding/binary"
	"fmt"
)

// Message is a peer protocol message that can be written to a connection as a single frame.
type Message interface {
	// MarshalBinary returns the complete frame, including the 4-byte length prefix.
	MarshalBinary() ([]byte, error)
}

// KeepAliveMessage is a zero length frame. It has no id.
type KeepAliveMessage struct{}

// ChokeMessage is sent to peer that it should not request pieces.
type ChokeMessage struct{}

// UnchokeMessage is sent to peer that it can request pieces.
type UnchokeMessage struct{}

// InterestedMessage is sent to peer that we want to request pieces.
type InterestedMessage struct{}

// NotInterestedMessage is sent to peer that we don't want any piece from it.
type NotInterestedMessage struct{}

// HaveMessage announces a newly completed piece. The piece index is not carried in this protocol variant.
type HaveMessage struct{}

// CancelMessage cancels a previously sent request.
type CancelMessage struct{}

// BitfieldMessage is sent after the handshake to advertise the pieces a peer has.
type BitfieldMessage struct {
	Data []byte
}

// RequestMessage asks for the whole piece at Index.
type RequestMessage struct {
	Index uint32
}

// PieceMessage carries the data of the piece at Index, starting at offset Begin.
type PieceMessage struct {
	Index uint32
	Begin uint32
	Data  []byte
}

// ID returns the peer protocol message type.
func (ChokeMessage) ID() MessageID { return Choke }

// ID returns the peer protocol message type.
func (UnchokeMessage) ID() MessageID { return Unchoke }

// ID returns the peer protocol message type.
func (InterestedMessage) ID() MessageID { return Interested }

// ID returns the peer protocol message type.
func (NotInterestedMessage) ID() MessageID { return NotInterested }

// ID returns the peer protocol message type.
func (HaveMessage) ID() MessageID { return Have }

// ID returns the peer protocol message type.
func (CancelMessage) ID() MessageID { return Cancel }

// ID returns the peer protocol message type.
func (BitfieldMessage) ID() MessageID { return Bitfield }

// ID returns the peer protocol message type.
func (RequestMessage) ID() MessageID { return Request }

// ID returns the peer protocol message type.
func (PieceMessage) ID() MessageID { return Piece }

func (KeepAliveMessage) MarshalBinary() ([]byte, error) { return make([]byte, 4), nil }

func (m ChokeMessage) MarshalBinary() ([]byte, error)         { return frame(m.ID(), nil), nil }
func (m UnchokeMessage) MarshalBinary() ([]byte, error)       { return frame(m.ID(), nil), nil }
func (m InterestedMessage) MarshalBinary() ([]byte, error)    { return frame(m.ID(), nil), nil }
func (m NotInterestedMessage) MarshalBinary() ([]byte, error) { return frame(m.ID(), nil), nil }
func (m HaveMessage) MarshalBinary() ([]byte, error)          { return frame(m.ID(), nil), nil }
func (m CancelMessage) MarshalBinary() ([]byte, error)        { return frame(m.ID(), nil), nil }
func (m BitfieldMessage) MarshalBinary() ([]byte, error)      { return frame(m.ID(), m.Data), nil }

func (m RequestMessage) MarshalBinary() ([]byte, error) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], m.Index)
	return frame(m.ID(), b[:]), nil
}

func (m PieceMessage) MarshalBinary() ([]byte, error) {
	if len(m.Data) > MaxFrameLength-9 {
		return nil, fmt.Errorf("piece data too large: %d bytes", len(m.Data))
	}
	b := make([]byte, 8+len(m.Data))
	binary.BigEndian.PutUint32(b[0:4], m.Index)
	binary.BigEndian.PutUint32(b[4:8], m.Begin)
	copy(b[8:], m.Data)
	return frame(m.ID(), b), nil
}

func (m RequestMessage) String() string { return fmt.Sprintf("request #%d", m.Index) }

func (m PieceMessage) String() string {
	return fmt.Sprintf("piece #%d begin=%d len=%d", m.Index, m.Begin, len(m.Data))
}

func frame(id MessageID, payload []byte) []byte {
	b := make([]byte, 5+len(payload))
	binary.BigEndian.PutUint32(b[0:4], uint32(1+len(payload)))
	b[4] = byte(id)
	copy(b[5:], payload)
	return b
}
