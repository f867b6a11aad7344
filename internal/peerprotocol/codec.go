package peerprotocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameLength is the largest frame accepted by ReadMessage, excluding the length prefix.
// It allows a whole 32 MiB piece with its id, index and begin fields.
const MaxFrameLength = 32<<20 + 9

var (
	// ErrUnknownMessage is returned when a frame carries an id that is not defined by the protocol.
	ErrUnknownMessage = errors.New("unknown message id")
	// ErrShortPayload is returned when a request or piece payload is smaller than its fixed fields.
	ErrShortPayload = errors.New("message payload too short")
	// ErrFrameTooLarge is returned when the length prefix exceeds MaxFrameLength.
	ErrFrameTooLarge = errors.New("message frame too large")
)

// DecodeError wraps a failure to decode a frame that was read completely.
// The connection it was read from is out of sync with the peer and must be closed.
type DecodeError struct {
	ID  MessageID
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode message (id=%s): %s", e.ID, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// WriteMessage writes the frame of m to w.
func WriteMessage(w io.Writer, m Message) error {
	b, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// ReadMessage reads exactly one frame from r and decodes it.
// A zero length frame is returned as KeepAliveMessage.
func ReadMessage(r io.Reader) (Message, error) {
	var length uint32
	err := binary.Read(r, binary.BigEndian, &length)
	if err != nil {
		return nil, err
	}
	if length == 0 {
		return KeepAliveMessage{}, nil
	}
	if length > MaxFrameLength {
		return nil, ErrFrameTooLarge
	}
	body := make([]byte, length)
	_, err = io.ReadFull(r, body)
	if err != nil {
		return nil, err
	}
	return decodeBody(MessageID(body[0]), body[1:])
}

// Decode decodes a complete frame including its length prefix.
func Decode(b []byte) (Message, error) {
	if len(b) < 4 {
		return nil, io.ErrUnexpectedEOF
	}
	length := binary.BigEndian.Uint32(b[0:4])
	if uint32(len(b)-4) != length {
		return nil, fmt.Errorf("frame length mismatch: prefix=%d actual=%d", length, len(b)-4)
	}
	if length == 0 {
		return KeepAliveMessage{}, nil
	}
	return decodeBody(MessageID(b[4]), b[5:])
}

func decodeBody(id MessageID, payload []byte) (Message, error) {
	switch id {
	case Choke:
		return ChokeMessage{}, nil
	case Unchoke:
		return UnchokeMessage{}, nil
	case Interested:
		return InterestedMessage{}, nil
	case NotInterested:
		return NotInterestedMessage{}, nil
	case Have:
		// Peers speaking the full protocol append the index; it is not used here.
		return HaveMessage{}, nil
	case Cancel:
		return CancelMessage{}, nil
	case Bitfield:
		return BitfieldMessage{Data: clone(payload)}, nil
	case Request:
		if len(payload) < 4 {
			return nil, &DecodeError{ID: id, Err: ErrShortPayload}
		}
		return RequestMessage{Index: binary.BigEndian.Uint32(payload[0:4])}, nil
	case Piece:
		if len(payload) < 8 {
			return nil, &DecodeError{ID: id, Err: ErrShortPayload}
		}
		return PieceMessage{
			Index: binary.BigEndian.Uint32(payload[0:4]),
			Begin: binary.BigEndian.Uint32(payload[4:8]),
			Data:  clone(payload[8:]),
		}, nil
	}
	return nil, &DecodeError{ID: id, Err: ErrUnknownMessage}
}

func clone(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
