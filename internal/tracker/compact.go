package tracker

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// compactPeerLen is the length of a peer in a compact peer list: 4 bytes IPv4 and 2 bytes big-endian port.
const compactPeerLen = 6

// ErrMalformedPeerList is returned when the length of a compact peer list is not a multiple of 6.
var ErrMalformedPeerList = errors.New("malformed compact peer list")

// MarshalBinary returns the 6-byte compact form of the peer.
func (p Peer) MarshalBinary() ([]byte, error) {
	b := make([]byte, compactPeerLen)
	copy(b, p.IP[:])
	binary.BigEndian.PutUint16(b[4:], p.Port)
	return b, nil
}

// UnmarshalBinary reads a peer from its 6-byte compact form.
func (p *Peer) UnmarshalBinary(data []byte) error {
	if len(data) != compactPeerLen {
		return errors.New("invalid compact peer length")
	}
	copy(p.IP[:], data[:4])
	p.Port = binary.BigEndian.Uint16(data[4:])
	return nil
}

// DecodePeersCompact parses a compact peer list, keeping the order of peers.
func DecodePeersCompact(b []byte) ([]Peer, error) {
	if len(b)%compactPeerLen != 0 {
		return nil, fmt.Errorf("%w: length %d", ErrMalformedPeerList, len(b))
	}
	peers := make([]Peer, 0, len(b)/compactPeerLen)
	for i := 0; i < len(b); i += compactPeerLen {
		var p Peer
		if err := p.UnmarshalBinary(b[i : i+compactPeerLen]); err != nil {
			return nil, err
		}
		peers = append(peers, p)
	}
	return peers, nil
}

// EncodePeersCompact is the inverse of DecodePeersCompact.
func EncodePeersCompact(peers []Peer) []byte {
	b := make([]byte, 0, len(peers)*compactPeerLen)
	for _, p := range peers {
		c, _ := p.MarshalBinary()
		b = append(b, c...)
	}
	return b
}
