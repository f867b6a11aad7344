// Package bitfield implements the per-piece bit set used for completion state and availability advertisements.
// Bit 0 is the most significant bit of the first byte, as in the peer protocol.
package bitfield

import (
	"encoding/hex"
	"errors"
)

// ErrShortBitfield is returned when an advertised bitfield has fewer bytes than required for the piece count.
var ErrShortBitfield = errors.New("bitfield is shorter than piece count")

// Bitfield is a fixed length bit set.
type Bitfield struct {
	b      []byte
	length uint32
}

// New creates a new Bitfield of length bits, all cleared.
func New(length uint32) Bitfield {
	return Bitfield{b: make([]byte, (length+7)/8), length: length}
}

// FromBytes returns a Bitfield of length bits copied from b.
// Extra bytes and the unused trailing bits of the last byte are ignored.
func FromBytes(b []byte, length uint32) (Bitfield, error) {
	required := (length + 7) / 8
	if uint32(len(b)) < required {
		return Bitfield{}, ErrShortBitfield
	}
	bf := New(length)
	copy(bf.b, b[:required])
	if mod := length % 8; mod != 0 {
		bf.b[required-1] &= ^byte(0xff >> mod)
	}
	return bf, nil
}

// Bytes returns the underlying bytes. Modifying the returned slice modifies the Bitfield.
func (b *Bitfield) Bytes() []byte { return b.b }

// Len returns the number of bits.
func (b *Bitfield) Len() uint32 { return b.length }

// Hex returns the bytes as a hex string.
func (b *Bitfield) Hex() string { return hex.EncodeToString(b.b) }

// Copy returns a deep copy of b.
func (b *Bitfield) Copy() Bitfield {
	c := New(b.length)
	copy(c.b, b.b)
	return c
}

// Set bit i. Panics if i >= b.Len().
func (b *Bitfield) Set(i uint32) {
	b.checkIndex(i)
	b.b[i/8] |= 1 << (7 - i%8)
}

// Clear bit i. Panics if i >= b.Len().
func (b *Bitfield) Clear(i uint32) {
	b.checkIndex(i)
	b.b[i/8] &= ^(1 << (7 - i%8))
}

// Test returns the value of bit i. Panics if i >= b.Len().
func (b *Bitfield) Test(i uint32) bool {
	b.checkIndex(i)
	return b.b[i/8]&(1<<(7-i%8)) != 0
}

// Count returns the number of set bits.
func (b *Bitfield) Count() uint32 {
	var total uint32
	for _, v := range b.b {
		for ; v != 0; v &= v - 1 {
			total++
		}
	}
	return total
}

// All returns true if all bits are set.
func (b *Bitfield) All() bool {
	return b.Count() == b.length
}

// Indices returns the indexes of set bits in ascending order.
func (b *Bitfield) Indices() []uint32 {
	ret := make([]uint32, 0, b.Count())
	for i := uint32(0); i < b.length; i++ {
		if b.Test(i) {
			ret = append(ret, i)
		}
	}
	return ret
}

// Bools returns the bits as a slice of booleans.
func (b *Bitfield) Bools() []bool {
	ret := make([]bool, b.length)
	for i := range ret {
		ret[i] = b.Test(uint32(i))
	}
	return ret
}

func (b *Bitfield) checkIndex(i uint32) {
	if i >= b.length {
		panic("index out of bound")
	}
}
