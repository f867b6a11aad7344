package storage

import (
	"errors"
	"fmt"
)

// Pieces maps piece indexes to offsets in a single File.
type Pieces struct {
	file        File
	pieceLength uint32
	size        int64
}

// NewPieces returns a Pieces that stores pieces of pieceLength bytes in f.
// The last piece may be shorter so that the total never exceeds size.
func NewPieces(f File, pieceLength uint32, size int64) *Pieces {
	return &Pieces{
		file:        f,
		pieceLength: pieceLength,
		size:        size,
	}
}

// WritePiece writes data at position index*pieceLength+begin.
func (p *Pieces) WritePiece(index, begin uint32, data []byte) error {
	off := int64(index)*int64(p.pieceLength) + int64(begin)
	if off+int64(len(data)) > p.size {
		return &Error{Index: index, Err: fmt.Errorf("write of %d bytes at offset %d exceeds size %d", len(data), off, p.size)}
	}
	n, err := p.file.WriteAt(data, off)
	if err == nil && n != len(data) {
		err = errors.New("short write")
	}
	if err != nil {
		return &Error{Index: index, Err: err}
	}
	return nil
}

// ReadPiece reads the whole piece at index.
func (p *Pieces) ReadPiece(index uint32) ([]byte, error) {
	off := int64(index) * int64(p.pieceLength)
	if off >= p.size {
		return nil, &Error{Index: index, Err: errors.New("index out of range")}
	}
	length := int64(p.pieceLength)
	if off+length > p.size {
		length = p.size - off
	}
	b := make([]byte, length)
	_, err := p.file.ReadAt(b, off)
	if err != nil {
		return nil, &Error{Index: index, Err: err}
	}
	return b, nil
}

// Close closes the underlying file.
func (p *Pieces) Close() error {
	return p.file.Close()
}
