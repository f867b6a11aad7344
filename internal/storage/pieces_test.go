package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memFile struct {
	b []byte
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	return copy(p, f.b[off:]), nil
}

func (f *memFile) WriteAt(p []byte, off int64) (int, error) {
	return copy(f.b[off:], p), nil
}

func (f *memFile) Close() error { return nil }

func TestWritePieceOffset(t *testing.T) {
	f := &memFile{b: make([]byte, 10)}
	p := NewPieces(f, 4, 10)

	require.NoError(t, p.WritePiece(1, 0, []byte("abcd")))
	require.NoError(t, p.WritePiece(2, 0, []byte("xy")))
	require.NoError(t, p.WritePiece(0, 2, []byte("zz")))
	assert.Equal(t, []byte{0, 0, 'z', 'z', 'a', 'b', 'c', 'd', 'x', 'y'}, f.b)

	b, err := p.ReadPiece(2)
	require.NoError(t, err)
	assert.Equal(t, []byte("xy"), b)
	b, err = p.ReadPiece(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), b)
}

func TestWritePieceOutOfRange(t *testing.T) {
	p := NewPieces(&memFile{b: make([]byte, 10)}, 4, 10)
	err := p.WritePiece(2, 0, []byte("abcd"))
	var serr *Error
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, uint32(2), serr.Index)

	_, err = p.ReadPiece(3)
	assert.Error(t, err)
}
