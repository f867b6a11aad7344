// Package storage contains the interfaces for reading and writing the content of a torrent.
package storage

import (
	"fmt"
	"io"
)

// Storage opens files that hold torrent content.
type Storage interface {
	Open(name string, size int64) (f File, exists bool, err error)
}

// File interface for reading/writing torrent data.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
}

// Error is returned when a piece cannot be read from or written to its file.
type Error struct {
	Index uint32
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage error for piece #%d: %s", e.Index, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
