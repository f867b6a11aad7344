package torrent

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fluidtorrent/fluid/internal/metainfo"
)

// Metadata describes the content of a torrent.
type Metadata struct {
	// SHA-1 of the bencoded info dictionary.
	ContentID [20]byte
	Name      string
	TotalSize int64
	// Length of every piece except the last one.
	PieceLength uint32
	// Expected SHA-1 digest of every piece.
	PieceHashes [][20]byte
	// Path of the file where the content is stored.
	FilePath string
	// Announce URLs of HTTP trackers.
	Trackers []string
}

// ID returns the content id as lowercase hex string. It is the key of the torrent in Registry.
func (m *Metadata) ID() string {
	return hex.EncodeToString(m.ContentID[:])
}

// NumPieces returns the number of pieces.
func (m *Metadata) NumPieces() uint32 {
	return uint32(len(m.PieceHashes))
}

// Validate checks that the piece table covers the content exactly.
func (m *Metadata) Validate() error {
	if m.PieceLength == 0 {
		return errors.New("piece length is zero")
	}
	if m.TotalSize <= 0 {
		return errors.New("total size must be positive")
	}
	expected := (m.TotalSize + int64(m.PieceLength) - 1) / int64(m.PieceLength)
	if int64(len(m.PieceHashes)) != expected {
		return fmt.Errorf("invalid piece count: %d, expected %d", len(m.PieceHashes), expected)
	}
	if m.FilePath == "" {
		return errors.New("file path is empty")
	}
	return nil
}

// MetadataFromFile reads a torrent file. Content is saved under dataDir with the name in the torrent.
func MetadataFromFile(path, dataDir string) (*Metadata, error) {
	f, err := os.Open(path) // nolint: gosec
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return MetadataFromReader(f, dataDir)
}

// MetadataFromReader reads a torrent file from r.
func MetadataFromReader(r io.Reader, dataDir string) (*Metadata, error) {
	mi, err := metainfo.New(r)
	if err != nil {
		return nil, err
	}
	if mi.Info.MultiFile() {
		return nil, errors.New("torrents with multiple files are not supported")
	}
	name := filepath.Base(filepath.Clean("/" + mi.Info.Name))
	if name == "/" || name == "." {
		return nil, fmt.Errorf("invalid name: %q", mi.Info.Name)
	}
	m := &Metadata{
		ContentID:   mi.Info.Hash,
		Name:        mi.Info.Name,
		TotalSize:   mi.Info.TotalLength,
		PieceLength: mi.Info.PieceLength,
		PieceHashes: mi.Info.PieceHashes(),
		FilePath:    filepath.Join(dataDir, name),
		Trackers:    mi.Trackers(),
	}
	if err = m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
