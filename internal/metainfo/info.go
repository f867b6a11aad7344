package metainfo

import (
	"crypto/sha1" // nolint: gosec
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/zeebo/bencode"
)

var errInvalidPieceData = errors.New("invalid piece data")

// Info contains information about torrent.
type Info struct {
	PieceLength uint32     `bencode:"piece length"`
	Pieces      []byte     `bencode:"pieces"`
	Name        string     `bencode:"name"`
	Length      int64      `bencode:"length"` // Single File Mode
	Files       []FileDict `bencode:"files"`  // Multiple File mode

	// Calculated fields
	Hash        [20]byte `bencode:"-"`
	TotalLength int64    `bencode:"-"`
	NumPieces   uint32   `bencode:"-"`
	Bytes       []byte   `bencode:"-"`
}

// FileDict is an entry of the files list in multiple file mode.
type FileDict struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
}

// NewInfo returns info from bencoded bytes in b.
func NewInfo(b []byte) (*Info, error) {
	var i Info
	if err := bencode.DecodeBytes(b, &i); err != nil {
		return nil, err
	}
	if i.PieceLength == 0 {
		return nil, errors.New("piece length is zero")
	}
	if uint32(len(i.Pieces))%sha1.Size != 0 {
		return nil, errInvalidPieceData
	}
	// ".." is not allowed in file names
	for _, file := range i.Files {
		for _, path := range file.Path {
			if strings.TrimSpace(path) == ".." {
				return nil, fmt.Errorf("invalid file name: %q", filepath.Join(file.Path...))
			}
		}
	}
	i.NumPieces = uint32(len(i.Pieces)) / sha1.Size
	if !i.MultiFile() {
		i.TotalLength = i.Length
	} else {
		for _, f := range i.Files {
			i.TotalLength += f.Length
		}
	}
	totalPieceDataLength := int64(i.PieceLength) * int64(i.NumPieces)
	delta := totalPieceDataLength - i.TotalLength
	if delta >= int64(i.PieceLength) || delta < 0 {
		return nil, errInvalidPieceData
	}
	i.Bytes = b
	hash := sha1.New()   // nolint: gosec
	_, _ = hash.Write(b) // nolint: gosec
	copy(i.Hash[:], hash.Sum(nil))
	return &i, nil
}

// MultiFile returns true if the torrent contains a files list.
func (i *Info) MultiFile() bool {
	return len(i.Files) != 0
}

// HashOf returns the expected SHA-1 digest of the piece at index.
func (i *Info) HashOf(index uint32) (h [20]byte) {
	begin := index * sha1.Size
	copy(h[:], i.Pieces[begin:begin+sha1.Size])
	return
}

// PieceHashes returns the digests of all pieces in order.
func (i *Info) PieceHashes() [][20]byte {
	ret := make([][20]byte, i.NumPieces)
	for j := range ret {
		ret[j] = i.HashOf(uint32(j))
	}
	return ret
}

// NewInfoBytes reads size bytes from r and returns a bencoded info dictionary for a single file named name.
func NewInfoBytes(name string, r io.Reader, size int64, pieceLength uint32) ([]byte, error) {
	if pieceLength == 0 {
		return nil, errors.New("piece length is zero")
	}
	if size <= 0 {
		return nil, errors.New("file is empty")
	}
	var pieces []byte
	buf := make([]byte, pieceLength)
	for left := size; left > 0; {
		n := int64(pieceLength)
		if left < n {
			n = left
		}
		if _, err := io.ReadFull(r, buf[:n]); err != nil {
			return nil, err
		}
		sum := sha1.Sum(buf[:n]) // nolint: gosec
		pieces = append(pieces, sum[:]...)
		left -= n
	}
	info := struct {
		PieceLength uint32 `bencode:"piece length"`
		Pieces      []byte `bencode:"pieces"`
		Name        string `bencode:"name"`
		Length      int64  `bencode:"length"`
	}{
		PieceLength: pieceLength,
		Pieces:      pieces,
		Name:        name,
		Length:      size,
	}
	return bencode.EncodeBytes(info)
}
