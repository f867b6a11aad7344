package torrent

import (
	"errors"

	"github.com/gofrs/uuid"
)

// newPeerID returns prefix followed by random bytes.
func newPeerID(prefix string) ([20]byte, error) {
	var id [20]byte
	if len(prefix) > len(id) {
		return id, errors.New("peer id prefix is longer than 20 bytes")
	}
	u, err := uuid.NewV4()
	if err != nil {
		return id, err
	}
	n := copy(id[:], prefix)
	copy(id[n:], u[:])
	return id, nil
}
