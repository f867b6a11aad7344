// Package piecetracker keeps the shared download state of a torrent: which pieces are verified,
// how many peers advertise each piece and the expected digest of every piece.
package piecetracker

import (
	"bytes"
	"crypto/sha1" // nolint: gosec
	"errors"
	"sync"

	"github.com/fluidtorrent/fluid/internal/bitfield"
	"github.com/fluidtorrent/fluid/internal/tracker"
	"github.com/google/btree"
)

/*

Locking:

  * mFrequency guards counts, advertised and byRarity.
  * mCompleted guards completed.
  * When both are needed mFrequency is taken first.
  * No lock is held while calling out of the package, except the eligible
    function passed to RarestMissingFunc.

*/

var (
	// ErrAllComplete is returned by RarestMissing when every piece is verified.
	ErrAllComplete = errors.New("all pieces are complete")
	// ErrNoneAvailable is returned by RarestMissing when no missing piece is advertised by any peer.
	ErrNoneAvailable = errors.New("no missing piece is available from peers")
	// ErrNoneEligible is returned by RarestMissingFunc when missing pieces are advertised but none is eligible.
	ErrNoneEligible = errors.New("no available piece is eligible")
)

// PieceTracker is safe for concurrent use.
type PieceTracker struct {
	hashes      [][20]byte
	pieceLength uint32
	totalLength int64

	mCompleted sync.RWMutex
	completed  bitfield.Bitfield

	mFrequency sync.RWMutex
	counts     []uint32
	advertised map[tracker.Peer]bitfield.Bitfield
	byRarity   *btree.BTree
}

type rarityItem struct {
	count uint32
	index uint32
}

func (a rarityItem) Less(than btree.Item) bool {
	b := than.(rarityItem)
	if a.count != b.count {
		return a.count < b.count
	}
	return a.index < b.index
}

// New returns a PieceTracker for a torrent of totalLength bytes split into pieces of pieceLength bytes,
// one digest per piece.
func New(hashes [][20]byte, pieceLength uint32, totalLength int64) *PieceTracker {
	n := uint32(len(hashes))
	return &PieceTracker{
		hashes:      hashes,
		pieceLength: pieceLength,
		totalLength: totalLength,
		completed:   bitfield.New(n),
		counts:      make([]uint32, n),
		advertised:  make(map[tracker.Peer]bitfield.Bitfield),
		byRarity:    btree.New(2),
	}
}

// NumPieces returns the number of pieces in the torrent.
func (t *PieceTracker) NumPieces() uint32 {
	return uint32(len(t.hashes))
}

// PieceLength returns the length of the piece at index. The last piece may be shorter.
func (t *PieceTracker) PieceLength(index uint32) uint32 {
	if index == t.NumPieces()-1 {
		return uint32(t.totalLength - int64(t.pieceLength)*int64(index))
	}
	return t.pieceLength
}

// TotalLength returns the size of the torrent content in bytes.
func (t *PieceTracker) TotalLength() int64 {
	return t.totalLength
}

// RarestMissing returns the missing piece with the lowest advertised count.
// Ties are broken by the lowest index.
func (t *PieceTracker) RarestMissing() (uint32, error) {
	return t.RarestMissingFunc(nil)
}

// RarestMissingFunc is like RarestMissing but skips pieces for which eligible returns false.
// eligible is called with the tracker locks held and must not call back into the tracker.
func (t *PieceTracker) RarestMissingFunc(eligible func(index uint32) bool) (uint32, error) {
	t.mFrequency.RLock()
	defer t.mFrequency.RUnlock()
	t.mCompleted.RLock()
	defer t.mCompleted.RUnlock()

	if t.completed.All() {
		return 0, ErrAllComplete
	}
	var (
		found     bool
		available bool
		index     uint32
	)
	t.byRarity.Ascend(func(i btree.Item) bool {
		it := i.(rarityItem)
		if t.completed.Test(it.index) {
			return true
		}
		available = true
		if eligible != nil && !eligible(it.index) {
			return true
		}
		found = true
		index = it.index
		return false
	})
	switch {
	case found:
		return index, nil
	case available:
		return 0, ErrNoneEligible
	default:
		return 0, ErrNoneAvailable
	}
}

// MarkComplete marks the piece at index as verified and persisted.
// It returns false if the piece was already complete or index is out of range.
func (t *PieceTracker) MarkComplete(index uint32) bool {
	if index >= t.NumPieces() {
		return false
	}
	t.mCompleted.Lock()
	defer t.mCompleted.Unlock()
	if t.completed.Test(index) {
		return false
	}
	t.completed.Set(index)
	return true
}

// Restore marks every piece set in b as complete. It is used when loading resume data.
func (t *PieceTracker) Restore(b bitfield.Bitfield) error {
	if b.Len() != t.NumPieces() {
		return errors.New("bitfield length does not match piece count")
	}
	t.mCompleted.Lock()
	defer t.mCompleted.Unlock()
	for _, i := range b.Indices() {
		t.completed.Set(i)
	}
	return nil
}

// Has returns true if the piece at index is complete.
func (t *PieceTracker) Has(index uint32) bool {
	if index >= t.NumPieces() {
		return false
	}
	t.mCompleted.RLock()
	defer t.mCompleted.RUnlock()
	return t.completed.Test(index)
}

// Completed returns a copy of the completion bitfield.
func (t *PieceTracker) Completed() bitfield.Bitfield {
	t.mCompleted.RLock()
	defer t.mCompleted.RUnlock()
	return t.completed.Copy()
}

// BytesCompleted returns the total length of completed pieces.
func (t *PieceTracker) BytesCompleted() int64 {
	t.mCompleted.RLock()
	defer t.mCompleted.RUnlock()
	var n int64
	for _, i := range t.completed.Indices() {
		n += int64(t.PieceLength(i))
	}
	return n
}

// RecordAdvertisement increments the count of every index advertised by peer.
// An index advertised again by the same peer is not counted twice. Out of range indexes are ignored.
func (t *PieceTracker) RecordAdvertisement(peer tracker.Peer, indices []uint32) {
	t.mFrequency.Lock()
	defer t.mFrequency.Unlock()
	adv, ok := t.advertised[peer]
	if !ok {
		adv = bitfield.New(t.NumPieces())
		t.advertised[peer] = adv
	}
	for _, i := range indices {
		if i >= t.NumPieces() || adv.Test(i) {
			continue
		}
		adv.Set(i)
		t.setCount(i, t.counts[i]+1)
	}
}

// ForgetPeer removes the advertisement of peer from the counts.
func (t *PieceTracker) ForgetPeer(peer tracker.Peer) {
	t.mFrequency.Lock()
	defer t.mFrequency.Unlock()
	adv, ok := t.advertised[peer]
	if !ok {
		return
	}
	delete(t.advertised, peer)
	for _, i := range adv.Indices() {
		t.setCount(i, t.counts[i]-1)
	}
}

func (t *PieceTracker) setCount(index, count uint32) {
	if old := t.counts[index]; old > 0 {
		t.byRarity.Delete(rarityItem{count: old, index: index})
	}
	t.counts[index] = count
	if count > 0 {
		t.byRarity.ReplaceOrInsert(rarityItem{count: count, index: index})
	}
}

// PeerHas returns true if peer has advertised the piece at index.
func (t *PieceTracker) PeerHas(peer tracker.Peer, index uint32) bool {
	t.mFrequency.RLock()
	defer t.mFrequency.RUnlock()
	adv, ok := t.advertised[peer]
	if !ok || index >= adv.Len() {
		return false
	}
	return adv.Test(index)
}

// Availability returns the number of peers that advertised the piece at index.
func (t *PieceTracker) Availability(index uint32) uint32 {
	if index >= t.NumPieces() {
		return 0
	}
	t.mFrequency.RLock()
	defer t.mFrequency.RUnlock()
	return t.counts[index]
}

// Validate returns true if the SHA-1 digest of data equals the expected digest of the piece at index.
func (t *PieceTracker) Validate(index uint32, data []byte) bool {
	if index >= t.NumPieces() {
		return false
	}
	sum := sha1.Sum(data) // nolint: gosec
	return bytes.Equal(sum[:], t.hashes[index][:])
}
