package piecetracker

import (
	"crypto/sha1" // nolint: gosec
	"sync"
	"testing"

	"github.com/fluidtorrent/fluid/internal/bitfield"
	"github.com/fluidtorrent/fluid/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	peer1 = tracker.Peer{IP: [4]byte{10, 0, 0, 1}, Port: 6881}
	peer2 = tracker.Peer{IP: [4]byte{10, 0, 0, 2}, Port: 6881}
	peer3 = tracker.Peer{IP: [4]byte{10, 0, 0, 3}, Port: 6881}
)

func newTracker(n int) *PieceTracker {
	return New(make([][20]byte, n), 4, int64(4*n))
}

func TestRarestMissingTieBreak(t *testing.T) {
	pt := newTracker(3)
	pt.RecordAdvertisement(peer1, []uint32{0, 1})
	pt.RecordAdvertisement(peer2, []uint32{0, 2})
	pt.RecordAdvertisement(peer3, []uint32{0})
	require.Equal(t, uint32(3), pt.Availability(0))
	require.Equal(t, uint32(1), pt.Availability(1))
	require.Equal(t, uint32(1), pt.Availability(2))

	i, err := pt.RarestMissing()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), i)
}

func TestRarestMissingSkipsComplete(t *testing.T) {
	pt := newTracker(3)
	pt.RecordAdvertisement(peer1, []uint32{0, 1, 2})
	pt.RecordAdvertisement(peer2, []uint32{0})

	assert.True(t, pt.MarkComplete(1))
	assert.False(t, pt.MarkComplete(1))
	i, err := pt.RarestMissing()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), i)

	pt.MarkComplete(2)
	i, err = pt.RarestMissing()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), i)

	pt.MarkComplete(0)
	_, err = pt.RarestMissing()
	assert.Equal(t, ErrAllComplete, err)
	done := pt.Completed()
	assert.True(t, done.All())
}

func TestRarestMissingNoneAvailable(t *testing.T) {
	pt := newTracker(2)
	_, err := pt.RarestMissing()
	assert.Equal(t, ErrNoneAvailable, err)

	pt.RecordAdvertisement(peer1, []uint32{0})
	pt.MarkComplete(0)
	_, err = pt.RarestMissing()
	assert.Equal(t, ErrNoneAvailable, err)
}

func TestRarestMissingFunc(t *testing.T) {
	pt := newTracker(3)
	pt.RecordAdvertisement(peer1, []uint32{0, 1, 2})
	pt.RecordAdvertisement(peer2, []uint32{0, 2})

	i, err := pt.RarestMissingFunc(func(i uint32) bool { return i != 1 })
	require.NoError(t, err)
	assert.Equal(t, uint32(0), i)

	_, err = pt.RarestMissingFunc(func(uint32) bool { return false })
	assert.Equal(t, ErrNoneEligible, err)
}

func TestAdvertisementNotCountedTwice(t *testing.T) {
	pt := newTracker(2)
	pt.RecordAdvertisement(peer1, []uint32{0, 1})
	pt.RecordAdvertisement(peer1, []uint32{0, 0, 7})
	assert.Equal(t, uint32(1), pt.Availability(0))
	assert.Equal(t, uint32(1), pt.Availability(1))
	assert.True(t, pt.PeerHas(peer1, 1))
	assert.False(t, pt.PeerHas(peer2, 1))
}

func TestForgetPeer(t *testing.T) {
	pt := newTracker(2)
	pt.RecordAdvertisement(peer1, []uint32{0})
	pt.RecordAdvertisement(peer2, []uint32{0, 1})
	i, err := pt.RarestMissing()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), i)

	pt.ForgetPeer(peer1)
	assert.Equal(t, uint32(1), pt.Availability(0))
	assert.False(t, pt.PeerHas(peer1, 0))

	pt.ForgetPeer(peer2)
	_, err = pt.RarestMissing()
	assert.Equal(t, ErrNoneAvailable, err)
}

func TestValidate(t *testing.T) {
	data := []byte("piece data")
	pt := New([][20]byte{sha1.Sum(data)}, 16, int64(len(data))) // nolint: gosec
	require.True(t, pt.Validate(0, data))
	for i := range data {
		mutated := append([]byte(nil), data...)
		mutated[i] ^= 0x01
		assert.False(t, pt.Validate(0, mutated), "mutation at %d", i)
	}
	assert.False(t, pt.Validate(0, data[:5]))
	assert.False(t, pt.Validate(1, data))
}

func TestPieceLength(t *testing.T) {
	pt := New(make([][20]byte, 3), 4, 10)
	assert.Equal(t, uint32(4), pt.PieceLength(0))
	assert.Equal(t, uint32(4), pt.PieceLength(1))
	assert.Equal(t, uint32(2), pt.PieceLength(2))

	pt.MarkComplete(0)
	pt.MarkComplete(2)
	assert.Equal(t, int64(6), pt.BytesCompleted())
}

func TestRestore(t *testing.T) {
	pt := newTracker(3)
	b := bitfield.New(3)
	b.Set(2)
	require.NoError(t, pt.Restore(b))
	assert.True(t, pt.Has(2))
	assert.False(t, pt.Has(0))
	assert.Error(t, pt.Restore(bitfield.New(4)))
}

func TestConcurrentAccess(t *testing.T) {
	pt := newTracker(64)
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			peer := tracker.Peer{IP: [4]byte{10, 0, 1, byte(p)}, Port: 1}
			for i := uint32(0); i < 64; i++ {
				pt.RecordAdvertisement(peer, []uint32{i})
				_, _ = pt.RarestMissing()
				if i%3 == 0 {
					pt.MarkComplete(i)
				}
			}
		}(p)
	}
	wg.Wait()
	for i := uint32(0); i < 64; i++ {
		assert.Equal(t, uint32(8), pt.Availability(i))
	}
}

func TestOutOfRangeIndex(t *testing.T) {
	pt := newTracker(2)
	assert.False(t, pt.Has(2))
	assert.False(t, pt.MarkComplete(1000))
	assert.Zero(t, pt.Availability(1000))
	assert.False(t, pt.PeerHas(peer1, 1000))
	assert.False(t, pt.Validate(1000, nil))
	done := pt.Completed()
	assert.Zero(t, done.Count())
}
