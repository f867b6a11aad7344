package httptracker

import (
	"context"
	"testing"
	"time"

	fhttp "github.com/chihaya/chihaya/frontend/http"
	"github.com/chihaya/chihaya/middleware"
	"github.com/chihaya/chihaya/storage"
	_ "github.com/chihaya/chihaya/storage/memory"
	"github.com/stretchr/testify/require"

	"github.com/fluidtorrent/fluid/internal/tracker"
)

const chihayaAddr = "127.0.0.1:5050"

func startChihaya(t *testing.T) (stop func()) {
	ps, err := storage.NewPeerStore("memory", map[string]interface{}{})
	require.NoError(t, err)
	lgc := middleware.NewLogic(middleware.ResponseConfig{AnnounceInterval: time.Minute}, ps, nil, nil)
	fe, err := fhttp.NewFrontend(lgc, fhttp.Config{
		Addr:         chihayaAddr,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	require.NoError(t, err)
	return func() {
		require.Nil(t, <-fe.Stop())
	}
}

func TestAnnounceToRealTracker(t *testing.T) {
	defer startChihaya(t)()

	trk, err := New("http://"+chihayaAddr+"/announce", timeout)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Seeder
	_, err = trk.Announce(ctx, tracker.AnnounceRequest{
		InfoHash: [20]byte{6},
		PeerID:   [20]byte{1},
		Port:     1111,
		Left:     0,
		Event:    tracker.EventStarted,
	})
	require.NoError(t, err)

	// Leecher
	resp, err := trk.Announce(ctx, tracker.AnnounceRequest{
		InfoHash: [20]byte{6},
		PeerID:   [20]byte{2},
		Port:     2222,
		Left:     1,
		NumWant:  10,
		Event:    tracker.EventStarted,
	})
	require.NoError(t, err)
	require.Len(t, resp.Peers, 1)
	require.Equal(t, uint16(1111), resp.Peers[0].Port)
}
