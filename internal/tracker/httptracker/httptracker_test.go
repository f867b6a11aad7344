package httptracker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/bencode"

	"github.com/fluidtorrent/fluid/internal/tracker"
)

const timeout = 2 * time.Second

func serve(t *testing.T, check func(r *http.Request), response interface{}) string {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		b, err := bencode.EncodeBytes(response)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(b)
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/announce"
}

func TestAnnounceCompact(t *testing.T) {
	peers := []tracker.Peer{
		{IP: [4]byte{127, 0, 0, 1}, Port: 1111},
		{IP: [4]byte{10, 1, 2, 3}, Port: 2222},
	}
	u := serve(t, func(r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, string([]byte{6, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}), q.Get("info_hash"))
		assert.Equal(t, "6881", q.Get("port"))
		assert.Equal(t, "100", q.Get("left"))
		assert.Equal(t, "1", q.Get("compact"))
		assert.Equal(t, "started", q.Get("event"))
	}, map[string]interface{}{
		"interval": 1800,
		"complete": 1,
		"peers":    string(tracker.EncodePeersCompact(peers)),
	})

	trk, err := New(u, timeout)
	require.NoError(t, err)
	resp, err := trk.Announce(context.Background(), tracker.AnnounceRequest{
		InfoHash: [20]byte{6},
		PeerID:   [20]byte{1},
		Port:     6881,
		Left:     100,
		Event:    tracker.EventStarted,
	})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, resp.Interval)
	assert.Equal(t, int32(1), resp.Seeders)
	assert.Equal(t, peers, resp.Peers)
}

func TestAnnounceDictionaryPeers(t *testing.T) {
	u := serve(t, nil, map[string]interface{}{
		"interval": 60,
		"peers": []map[string]interface{}{
			{"ip": "1.2.3.4", "port": 5},
			{"ip": "::1", "port": 6},
		},
	})
	trk, err := New(u, timeout)
	require.NoError(t, err)
	resp, err := trk.Announce(context.Background(), tracker.AnnounceRequest{})
	require.NoError(t, err)
	assert.Equal(t, []tracker.Peer{{IP: [4]byte{1, 2, 3, 4}, Port: 5}}, resp.Peers)
}

func TestAnnounceMalformedPeerList(t *testing.T) {
	u := serve(t, nil, map[string]interface{}{
		"interval": 60,
		"peers":    "12345",
	})
	trk, err := New(u, timeout)
	require.NoError(t, err)
	_, err = trk.Announce(context.Background(), tracker.AnnounceRequest{})
	assert.ErrorIs(t, err, tracker.ErrMalformedPeerList)
}

func TestAnnounceFailureReason(t *testing.T) {
	u := serve(t, nil, map[string]interface{}{
		"failure reason": "unregistered torrent",
	})
	trk, err := New(u, timeout)
	require.NoError(t, err)
	_, err = trk.Announce(context.Background(), tracker.AnnounceRequest{})
	var terr *tracker.Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "unregistered torrent", terr.FailureReason)
}

func TestUnsupportedScheme(t *testing.T) {
	_, err := New("udp://tracker.example.com:80", timeout)
	assert.Error(t, err)
}
