package torrent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/bencode"
)

func TestRegistryGetUnknown(t *testing.T) {
	r := newRegistry(t, testConfig(t))
	_, err := r.Get("0000")
	assert.Equal(t, ErrTorrentNotFound, err)
	assert.Equal(t, ErrTorrentNotFound, r.StartTorrent("0000"))
	assert.Equal(t, ErrTorrentNotFound, r.PauseTorrent("0000"))
	assert.Equal(t, ErrTorrentNotFound, r.ResumeTorrent("0000"))
	assert.Equal(t, ErrTorrentNotFound, r.StopTorrent("0000"))
	assert.Equal(t, ErrTorrentNotFound, r.RemoveTorrent("0000"))
}

func TestRegistryAddLastWriteWins(t *testing.T) {
	cfg := testConfig(t)
	r := newRegistry(t, cfg)
	meta := testMetadata(t, testContent())

	t1, err := New(meta, nil, cfg)
	require.NoError(t, err)
	t2, err := New(meta, nil, cfg)
	require.NoError(t, err)
	defer t2.shutdown()

	r.Add(meta.ID(), t1)
	r.Add(meta.ID(), t1)
	assert.Equal(t, Initialized, t1.Status())

	r.Add(meta.ID(), t2)
	got, err := r.Get(meta.ID())
	require.NoError(t, err)
	assert.True(t, got == t2)
	assert.Equal(t, Stopped, t1.Status())
	assert.Len(t, r.Torrents(), 1)
}

func TestRegistryReAddKeepsMetrics(t *testing.T) {
	r := newRegistry(t, testConfig(t))
	meta := testMetadata(t, testContent())

	id, err := r.AddTorrent(meta, nil)
	require.NoError(t, err)
	old, err := r.Get(id)
	require.NoError(t, err)

	_, err = r.AddTorrent(meta, nil)
	require.NoError(t, err)
	got, err := r.Get(id)
	require.NoError(t, err)
	require.False(t, got == old)
	assert.Equal(t, Stopped, old.Status())

	prefix := "torrent." + id + "."
	assert.True(t, r.Metrics().Get(prefix+"bytes_downloaded") == got.metrics.BytesDownloaded)
	assert.True(t, r.Metrics().Get(prefix+"speed_download") == got.metrics.SpeedDownload)

	require.NoError(t, r.RemoveTorrent(id))
	assert.Nil(t, r.Metrics().Get(prefix+"bytes_downloaded"))
}

func TestRegistryTorrents(t *testing.T) {
	r := newRegistry(t, testConfig(t))
	data := testContent()
	m1 := testMetadata(t, data)
	m2 := testMetadata(t, data)
	m2.ContentID[0] ^= 0xFF

	id1, err := r.AddTorrent(m1, nil)
	require.NoError(t, err)
	id2, err := r.AddTorrent(m2, nil)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	torrents := r.Torrents()
	require.Len(t, torrents, 2)
	assert.True(t, torrents[0].ID() < torrents[1].ID())
	stats := r.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, torrents[0].ID(), stats[0].ID)
	assert.Equal(t, Initialized, stats[1].Status)

	require.NoError(t, r.StartTorrent(id1))
	tor, err := r.Get(id1)
	require.NoError(t, err)
	assert.Equal(t, Paused, tor.Wait())
	require.NoError(t, r.StopTorrent(id1))
	require.NoError(t, r.RemoveTorrent(id1))
	assert.Len(t, r.Torrents(), 1)
}

func TestFindPeers(t *testing.T) {
	peers := []byte{10, 0, 0, 1, 0x1A, 0xE1, 10, 0, 0, 2, 0x1A, 0xE2}
	var infoHash string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		infoHash = req.URL.Query().Get("info_hash")
		b, _ := bencode.EncodeBytes(map[string]interface{}{
			"interval": 1800,
			"peers":    string(peers),
		})
		_, _ = w.Write(b)
	}))
	defer srv.Close()

	r := newRegistry(t, testConfig(t))
	meta := testMetadata(t, testContent())
	meta.Trackers = []string{"http://127.0.0.1:1/unreachable", srv.URL + "/announce"}

	got, err := r.FindPeers(context.Background(), meta)
	require.NoError(t, err)
	assert.Equal(t, string(meta.ContentID[:]), infoHash)
	require.Len(t, got, 2)
	assert.Equal(t, "10.0.0.1:6881", got[0].String())
	assert.Equal(t, "10.0.0.2:6882", got[1].String())
}

func TestFindPeersMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		b, _ := bencode.EncodeBytes(map[string]interface{}{
			"interval": 1800,
			"peers":    "12345",
		})
		_, _ = w.Write(b)
	}))
	defer srv.Close()

	r := newRegistry(t, testConfig(t))
	meta := testMetadata(t, testContent())
	meta.Trackers = []string{srv.URL}
	_, err := r.FindPeers(context.Background(), meta)
	assert.Error(t, err)

	meta.Trackers = nil
	_, err = r.FindPeers(context.Background(), meta)
	assert.Equal(t, ErrNoTrackers, err)
}
