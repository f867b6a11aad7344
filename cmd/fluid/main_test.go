package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluidtorrent/fluid/torrent"
)

func TestFindPeersCancelledBySignal(t *testing.T) {
	blockC := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-blockC:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(blockC)

	cfg := torrent.DefaultConfig
	cfg.Database = ""
	cfg.DataDir = t.TempDir()
	reg, err := torrent.NewRegistry(cfg)
	require.NoError(t, err)
	defer reg.Close()
	meta := &torrent.Metadata{
		ContentID:   [20]byte{1},
		Name:        "a",
		TotalSize:   1,
		PieceLength: 1,
		PieceHashes: make([][20]byte, 1),
		Trackers:    []string{srv.URL + "/announce"},
	}

	sigC := make(chan os.Signal, 1)
	sigC <- syscall.SIGINT
	_, err = findPeers(context.Background(), reg, meta, sigC)
	assert.True(t, errors.Is(err, context.Canceled))

	// A signal after the announce is left for the download loop.
	sigC <- syscall.SIGINT
	assert.Len(t, sigC, 1)
}

func TestFindPeersWithoutTrackers(t *testing.T) {
	cfg := torrent.DefaultConfig
	cfg.Database = ""
	cfg.DataDir = t.TempDir()
	reg, err := torrent.NewRegistry(cfg)
	require.NoError(t, err)
	defer reg.Close()

	sigC := make(chan os.Signal, 1)
	_, err = findPeers(context.Background(), reg, &torrent.Metadata{ContentID: [20]byte{2}}, sigC)
	assert.Equal(t, torrent.ErrNoTrackers, err)
}
