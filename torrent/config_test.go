package torrent

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "config.yaml")
	err := os.WriteFile(filename, []byte("port: 7000\nrequest_timeout: 3s\nmax_piece_retries: 9\n"), 0600)
	require.NoError(t, err)

	c, err := LoadConfig(filename)
	require.NoError(t, err)
	assert.Equal(t, 7000, c.Port)
	assert.Equal(t, 3*time.Second, c.RequestTimeout)
	assert.Equal(t, uint64(9), c.MaxPieceRetries)
	assert.Equal(t, DefaultConfig.Protocol, c.Protocol)
	assert.Equal(t, DefaultConfig.HandshakeTimeout, c.HandshakeTimeout)
}

func TestLoadConfigMissingFile(t *testing.T) {
	c, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig, *c)
}

func TestLoadConfigInvalid(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(filename, []byte("port: [1"), 0600))
	_, err := LoadConfig(filename)
	assert.Error(t, err)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "Downloading", Downloading.String())
	assert.Equal(t, "42", Status(42).String())
	b, err := Completed.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "Completed", string(b))
	assert.True(t, Stopped.Terminal())
	assert.False(t, Paused.Terminal())
}

func TestPeerID(t *testing.T) {
	id, err := newPeerID("-FL0001-")
	require.NoError(t, err)
	assert.Equal(t, "-FL0001-", string(id[:8]))
	id2, err := newPeerID("-FL0001-")
	require.NoError(t, err)
	assert.NotEqual(t, id, id2)

	_, err = newPeerID("this prefix is way too long")
	assert.Error(t, err)
}
