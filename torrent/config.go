package torrent

import (
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v2"
)

// Config for Registry and Torrent.
type Config struct {
	// Protocol identifier sent and expected in the handshake.
	Protocol string `yaml:"protocol"`
	// Prefix of the peer id that is sent to trackers and peers. The rest of the id is random.
	PeerIDPrefix string `yaml:"peer_id_prefix"`
	// Port number announced to trackers.
	Port int `yaml:"port"`
	// Directory of downloaded files for torrents added from a torrent file.
	DataDir string `yaml:"data_dir"`
	// Database file to save resume data. Empty string disables resuming.
	Database string `yaml:"database"`

	// Max number of peers to dial at the same time.
	ParallelConnects int `yaml:"parallel_connects"`
	// Time to wait for TCP connection to open.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	// Time to wait for BitTorrent handshake to complete.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	// Time to wait for the bitfield of a peer after the handshake.
	AdvertisementTimeout time.Duration `yaml:"advertisement_timeout"`
	// Time to wait for a requested piece.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// A piece that fails on every peer is retried after an exponentially growing interval.
	PieceRetryInitialInterval time.Duration `yaml:"piece_retry_initial_interval"`
	PieceRetryMaxInterval     time.Duration `yaml:"piece_retry_max_interval"`
	// The torrent is paused when a piece fails this many more times.
	MaxPieceRetries uint64 `yaml:"max_piece_retries"`
	// Peer is disconnected after failing on this many consecutive different pieces.
	PeerFailuresBeforeEviction int `yaml:"peer_failures_before_eviction"`

	// Total time to wait for a tracker response.
	TrackerTimeout time.Duration `yaml:"tracker_timeout"`
}

// DefaultConfig for Registry. Do not pass zero value Config to NewRegistry.
// Copy this struct and modify instead.
var DefaultConfig = Config{
	Protocol:     "BitTorrent protocol",
	PeerIDPrefix: "-FL0001-",
	Port:         6881,
	DataDir:      "~/fluid/data",
	Database:     "~/fluid/resume.db",

	ParallelConnects:     25,
	ConnectTimeout:       5 * time.Second,
	HandshakeTimeout:     10 * time.Second,
	AdvertisementTimeout: 2 * time.Second,
	RequestTimeout:       30 * time.Second,

	PieceRetryInitialInterval:  100 * time.Millisecond,
	PieceRetryMaxInterval:      10 * time.Second,
	MaxPieceRetries:            5,
	PeerFailuresBeforeEviction: 2,

	TrackerTimeout: 30 * time.Second,
}

// LoadConfig reads a YAML file at filename and overrides the values in DefaultConfig.
// A missing file is not an error.
func LoadConfig(filename string) (*Config, error) {
	c := DefaultConfig
	filename, err := homedir.Expand(filename)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		return &c, nil
	}
	if err != nil {
		return nil, err
	}
	if err = yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c Config) expandPaths() (Config, error) {
	var err error
	c.DataDir, err = homedir.Expand(c.DataDir)
	if err != nil {
		return c, err
	}
	c.Database, err = homedir.Expand(c.Database)
	return c, err
}
