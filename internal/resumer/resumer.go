// Package resumer contains an interface that is used by torrent package for resuming an existing download.
package resumer

// Resumer saves the progress of a single torrent.
type Resumer interface {
	WriteBitfield([]byte) error
	WriteStats(Stats) error
}

// Stats are the counters persisted along with the bitfield.
type Stats struct {
	BytesDownloaded int64
	BytesWasted     int64
}
