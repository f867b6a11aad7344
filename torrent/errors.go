package torrent

import "errors"

var (
	// ErrTorrentNotFound is returned when the registry has no torrent with the given id.
	ErrTorrentNotFound = errors.New("torrent not found")
	// ErrInvalidTransition is returned when a command is not allowed in the current status.
	ErrInvalidTransition = errors.New("invalid status transition")
)
