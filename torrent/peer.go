package torrent

import "github.com/fluidtorrent/fluid/internal/tracker"

// Peer is the IPv4 address of a remote peer.
type Peer = tracker.Peer

// ParsePeer parses an address in "ip:port" form.
func ParsePeer(s string) (Peer, error) {
	return tracker.ParsePeer(s)
}
