package torrent

import (
	"context"
	"errors"

	"github.com/fluidtorrent/fluid/internal/tracker"
	"github.com/fluidtorrent/fluid/internal/tracker/httptracker"
)

// ErrNoTrackers is returned by FindPeers when the metadata has no supported tracker.
var ErrNoTrackers = errors.New("torrent has no HTTP trackers")

// FindPeers announces to the trackers of meta in order and returns the peers of the first successful response.
// A malformed peer list is returned as error like any other tracker error.
func (r *Registry) FindPeers(ctx context.Context, meta *Metadata) ([]Peer, error) {
	if len(meta.Trackers) == 0 {
		return nil, ErrNoTrackers
	}
	left := meta.TotalSize
	if t, err := r.Get(meta.ID()); err == nil {
		left -= t.pieces.BytesCompleted()
	}
	req := tracker.AnnounceRequest{
		InfoHash: meta.ContentID,
		PeerID:   r.peerID,
		Port:     uint16(r.config.Port),
		Left:     left,
		NumWant:  50,
		Event:    tracker.EventStarted,
	}
	var lastErr error
	for _, u := range meta.Trackers {
		tr, err := httptracker.New(u, r.config.TrackerTimeout)
		if err != nil {
			lastErr = err
			continue
		}
		resp, err := tr.Announce(ctx, req)
		if err != nil {
			r.log.Warningf("announce to %s failed: %s", u, err)
			lastErr = err
			continue
		}
		r.log.Infof("Tracker %s returned %d peers", u, len(resp.Peers))
		return resp.Peers, nil
	}
	return nil, lastErr
}
