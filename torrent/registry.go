package torrent

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rcrowley/go-metrics"
	bolt "go.etcd.io/bbolt"

	"github.com/fluidtorrent/fluid/internal/logger"
	"github.com/fluidtorrent/fluid/internal/resumer/boltdbresumer"
)

var torrentsBucket = []byte("torrents")

// Registry holds torrents by their content id.
// Lookups and insertions do not wait for commands running on other torrents.
type Registry struct {
	config  Config
	peerID  [20]byte
	db      *bolt.DB
	resumer *boltdbresumer.Resumer
	log     logger.Logger

	metrics metrics.Registry

	m        sync.RWMutex
	torrents map[string]*Torrent
}

// NewRegistry returns a new Registry. If cfg.Database is set, the resume database is opened.
func NewRegistry(cfg Config) (*Registry, error) {
	cfg, err := cfg.expandPaths()
	if err != nil {
		return nil, err
	}
	peerID, err := newPeerID(cfg.PeerIDPrefix)
	if err != nil {
		return nil, err
	}
	r := &Registry{
		config:   cfg,
		peerID:   peerID,
		log:      logger.New("registry"),
		metrics:  metrics.NewRegistry(),
		torrents: make(map[string]*Torrent),
	}
	if cfg.Database != "" {
		err = os.MkdirAll(filepath.Dir(cfg.Database), 0750)
		if err != nil {
			return nil, err
		}
		r.db, err = boltdbresumer.Open(cfg.Database, time.Second)
		if err == bolt.ErrTimeout {
			return nil, errors.New("resume database is locked by another process")
		}
		if err != nil {
			return nil, err
		}
		r.resumer, err = boltdbresumer.New(r.db, torrentsBucket)
		if err != nil {
			r.db.Close()
			return nil, err
		}
	}
	metrics.NewRegisteredFunctionalGauge("torrents", r.metrics, func() int64 {
		r.m.RLock()
		defer r.m.RUnlock()
		return int64(len(r.torrents))
	})
	return r, nil
}

// PeerID returns the peer id sent in handshakes and announces.
func (r *Registry) PeerID() [20]byte {
	return r.peerID
}

// Metrics returns the registry of metrics of all torrents.
func (r *Registry) Metrics() metrics.Registry {
	return r.metrics
}

// Add puts t into the registry under id. A different torrent that was under the same id is stopped.
func (r *Registry) Add(id string, t *Torrent) {
	r.m.Lock()
	old, ok := r.torrents[id]
	r.torrents[id] = t
	r.m.Unlock()
	if ok && old != t {
		r.log.Infof("Replacing torrent %s", id)
		old.shutdown()
	}
}

// Get returns the torrent with id.
func (r *Registry) Get(id string) (*Torrent, error) {
	r.m.RLock()
	defer r.m.RUnlock()
	t, ok := r.torrents[id]
	if !ok {
		return nil, ErrTorrentNotFound
	}
	return t, nil
}

// AddTorrent creates a Torrent from meta and peers and adds it to the registry.
// Progress saved in the resume database is restored. Returns the content id in hex.
func (r *Registry) AddTorrent(meta *Metadata, peers []Peer) (string, error) {
	id := meta.ID()
	o := options{
		peerID:  r.peerID,
		metrics: metrics.NewPrefixedChildRegistry(r.metrics, "torrent."+id+"."),
	}
	if r.resumer != nil {
		spec, err := r.resumer.Read(id)
		switch {
		case err == nil && string(spec.InfoHash) == string(meta.ContentID[:]):
			o.resume = &resumeData{
				bitfield:   spec.Bitfield,
				downloaded: spec.BytesDownloaded,
				wasted:     spec.BytesWasted,
			}
		case err != nil && err != boltdbresumer.ErrNotFound:
			return "", err
		}
		o.resumer = r.resumer.Torrent(id)
	}
	t, err := newTorrent(meta, peers, r.config, o)
	if err != nil {
		return "", err
	}
	if r.resumer != nil {
		bf := t.pieces.Completed()
		err = r.resumer.Write(id, &boltdbresumer.Spec{
			InfoHash:        meta.ContentID[:],
			Name:            meta.Name,
			Bitfield:        bf.Bytes(),
			AddedAt:         t.addedAt,
			BytesDownloaded: t.metrics.BytesDownloaded.Count(),
			BytesWasted:     t.metrics.BytesWasted.Count(),
		})
		if err != nil {
			t.close()
			return "", err
		}
	}
	r.Add(id, t)
	return id, nil
}

// StartTorrent starts the torrent with id.
func (r *Registry) StartTorrent(id string) error {
	t, err := r.Get(id)
	if err != nil {
		return err
	}
	return t.Start()
}

// PauseTorrent pauses the torrent with id.
func (r *Registry) PauseTorrent(id string) error {
	t, err := r.Get(id)
	if err != nil {
		return err
	}
	return t.Pause()
}

// ResumeTorrent resumes the paused torrent with id.
func (r *Registry) ResumeTorrent(id string) error {
	t, err := r.Get(id)
	if err != nil {
		return err
	}
	return t.Resume()
}

// StopTorrent stops the torrent with id.
func (r *Registry) StopTorrent(id string) error {
	t, err := r.Get(id)
	if err != nil {
		return err
	}
	return t.Stop()
}

// RemoveTorrent stops the torrent with id and deletes it from the registry and the resume database.
func (r *Registry) RemoveTorrent(id string) error {
	r.m.Lock()
	t, ok := r.torrents[id]
	delete(r.torrents, id)
	r.m.Unlock()
	if !ok {
		return ErrTorrentNotFound
	}
	t.shutdown()
	if r.resumer != nil {
		return r.resumer.Delete(id)
	}
	return nil
}

// Torrents returns all torrents ordered by id.
func (r *Registry) Torrents() []*Torrent {
	r.m.RLock()
	torrents := make([]*Torrent, 0, len(r.torrents))
	for _, t := range r.torrents {
		torrents = append(torrents, t)
	}
	r.m.RUnlock()
	sort.Slice(torrents, func(i, j int) bool { return torrents[i].ID() < torrents[j].ID() })
	return torrents
}

// Stats returns the stats of all torrents ordered by id.
func (r *Registry) Stats() []Stats {
	torrents := r.Torrents()
	stats := make([]Stats, len(torrents))
	for i, t := range torrents {
		stats[i] = t.Stats()
	}
	return stats
}

// Close stops all torrents and closes the resume database.
func (r *Registry) Close() error {
	r.m.Lock()
	torrents := r.torrents
	r.torrents = make(map[string]*Torrent)
	r.m.Unlock()

	var wg sync.WaitGroup
	for _, t := range torrents {
		wg.Add(1)
		go func(t *Torrent) {
			defer wg.Done()
			t.shutdown()
		}(t)
	}
	wg.Wait()

	if r.db != nil {
		return r.db.Close()
	}
	return nil
}
