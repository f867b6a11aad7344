// Package torrent downloads torrents from a set of known peers.
// A Registry holds the torrents added by the user and is the entry point of the package.
package torrent

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rcrowley/go-metrics"

	"github.com/fluidtorrent/fluid/internal/bitfield"
	"github.com/fluidtorrent/fluid/internal/downloader"
	"github.com/fluidtorrent/fluid/internal/logger"
	"github.com/fluidtorrent/fluid/internal/peersession"
	"github.com/fluidtorrent/fluid/internal/piecetracker"
	"github.com/fluidtorrent/fluid/internal/resumer"
	"github.com/fluidtorrent/fluid/internal/semaphore"
	"github.com/fluidtorrent/fluid/internal/storage"
	"github.com/fluidtorrent/fluid/internal/storage/filestorage"
)

// Torrent is a single download.
// Its methods are safe for concurrent use.
type Torrent struct {
	meta    Metadata
	config  Config
	peerID  [20]byte
	addedAt time.Time
	pieces  *piecetracker.PieceTracker
	resumer resumer.Resumer
	metrics *torrentMetrics
	log     logger.Logger

	mStatus sync.RWMutex
	status  Status
	err     error
	// Closed when the running download loop returns.
	doneC chan struct{}

	mPeers sync.RWMutex
	peers  map[Peer]struct{}

	mSessions sync.RWMutex
	sessions  map[Peer]*peersession.Session

	// Serializes Start, Pause, Resume and Stop.
	mCommand sync.Mutex
	cancel   context.CancelFunc

	fileOnce sync.Once
	file     *storage.Pieces
}

type options struct {
	peerID  [20]byte
	resumer resumer.Resumer
	resume  *resumeData
	metrics metrics.Registry
}

type resumeData struct {
	bitfield   []byte
	downloaded int64
	wasted     int64
}

// New returns a Torrent that downloads the content described by meta from peers.
// The content file is created if it does not exist.
func New(meta *Metadata, peers []Peer, cfg Config) (*Torrent, error) {
	id, err := newPeerID(cfg.PeerIDPrefix)
	if err != nil {
		return nil, err
	}
	return newTorrent(meta, peers, cfg, options{peerID: id, metrics: metrics.NewRegistry()})
}

func newTorrent(meta *Metadata, peers []Peer, cfg Config, o options) (*Torrent, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	fs, err := filestorage.New(filepath.Dir(meta.FilePath))
	if err != nil {
		return nil, err
	}
	f, exists, err := fs.Open(filepath.Base(meta.FilePath), meta.TotalSize)
	if err != nil {
		return nil, err
	}
	t := &Torrent{
		meta:     *meta,
		config:   cfg,
		peerID:   o.peerID,
		addedAt:  time.Now().UTC(),
		pieces:   piecetracker.New(meta.PieceHashes, meta.PieceLength, meta.TotalSize),
		resumer:  o.resumer,
		metrics:  newTorrentMetrics(o.metrics),
		log:      logger.New("torrent " + meta.ID()[:8]),
		status:   Initialized,
		peers:    make(map[Peer]struct{}),
		sessions: make(map[Peer]*peersession.Session),
		file:     storage.NewPieces(f, meta.PieceLength, meta.TotalSize),
	}
	t.AddPeers(peers...)
	if o.resume != nil && exists {
		err = t.restore(o.resume)
		if err != nil {
			t.log.Warningln("cannot restore resume data:", err)
		}
	}
	return t, nil
}

func (t *Torrent) restore(rd *resumeData) error {
	bf, err := bitfield.FromBytes(rd.bitfield, t.pieces.NumPieces())
	if err != nil {
		return err
	}
	err = t.pieces.Restore(bf)
	if err != nil {
		return err
	}
	t.metrics.BytesDownloaded.Inc(rd.downloaded)
	t.metrics.BytesWasted.Inc(rd.wasted)
	t.log.Infof("Restored %d of %d pieces", bf.Count(), bf.Len())
	return nil
}

// ID returns the content id in hex.
func (t *Torrent) ID() string {
	return t.meta.ID()
}

// ContentID returns the SHA-1 of the info dictionary.
func (t *Torrent) ContentID() [20]byte {
	return t.meta.ContentID
}

// Name of the torrent.
func (t *Torrent) Name() string {
	return t.meta.Name
}

// AddedAt returns the time the torrent was created.
func (t *Torrent) AddedAt() time.Time {
	return t.addedAt
}

// Metadata returns a copy of the metadata of the torrent.
func (t *Torrent) Metadata() Metadata {
	return t.meta
}

// Status returns the current status.
func (t *Torrent) Status() Status {
	t.mStatus.RLock()
	defer t.mStatus.RUnlock()
	return t.status
}

// Completed returns the completion state of every piece.
func (t *Torrent) Completed() []bool {
	b := t.pieces.Completed()
	return b.Bools()
}

// AddPeers adds addresses to the known peers. They are connected on the next Start or Resume.
func (t *Torrent) AddPeers(peers ...Peer) {
	t.mPeers.Lock()
	defer t.mPeers.Unlock()
	for _, pe := range peers {
		t.peers[pe] = struct{}{}
	}
}

// Peers returns the known peers ordered by address.
func (t *Torrent) Peers() []Peer {
	t.mPeers.RLock()
	peers := make([]Peer, 0, len(t.peers))
	for pe := range t.peers {
		peers = append(peers, pe)
	}
	t.mPeers.RUnlock()
	sort.Slice(peers, func(i, j int) bool { return peers[i].Less(peers[j]) })
	return peers
}

// Start connects to the known peers and starts downloading in background.
// It returns ErrInvalidTransition unless the torrent is newly created.
func (t *Torrent) Start() error {
	t.mCommand.Lock()
	defer t.mCommand.Unlock()
	if err := t.transition(Connecting); err != nil {
		return err
	}
	t.log.Info("Starting torrent")
	t.startRun()
	return nil
}

// Pause disconnects from all peers and stops downloading.
// A piece that has not been written yet is discarded.
func (t *Torrent) Pause() error {
	t.mCommand.Lock()
	defer t.mCommand.Unlock()
	if err := t.transition(Paused); err != nil {
		return err
	}
	t.log.Info("Pausing torrent")
	t.stopRun()
	return nil
}

// Resume reconnects to the known peers of a paused torrent and continues downloading.
func (t *Torrent) Resume() error {
	t.mCommand.Lock()
	defer t.mCommand.Unlock()
	// A loop that ended by stalling may still be closing its sessions.
	t.waitRun()
	if err := t.transition(Downloading); err != nil {
		return err
	}
	t.log.Info("Resuming torrent")
	t.startRun()
	return nil
}

// Stop disconnects from all peers and closes the content file. A stopped torrent cannot be started again.
func (t *Torrent) Stop() error {
	t.mCommand.Lock()
	defer t.mCommand.Unlock()
	if err := t.transition(Stopped); err != nil {
		return err
	}
	t.log.Info("Stopping torrent")
	t.stopRun()
	t.close()
	return nil
}

// Wait blocks until the running download loop returns and returns the status at that time.
// It returns immediately if the torrent is not running.
func (t *Torrent) Wait() Status {
	t.mStatus.RLock()
	doneC := t.doneC
	t.mStatus.RUnlock()
	if doneC != nil {
		<-doneC
	}
	return t.Status()
}

func (t *Torrent) transition(to Status) error {
	t.mStatus.Lock()
	defer t.mStatus.Unlock()
	return t.transitionLocked(to)
}

func (t *Torrent) transitionLocked(to Status) error {
	if !t.status.canTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.status, to)
	}
	t.log.Debugf("Status changed: %s -> %s", t.status, to)
	t.status = to
	if to == Downloading || to == Connecting {
		t.err = nil
	}
	return nil
}

// transitionFrom changes the status only if it is currently from.
func (t *Torrent) transitionFrom(from, to Status) bool {
	t.mStatus.Lock()
	defer t.mStatus.Unlock()
	if t.status != from {
		return false
	}
	return t.transitionLocked(to) == nil
}

// Must be called with mCommand held.
func (t *Torrent) startRun() {
	ctx, cancel := context.WithCancel(context.Background())
	doneC := make(chan struct{})
	t.cancel = cancel
	t.mStatus.Lock()
	t.doneC = doneC
	t.mStatus.Unlock()
	go t.run(ctx, doneC)
}

// Must be called with mCommand held.
func (t *Torrent) stopRun() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.closeSessions()
	t.waitRun()
}

func (t *Torrent) waitRun() {
	t.mStatus.RLock()
	doneC := t.doneC
	t.mStatus.RUnlock()
	if doneC != nil {
		<-doneC
	}
}

func (t *Torrent) run(ctx context.Context, doneC chan struct{}) {
	defer close(doneC)
	defer t.closeSessions()

	t.connectPeers(ctx)
	if !t.transitionFrom(Connecting, Downloading) && t.Status() != Downloading {
		return
	}

	d := downloader.New(t.pieces, sessionPool{t}, t.file, statusChecker{t}, downloader.Config{
		RetryInitialInterval:       t.config.PieceRetryInitialInterval,
		RetryMaxInterval:           t.config.PieceRetryMaxInterval,
		MaxRetries:                 t.config.MaxPieceRetries,
		PeerFailuresBeforeEviction: t.config.PeerFailuresBeforeEviction,
	}, downloader.Callbacks{
		PieceCompleted: t.pieceCompleted,
		HashFailed:     t.hashFailed,
		PeerEvicted:    func(Peer) { t.metrics.PeersEvicted.Inc(1) },
	}, t.log)
	res, err := d.Run(ctx)
	switch {
	case err != nil:
		t.log.Errorln("download error:", err)
		t.mStatus.Lock()
		t.err = err
		t.mStatus.Unlock()
		t.transitionFrom(Downloading, Paused)
	case res == downloader.Completed:
		if t.transitionFrom(Downloading, Completed) {
			t.log.Info("Download completed")
			defer t.close()
		}
	case res == downloader.Stalled:
		if t.transitionFrom(Downloading, Paused) {
			t.log.Info("Download stalled, torrent is paused")
		}
	}
	t.writeStats()
}

func (t *Torrent) connectPeers(ctx context.Context) {
	cfg := peersession.Config{
		Protocol:             t.config.Protocol,
		ConnectTimeout:       t.config.ConnectTimeout,
		HandshakeTimeout:     t.config.HandshakeTimeout,
		AdvertisementTimeout: t.config.AdvertisementTimeout,
		RequestTimeout:       t.config.RequestTimeout,
	}
	peers := t.Peers()
	sem := semaphore.New(t.config.ParallelConnects)
	var wg sync.WaitGroup
	for _, pe := range peers {
		if err := sem.Acquire(ctx); err != nil {
			break
		}
		wg.Add(1)
		go func(pe Peer) {
			defer wg.Done()
			defer sem.Release()
			s, err := peersession.Connect(ctx, pe, t.meta.ContentID, t.peerID, t.pieces.NumPieces(), cfg, t.pieces)
			if err != nil {
				t.log.Debugf("Cannot connect to peer %s: %s", pe, err)
				return
			}
			t.addSession(ctx, s)
		}(pe)
	}
	wg.Wait()
	t.log.Infof("Connected to %d of %d peers", t.numSessions(), len(peers))
}

func (t *Torrent) addSession(ctx context.Context, s *peersession.Session) {
	t.mSessions.Lock()
	defer t.mSessions.Unlock()
	// Pause may have closed the sessions while this one was connecting.
	if ctx.Err() != nil {
		s.Close()
		t.pieces.ForgetPeer(s.Peer())
		return
	}
	if old, ok := t.sessions[s.Peer()]; ok {
		old.Close()
	}
	t.sessions[s.Peer()] = s
}

func (t *Torrent) numSessions() int {
	t.mSessions.RLock()
	defer t.mSessions.RUnlock()
	return len(t.sessions)
}

func (t *Torrent) closeSessions() {
	t.mSessions.Lock()
	sessions := t.sessions
	t.sessions = make(map[Peer]*peersession.Session)
	t.mSessions.Unlock()
	for pe, s := range sessions {
		s.Close()
		t.pieces.ForgetPeer(pe)
	}
}

func (t *Torrent) pieceCompleted(index uint32, length int64) {
	t.metrics.BytesDownloaded.Inc(length)
	t.metrics.SpeedDownload.Mark(length)
	if t.resumer == nil {
		return
	}
	bf := t.pieces.Completed()
	if err := t.resumer.WriteBitfield(bf.Bytes()); err != nil {
		t.log.Errorln("cannot write bitfield to resume db:", err)
	}
	t.writeStats()
}

func (t *Torrent) hashFailed(index uint32, pe Peer, length int64) {
	t.metrics.HashFailures.Inc(1)
	t.metrics.BytesWasted.Inc(length)
}

func (t *Torrent) writeStats() {
	if t.resumer == nil {
		return
	}
	err := t.resumer.WriteStats(resumer.Stats{
		BytesDownloaded: t.metrics.BytesDownloaded.Count(),
		BytesWasted:     t.metrics.BytesWasted.Count(),
	})
	if err != nil {
		t.log.Errorln("cannot write stats to resume db:", err)
	}
}

// shutdown stops the torrent if it is running and releases its resources in any status.
func (t *Torrent) shutdown() {
	t.mCommand.Lock()
	if t.transition(Stopped) == nil {
		t.stopRun()
	}
	t.waitRun()
	t.mCommand.Unlock()
	t.close()
}

func (t *Torrent) close() {
	t.fileOnce.Do(func() {
		if err := t.file.Close(); err != nil {
			t.log.Errorln("cannot close file:", err)
		}
		t.metrics.Close()
	})
}

// sessionPool exposes the session map to the download loop.
type sessionPool struct {
	t *Torrent
}

func (p sessionPool) Sessions() []downloader.Session {
	p.t.mSessions.RLock()
	ret := make([]downloader.Session, 0, len(p.t.sessions))
	for _, s := range p.t.sessions {
		ret = append(ret, s)
	}
	p.t.mSessions.RUnlock()
	sort.Slice(ret, func(i, j int) bool { return ret[i].Peer().Less(ret[j].Peer()) })
	return ret
}

func (p sessionPool) Drop(pe Peer) {
	p.t.mSessions.Lock()
	delete(p.t.sessions, pe)
	p.t.mSessions.Unlock()
}

type statusChecker struct {
	t *Torrent
}

func (c statusChecker) Downloading() bool {
	return c.t.Status() == Downloading
}
