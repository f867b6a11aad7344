// Package downloader implements the scheduling loop that fetches the rarest missing piece from
// connected peers until the torrent is complete, stalled or interrupted.
package downloader

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v3"

	"github.com/fluidtorrent/fluid/internal/bitfield"
	"github.com/fluidtorrent/fluid/internal/logger"
	"github.com/fluidtorrent/fluid/internal/piecetracker"
	"github.com/fluidtorrent/fluid/internal/tracker"
)

// ErrInconsistentProgress is returned when the completion bitfield and the downloaded byte counter disagree.
var ErrInconsistentProgress = errors.New("completed pieces and downloaded bytes do not agree")

// Result is the reason the download loop has ended.
type Result int

// Results of Run.
const (
	// Completed means every piece is verified and written.
	Completed Result = iota
	// Stalled means no missing piece can be downloaded from the current peers.
	Stalled
	// Interrupted means the torrent left the downloading state while the loop was running.
	Interrupted
)

var resultStrings = map[Result]string{
	Completed:   "completed",
	Stalled:     "stalled",
	Interrupted: "interrupted",
}

func (r Result) String() string {
	return resultStrings[r]
}

// PieceTracker is the shared piece state of the torrent.
type PieceTracker interface {
	RarestMissingFunc(eligible func(index uint32) bool) (uint32, error)
	PeerHas(peer tracker.Peer, index uint32) bool
	ForgetPeer(peer tracker.Peer)
	Validate(index uint32, data []byte) bool
	MarkComplete(index uint32) bool
	Completed() bitfield.Bitfield
	BytesCompleted() int64
	TotalLength() int64
}

// Session is a connection to a peer that can serve whole pieces.
type Session interface {
	Peer() tracker.Peer
	RequestPiece(ctx context.Context, index uint32) ([]byte, error)
	Invalid() bool
	Close()
}

// SessionPool holds the active sessions of a torrent.
type SessionPool interface {
	// Sessions returns the active sessions ordered by peer address.
	Sessions() []Session
	// Drop removes the session of peer from the pool.
	Drop(peer tracker.Peer)
}

// PieceStorage persists verified pieces.
type PieceStorage interface {
	WritePiece(index, begin uint32, data []byte) error
}

// StatusChecker reports whether the torrent is still downloading.
type StatusChecker interface {
	Downloading() bool
}

// Config of the download loop.
type Config struct {
	// Backoff applied to a piece after every candidate peer has failed on it.
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	// Number of retries of a failed piece. The download stalls when a piece fails once more.
	MaxRetries uint64
	// A peer that fails on this many consecutive distinct pieces is evicted.
	PeerFailuresBeforeEviction int
}

// Callbacks are called from the loop goroutine. Any of them may be nil.
type Callbacks struct {
	// PieceCompleted is called after the piece is written and marked complete.
	PieceCompleted func(index uint32, length int64)
	// HashFailed is called when a peer sends a piece with wrong content.
	HashFailed func(index uint32, peer tracker.Peer, length int64)
	// PeerEvicted is called after a peer is removed from the pool.
	PeerEvicted func(peer tracker.Peer)
}

// Downloader runs the download loop of a single torrent.
// Run must not be called concurrently.
type Downloader struct {
	pieces    PieceTracker
	sessions  SessionPool
	storage   PieceStorage
	status    StatusChecker
	config    Config
	callbacks Callbacks
	log       logger.Logger

	downloaded int64
	failures   map[tracker.Peer]*peerFailures
	retries    map[uint32]*pieceRetry
}

type peerFailures struct {
	count     int
	lastIndex uint32
}

type pieceRetry struct {
	backoff backoff.BackOff
	next    time.Time
}

// New returns a new Downloader.
func New(pieces PieceTracker, sessions SessionPool, storage PieceStorage, status StatusChecker, cfg Config, cb Callbacks, l logger.Logger) *Downloader {
	if cfg.PeerFailuresBeforeEviction <= 0 {
		cfg.PeerFailuresBeforeEviction = 1
	}
	return &Downloader{
		pieces:     pieces,
		sessions:   sessions,
		storage:    storage,
		status:     status,
		config:     cfg,
		callbacks:  cb,
		log:        l,
		downloaded: pieces.BytesCompleted(),
		failures:   make(map[tracker.Peer]*peerFailures),
		retries:    make(map[uint32]*pieceRetry),
	}
}

// Run downloads pieces until the torrent is complete, no piece can be downloaded, ctx is cancelled
// or the status checker reports that the torrent is no longer downloading.
func (d *Downloader) Run(ctx context.Context) (Result, error) {
	for {
		if d.interrupted(ctx) {
			return Interrupted, nil
		}
		now := time.Now()
		index, err := d.pieces.RarestMissingFunc(func(i uint32) bool {
			r, ok := d.retries[i]
			return !ok || !now.Before(r.next)
		})
		switch err {
		case nil:
		case piecetracker.ErrAllComplete:
			return d.checkCompleted()
		case piecetracker.ErrNoneAvailable:
			d.log.Info("No peer has any of the missing pieces")
			return Stalled, nil
		case piecetracker.ErrNoneEligible:
			if !d.waitRetry(ctx) {
				return Interrupted, nil
			}
			continue
		default:
			return Stalled, err
		}

		ok, interrupted := d.downloadPiece(ctx, index)
		if interrupted {
			return Interrupted, nil
		}
		if ok {
			delete(d.retries, index)
			continue
		}
		r, found := d.retries[index]
		if !found {
			r = &pieceRetry{backoff: d.newBackoff()}
			d.retries[index] = r
		}
		wait := r.backoff.NextBackOff()
		if wait == backoff.Stop {
			d.log.Infof("Giving up piece #%d after %d retries", index, d.config.MaxRetries)
			return Stalled, nil
		}
		d.log.Debugf("Piece #%d failed on all peers, retrying in %s", index, wait)
		r.next = time.Now().Add(wait)
	}
}

func (d *Downloader) newBackoff() backoff.BackOff {
	b := backoff.WithMaxRetries(&backoff.ExponentialBackOff{
		InitialInterval:     d.config.RetryInitialInterval,
		RandomizationFactor: 0.5,
		Multiplier:          2,
		MaxInterval:         d.config.RetryMaxInterval,
		MaxElapsedTime:      0, // limited by retry count
		Clock:               backoff.SystemClock,
	}, d.config.MaxRetries)
	b.Reset()
	return b
}

func (d *Downloader) interrupted(ctx context.Context) bool {
	return ctx.Err() != nil || !d.status.Downloading()
}

// waitRetry sleeps until the earliest piece in backoff becomes eligible.
// Returns false if ctx is cancelled while waiting.
func (d *Downloader) waitRetry(ctx context.Context) bool {
	wait := time.Until(d.nextRetry(time.Now()))
	if wait <= 0 {
		wait = time.Millisecond
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// nextRetry returns the earliest retry time after now.
// Pieces whose backoff has expired are skipped; they are not selectable because no peer has them now.
func (d *Downloader) nextRetry(now time.Time) time.Time {
	var earliest time.Time
	for _, r := range d.retries {
		if !r.next.After(now) {
			continue
		}
		if earliest.IsZero() || r.next.Before(earliest) {
			earliest = r.next
		}
	}
	return earliest
}

func (d *Downloader) checkCompleted() (Result, error) {
	total := d.pieces.TotalLength()
	completed := d.pieces.Completed()
	if !completed.All() || d.downloaded != total {
		d.log.Errorf("Inconsistent progress: %d/%d pieces, %d/%d bytes", completed.Count(), completed.Len(), d.downloaded, total)
		return Stalled, ErrInconsistentProgress
	}
	return Completed, nil
}

// downloadPiece tries the candidate sessions for index in order until one of them serves a valid piece.
func (d *Downloader) downloadPiece(ctx context.Context, index uint32) (ok, interrupted bool) {
	candidates := d.candidates(index)
	if len(candidates) == 0 {
		d.log.Debugf("No active session has piece #%d", index)
		return false, false
	}
	for _, s := range candidates {
		data, err := s.RequestPiece(ctx, index)
		if d.interrupted(ctx) {
			// Data of an interrupted request is discarded.
			return false, true
		}
		if err != nil {
			d.log.Debugf("Cannot download piece #%d from %s: %s", index, s.Peer(), err)
			if s.Invalid() {
				d.evict(s)
			} else {
				d.peerFailed(s, index)
			}
			continue
		}
		if !d.pieces.Validate(index, data) {
			d.log.Warningf("Received corrupt piece #%d from %s", index, s.Peer())
			if d.callbacks.HashFailed != nil {
				d.callbacks.HashFailed(index, s.Peer(), int64(len(data)))
			}
			d.peerFailed(s, index)
			continue
		}
		err = d.storage.WritePiece(index, 0, data)
		if err != nil {
			d.log.Errorf("Cannot write piece #%d: %s", index, err)
			continue
		}
		if d.pieces.MarkComplete(index) {
			d.downloaded += int64(len(data))
		}
		delete(d.failures, s.Peer())
		d.log.Debugf("Piece #%d downloaded from %s", index, s.Peer())
		if d.callbacks.PieceCompleted != nil {
			d.callbacks.PieceCompleted(index, int64(len(data)))
		}
		return true, false
	}
	return false, false
}

func (d *Downloader) candidates(index uint32) []Session {
	var ret []Session
	for _, s := range d.sessions.Sessions() {
		if s.Invalid() {
			d.evict(s)
			continue
		}
		if d.pieces.PeerHas(s.Peer(), index) {
			ret = append(ret, s)
		}
	}
	return ret
}

// peerFailed counts a failure of a peer. Failures on the same piece are counted once.
func (d *Downloader) peerFailed(s Session, index uint32) {
	pe := s.Peer()
	f, ok := d.failures[pe]
	if !ok {
		f = &peerFailures{}
		d.failures[pe] = f
	} else if f.lastIndex == index {
		return
	}
	f.count++
	f.lastIndex = index
	if f.count >= d.config.PeerFailuresBeforeEviction {
		d.log.Infof("Evicting peer %s after %d failed pieces", pe, f.count)
		d.evict(s)
	}
}

func (d *Downloader) evict(s Session) {
	pe := s.Peer()
	s.Close()
	d.sessions.Drop(pe)
	d.pieces.ForgetPeer(pe)
	delete(d.failures, pe)
	if d.callbacks.PeerEvicted != nil {
		d.callbacks.PeerEvicted(pe)
	}
}
