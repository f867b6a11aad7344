package torrent

// Stats contains statistics about Torrent.
type Stats struct {
	// Content id of torrent in hex.
	ID   string
	Name string
	// Status of the torrent.
	Status Status
	// Contains the error message if the download loop ended with an error.
	Error  string `json:",omitempty"`
	Pieces struct {
		// Number of total pieces in torrent.
		Total uint32
		// Number of pieces that are downloaded and passed hash check.
		Completed uint32
	}
	Bytes struct {
		// The number of total bytes of the content.
		Total int64
		// Bytes of pieces that are downloaded and passed hash check.
		Completed int64
		// Bytes downloaded from peers and written to storage.
		Downloaded int64
		// Bytes of pieces that failed hash check.
		Wasted int64
	}
	Peers struct {
		// Number of known peer addresses.
		Known int
		// Number of peers with an active session.
		Connected int
		// Number of peers disconnected because of repeated failures.
		Evicted int64
	}
	// Number of pieces received with wrong content.
	HashFailures int64
	// Download speed in bytes per second, averaged over the last minute.
	DownloadSpeed int64
}

// Stats returns a snapshot of statistics.
func (t *Torrent) Stats() Stats {
	var s Stats
	s.ID = t.meta.ID()
	s.Name = t.meta.Name
	t.mStatus.RLock()
	s.Status = t.status
	if t.err != nil {
		s.Error = t.err.Error()
	}
	t.mStatus.RUnlock()

	completed := t.pieces.Completed()
	s.Pieces.Total = completed.Len()
	s.Pieces.Completed = completed.Count()
	s.Bytes.Total = t.meta.TotalSize
	s.Bytes.Completed = t.pieces.BytesCompleted()
	s.Bytes.Downloaded = t.metrics.BytesDownloaded.Count()
	s.Bytes.Wasted = t.metrics.BytesWasted.Count()

	t.mPeers.RLock()
	s.Peers.Known = len(t.peers)
	t.mPeers.RUnlock()
	t.mSessions.RLock()
	s.Peers.Connected = len(t.sessions)
	t.mSessions.RUnlock()
	s.Peers.Evicted = t.metrics.PeersEvicted.Count()

	s.HashFailures = t.metrics.HashFailures.Count()
	s.DownloadSpeed = int64(t.metrics.SpeedDownload.Rate1())
	return s
}
