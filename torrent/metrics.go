package torrent

import "github.com/rcrowley/go-metrics"

type torrentMetrics struct {
	registry metrics.Registry

	SpeedDownload   metrics.Meter
	BytesDownloaded metrics.Counter
	BytesWasted     metrics.Counter
	HashFailures    metrics.Counter
	PeersEvicted    metrics.Counter
}

// newTorrentMetrics registers the metrics of a torrent in r.
// Metrics of a torrent previously registered under the same names are replaced.
func newTorrentMetrics(r metrics.Registry) *torrentMetrics {
	m := &torrentMetrics{
		registry:        r,
		SpeedDownload:   metrics.NewMeter(),
		BytesDownloaded: metrics.NewCounter(),
		BytesWasted:     metrics.NewCounter(),
		HashFailures:    metrics.NewCounter(),
		PeersEvicted:    metrics.NewCounter(),
	}
	for name, metric := range m.byName() {
		r.Unregister(name)
		_ = r.Register(name, metric)
	}
	return m
}

func (m *torrentMetrics) byName() map[string]interface{} {
	return map[string]interface{}{
		"speed_download":   m.SpeedDownload,
		"bytes_downloaded": m.BytesDownloaded,
		"bytes_wasted":     m.BytesWasted,
		"hash_failures":    m.HashFailures,
		"peers_evicted":    m.PeersEvicted,
	}
}

func (m *torrentMetrics) Close() {
	m.SpeedDownload.Stop()
	// A torrent that replaced this one in the registry may own the names now.
	for name, metric := range m.byName() {
		if m.registry.Get(name) == metric {
			m.registry.Unregister(name)
		}
	}
}
