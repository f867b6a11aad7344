// Package httptracker implements announcing to HTTP trackers.
package httptracker

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/zeebo/bencode"

	"github.com/fluidtorrent/fluid/internal/logger"
	"github.com/fluidtorrent/fluid/internal/tracker"
)

// maxResponseSize limits the size of the announce response body.
const maxResponseSize = 2 << 20

// HTTPTracker announces to a tracker over HTTP.
type HTTPTracker struct {
	url  *url.URL
	log  logger.Logger
	http *http.Client
}

// New returns a tracker client for rawURL.
func New(rawURL string, timeout time.Duration) (*HTTPTracker, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported tracker scheme: %q", u.Scheme)
	}
	transport := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: timeout}).DialContext,
		TLSHandshakeTimeout: timeout,
		DisableKeepAlives:   true,
	}
	return &HTTPTracker{
		url: u,
		log: logger.New("tracker " + u.Host),
		http: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}, nil
}

// URL returns the announce URL.
func (t *HTTPTracker) URL() string {
	return t.url.String()
}

// Announce sends the transfer state to the tracker and returns the peers in its response.
func (t *HTTPTracker) Announce(ctx context.Context, req tracker.AnnounceRequest) (*tracker.AnnounceResponse, error) {
	u := *t.url
	q := u.Query()
	q.Set("info_hash", string(req.InfoHash[:]))
	q.Set("peer_id", string(req.PeerID[:]))
	q.Set("port", strconv.FormatUint(uint64(req.Port), 10))
	q.Set("uploaded", strconv.FormatInt(req.Uploaded, 10))
	q.Set("downloaded", strconv.FormatInt(req.Downloaded, 10))
	q.Set("left", strconv.FormatInt(req.Left, 10))
	q.Set("compact", "1")
	q.Set("no_peer_id", "1")
	if req.NumWant > 0 {
		q.Set("numwant", strconv.Itoa(req.NumWant))
	}
	if req.Event != tracker.EventNone {
		q.Set("event", req.Event.String())
	}
	u.RawQuery = q.Encode()
	t.log.Debugf("making request to: %q", u.String())

	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.http.Do(hreq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status not 200 OK (status: %d body: %q)", resp.StatusCode, string(body))
	}

	var response announceResponse
	if err = bencode.DecodeBytes(body, &response); err != nil {
		return nil, fmt.Errorf("cannot decode announce response: %w", err)
	}
	if response.WarningMessage != "" {
		t.log.Warning(response.WarningMessage)
	}
	if response.FailureReason != "" {
		return nil, &tracker.Error{FailureReason: response.FailureReason}
	}

	peers, err := parsePeers(response.Peers)
	if err != nil {
		return nil, err
	}
	return &tracker.AnnounceResponse{
		Interval:       time.Duration(response.Interval) * time.Second,
		Leechers:       response.Incomplete,
		Seeders:        response.Complete,
		WarningMessage: response.WarningMessage,
		Peers:          peers,
	}, nil
}

// parsePeers accepts peers in the binary model or the dictionary model.
func parsePeers(b bencode.RawMessage) ([]tracker.Peer, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if b[0] == 'l' {
		var dict []dictPeer
		if err := bencode.DecodeBytes(b, &dict); err != nil {
			return nil, err
		}
		peers := make([]tracker.Peer, 0, len(dict))
		for _, d := range dict {
			ip := net.ParseIP(d.IP)
			if ip == nil {
				continue
			}
			p, err := tracker.NewPeer(&net.TCPAddr{IP: ip, Port: int(d.Port)})
			if err != nil {
				continue
			}
			peers = append(peers, p)
		}
		return peers, nil
	}
	var compact []byte
	if err := bencode.DecodeBytes(b, &compact); err != nil {
		return nil, err
	}
	return tracker.DecodePeersCompact(compact)
}
