// Package metainfo support for reading and writing torrent files.
package metainfo

import (
	"errors"
	"io"
	"strings"
	"time"

	"github.com/zeebo/bencode"
)

// MetaInfo file dictionary
type MetaInfo struct {
	Info         Info
	AnnounceList [][]string
}

// New decodes a torrent file from r.
// Trackers other than HTTP are dropped. announce is used only if announce-list is missing.
func New(r io.Reader) (*MetaInfo, error) {
	var raw struct {
		Info         bencode.RawMessage `bencode:"info"`
		Announce     bencode.RawMessage `bencode:"announce"`
		AnnounceList bencode.RawMessage `bencode:"announce-list"`
	}
	if err := bencode.NewDecoder(r).Decode(&raw); err != nil {
		return nil, err
	}
	if len(raw.Info) == 0 {
		return nil, errors.New("no info dict in torrent file")
	}
	info, err := NewInfo(raw.Info)
	if err != nil {
		return nil, err
	}
	return &MetaInfo{
		Info:         *info,
		AnnounceList: parseTiers(raw.Announce, raw.AnnounceList),
	}, nil
}

// parseTiers ignores malformed announce fields. A torrent without trackers is still valid.
func parseTiers(announce, announceList bencode.RawMessage) [][]string {
	var tiers [][]string
	if len(announceList) == 0 {
		var s string
		if len(announce) > 0 && bencode.DecodeBytes(announce, &s) == nil {
			tiers = append(tiers, []string{s})
		}
	} else if bencode.DecodeBytes(announceList, &tiers) != nil {
		return nil
	}
	seen := make(map[string]struct{})
	var ret [][]string
	for _, tier := range tiers {
		var urls []string
		for _, u := range tier {
			if _, ok := seen[u]; ok || !isTrackerSupported(u) {
				continue
			}
			seen[u] = struct{}{}
			urls = append(urls, u)
		}
		if len(urls) > 0 {
			ret = append(ret, urls)
		}
	}
	return ret
}

// Trackers returns the announce URLs of all tiers in order.
func (m *MetaInfo) Trackers() []string {
	var ret []string
	for _, tier := range m.AnnounceList {
		ret = append(ret, tier...)
	}
	return ret
}

// Only HTTP trackers are announced to.
func isTrackerSupported(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// NewBytes creates a new torrent metadata file from given information.
func NewBytes(info []byte, trackers []string, creator string) ([]byte, error) {
	mi := struct {
		Info         bencode.RawMessage `bencode:"info"`
		Announce     string             `bencode:"announce,omitempty"`
		AnnounceList [][]string         `bencode:"announce-list,omitempty"`
		CreationDate int64              `bencode:"creation date"`
		CreatedBy    string             `bencode:"created by,omitempty"`
	}{
		Info:         info,
		CreationDate: time.Now().UTC().Unix(),
		CreatedBy:    creator,
	}
	if len(trackers) == 1 {
		mi.Announce = trackers[0]
	} else {
		for _, tr := range trackers {
			mi.AnnounceList = append(mi.AnnounceList, []string{tr})
		}
	}
	return bencode.EncodeBytes(mi)
}
