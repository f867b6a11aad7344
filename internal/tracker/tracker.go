// Package tracker contains the types shared by tracker clients and the compact peer list format.
package tracker

import (
	"time"
)

// Event is sent with announce requests to tell the tracker about a change in the transfer.
type Event int

// Tracker announce events
const (
	EventNone Event = iota
	EventStarted
	EventStopped
	EventCompleted
)

var eventNames = [...]string{"", "started", "stopped", "completed"}

func (e Event) String() string {
	if e < 0 || int(e) >= len(eventNames) {
		return ""
	}
	return eventNames[e]
}

// AnnounceRequest contains the state of a transfer that is reported to the tracker.
type AnnounceRequest struct {
	InfoHash   [20]byte
	PeerID     [20]byte
	Port       uint16
	Uploaded   int64
	Downloaded int64
	Left       int64
	NumWant    int
	Event      Event
}

// AnnounceResponse is the tracker's answer to an announce.
type AnnounceResponse struct {
	Interval       time.Duration
	Leechers       int32
	Seeders        int32
	WarningMessage string
	Peers          []Peer
}

// Error is the failure reason sent by the tracker.
type Error struct {
	FailureReason string
}

func (e *Error) Error() string { return "tracker error: " + e.FailureReason }
