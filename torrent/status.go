package torrent

import "strconv"

// Status of a Torrent.
type Status int

// Torrent statuses.
const (
	Initialized Status = iota
	Connecting
	Downloading
	Paused
	Stopped
	Completed
)

var statusStrings = map[Status]string{
	Initialized: "Initialized",
	Connecting:  "Connecting",
	Downloading: "Downloading",
	Paused:      "Paused",
	Stopped:     "Stopped",
	Completed:   "Completed",
}

func (s Status) String() string {
	str, ok := statusStrings[s]
	if !ok {
		return strconv.FormatInt(int64(s), 10)
	}
	return str
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal returns true if no transition leaves the status.
func (s Status) Terminal() bool {
	return s == Stopped || s == Completed
}

var transitions = map[Status][]Status{
	Initialized: {Connecting, Stopped},
	Connecting:  {Downloading, Paused, Stopped},
	Downloading: {Completed, Paused, Stopped},
	Paused:      {Downloading, Stopped},
}

func (s Status) canTransition(to Status) bool {
	for _, st := range transitions[s] {
		if st == to {
			return true
		}
	}
	return false
}
