// Package boltdbresumer provides a Resumer implementation that uses a Bolt database file as storage.
package boltdbresumer

import (
	"errors"
	"strconv"
	"time"

	"github.com/fluidtorrent/fluid/internal/resumer"
	bolt "go.etcd.io/bbolt"
)

// ErrNotFound is returned by Read when there is no record for the torrent.
var ErrNotFound = errors.New("torrent not found in resume database")

// Keys for the persistent storage.
var Keys = struct {
	InfoHash        []byte
	Name            []byte
	Bitfield        []byte
	AddedAt         []byte
	BytesDownloaded []byte
	BytesWasted     []byte
}{
	InfoHash:        []byte("info_hash"),
	Name:            []byte("name"),
	Bitfield:        []byte("bitfield"),
	AddedAt:         []byte("added_at"),
	BytesDownloaded: []byte("bytes_downloaded"),
	BytesWasted:     []byte("bytes_wasted"),
}

// Spec is the resume record of a torrent.
type Spec struct {
	InfoHash        []byte
	Name            string
	Bitfield        []byte
	AddedAt         time.Time
	BytesDownloaded int64
	BytesWasted     int64
}

// Resumer contains methods for saving/loading resume information of a torrent to a BoltDB database.
type Resumer struct {
	db     *bolt.DB
	bucket []byte
}

// Open opens the database at path, creating it if necessary.
func Open(path string, timeout time.Duration) (*bolt.DB, error) {
	return bolt.Open(path, 0600, &bolt.Options{Timeout: timeout})
}

// New returns a new Resumer.
func New(db *bolt.DB, bucket []byte) (*Resumer, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err2 := tx.CreateBucketIfNotExists(bucket)
		return err2
	})
	if err != nil {
		return nil, err
	}
	return &Resumer{
		db:     db,
		bucket: bucket,
	}, nil
}

// Write the resume record for torrent with `torrentID`.
func (r *Resumer) Write(torrentID string, spec *Spec) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(r.bucket).CreateBucketIfNotExists([]byte(torrentID))
		if err != nil {
			return err
		}
		_ = b.Put(Keys.InfoHash, spec.InfoHash)
		_ = b.Put(Keys.Name, []byte(spec.Name))
		_ = b.Put(Keys.Bitfield, spec.Bitfield)
		_ = b.Put(Keys.AddedAt, []byte(spec.AddedAt.Format(time.RFC3339)))
		_ = b.Put(Keys.BytesDownloaded, []byte(strconv.FormatInt(spec.BytesDownloaded, 10)))
		_ = b.Put(Keys.BytesWasted, []byte(strconv.FormatInt(spec.BytesWasted, 10)))
		return nil
	})
}

// WriteBitfield writes only bitfield of a torrent.
func (r *Resumer) WriteBitfield(torrentID string, value []byte) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(r.bucket).Bucket([]byte(torrentID))
		if b == nil {
			return nil
		}
		return b.Put(Keys.Bitfield, value)
	})
}

// WriteStats writes the byte counters of a torrent.
func (r *Resumer) WriteStats(torrentID string, stats resumer.Stats) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(r.bucket).Bucket([]byte(torrentID))
		if b == nil {
			return nil
		}
		_ = b.Put(Keys.BytesDownloaded, []byte(strconv.FormatInt(stats.BytesDownloaded, 10)))
		_ = b.Put(Keys.BytesWasted, []byte(strconv.FormatInt(stats.BytesWasted, 10)))
		return nil
	})
}

// Read returns the resume record of a torrent.
func (r *Resumer) Read(torrentID string) (*Spec, error) {
	var spec *Spec
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(r.bucket).Bucket([]byte(torrentID))
		if b == nil {
			return ErrNotFound
		}
		spec = new(Spec)
		spec.InfoHash = clone(b.Get(Keys.InfoHash))
		spec.Name = string(b.Get(Keys.Name))
		spec.Bitfield = clone(b.Get(Keys.Bitfield))

		var err error
		if value := b.Get(Keys.AddedAt); value != nil {
			spec.AddedAt, err = time.Parse(time.RFC3339, string(value))
			if err != nil {
				return err
			}
		}
		if value := b.Get(Keys.BytesDownloaded); value != nil {
			spec.BytesDownloaded, err = strconv.ParseInt(string(value), 10, 64)
			if err != nil {
				return err
			}
		}
		if value := b.Get(Keys.BytesWasted); value != nil {
			spec.BytesWasted, err = strconv.ParseInt(string(value), 10, 64)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return spec, nil
}

// Delete removes the record of a torrent.
func (r *Resumer) Delete(torrentID string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket(r.bucket).DeleteBucket([]byte(torrentID))
		if err == bolt.ErrBucketNotFound {
			return nil
		}
		return err
	})
}

// List returns the ids of all torrents in the database.
func (r *Resumer) List() ([]string, error) {
	var ids []string
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(r.bucket).ForEach(func(k, v []byte) error {
			if v == nil {
				ids = append(ids, string(k))
			}
			return nil
		})
	})
	return ids, err
}

// Torrent returns a resumer.Resumer bound to a single torrent.
func (r *Resumer) Torrent(torrentID string) resumer.Resumer {
	return torrentResumer{r: r, id: torrentID}
}

type torrentResumer struct {
	r  *Resumer
	id string
}

func (t torrentResumer) WriteBitfield(b []byte) error { return t.r.WriteBitfield(t.id, b) }

func (t torrentResumer) WriteStats(s resumer.Stats) error { return t.r.WriteStats(t.id, s) }

// Values returned from a transaction are only valid until it ends.
func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
