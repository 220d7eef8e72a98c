// Package eventlog is the persistent, append-only event log kept in the
// bolt database next to the configuration.
package eventlog

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket holds the log entries keyed by big-endian sequence number.
const Bucket = "eventlog"

var ErrNoBucket = errors.New("eventlog: bucket missing")

// Entry is one logged event.
type Entry struct {
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// Log appends entries to a bolt bucket. Every entry is mirrored to slog.
type Log struct {
	db  *bolt.DB
	log *slog.Logger
	now func() time.Time
}

// New creates the bucket if needed.
func New(db *bolt.DB, log *slog.Logger) (*Log, error) {
	if db == nil {
		return nil, errors.New("eventlog: nil bolt database")
	}
	if log == nil {
		log = slog.Default()
	}
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(Bucket))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create bucket %s: %w", Bucket, err)
	}
	return &Log{db: db, log: log, now: time.Now}, nil
}

// Open wraps a database without creating the bucket, for read-only use.
func Open(db *bolt.DB) (*Log, error) {
	if db == nil {
		return nil, errors.New("eventlog: nil bolt database")
	}
	return &Log{db: db, log: slog.Default(), now: time.Now}, nil
}

// Write appends a message.
func (l *Log) Write(msg string) error {
	e := Entry{Time: l.now().UTC(), Message: msg}
	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(Bucket))
		if b == nil {
			return ErrNoBucket
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		e.Seq = seq
		raw, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put(key(seq), raw)
	})
	if err != nil {
		return fmt.Errorf("eventlog write: %w", err)
	}
	l.log.Info("event", "seq", e.Seq, "msg", msg)
	return nil
}

// Recent returns up to n of the latest entries, oldest first.
func (l *Log) Recent(n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	var out []Entry
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(Bucket))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(out) < n; k, v = c.Prev() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode entry %d: %w", binary.BigEndian.Uint64(k), err)
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func key(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}
