package journal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/safing/quiesce/base/utils"
	"github.com/safing/quiesce/service/quiesce"
)

var (
	// ErrNotFound is returned when no entry exists for the given ID.
	ErrNotFound = errors.New("journal entry not found")

	entriesBucket = []byte("entries")
	indexBucket   = []byte("index")
)

// Journal persists the status of finished quiesce requests.
type Journal struct {
	db         *bbolt.DB
	maxEntries int
}

// Open opens or creates the journal at the given path.
// If maxEntries is greater than zero, older entries are removed when the
// journal grows beyond it.
func Open(path string, maxEntries int) (*Journal, error) {
	// Create the directory, but leave existing ones alone.
	if dir := filepath.Dir(path); !utils.PathExists(dir) {
		if err := utils.EnsureDirectory(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	dbOptions := &bbolt.Options{
		Timeout: 1 * time.Second,
	}

	// Open/Create database, retry if there is a timeout.
	db, err := bbolt.Open(path, 0o0600, dbOptions)
	for i := 0; i < 5 && err != nil; i++ {
		db, err = bbolt.Open(path, 0o0600, dbOptions)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}

	// Create buckets.
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{entriesBucket, indexBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize journal %s: %w", path, err)
	}

	return &Journal{
		db:         db,
		maxEntries: maxEntries,
	}, nil
}

// Close closes the journal.
func (j *Journal) Close() error {
	return j.db.Close()
}

// indexKey orders entries by the time the request started.
func indexKey(status quiesce.RequestStatus) []byte {
	key := make([]byte, 8, 8+len(status.ID))
	binary.BigEndian.PutUint64(key, uint64(status.Started.UnixNano()))
	return append(key, status.ID...)
}

// Record stores the status of a request.
// Recording the same request again replaces the entry.
func (j *Journal) Record(status quiesce.RequestStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to encode journal entry: %w", err)
	}

	return j.db.Update(func(tx *bbolt.Tx) error {
		entries := tx.Bucket(entriesBucket)
		index := tx.Bucket(indexBucket)

		if err := entries.Put([]byte(status.ID), data); err != nil {
			return err
		}
		if err := index.Put(indexKey(status), []byte(status.ID)); err != nil {
			return err
		}

		return j.pruneLocked(entries, index)
	})
}

func (j *Journal) pruneLocked(entries, index *bbolt.Bucket) error {
	if j.maxEntries <= 0 {
		return nil
	}

	// Count keys with a cursor, as bucket stats do not include changes of the
	// current transaction.
	var count int
	c := index.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		count++
	}
	excess := count - j.maxEntries
	if excess <= 0 {
		return nil
	}

	// Collect first, as deleting while iterating skips keys.
	type pair struct{ key, id []byte }
	oldest := make([]pair, 0, excess)
	for k, v := c.First(); k != nil && len(oldest) < excess; k, v = c.Next() {
		oldest = append(oldest, pair{
			key: append([]byte(nil), k...),
			id:  append([]byte(nil), v...),
		})
	}

	for _, p := range oldest {
		if err := index.Delete(p.key); err != nil {
			return err
		}
		if err := entries.Delete(p.id); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the entry of the request with the given ID.
func (j *Journal) Get(id string) (*quiesce.RequestStatus, error) {
	var status quiesce.RequestStatus

	err := j.db.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket(entriesBucket).Get([]byte(id))
		if value == nil {
			return ErrNotFound
		}
		return json.Unmarshal(value, &status)
	})
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// List returns up to limit entries, newest first.
// A limit of zero or less returns all entries.
func (j *Journal) List(limit int) ([]quiesce.RequestStatus, error) {
	var list []quiesce.RequestStatus

	err := j.db.View(func(tx *bbolt.Tx) error {
		entries := tx.Bucket(entriesBucket)
		c := tx.Bucket(indexBucket).Cursor()
		for k, id := c.Last(); k != nil; k, id = c.Prev() {
			if limit > 0 && len(list) >= limit {
				return nil
			}

			value := entries.Get(id)
			if value == nil {
				continue
			}
			var status quiesce.RequestStatus
			if err := json.Unmarshal(value, &status); err != nil {
				return fmt.Errorf("failed to decode journal entry %s: %w", id, err)
			}
			list = append(list, status)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}
