package storage

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

const bucketSweeps = "sweeps"

// Store persists sweep history in a bbolt file. Keys are the sweep
// timestamp in a fixed-width nanosecond layout joined with the sweep ID;
// the fixed width keeps lexical order equal to time order, so a reverse
// cursor walk yields newest-first.
type Store struct {
	db *bbolt.DB
}

// DefaultDir returns the default history location under the user's home.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".swarm"), nil
}

// Open creates dir if needed and opens (or creates) the history database
// inside it.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "create history dir")
	}
	db, err := bbolt.Open(filepath.Join(dir, "history.db"), 0600, nil)
	if err != nil {
		return nil, errors.Wrap(err, "open history db")
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketSweeps))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func key(item SweepItem) []byte {
	return []byte(item.Timestamp.UTC().Format("2006-01-02T15:04:05.000000000") + "_" + item.ID)
}

func (s *Store) Save(item SweepItem) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(item)
		if err != nil {
			return err
		}
		return tx.Bucket([]byte(bucketSweeps)).Put(key(item), data)
	})
}

// List returns all sweeps, newest first.
func (s *Store) List() ([]SweepItem, error) {
	var items []SweepItem
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketSweeps)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var item SweepItem
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			items = append(items, item)
		}
		return nil
	})
	return items, err
}

// Get returns the sweep with the given ID, or an error if none exists.
func (s *Store) Get(id string) (*SweepItem, error) {
	var found *SweepItem
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketSweeps)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var item SweepItem
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			if item.ID == id {
				found = &item
				return nil
			}
		}
		return errors.Errorf("sweep %s not found", id)
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}
