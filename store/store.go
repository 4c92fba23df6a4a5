// Package store keeps the small amount of state that must survive a
// restart: where USB playback left off.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"

	badger "github.com/dgraph-io/badger/v4"
)

var resumeKey = []byte("player/resume")

// Resume is the playback position restored on the next mount.
type Resume struct {
	Track   string `json:"track"`
	Shuffle bool   `json:"shuffle"`
}

// Store is a badger-backed key/value store.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the store under dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	log.Printf("STORE: Opened state store at %s", dir)
	return &Store{db: db}, nil
}

// OpenInMemory opens a store that is discarded on Close.
func OpenInMemory() (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open in-memory store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// LoadResume returns the saved position, or the zero Resume if none was
// saved yet.
func (s *Store) LoadResume() (Resume, error) {
	var r Resume
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(resumeKey)
		if err != nil {
			return err
		}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, &r)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Resume{}, nil
	}
	if err != nil {
		return Resume{}, fmt.Errorf("load resume state: %w", err)
	}
	return r, nil
}

// SaveResume overwrites the saved position.
func (s *Store) SaveResume(r Resume) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(resumeKey, data)
	})
	if err != nil {
		return fmt.Errorf("save resume state: %w", err)
	}
	return nil
}
