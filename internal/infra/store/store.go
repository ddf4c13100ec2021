// Package store persists session snapshots in a local badger database,
// implementing the loadSnapshot/saveSnapshot collaborator contract. The
// store bounds replay cost across worker restarts; it is not authoritative
// by itself.
package store

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/hiraoku/grooveline/internal/domain/session"
)

// ErrNotFound indicates no snapshot exists for the session key.
var ErrNotFound = errors.New("snapshot not found")

const keyPrefix = "snapshot:"

// SnapshotStore is a badger-backed snapshot store.
type SnapshotStore struct {
	db *badger.DB
}

// Open opens (or creates) the store at dir. With inMemory set, nothing
// touches disk; used by tests and throwaway deployments.
func Open(dir string, inMemory bool, log zerolog.Logger) (*SnapshotStore, error) {
	opts := badger.DefaultOptions(dir).
		WithInMemory(inMemory).
		WithLogger(nil)
	if inMemory {
		opts = opts.WithDir("").WithValueDir("")
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open snapshot store")
	}
	log.Info().Str("dir", dir).Bool("in_memory", inMemory).Msg("snapshot store opened")
	return &SnapshotStore{db: db}, nil
}

// Save writes the snapshot for its session key.
func (s *SnapshotStore) Save(snap session.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "failed to marshal snapshot")
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+snap.SessionKey), data)
	})
	if err != nil {
		return errors.Wrap(err, "failed to save snapshot")
	}
	return nil
}

// Load reads the snapshot for a session key. Returns ErrNotFound when the
// key has never been snapshotted.
func (s *SnapshotStore) Load(sessionKey string) (session.Snapshot, error) {
	var snap session.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + sessionKey))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return session.Snapshot{}, err
		}
		return session.Snapshot{}, errors.Wrap(err, "failed to load snapshot")
	}
	return snap, nil
}

// Delete removes the snapshot for a session key. Missing keys are not an
// error.
func (s *SnapshotStore) Delete(sessionKey string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + sessionKey))
	})
	if err != nil {
		return errors.Wrap(err, "failed to delete snapshot")
	}
	return nil
}

// Close releases the database.
func (s *SnapshotStore) Close() error {
	return s.db.Close()
}
