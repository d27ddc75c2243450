// Package state persists plugin settings and the push ledger in a bbolt
// database.
package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/alexjbarnes/imoneza-gate/internal/models"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory.
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	// It holds API secrets.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	settingsBucket  = []byte("settings")
	currentKey      = []byte("current")
	resourcesBucket = []byte("resources")
)

// ResourceRecord remembers the last successful push of one resource.
// Fingerprint is the hash of the request body that was sent.
type ResourceRecord struct {
	ExternalKey string    `json:"external_key"`
	Fingerprint string    `json:"fingerprint"`
	Active      bool      `json:"active"`
	PushedAt    time.Time `json:"pushed_at"`
}

// State wraps a bbolt database for all persistent application state.
type State struct {
	db *bolt.DB
}

// LoadAt opens a state database at the given path, creating it if it
// does not exist. Both buckets are created on open.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(settingsBucket); err != nil {
			return err
		}

		_, err := tx.CreateBucketIfNotExists(resourcesBucket)

		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// Settings returns the stored settings, or the zero value when none
// have been saved.
func (s *State) Settings() (models.Settings, error) {
	var out models.Settings

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(settingsBucket).Get(currentKey)
		if v == nil {
			return nil
		}

		return json.Unmarshal(v, &out)
	})
	if err != nil {
		return models.Settings{}, fmt.Errorf("reading settings: %w", err)
	}

	return out, nil
}

// SetSettings replaces the stored settings.
func (s *State) SetSettings(settings models.Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(settingsBucket).Put(currentKey, data)
	})
}

// SeedSettings writes settings only when none are stored yet. It
// reports whether it wrote anything.
func (s *State) SeedSettings(settings models.Settings) (bool, error) {
	data, err := json.Marshal(settings)
	if err != nil {
		return false, fmt.Errorf("encoding settings: %w", err)
	}

	var seeded bool

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(settingsBucket)
		if b.Get(currentKey) != nil {
			return nil
		}

		seeded = true

		return b.Put(currentKey, data)
	})

	return seeded, err
}

// GetResourceRecord returns the push record for key, or nil if the
// resource has never been pushed.
func (s *State) GetResourceRecord(key string) (*ResourceRecord, error) {
	var rec *ResourceRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(resourcesBucket).Get([]byte(key))
		if v == nil {
			return nil
		}

		rec = &ResourceRecord{}

		return json.Unmarshal(v, rec)
	})

	return rec, err
}

// SetResourceRecord persists the push record keyed by its ExternalKey.
func (s *State) SetResourceRecord(rec ResourceRecord) error {
	if rec.ExternalKey == "" {
		return fmt.Errorf("resource record has no external key")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}

		return tx.Bucket(resourcesBucket).Put([]byte(rec.ExternalKey), data)
	})
}

// DeleteResourceRecord removes the push record for key.
func (s *State) DeleteResourceRecord(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(resourcesBucket).Delete([]byte(key))
	})
}

// AllResourceRecords returns every push record keyed by external key.
func (s *State) AllResourceRecords() (map[string]ResourceRecord, error) {
	result := make(map[string]ResourceRecord)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(resourcesBucket).ForEach(func(k, v []byte) error {
			var rec ResourceRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}

			result[string(k)] = rec

			return nil
		})
	})

	return result, err
}
