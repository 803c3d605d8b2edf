// Package prefs persists the client's local preferences: user deck presets,
// the last used preset and the display alias.
package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/DoyleJ11/cardtable-sync/internal/deck"
	"github.com/DoyleJ11/cardtable-sync/internal/protocol"
)

var ErrNotFound = errors.New("preset not found")
var ErrBuiltin = errors.New("built-in presets are read-only")

var (
	bucketPresets  = []byte("presets")
	bucketSettings = []byte("settings")

	keyAlias    = []byte("alias")
	keyLastDeck = []byte("lastDeck")
)

type Store struct {
	db *bolt.DB
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("prefs dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open prefs: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketPresets, bucketSettings} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init prefs: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) setting(key []byte) (string, error) {
	var v string
	err := s.db.View(func(tx *bolt.Tx) error {
		v = string(tx.Bucket(bucketSettings).Get(key))
		return nil
	})
	return v, err
}

func (s *Store) put(bucket, key, val []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(key, val)
	})
}

func (s *Store) Alias() (string, error) { return s.setting(keyAlias) }

func (s *Store) SetAlias(alias string) error {
	return s.put(bucketSettings, keyAlias, []byte(protocol.CleanName(alias)))
}

// LastDeck is the id of the last used preset, empty if none.
func (s *Store) LastDeck() (string, error) { return s.setting(keyLastDeck) }

func (s *Store) SetLastDeck(id string) error {
	return s.put(bucketSettings, keyLastDeck, []byte(id))
}

// SavePreset stores a user preset, assigning a fresh id when it has none.
func (s *Store) SavePreset(p deck.Preset) (deck.Preset, error) {
	if _, ok := deck.Builtin(p.ID); ok {
		return deck.Preset{}, fmt.Errorf("%w: %s", ErrBuiltin, p.ID)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	b, err := json.Marshal(p)
	if err != nil {
		return deck.Preset{}, fmt.Errorf("encode preset: %w", err)
	}
	if err := s.put(bucketPresets, []byte(p.ID), b); err != nil {
		return deck.Preset{}, fmt.Errorf("save preset: %w", err)
	}
	return p, nil
}

func (s *Store) Preset(id string) (deck.Preset, error) {
	var p deck.Preset
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPresets).Get([]byte(id))
		if b == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(b, &p)
	})
	return p, err
}

// Presets lists user presets ordered by name.
func (s *Store) Presets() ([]deck.Preset, error) {
	var out []deck.Preset
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPresets).ForEach(func(_, v []byte) error {
			var p deck.Preset
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			out = append(out, p)
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

func (s *Store) DeletePreset(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPresets)
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return b.Delete([]byte(id))
	})
}

// Resolve finds a preset among the built-ins and then the user presets.
func (s *Store) Resolve(id string) (deck.Preset, error) {
	if p, ok := deck.Builtin(id); ok {
		return p, nil
	}
	return s.Preset(id)
}
