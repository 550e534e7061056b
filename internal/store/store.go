package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"git.mills.io/prologic/bitcask"
	log "github.com/sirupsen/logrus"

	"go-cdse-download/internal/models"
)

// ErrNotFound is returned when a product has no entry in the store.
var ErrNotFound = errors.New("entry not found in database")

// keyPrefix namespaces product entries so other record kinds can share the
// same database later.
const keyPrefix = "product:"

// Store is the download-state database. Each product gets one JSON-encoded
// DatabaseEntry keyed by its catalog id.
type Store struct {
	db *bitcask.Bitcask
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	db, err := bitcask.Open(path, bitcask.WithMaxValueSize(1<<20))
	if err != nil {
		return nil, fmt.Errorf("opening database at %s: %w", path, err)
	}
	log.Debugf("Opened state database at %s (%d entries)", path, db.Len())
	return &Store{db: db}, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func entryKey(productID string) []byte {
	return []byte(keyPrefix + productID)
}

// Get fetches the entry for a product id.
func (s *Store) Get(productID string) (models.DatabaseEntry, error) {
	raw, err := s.db.Get(entryKey(productID))
	if err != nil {
		if errors.Is(err, bitcask.ErrKeyNotFound) {
			return models.DatabaseEntry{}, fmt.Errorf("%w: %s", ErrNotFound, productID)
		}
		return models.DatabaseEntry{}, fmt.Errorf("reading entry %s: %w", productID, err)
	}
	var entry models.DatabaseEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return models.DatabaseEntry{}, fmt.Errorf("decoding entry %s: %w", productID, err)
	}
	return entry, nil
}

// Put writes an entry, stamping UpdatedAt.
func (s *Store) Put(entry models.DatabaseEntry) error {
	entry.UpdatedAt = time.Now().UTC()
	if entry.AddedAt.IsZero() {
		entry.AddedAt = entry.UpdatedAt
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding entry %s: %w", entry.Product.ID, err)
	}
	if err := s.db.Put(entryKey(entry.Product.ID), raw); err != nil {
		return fmt.Errorf("writing entry %s: %w", entry.Product.ID, err)
	}
	return nil
}

// Has reports whether a product has an entry.
func (s *Store) Has(productID string) bool {
	return s.db.Has(entryKey(productID))
}

// Delete removes a product's entry.
func (s *Store) Delete(productID string) error {
	return s.db.Delete(entryKey(productID))
}

// Fold calls fn for every stored entry. Returning an error stops the fold.
func (s *Store) Fold(fn func(models.DatabaseEntry) error) error {
	return s.db.Fold(func(key []byte) error {
		raw, err := s.db.Get(key)
		if err != nil {
			return fmt.Errorf("reading key %s during fold: %w", key, err)
		}
		var entry models.DatabaseEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			log.WithError(err).Warnf("Skipping undecodable entry %s", key)
			return nil
		}
		return fn(entry)
	})
}

// MarkPending records a product as queued for download, preserving AddedAt
// when the entry already exists.
func (s *Store) MarkPending(p models.Product) error {
	entry, err := s.Get(p.ID)
	if err != nil {
		entry = models.DatabaseEntry{}
	}
	entry.Product = p
	entry.Status = models.StatusPending
	entry.ErrorDetails = ""
	return s.Put(entry)
}

// MarkDownloaded records a completed download.
func (s *Store) MarkDownloaded(p models.Product, finalPath string) error {
	entry, err := s.Get(p.ID)
	if err != nil {
		entry = models.DatabaseEntry{Product: p}
	}
	entry.Product = p
	entry.Status = models.StatusDownloaded
	entry.FinalPath = finalPath
	entry.ErrorDetails = ""
	return s.Put(entry)
}

// MarkError records a failed download with the failure detail.
func (s *Store) MarkError(p models.Product, errMsg string) error {
	entry, err := s.Get(p.ID)
	if err != nil {
		entry = models.DatabaseEntry{Product: p}
	}
	entry.Product = p
	entry.Status = models.StatusError
	entry.ErrorDetails = errMsg
	return s.Put(entry)
}

// Summary counts entries by status.
func (s *Store) Summary() (map[string]int, error) {
	counts := make(map[string]int)
	err := s.Fold(func(entry models.DatabaseEntry) error {
		counts[entry.Status]++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}
