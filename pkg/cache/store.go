package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zepph7/christmas-surprise/pkg/logger"
	"github.com/zepph7/christmas-surprise/pkg/models"
)

const (
	// BoltDB bucket name for storing resolved locations
	LocationsBucket = "locations"
)

// Store provides an interface for location caching operations
type Store interface {
	Get(key string) (models.Location, bool, error)
	Set(key string, value models.Location) error
	CleanupExpired() (int, error)
	GetCacheStatistics() (map[string]int, error)
	Close() error
}

// BoltStore implements Store interface using BoltDB for persistence.
// Entries older than ttl are reported as missing and removed by CleanupExpired.
type BoltStore struct {
	db  *bbolt.DB
	ttl time.Duration
	now func() time.Time
}

// NewBoltStore creates a new BoltDB-backed cache store
func NewBoltStore(dbPath string, ttl time.Duration) (*BoltStore, error) {
	// Ensure the directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}

	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open BoltDB at %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(LocationsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	logger.Info("BoltDB location cache initialized at: %s (ttl %s)", dbPath, ttl)
	return &BoltStore{db: db, ttl: ttl, now: time.Now}, nil
}

func (s *BoltStore) expired(loc models.Location) bool {
	if s.ttl <= 0 || loc.CachedAt == 0 {
		return false
	}
	return s.now().Sub(time.Unix(loc.CachedAt, 0)) > s.ttl
}

// Get retrieves a location entry by key
func (s *BoltStore) Get(key string) (models.Location, bool, error) {
	var loc models.Location
	var found bool

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(LocationsBucket))
		if bucket == nil {
			return nil
		}

		data := bucket.Get([]byte(key))
		if data == nil {
			return nil
		}

		found = true
		return json.Unmarshal(data, &loc)
	})

	if err != nil {
		return models.Location{}, false, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	if found && s.expired(loc) {
		return models.Location{}, false, nil
	}

	// The write timestamp is bookkeeping for expiry, never part of the answer.
	loc.CachedAt = 0
	return loc, found, nil
}

// Set stores a location entry with the given key, stamping the cache time
func (s *BoltStore) Set(key string, value models.Location) error {
	value.CachedAt = s.now().Unix()
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(LocationsBucket))
		if bucket == nil {
			return fmt.Errorf("bucket %s does not exist", LocationsBucket)
		}

		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal location: %w", err)
		}

		return bucket.Put([]byte(key), data)
	})
}

// forEach iterates over all entries in the cache, expired ones included
func (s *BoltStore) forEach(fn func(key string, value models.Location) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(LocationsBucket))
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var loc models.Location
			if err := json.Unmarshal(v, &loc); err != nil {
				// Log the error but continue iteration
				logger.Error("Failed to unmarshal location for key %s: %v", string(k), err)
				return nil
			}

			return fn(string(k), loc)
		})
	})
}

// CleanupExpired removes entries older than the ttl and returns how many were dropped
func (s *BoltStore) CleanupExpired() (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(LocationsBucket))
		if bucket == nil {
			return nil
		}

		var stale [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var loc models.Location
			if err := json.Unmarshal(v, &loc); err != nil || s.expired(loc) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to clean up cache: %w", err)
	}
	return removed, nil
}

// Close closes the BoltDB database
func (s *BoltStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// GetCacheStatistics returns statistics about the BoltDB cache
func (s *BoltStore) GetCacheStatistics() (map[string]int, error) {
	stats := map[string]int{
		"total_entries": 0,
		"resolved":      0,
		"unknown":       0,
		"expired":       0,
	}

	err := s.forEach(func(_ string, loc models.Location) error {
		stats["total_entries"]++

		switch {
		case s.expired(loc):
			stats["expired"]++
		case loc.IsUnknown():
			stats["unknown"]++
		default:
			stats["resolved"]++
		}

		return nil
	})

	return stats, err
}
