package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/prdigest/pr-digest/pkg/log"
	"github.com/prdigest/pr-digest/pkg/models"
	"github.com/prdigest/pr-digest/pkg/utils"
)

const (
	summaryKeyPrefix = "sum:"      // Prefix for pull request summary keys in DB
	pageKeyPrefix    = "page:"     // Prefix for rendered page keys in DB
	cacheDBDir       = "cache_db" // Subdirectory name within stateDir for Badger DB files
)

// BadgerStore implements the Store interface using BadgerDB
type BadgerStore struct {
	db       *badger.DB
	log      *logrus.Entry
	keyCount atomic.Int64 // Cached key count for O(1) Count
}

// NewBadgerStore opens (or creates) the cache database for one repository.
// With reset set, any existing database is removed first.
func NewBadgerStore(stateDir, repoKey string, reset bool, logger *logrus.Entry) (*BadgerStore, error) {
	store := &BadgerStore{log: logger}

	dbDirName := utils.SanitizeFilename(repoKey) + "_" + cacheDBDir
	dbPath := filepath.Join(stateDir, dbDirName)

	if reset {
		logger.Warnf("Reset requested. REMOVING existing cache directory: %s", dbPath)
		if err := os.RemoveAll(dbPath); err != nil {
			logger.Errorf("Failed to remove existing cache directory %s: %v", dbPath, err)
		}
	}

	logger.Infof("Initializing cache database at: %s", dbPath)

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create state directory %s: %w", utils.ErrFilesystem, dbPath, err)
	}

	badgerLogger := log.NewBadgerLogger(logger.WithField("component", "badgerdb"))
	opts := badger.DefaultOptions(dbPath).
		WithLogger(badgerLogger).
		WithNumVersionsToKeep(1)

	var err error
	store.db, err = badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrDatabase, dbPath, err)
	}

	count, err := store.countKeys()
	if err != nil {
		logger.Warnf("Failed to count existing keys: %v", err)
	} else {
		store.keyCount.Store(int64(count))
		logger.Debugf("Loaded existing key count: %d", count)
	}

	return store, nil
}

// countKeys performs a one-time full key scan (used only during initialization).
func (s *BadgerStore) countKeys() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Conflicts on overlapping keys resolve in microseconds, so no backoff is used.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// getJSON loads and decodes the value at key. found is false when the key is
// absent or its value cannot be decoded.
func (s *BadgerStore) getJSON(key []byte, out any) (found bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return fmt.Errorf("%w: failed getting key '%s': %w", utils.ErrDatabase, string(key), errGet)
		}
		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				s.log.Warnf("Key '%s' found with empty value. Treating as 'not_found'.", string(key))
				return nil
			}
			if errJSON := json.Unmarshal(val, out); errJSON != nil {
				s.log.Warnf("Failed to unmarshal value for key '%s': %v. Treating as 'not_found'.", string(key), errJSON)
				return nil
			}
			found = true
			return nil
		})
	})
	return found, err
}

// putJSON encodes value and stores it at key.
func (s *BadgerStore) putJSON(key []byte, value any) error {
	if s.db == nil {
		return fmt.Errorf("%w: cache DB not initialized", utils.ErrDatabase)
	}
	data, errJSON := json.Marshal(value)
	if errJSON != nil {
		wrappedErr := fmt.Errorf("%w: failed to marshal JSON value for key '%s': %w", utils.ErrParsing, string(key), errJSON)
		s.log.Error(wrappedErr)
		return wrappedErr
	}

	isNew := false
	err := s.dbUpdate(func(txn *badger.Txn) error {
		_, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			isNew = true
		}
		return txn.SetEntry(badger.NewEntry(key, data))
	})
	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB Update error: %v", err)
		return fmt.Errorf("%w: failed setting key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	if isNew {
		s.keyCount.Add(1)
	}
	return nil
}

// GetSummary implements the SummaryStore interface
func (s *BadgerStore) GetSummary(key string) (models.SummaryStatus, *models.SummaryDBEntry, error) {
	var entry models.SummaryDBEntry
	found, err := s.getJSON([]byte(summaryKeyPrefix+key), &entry)
	if err != nil {
		s.log.Errorf("DB View error in GetSummary for key '%s': %v", key, err)
		return models.SummaryStatusDBError, nil, err
	}
	if !found {
		return models.SummaryStatusNotFound, nil, nil
	}
	s.log.Debugf("Summary key '%s' found, decoded status: %s", key, entry.Status)
	return entry.Status, &entry, nil
}

// PutSummary implements the SummaryStore interface
func (s *BadgerStore) PutSummary(key string, entry *models.SummaryDBEntry) error {
	if err := s.putJSON([]byte(summaryKeyPrefix+key), entry); err != nil {
		return err
	}
	s.log.Debugf("Stored summary for '%s' with status '%s'", key, entry.Status)
	return nil
}

// GetPageHash implements the PageStore interface. Only successfully rendered
// pages report a hash.
func (s *BadgerStore) GetPageHash(relPath string) (string, bool, error) {
	var entry models.PageDBEntry
	found, err := s.getJSON([]byte(pageKeyPrefix+relPath), &entry)
	if err != nil {
		return "", false, err
	}
	if found && entry.Status == models.PageStatusRendered && entry.ContentHash != "" {
		return entry.ContentHash, true, nil
	}
	return "", false, nil
}

// PutPage implements the PageStore interface
func (s *BadgerStore) PutPage(relPath string, entry *models.PageDBEntry) error {
	return s.putJSON([]byte(pageKeyPrefix+relPath), entry)
}

// Count implements the StoreAdmin interface.
// Returns the cached key count maintained by atomic increments on writes.
func (s *BadgerStore) Count() (int, error) {
	return int(s.keyCount.Load()), nil
}

// RunGC runs BadgerDB's garbage collection periodically
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Debug("BadgerDB GC goroutine started.")

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				s.log.Debug("DB GC: Database is nil or closed, skipping GC cycle.")
				continue
			}

			var err error
			// Loop GC until it returns ErrNoRewrite or another error
			for {
				// Run GC if log is at least 50% reclaimable space
				if err = s.db.RunValueLogGC(0.5); err != nil {
					break
				}
				s.log.Debug("BadgerDB GC cycle completed.")
			}

			if !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}

		case <-ctx.Done():
			s.log.Debugf("Stopping BadgerDB garbage collection goroutine: %v", ctx.Err())
			return
		}
	}
}

// Close implements the StoreAdmin interface
func (s *BadgerStore) Close() error {
	if s.db != nil && !s.db.IsClosed() {
		if err := s.db.Close(); err != nil {
			s.log.Errorf("Error closing cache DB: %v", err)
			return err
		}
		s.log.Debug("Cache DB closed.")
	}
	return nil
}
