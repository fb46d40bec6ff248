package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/prdigest/pr-digest/pkg/models"
)

// SummaryStore caches model output per pull request
type SummaryStore interface {
	// GetSummary retrieves the cached summary state for a pull request key.
	// Returns status (SummaryStatusSuccess, SummaryStatusFailure, SummaryStatusNotFound, SummaryStatusDBError),
	// the SummaryDBEntry if found and parsed, and any error
	GetSummary(key string) (status models.SummaryStatus, entry *models.SummaryDBEntry, err error)

	// PutSummary stores the summary state for a pull request key
	PutSummary(key string, entry *models.SummaryDBEntry) error
}

// PageStore tracks the source hash of rendered daily pages
type PageStore interface {
	// GetPageHash returns the source hash recorded for a rendered page, and whether one exists
	GetPageHash(relPath string) (hash string, exists bool, err error)

	// PutPage records the render state of a page
	PutPage(relPath string, entry *models.PageDBEntry) error
}

// StoreAdmin handles lifecycle and administrative operations
type StoreAdmin interface {
	// Count returns the number of keys in the store
	Count() (int, error)

	// RunGC runs periodic garbage collection. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)

	// Close cleanly closes the database connection
	Close() error
}

// Store combines all store interfaces for components that need full access
type Store interface {
	SummaryStore
	PageStore
	StoreAdmin
}

// SummaryKey builds the cache key of one pull request.
func SummaryKey(owner, repo string, number int) string {
	return owner + "/" + repo + "#" + strconv.Itoa(number)
}
