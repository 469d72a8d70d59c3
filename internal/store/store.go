// Package store persists routes and the webhook delivery queue on top of
// gorm. Each relational backend is a variant of Store chosen from the
// connection string scheme; they differ only in how ClaimDue achieves
// mutual exclusion.
package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"email-hook-go/internal/config"
	"email-hook-go/internal/database"
	"email-hook-go/internal/model"
)

var (
	// ErrNotFound is returned when a queue item does not exist.
	ErrNotFound = errors.New("queue item not found")

	// ErrNotClaimed is returned when a state transition targets a row that
	// is not in the delivering state, including rows already terminal.
	ErrNotClaimed = errors.New("queue item is not being delivered")

	// ErrClaimConflict is returned when rows selected for a claim changed
	// state before they could be marked delivering. The claim is rolled
	// back and can be retried.
	ErrClaimConflict = errors.New("queue claim conflicted with a concurrent writer")
)

// Store is the capability interface shared by every backend.
type Store interface {
	// Enqueue inserts items as pending with zero attempts, due now, in a
	// single transaction.
	Enqueue(ctx context.Context, items []*model.QueueItem) error

	// ClaimDue atomically moves up to limit due pending rows to delivering
	// and returns them. Concurrent callers never receive the same row.
	ClaimDue(ctx context.Context, limit int, now time.Time) ([]model.QueueItem, error)

	MarkDelivered(ctx context.Context, id string) error
	MarkRetry(ctx context.Context, id string, nextAttemptAt time.Time, lastError string) error
	MarkPermanentFailure(ctx context.Context, id string, lastError string) error

	// RecoverStale returns delivering rows last updated before the given
	// time to pending without touching their attempt count.
	RecoverStale(ctx context.Context, before time.Time) (int64, error)

	// FindRoutes returns the active catch-all route of domain and the
	// active route for (domain, user), whichever exist.
	FindRoutes(ctx context.Context, domain, user string) ([]model.Route, error)
	CreateRoute(ctx context.Context, route *model.Route) error

	GetItem(ctx context.Context, id string) (*model.QueueItem, error)
	ListItems(ctx context.Context, status model.QueueStatus, limit int) ([]model.QueueItem, error)

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Open connects to the configured database and returns the matching
// backend variant.
func Open(cfg config.DatabaseConfig) (Store, *gorm.DB, error) {
	db, dialect, err := database.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	return New(db, dialect), db, nil
}

// New wraps an open gorm connection in the variant suited to dialect.
func New(db *gorm.DB, dialect database.Dialect) Store {
	base := &gormStore{db: db}
	if dialect == database.DialectSQLite {
		return &serializedStore{gormStore: base}
	}
	return &lockingStore{gormStore: base}
}
