package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"email-hook-go/internal/model"
)

// lockingStore serves backends with row-level locks (Postgres, MySQL 8).
// Rows are selected FOR UPDATE SKIP LOCKED and moved to delivering in the
// same transaction, so concurrent workers skip each other's rows.
type lockingStore struct {
	*gormStore
}

func (s *lockingStore) ClaimDue(ctx context.Context, limit int, now time.Time) ([]model.QueueItem, error) {
	var items []model.QueueItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := dueQuery(tx, limit, now.UTC()).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Find(&items).Error
		if err != nil || len(items) == 0 {
			return err
		}
		return markClaimed(tx, items, now.UTC())
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim due items: %w", err)
	}
	return items, nil
}

// serializedStore serves SQLite, which has no row locks. Claims go through
// a single in-process writer, and SQLite's database-level write lock plus
// the status guard in markClaimed cover other processes.
type serializedStore struct {
	*gormStore
	mu sync.Mutex
}

func (s *serializedStore) ClaimDue(ctx context.Context, limit int, now time.Time) ([]model.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var items []model.QueueItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := dueQuery(tx, limit, now.UTC()).Find(&items).Error; err != nil || len(items) == 0 {
			return err
		}
		return markClaimed(tx, items, now.UTC())
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim due items: %w", err)
	}
	return items, nil
}
