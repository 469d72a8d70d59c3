package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"email-hook-go/internal/database"
	"email-hook-go/internal/model"
)

// gormStore implements every operation that is identical across backends.
type gormStore struct {
	db *gorm.DB
}

func (s *gormStore) now() time.Time {
	return s.db.NowFunc().UTC()
}

func (s *gormStore) Enqueue(ctx context.Context, items []*model.QueueItem) error {
	if len(items) == 0 {
		return nil
	}

	now := s.now()
	for _, item := range items {
		item.Status = model.StatusPending
		item.AttemptCount = 0
		item.NextAttemptAt = now
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(items).Error
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue %d items: %w", len(items), err)
	}
	return nil
}

// dueQuery selects pending rows whose next attempt is due, oldest first.
func dueQuery(tx *gorm.DB, limit int, now time.Time) *gorm.DB {
	return tx.Where("status = ? AND next_attempt_at <= ?", model.StatusPending, now).
		Order("next_attempt_at ASC").
		Limit(limit)
}

// markClaimed moves the selected rows to delivering inside tx. The status
// guard makes a lost race visible as a row count mismatch.
func markClaimed(tx *gorm.DB, items []model.QueueItem, now time.Time) error {
	ids := make([]string, len(items))
	for i := range items {
		ids[i] = items[i].ID
	}

	res := tx.Model(&model.QueueItem{}).
		Where("id IN ? AND status = ?", ids, model.StatusPending).
		Updates(map[string]interface{}{
			"status":     model.StatusDelivering,
			"updated_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != int64(len(ids)) {
		return ErrClaimConflict
	}

	for i := range items {
		items[i].Status = model.StatusDelivering
		items[i].UpdatedAt = now
	}
	return nil
}

func (s *gormStore) transition(ctx context.Context, id string, updates map[string]interface{}) error {
	updates["updated_at"] = s.now()

	res := s.db.WithContext(ctx).
		Model(&model.QueueItem{}).
		Where("id = ? AND status = ?", id, model.StatusDelivering).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update queue item %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotClaimed, id)
	}
	return nil
}

func (s *gormStore) MarkDelivered(ctx context.Context, id string) error {
	return s.transition(ctx, id, map[string]interface{}{
		"status": model.StatusDelivered,
	})
}

func (s *gormStore) MarkRetry(ctx context.Context, id string, nextAttemptAt time.Time, lastError string) error {
	return s.transition(ctx, id, map[string]interface{}{
		"status":          model.StatusPending,
		"attempt_count":   gorm.Expr("attempt_count + 1"),
		"next_attempt_at": nextAttemptAt.UTC(),
		"last_error":      lastError,
	})
}

func (s *gormStore) MarkPermanentFailure(ctx context.Context, id string, lastError string) error {
	return s.transition(ctx, id, map[string]interface{}{
		"status":        model.StatusFailedPermanent,
		"attempt_count": gorm.Expr("attempt_count + 1"),
		"last_error":    lastError,
	})
}

func (s *gormStore) RecoverStale(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&model.QueueItem{}).
		Where("status = ? AND updated_at < ?", model.StatusDelivering, before.UTC()).
		Updates(map[string]interface{}{
			"status":     model.StatusPending,
			"updated_at": s.now(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to recover stale deliveries: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *gormStore) FindRoutes(ctx context.Context, domain, user string) ([]model.Route, error) {
	// "user" is reserved in Postgres, so the conditions are built as
	// clauses and quoted by the dialect.
	userCol := clause.Column{Name: "user"}

	var routes []model.Route
	err := s.db.WithContext(ctx).
		Where(clause.Eq{Column: clause.Column{Name: "domain"}, Value: domain}).
		Where(clause.Eq{Column: clause.Column{Name: "is_active"}, Value: true}).
		Where(clause.Or(
			clause.Eq{Column: userCol, Value: nil},
			clause.Eq{Column: userCol, Value: user},
		)).
		Order("id ASC").
		Find(&routes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load routes for %s: %w", domain, err)
	}
	return routes, nil
}

func (s *gormStore) CreateRoute(ctx context.Context, route *model.Route) error {
	if err := s.db.WithContext(ctx).Create(route).Error; err != nil {
		return fmt.Errorf("failed to create route: %w", err)
	}
	return nil
}

func (s *gormStore) GetItem(ctx context.Context, id string) (*model.QueueItem, error) {
	var item model.QueueItem
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue item %s: %w", id, err)
	}
	return &item, nil
}

func (s *gormStore) ListItems(ctx context.Context, status model.QueueStatus, limit int) ([]model.QueueItem, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var items []model.QueueItem
	if err := q.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list queue items: %w", err)
	}
	return items, nil
}

func (s *gormStore) Migrate(ctx context.Context) error {
	return database.Migrate(s.db.WithContext(ctx))
}

func (s *gormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *gormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
