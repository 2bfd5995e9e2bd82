// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file stores routed deduplication keys so a restarted
// process keeps rejecting replays until they expire.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/notify-router/internal/domain"
)

// ErrDuplicate indicates that a record with the same unique key exists.
var ErrDuplicate = errors.New("duplicate")

// CreateRoutedNotification inserts rec and returns ErrDuplicate when the key
// is already stored.
func CreateRoutedNotification(ctx context.Context, db *gorm.DB, rec *domain.RoutedNotification) error {
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetRoutedNotification returns a non-expired record or ErrNotFound.
func GetRoutedNotification(ctx context.Context, db *gorm.DB, key string, now time.Time) (*domain.RoutedNotification, error) {
	var rec domain.RoutedNotification
	err := db.WithContext(ctx).
		Where("key = ? AND expires_at > ?", key, now).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListActiveRoutedNotifications returns every record still inside its
// retention window.
func ListActiveRoutedNotifications(ctx context.Context, db *gorm.DB, now time.Time) ([]domain.RoutedNotification, error) {
	var out []domain.RoutedNotification
	err := db.WithContext(ctx).
		Where("expires_at > ?", now).
		Order("routed_at ASC").
		Find(&out).Error
	return out, err
}

// PruneRoutedNotifications deletes expired records and returns how many were
// removed.
func PruneRoutedNotifications(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.RoutedNotification{})
	return res.RowsAffected, res.Error
}
