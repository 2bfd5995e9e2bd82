// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides aggregate queries for the admin
// statistics endpoint and conditional (ETag) responses.
package repo

import (
	"context"
	"os"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/notify-router/internal/domain"
)

// Counts aggregates row counts across the schema.
type Counts struct {
	Users          int64 `json:"users"`
	ActiveUsers    int64 `json:"active_users"`
	Groups         int64 `json:"groups"`
	Keywords       int64 `json:"keywords"`
	UniqueKeywords int64 `json:"unique_keywords"`
	Notifications  int64 `json:"notifications"`
}

// CollectCounts runs one COUNT per table.
func CollectCounts(ctx context.Context, db *gorm.DB) (Counts, error) {
	var c Counts
	q := db.WithContext(ctx)
	steps := []struct {
		dst *int64
		run func(*int64) error
	}{
		{&c.Users, func(n *int64) error { return q.Model(&domain.User{}).Count(n).Error }},
		{&c.ActiveUsers, func(n *int64) error {
			return q.Model(&domain.User{}).Where("status = ?", domain.UserActive).Count(n).Error
		}},
		{&c.Groups, func(n *int64) error { return q.Model(&domain.Group{}).Count(n).Error }},
		{&c.Keywords, func(n *int64) error { return q.Model(&domain.Keyword{}).Count(n).Error }},
		{&c.UniqueKeywords, func(n *int64) error {
			return q.Model(&domain.Keyword{}).Distinct("keyword").Count(n).Error
		}},
		{&c.Notifications, func(n *int64) error { return q.Model(&domain.RoutedNotification{}).Count(n).Error }},
	}
	for _, s := range steps {
		if err := s.run(s.dst); err != nil {
			return Counts{}, err
		}
	}
	return c, nil
}

// UsersStats returns the total number of users and the greatest UpdatedAt,
// or nil when there are none.
func UsersStats(ctx context.Context, db *gorm.DB) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.User{})

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = db.WithContext(ctx).Model(&domain.User{}).Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// DatabaseSize returns the on-disk size in bytes of the SQLite database at
// path, including its write-ahead log.
func DatabaseSize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	size := fi.Size()
	if wal, err := os.Stat(path + "-wal"); err == nil {
		size += wal.Size()
	}
	return size, nil
}
