// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for users and
// their interest keywords.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: no business logic, only persistence and query composition.
//
// Error semantics:
//   - When a user is not found, functions return ErrNotFound.
//   - On DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/notify-router/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// SaveUser upserts u and replaces its keyword set in one transaction. The
// stored group reference is not touched; use SetUserGroup for that.
func SaveUser(ctx context.Context, db *gorm.DB, u *domain.User, keywords []string) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Omit(clause.Associations).
			Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"name", "email", "intention", "status", "registered_at", "removed_at", "updated_at",
				}),
			}).
			Create(u).Error
		if err != nil {
			return err
		}
		return replaceKeywords(tx, u.ID, keywords, now)
	})
}

// ReplaceKeywords swaps the keyword set of userID.
func ReplaceKeywords(ctx context.Context, db *gorm.DB, userID string, keywords []string) error {
	now := time.Now().UTC()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.User{}).Where("id = ?", userID).Update("updated_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return replaceKeywords(tx, userID, keywords, now)
	})
}

func replaceKeywords(tx *gorm.DB, userID string, keywords []string, now time.Time) error {
	if err := tx.Where("user_id = ?", userID).Delete(&domain.Keyword{}).Error; err != nil {
		return err
	}
	if len(keywords) == 0 {
		return nil
	}
	rows := make([]domain.Keyword, 0, len(keywords))
	for _, kw := range keywords {
		rows = append(rows, domain.Keyword{UserID: userID, Keyword: kw, CreatedAt: now})
	}
	return tx.Omit(clause.Associations).Create(&rows).Error
}

// GetUser fetches a user with its keywords, or ErrNotFound.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	err := db.WithContext(ctx).
		Preload("Keywords", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("id = ?", id).
		First(&u).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ListActiveUsers returns every active user with keywords, ordered by
// registration time (oldest first).
func ListActiveUsers(ctx context.Context, db *gorm.DB) ([]domain.User, error) {
	var out []domain.User
	err := db.WithContext(ctx).
		Preload("Keywords", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("status = ?", domain.UserActive).
		Order("registered_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// ListUsers returns all users (any status) with keywords, ordered by
// registration time.
func ListUsers(ctx context.Context, db *gorm.DB) ([]domain.User, error) {
	var out []domain.User
	err := db.WithContext(ctx).
		Preload("Keywords", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Order("registered_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// searchUsers scopes a users query to a case-insensitive match on id, name
// or email. An empty q matches everything.
func searchUsers(q string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		q = strings.ToLower(strings.TrimSpace(q))
		if q == "" {
			return db
		}
		like := "%" + q + "%"
		return db.Where("LOWER(id) LIKE ? OR LOWER(name) LIKE ? OR LOWER(email) LIKE ?", like, like, like)
	}
}

// CountUsers returns the number of users matching q.
func CountUsers(ctx context.Context, db *gorm.DB, q string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.User{}).Scopes(searchUsers(q)).Count(&n).Error
	return n, err
}

// ListUsersPage returns a page of users matching q, newest registration
// first.
func ListUsersPage(ctx context.Context, db *gorm.DB, q string, offset, limit int) ([]domain.User, error) {
	var out []domain.User
	err := db.WithContext(ctx).
		Preload("Keywords", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Scopes(searchUsers(q)).
		Order("registered_at DESC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// SetUserGroup stores the group reference of an active user. A nil groupID
// clears it. Removed or unknown users yield ErrNotFound.
func SetUserGroup(ctx context.Context, db *gorm.DB, userID string, groupID *string) error {
	res := db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ? AND status = ?", userID, domain.UserActive).
		Updates(map[string]any{"group_id": groupID, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkUserRemoved soft-deletes a user: status=removed, group cleared and
// keywords dropped.
func MarkUserRemoved(ctx context.Context, db *gorm.DB, userID string, at time.Time) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.User{}).
			Where("id = ? AND status = ?", userID, domain.UserActive).
			Updates(map[string]any{
				"status":     domain.UserRemoved,
				"group_id":   nil,
				"removed_at": at,
				"updated_at": at,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("user_id = ?", userID).Delete(&domain.Keyword{}).Error
	})
}

// DeleteUser hard-deletes a user and its keywords. Unknown users yield
// ErrNotFound.
func DeleteUser(ctx context.Context, db *gorm.DB, userID string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&domain.Keyword{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", userID).Delete(&domain.User{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ListAssignments returns user → group for every active, assigned user.
func ListAssignments(ctx context.Context, db *gorm.DB) (map[string]string, error) {
	var rows []struct {
		ID      string
		GroupID string
	}
	err := db.WithContext(ctx).Model(&domain.User{}).
		Select("id, group_id").
		Where("status = ? AND group_id IS NOT NULL", domain.UserActive).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.ID] = r.GroupID
	}
	return out, nil
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
	low := strings.ToLower(err.Error())
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}
