package repo

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/notify-router/internal/domain"
)

// SaveGroups upserts group snapshots produced by the directory.
func SaveGroups(ctx context.Context, db *gorm.DB, groups ...domain.Group) error {
	if len(groups) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"chat_id", "title", "invite_link", "capacity", "member_count", "status", "updated_at",
			}),
		}).
		Create(&groups).Error
}

// SaveGroupCounts upserts group snapshots on the assignment paths. On
// conflict only the membership count, the open/full status and the update
// time change: the chat binding and invite link belong to admin operations,
// and a retired group stays retired.
func SaveGroupCounts(ctx context.Context, db *gorm.DB, groups ...domain.Group) error {
	if len(groups) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"member_count": gorm.Expr("excluded.member_count"),
				"updated_at":   gorm.Expr("excluded.updated_at"),
				"status": gorm.Expr(
					"CASE WHEN delivery_groups.status = ? THEN delivery_groups.status ELSE excluded.status END",
					string(domain.GroupRetired),
				),
			}),
		}).
		Create(&groups).Error
}

// GetGroup fetches a group by handle, or ErrNotFound.
func GetGroup(ctx context.Context, db *gorm.DB, id string) (*domain.Group, error) {
	var g domain.Group
	if err := db.WithContext(ctx).Where("id = ?", id).First(&g).Error; err != nil {
		return nil, err
	}
	return &g, nil
}

// ListGroups returns every group in creation order.
func ListGroups(ctx context.Context, db *gorm.DB) ([]domain.Group, error) {
	var out []domain.Group
	err := db.WithContext(ctx).Order("seq ASC").Find(&out).Error
	return out, err
}
