package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"

	"github.com/tbourn/notify-router/internal/groups"
	"github.com/tbourn/notify-router/internal/repo"
	"github.com/tbourn/notify-router/internal/routing"
	"github.com/tbourn/notify-router/internal/search"
)

// BootstrapReport summarizes what Bootstrap loaded.
type BootstrapReport struct {
	Users          int
	SkippedUsers   int
	Groups         int
	AssignedLater  int
	DedupKeys      int
	PrunedDedupRow int64
}

// Bootstrap hydrates the interest index, the group directory and the dedup
// ledger from the database. Stored member counts are recomputed from the
// user → group references; active users left without a group are assigned
// now. A directory that cannot be restored consistently is an error.
func Bootstrap(ctx context.Context, db *gorm.DB, idx *search.Index, dir *groups.Directory, ledger *routing.Ledger, now time.Time) (BootstrapReport, error) {
	ctx, span := otel.Tracer("services/Bootstrap").Start(ctx, "Bootstrap")
	defer span.End()

	var rep BootstrapReport

	users, err := repo.ListActiveUsers(ctx, db)
	if err != nil {
		return rep, fmt.Errorf("load users: %w", err)
	}
	for _, u := range users {
		if err := idx.Restore(u.ID, u.KeywordList(), u.RegisteredAt); err != nil {
			rep.SkippedUsers++
			log.Warn().Err(err).Str("user_id", u.ID).Msg("active user without usable keywords skipped")
			continue
		}
		rep.Users++
	}

	stored, err := repo.ListGroups(ctx, db)
	if err != nil {
		return rep, fmt.Errorf("load groups: %w", err)
	}
	assignments, err := repo.ListAssignments(ctx, db)
	if err != nil {
		return rep, fmt.Errorf("load assignments: %w", err)
	}
	if err := dir.Restore(stored, assignments); err != nil {
		return rep, err
	}
	rep.Groups = len(stored)

	for _, u := range users {
		if _, ok := dir.Lookup(u.ID); ok {
			continue
		}
		g, _, err := dir.Assign(u.ID)
		if err != nil {
			return rep, err
		}
		if err := saveAssignment(ctx, db, u.ID, g); err != nil {
			return rep, fmt.Errorf("assign user %s: %w", u.ID, err)
		}
		rep.AssignedLater++
	}
	// Persist recomputed counts and statuses.
	if err := repo.SaveGroups(ctx, db, dir.Groups()...); err != nil {
		return rep, fmt.Errorf("save groups: %w", err)
	}
	if err := dir.Verify(); err != nil {
		return rep, err
	}

	if rep.PrunedDedupRow, err = repo.PruneRoutedNotifications(ctx, db, now); err != nil {
		return rep, fmt.Errorf("prune routed notifications: %w", err)
	}
	recs, err := repo.ListActiveRoutedNotifications(ctx, db, now)
	if err != nil {
		return rep, fmt.Errorf("load routed notifications: %w", err)
	}
	for _, r := range recs {
		ledger.Restore(r.Key, r.ExpiresAt)
	}
	rep.DedupKeys = len(recs)

	log.Info().
		Int("users", rep.Users).
		Int("skipped_users", rep.SkippedUsers).
		Int("groups", rep.Groups).
		Int("assigned", rep.AssignedLater).
		Int("dedup_keys", rep.DedupKeys).
		Msg("state restored")
	return rep, nil
}
