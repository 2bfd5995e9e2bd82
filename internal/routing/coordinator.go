package routing

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/tbourn/notify-router/internal/domain"
)

// Directory is the part of the group directory the coordinator needs.
type Directory interface {
	// Assign returns the user's group, assigning one on first touch. The bool
	// reports whether a new assignment was made.
	Assign(userID string) (domain.Group, bool, error)
	// Release undoes an assignment.
	Release(userID string) (domain.Group, bool, error)
}

// Result is the outcome of routing one notification.
type Result struct {
	// Intents holds one intent per target group, in group creation order.
	Intents []domain.DeliveryIntent
	// Matched is the number of users whose interests matched.
	Matched int
	// Assigned lists users that received their first group during routing.
	Assigned map[string]domain.Group
	// ExpiresAt is when the deduplication key stops rejecting replays.
	ExpiresAt time.Time
}

// Coordinator turns notifications into delivery intents exactly once per
// deduplication key.
type Coordinator struct {
	ledger *Ledger
	match  *MatchEngine
	dir    Directory
}

// NewCoordinator wires a coordinator.
func NewCoordinator(ledger *Ledger, match *MatchEngine, dir Directory) *Coordinator {
	return &Coordinator{ledger: ledger, match: match, dir: dir}
}

// Ledger exposes the deduplication ledger.
func (c *Coordinator) Ledger() *Ledger { return c.ledger }

// Route reserves the notification key, computes the match set, resolves
// every matched user to a group (assigning on first touch) and returns one
// delivery intent per group. A key routed within the retention window
// yields ErrDuplicateNotification. On any other error the reservation and
// the assignments made during the call are undone, so a retry is safe.
// A notification matching nobody still commits its key.
func (c *Coordinator) Route(n domain.Notification) (res Result, err error) {
	if n.Key == "" {
		return Result{}, fmt.Errorf("%w: missing deduplication key", ErrMalformedPayload)
	}
	if err := c.ledger.Reserve(n.Key); err != nil {
		return Result{}, err
	}

	assigned := make(map[string]domain.Group)
	defer func() {
		if err == nil {
			return
		}
		for uid := range assigned {
			if _, _, rerr := c.dir.Release(uid); rerr != nil {
				err = errors.Join(err, rerr)
			}
		}
		c.ledger.Abort(n.Key)
	}()

	users := c.match.Compute(n)

	latest := make(map[string]domain.Group)
	members := make(map[string][]string)
	for _, uid := range users {
		g, created, aerr := c.dir.Assign(uid)
		if aerr != nil {
			return Result{}, fmt.Errorf("resolve group for user %s: %w", uid, aerr)
		}
		if created {
			assigned[uid] = g
		}
		// Later snapshots carry the freshest member count.
		latest[g.ID] = g
		members[g.ID] = append(members[g.ID], uid)
	}

	groupIDs := lo.Keys(latest)
	sort.Slice(groupIDs, func(a, b int) bool { return latest[groupIDs[a]].Seq < latest[groupIDs[b]].Seq })

	intents := lo.Map(groupIDs, func(gid string, _ int) domain.DeliveryIntent {
		return domain.DeliveryIntent{Notification: n, Group: latest[gid], Users: members[gid]}
	})

	return Result{
		Intents:   intents,
		Matched:   len(users),
		Assigned:  assigned,
		ExpiresAt: c.ledger.Commit(n.Key),
	}, nil
}
