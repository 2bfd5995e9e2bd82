// Package services – RoutingService
//
// RoutingService is the ingestion pipeline behind the webhook: it
// normalizes the raw payload, lets the coordinator decide who receives the
// notification, persists the decision (dedup record, first-touch group
// assignments) and hands the delivery intents to the dispatcher.
package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/notify-router/internal/domain"
	"github.com/tbourn/notify-router/internal/observability"
	"github.com/tbourn/notify-router/internal/repo"
	"github.com/tbourn/notify-router/internal/routing"
)

// Enqueuer accepts delivery intents without blocking.
type Enqueuer interface {
	Enqueue(intent domain.DeliveryIntent) bool
}

// GroupTracker is the slice of the group directory the ingestion path
// needs: current snapshots and undoing an assignment.
type GroupTracker interface {
	Group(id string) (domain.Group, error)
	Release(userID string) (domain.Group, bool, error)
}

// IngestResult summarizes one ingested notification.
type IngestResult struct {
	Notification domain.Notification
	Matched      int
	Groups       int
	Queued       int
	ExpiresAt    time.Time
}

// RoutingService turns webhook payloads into queued deliveries.
type RoutingService struct {
	DB          *gorm.DB
	Gateway     *routing.Gateway
	Coordinator *routing.Coordinator
	Groups      GroupTracker
	Dispatcher  Enqueuer
}

// NewRoutingService wires a RoutingService.
func NewRoutingService(db *gorm.DB, gw *routing.Gateway, co *routing.Coordinator, dir GroupTracker, d Enqueuer) *RoutingService {
	return &RoutingService{DB: db, Gateway: gw, Coordinator: co, Groups: dir, Dispatcher: d}
}

// Ingest routes raw. Malformed or oversized payloads yield
// routing.ErrMalformedPayload / routing.ErrPayloadTooLarge; a replay inside
// the retention window yields routing.ErrDuplicateNotification together
// with the normalized notification.
//
// Once the coordinator has committed, failures to persist the decision are
// logged and do not fail the call: deliveries still go out.
func (s *RoutingService) Ingest(ctx context.Context, raw routing.RawPayload) (IngestResult, error) {
	ctx, span := otel.Tracer("services/RoutingService").Start(ctx, "Ingest",
		trace.WithAttributes(attribute.String("notification.source", raw.ID)),
	)
	defer span.End()

	n, err := s.Gateway.Normalize(raw)
	if err != nil {
		observability.RecordRouted(observability.OutcomeRejected)
		return IngestResult{}, err
	}
	span.SetAttributes(attribute.String("notification.key", n.Key))
	lg := log.With().Str("key", n.Key).Logger()

	res, err := s.Coordinator.Route(n)
	if err != nil {
		if errors.Is(err, routing.ErrDuplicateNotification) {
			observability.RecordRouted(observability.OutcomeDuplicate)
			lg.Info().Str("source", n.SourceID).Msg("notification already processed")
			return IngestResult{Notification: n}, err
		}
		observability.RecordRouted(observability.OutcomeFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "route failed")
		lg.Error().Err(err).Msg("routing failed")
		return IngestResult{}, err
	}

	out := IngestResult{
		Notification: n,
		Matched:      res.Matched,
		Groups:       len(res.Intents),
		ExpiresAt:    res.ExpiresAt,
	}
	span.SetAttributes(
		attribute.Int("notification.matched", out.Matched),
		attribute.Int("notification.groups", out.Groups),
	)

	if err := s.persist(ctx, n, res); err != nil {
		span.RecordError(err)
		lg.Error().Err(err).Msg("persisting routing decision failed")
	}

	observability.AddDeliveryIntents(len(res.Intents))
	for _, it := range res.Intents {
		if s.Dispatcher != nil && s.Dispatcher.Enqueue(it) {
			out.Queued++
		}
	}

	if out.Matched == 0 {
		observability.RecordRouted(observability.OutcomeUnmatched)
	} else {
		observability.RecordRouted(observability.OutcomeRouted)
	}
	lg.Info().
		Int("matched", out.Matched).
		Int("groups", out.Groups).
		Int("queued", out.Queued).
		Msg("notification routed")
	return out, nil
}

// persist stores the dedup record and the assignments made while routing.
// Users removed concurrently are released again.
func (s *RoutingService) persist(ctx context.Context, n domain.Notification, res routing.Result) error {
	rec := &domain.RoutedNotification{
		Key:        n.Key,
		SourceID:   n.SourceID,
		Content:    n.Content,
		MatchCount: res.Matched,
		GroupCount: len(res.Intents),
		RoutedAt:   n.ReceivedAt,
		ExpiresAt:  res.ExpiresAt,
	}
	if rec.RoutedAt.IsZero() {
		rec.RoutedAt = time.Now().UTC()
	}

	var stale []string
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := repo.CreateRoutedNotification(ctx, tx, rec)
		if errors.Is(err, repo.ErrDuplicate) {
			// An expired record with the same key is still stored.
			if _, perr := repo.PruneRoutedNotifications(ctx, tx, rec.RoutedAt); perr != nil {
				return perr
			}
			err = repo.CreateRoutedNotification(ctx, tx, rec)
		}
		if err != nil {
			return err
		}
		if len(res.Assigned) == 0 {
			return nil
		}

		// Intents carry the snapshot taken while routing; admin binds or
		// retirements may have landed since.
		latest := map[string]domain.Group{}
		for _, it := range res.Intents {
			g := it.Group
			if s.Groups != nil {
				if cur, gerr := s.Groups.Group(g.ID); gerr == nil {
					g = cur
				}
			}
			latest[g.ID] = g
		}
		gs := make([]domain.Group, 0, len(latest))
		for _, g := range latest {
			gs = append(gs, g)
		}
		sort.Slice(gs, func(i, j int) bool { return gs[i].Seq < gs[j].Seq })
		if err := repo.SaveGroupCounts(ctx, tx, gs...); err != nil {
			return err
		}

		uids := make([]string, 0, len(res.Assigned))
		for uid := range res.Assigned {
			uids = append(uids, uid)
		}
		sort.Strings(uids)
		for _, uid := range uids {
			gid := res.Assigned[uid].ID
			if err := repo.SetUserGroup(ctx, tx, uid, &gid); err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					stale = append(stale, uid)
					continue
				}
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, uid := range stale {
		if s.Groups == nil {
			break
		}
		if g, ok, rerr := s.Groups.Release(uid); rerr != nil {
			log.Error().Err(rerr).Str("user_id", uid).Msg("release of removed user failed")
		} else if ok {
			if serr := repo.SaveGroupCounts(ctx, s.DB, g); serr != nil {
				log.Warn().Err(serr).Str("group_id", g.ID).Msg("group snapshot not saved")
			}
			log.Warn().Str("user_id", uid).Str("group_id", g.ID).Msg("user removed while routing, assignment released")
		}
	}
	return nil
}
