// Package services – AdminService
//
// AdminService backs the operator surface: statistics, user search and
// export, group management (add, bind, retire), user removal and
// rebalancing, broadcasts, process diagnostics, dedup pruning and database
// backups.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/notify-router/internal/backup"
	"github.com/tbourn/notify-router/internal/domain"
	"github.com/tbourn/notify-router/internal/groups"
	"github.com/tbourn/notify-router/internal/observability"
	"github.com/tbourn/notify-router/internal/repo"
	"github.com/tbourn/notify-router/internal/routing"
	"github.com/tbourn/notify-router/internal/search"
	"github.com/tbourn/notify-router/internal/sysutil"
)

// BackupManager takes and lists database snapshots.
type BackupManager interface {
	Snapshot(ctx context.Context) (backup.Snapshot, error)
	List() ([]backup.Snapshot, error)
}

// Backlog is the delivery queue: operators read its depth and broadcasts
// go through it.
type Backlog interface {
	Enqueuer
	Pending() int
}

// Stats is the admin statistics payload.
type Stats struct {
	repo.Counts
	DatabaseBytes    int64 `json:"database_bytes"`
	IndexedUsers     int   `json:"indexed_users"`
	IndexedKeywords  int   `json:"indexed_keywords"`
	AssignedUsers    int   `json:"assigned_users"`
	LiveGroups       int   `json:"live_groups"`
	LedgerEntries    int   `json:"ledger_entries"`
	PendingDelivery  int   `json:"pending_deliveries"`
	DirectoryHealthy bool  `json:"directory_healthy"`
}

// GroupInput creates an admin-managed group bound to a chat.
type GroupInput struct {
	ChatID   string `json:"chat_id"  validate:"required,max=64"`
	Title    string `json:"title"    validate:"max=255"`
	Capacity int    `json:"capacity" validate:"min=0,max=100000"`
}

// BindingInput attaches a group to a chat.
type BindingInput struct {
	ChatID     string `json:"chat_id"     validate:"required,max=64"`
	InviteLink string `json:"invite_link" validate:"omitempty,url,max=512"`
	Title      string `json:"title"       validate:"max=255"`
}

// BroadcastInput is an operator announcement sent to every active user.
type BroadcastInput struct {
	Text string `json:"text" validate:"required,max=4000"`
}

// BroadcastResult summarizes a broadcast. Users in groups without a chat
// cannot be reached and are counted apart.
type BroadcastResult struct {
	Key          string `json:"key"`
	Groups       int    `json:"groups"`
	Users        int    `json:"users"`
	UnboundUsers int    `json:"unbound_users"`
	Dropped      int    `json:"dropped"`
}

// DebugInfo is the process diagnostics payload.
type DebugInfo struct {
	sysutil.ProcessStats
	PendingDelivery int `json:"pending_deliveries"`
}

// AdminService implements administrative operations.
type AdminService struct {
	DB      *gorm.DB
	DBPath  string
	Index   *search.Index
	Groups  *groups.Directory
	Ledger  *routing.Ledger
	Users   *RegistrationService
	Backups BackupManager
	Inviter Inviter
	Queue   Backlog

	NewGroupID func() string
	Now        func() time.Time

	validate *validator.Validate
}

// NewAdminService wires an AdminService. backups, inviter and queue may be
// nil.
func NewAdminService(db *gorm.DB, dbPath string, users *RegistrationService, ledger *routing.Ledger, backups BackupManager, inviter Inviter, queue Backlog) *AdminService {
	return &AdminService{
		DB:         db,
		DBPath:     dbPath,
		Index:      users.Index,
		Groups:     users.Groups,
		Ledger:     ledger,
		Users:      users,
		Backups:    backups,
		Inviter:    inviter,
		Queue:      queue,
		NewGroupID: uuid.NewString,
		Now:        func() time.Time { return time.Now().UTC() },
		validate:   validator.New(),
	}
}

// Stats combines stored counts, database size and in-memory state.
func (s *AdminService) Stats(ctx context.Context) (*Stats, error) {
	ctx, span := otel.Tracer("services/AdminService").Start(ctx, "Stats")
	defer span.End()

	counts, err := repo.CollectCounts(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	st := &Stats{Counts: counts}
	if s.DBPath != "" {
		size, err := repo.DatabaseSize(s.DBPath)
		if err != nil {
			log.Warn().Err(err).Str("path", s.DBPath).Msg("database size unavailable")
		}
		st.DatabaseBytes = size
	}
	st.IndexedUsers, st.IndexedKeywords = s.Index.Stats()
	st.LiveGroups, st.AssignedUsers = s.Groups.Stats()
	st.DirectoryHealthy = s.Groups.Verify() == nil
	if s.Ledger != nil {
		st.LedgerEntries = s.Ledger.Len()
	}
	if s.Queue != nil {
		st.PendingDelivery = s.Queue.Pending()
	}
	return st, nil
}

// ListUsers returns a page of users matching q (id, name or e-mail),
// newest registration first, and the total number of matches.
func (s *AdminService) ListUsers(ctx context.Context, q string, page, pageSize int) ([]UserView, int64, error) {
	ctx, span := otel.Tracer("services/AdminService").Start(ctx, "ListUsers",
		trace.WithAttributes(
			attribute.String("query", q),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	total, err := repo.CountUsers(ctx, s.DB, q)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []UserView{}, 0, nil
	}
	users, err := repo.ListUsersPage(ctx, s.DB, q, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, 0, err
	}
	out, err := s.views(ctx, users)
	return out, total, err
}

// Export returns every user, oldest registration first.
func (s *AdminService) Export(ctx context.Context) ([]UserView, error) {
	ctx, span := otel.Tracer("services/AdminService").Start(ctx, "Export")
	defer span.End()

	users, err := repo.ListUsers(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	return s.views(ctx, users)
}

func (s *AdminService) views(ctx context.Context, users []domain.User) ([]UserView, error) {
	stored, err := repo.ListGroups(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	byID := lo.SliceToMap(stored, func(g domain.Group) (string, domain.Group) { return g.ID, g })
	out := lo.Map(users, func(u domain.User, _ int) UserView {
		v := UserView{
			ID:           u.ID,
			Name:         u.Name,
			Email:        u.Email,
			Intention:    u.Intention,
			Status:       u.Status,
			RegisteredAt: u.RegisteredAt,
			Keywords:     u.KeywordList(),
		}
		if g, ok := s.Groups.Lookup(u.ID); ok {
			v.Group = &g
		} else if u.GroupID != nil {
			if g, ok := byID[*u.GroupID]; ok {
				v.Group = &g
			}
		}
		return v
	})
	return out, nil
}

// ListGroups returns the live groups in creation order.
func (s *AdminService) ListGroups() []domain.Group {
	return s.Groups.Groups()
}

// AddGroup creates an open group bound to a chat. A zero capacity uses the
// directory default.
func (s *AdminService) AddGroup(ctx context.Context, in GroupInput) (domain.Group, error) {
	ctx, span := otel.Tracer("services/AdminService").Start(ctx, "AddGroup",
		trace.WithAttributes(attribute.String("chat.id", in.ChatID)),
	)
	defer span.End()

	in.ChatID = strings.TrimSpace(in.ChatID)
	in.Title = strings.TrimSpace(in.Title)
	if err := s.validate.Struct(in); err != nil {
		return domain.Group{}, fmt.Errorf("%w: %v", ErrInvalidGroup, err)
	}
	g, err := s.Groups.AddGroup(s.NewGroupID(), in.ChatID, in.Title, in.Capacity)
	if err != nil {
		return domain.Group{}, mapGroupErr(err)
	}
	if err := repo.SaveGroups(ctx, s.DB, g); err != nil {
		return domain.Group{}, err
	}
	log.Info().Str("group_id", g.ID).Str("chat_id", g.ChatID).Int("capacity", g.Capacity).Msg("group added")
	return g, nil
}

// BindGroup attaches a group to a chat. When the invite link changes, every
// current member is sent the new link; the number of invites sent is
// returned.
func (s *AdminService) BindGroup(ctx context.Context, id string, in BindingInput) (domain.Group, int, error) {
	ctx, span := otel.Tracer("services/AdminService").Start(ctx, "BindGroup",
		trace.WithAttributes(attribute.String("group.id", id)),
	)
	defer span.End()

	in.ChatID = strings.TrimSpace(in.ChatID)
	in.InviteLink = strings.TrimSpace(in.InviteLink)
	in.Title = strings.TrimSpace(in.Title)
	if err := s.validate.Struct(in); err != nil {
		return domain.Group{}, 0, fmt.Errorf("%w: %v", ErrInvalidGroup, err)
	}
	before, err := s.Groups.Group(id)
	if err != nil {
		return domain.Group{}, 0, mapGroupErr(err)
	}
	g, err := s.Groups.Bind(id, in.ChatID, in.InviteLink, in.Title)
	if err != nil {
		return domain.Group{}, 0, mapGroupErr(err)
	}
	if err := repo.SaveGroups(ctx, s.DB, g); err != nil {
		return domain.Group{}, 0, err
	}

	invited := 0
	if s.Inviter != nil && g.InviteLink != "" && g.InviteLink != before.InviteLink {
		for _, uid := range s.Groups.Members(id) {
			if err := s.Inviter.SendInvite(ctx, uid, g); err != nil {
				log.Warn().Err(err).Str("user_id", uid).Str("group_id", id).Msg("invite not sent")
				continue
			}
			invited++
		}
	}
	log.Info().Str("group_id", id).Str("chat_id", g.ChatID).Int("invited", invited).Msg("group bound")
	return g, invited, nil
}

// RetireGroup stops new assignments into a group. Existing members keep
// receiving deliveries through it.
func (s *AdminService) RetireGroup(ctx context.Context, id string) (domain.Group, error) {
	ctx, span := otel.Tracer("services/AdminService").Start(ctx, "RetireGroup",
		trace.WithAttributes(attribute.String("group.id", id)),
	)
	defer span.End()

	g, err := s.Groups.Retire(id)
	if err != nil {
		return domain.Group{}, mapGroupErr(err)
	}
	if err := repo.SaveGroups(ctx, s.DB, g); err != nil {
		return domain.Group{}, err
	}
	log.Info().Str("group_id", id).Msg("group retired")
	return g, nil
}

// Broadcast queues in.Text for every active user. Each group with members
// gets one delivery intent, so the announcement goes through the same rate
// limiter and retries as routed notifications.
func (s *AdminService) Broadcast(ctx context.Context, in BroadcastInput) (BroadcastResult, error) {
	_, span := otel.Tracer("services/AdminService").Start(ctx, "Broadcast")
	defer span.End()

	in.Text = strings.TrimSpace(in.Text)
	if err := s.validate.Struct(in); err != nil {
		return BroadcastResult{}, fmt.Errorf("%w: %v", ErrInvalidBroadcast, err)
	}
	if s.Queue == nil {
		return BroadcastResult{}, ErrDeliveryUnavailable
	}

	n := domain.Notification{
		Key:        "broadcast-" + uuid.NewString(),
		Content:    in.Text,
		Broadcast:  true,
		ReceivedAt: s.Now(),
	}
	res := BroadcastResult{Key: n.Key}
	for _, g := range s.Groups.Groups() {
		members := s.Groups.Members(g.ID)
		if len(members) == 0 {
			continue
		}
		if !g.Bound() {
			res.UnboundUsers += len(members)
			continue
		}
		if !s.Queue.Enqueue(domain.DeliveryIntent{Notification: n, Group: g, Users: members}) {
			res.Dropped++
			continue
		}
		res.Groups++
		res.Users += len(members)
	}
	observability.AddDeliveryIntents(res.Groups)
	span.SetAttributes(
		attribute.Int("broadcast.groups", res.Groups),
		attribute.Int("broadcast.users", res.Users),
	)
	log.Info().
		Str("key", n.Key).
		Int("groups", res.Groups).
		Int("users", res.Users).
		Int("unbound_users", res.UnboundUsers).
		Int("dropped", res.Dropped).
		Msg("broadcast queued")
	return res, nil
}

// Debug reports process diagnostics: pid, uptime, memory and CPU.
func (s *AdminService) Debug(ctx context.Context) (*DebugInfo, error) {
	ctx, span := otel.Tracer("services/AdminService").Start(ctx, "Debug")
	defer span.End()

	st, err := sysutil.ReadProcessStats(ctx, s.Now())
	if err != nil {
		return nil, err
	}
	info := &DebugInfo{ProcessStats: st}
	if s.Queue != nil {
		info.PendingDelivery = s.Queue.Pending()
	}
	return info, nil
}

// RemoveUser soft-deletes a user.
func (s *AdminService) RemoveUser(ctx context.Context, userID string) error {
	return s.Users.Remove(ctx, userID)
}

// RebalanceUser explicitly reassigns a user.
func (s *AdminService) RebalanceUser(ctx context.Context, userID string) (prev, next domain.Group, err error) {
	return s.Users.Rebalance(ctx, userID)
}

// PruneRouted drops expired dedup keys from memory and storage.
func (s *AdminService) PruneRouted(ctx context.Context) (int64, error) {
	if s.Ledger != nil {
		s.Ledger.Prune()
	}
	n, err := repo.PruneRoutedNotifications(ctx, s.DB, s.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Debug().Int64("rows", n).Msg("expired routed notifications pruned")
	}
	return n, nil
}

// Backup takes a database snapshot now.
func (s *AdminService) Backup(ctx context.Context) (backup.Snapshot, error) {
	if s.Backups == nil {
		return backup.Snapshot{}, ErrBackupsDisabled
	}
	ctx, span := otel.Tracer("services/AdminService").Start(ctx, "Backup")
	defer span.End()
	return s.Backups.Snapshot(ctx)
}

// ListBackups returns the stored snapshots, newest first.
func (s *AdminService) ListBackups() ([]backup.Snapshot, error) {
	if s.Backups == nil {
		return nil, ErrBackupsDisabled
	}
	return s.Backups.List()
}

func mapGroupErr(err error) error {
	switch {
	case errors.Is(err, groups.ErrGroupNotFound):
		return ErrGroupNotFound
	case errors.Is(err, groups.ErrInvalidCapacity), errors.Is(err, groups.ErrGroupExists):
		return fmt.Errorf("%w: %v", ErrInvalidGroup, err)
	default:
		return err
	}
}
