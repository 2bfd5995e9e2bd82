// Package services – RegistrationService
//
// RegistrationService owns the user lifecycle: registration, interest
// updates, removal and explicit rebalancing. Every operation writes the
// database first and then mirrors the change into the in-memory interest
// index and group directory, so a restart rebuilds the same state.
//
// Observability: public methods are OpenTelemetry-instrumented with the user
// id as a span attribute.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/notify-router/internal/domain"
	"github.com/tbourn/notify-router/internal/groups"
	"github.com/tbourn/notify-router/internal/repo"
	"github.com/tbourn/notify-router/internal/search"
)

// Inviter sends a group's invite link to a user.
type Inviter interface {
	SendInvite(ctx context.Context, userID string, g domain.Group) error
}

// RegisterInput is the registration payload.
type RegisterInput struct {
	UserID    string   `json:"user_id"   validate:"required,max=64"`
	Name      string   `json:"name"      validate:"max=255"`
	Email     string   `json:"email"     validate:"omitempty,email,max=255"`
	Intention string   `json:"intention" validate:"max=2000"`
	Keywords  []string `json:"keywords"`
}

// UserView is a user together with its keywords and current group.
type UserView struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Email        string            `json:"email"`
	Intention    string            `json:"intention"`
	Status       domain.UserStatus `json:"status"`
	RegisteredAt time.Time         `json:"registered_at"`
	Keywords     []string          `json:"keywords"`
	Group        *domain.Group     `json:"group,omitempty"`
}

// RegistrationService manages users and their interests.
type RegistrationService struct {
	DB      *gorm.DB
	Index   *search.Index
	Groups  *groups.Directory
	Inviter Inviter

	Now func() time.Time

	validate *validator.Validate
	// mu serializes user mutations so the database and the in-memory
	// structures change in the same order.
	mu sync.Mutex
}

// NewRegistrationService wires a RegistrationService. inviter may be nil.
func NewRegistrationService(db *gorm.DB, idx *search.Index, dir *groups.Directory, inviter Inviter) *RegistrationService {
	return &RegistrationService{
		DB:       db,
		Index:    idx,
		Groups:   dir,
		Inviter:  inviter,
		Now:      func() time.Time { return time.Now().UTC() },
		validate: validator.New(),
	}
}

// Register creates a user, or reactivates a removed one with a fresh
// registration timestamp, and assigns it to a group. Registering an active
// user yields ErrUserExists; an empty keyword set yields
// search.ErrInvalidInterestSet. When the assignment cannot be stored the
// registration is rolled back.
func (s *RegistrationService) Register(ctx context.Context, in RegisterInput) (*UserView, error) {
	ctx, span := otel.Tracer("services/RegistrationService").Start(ctx, "Register",
		trace.WithAttributes(attribute.String("user.id", in.UserID)),
	)
	defer span.End()

	in.UserID = strings.TrimSpace(in.UserID)
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.Intention = strings.TrimSpace(in.Intention)
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUser, err)
	}
	kws, err := s.Index.Normalize(in.Keywords)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	u, g, err := s.register(ctx, in, kws)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.invite(ctx, u.ID, g)

	log.Info().Str("user_id", u.ID).Str("group_id", g.ID).Int("keywords", len(kws)).Msg("user registered")
	return &UserView{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		Intention:    u.Intention,
		Status:       u.Status,
		RegisteredAt: u.RegisteredAt,
		Keywords:     kws,
		Group:        &g,
	}, nil
}

// register runs under s.mu.
func (s *RegistrationService) register(ctx context.Context, in RegisterInput, kws []string) (*domain.User, domain.Group, error) {
	existing, err := repo.GetUser(ctx, s.DB, in.UserID)
	switch {
	case err == nil && existing.Status == domain.UserActive:
		return nil, domain.Group{}, ErrUserExists
	case err != nil && !errors.Is(err, repo.ErrNotFound):
		return nil, domain.Group{}, err
	}

	now := s.Now()
	u := &domain.User{
		ID:           in.UserID,
		Name:         in.Name,
		Email:        in.Email,
		Intention:    in.Intention,
		Status:       domain.UserActive,
		RegisteredAt: now,
	}
	if existing != nil {
		u.CreatedAt = existing.CreatedAt
	}
	if err := repo.SaveUser(ctx, s.DB, u, kws); err != nil {
		return nil, domain.Group{}, err
	}
	if err := s.Index.Restore(u.ID, kws, now); err != nil {
		s.undoRegister(ctx, u.ID, existing)
		return nil, domain.Group{}, err
	}
	g, err := s.assign(ctx, u.ID)
	if err != nil {
		s.undoRegister(ctx, u.ID, existing)
		return nil, domain.Group{}, err
	}
	return u, g, nil
}

// undoRegister drops userID from the index and puts its stored row back
// the way it was before: deleted for a new user, removed for a returning
// one.
func (s *RegistrationService) undoRegister(ctx context.Context, userID string, prev *domain.User) {
	ctx = context.WithoutCancel(ctx)
	s.Index.Remove(userID)
	var err error
	if prev == nil {
		err = repo.DeleteUser(ctx, s.DB, userID)
	} else {
		err = repo.SaveUser(ctx, s.DB, prev, prev.KeywordList())
	}
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("registration rollback failed")
		return
	}
	log.Warn().Str("user_id", userID).Msg("registration rolled back")
}

// UpdateInterests replaces the keyword set of an active user. The
// registration timestamp is kept.
func (s *RegistrationService) UpdateInterests(ctx context.Context, userID string, keywords []string) (*UserView, error) {
	ctx, span := otel.Tracer("services/RegistrationService").Start(ctx, "UpdateInterests",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	kws, err := s.Index.Normalize(keywords)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	v, assigned, err := s.updateInterests(ctx, userID, kws)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if assigned && v.Group != nil {
		s.invite(ctx, userID, *v.Group)
	}
	return v, nil
}

// updateInterests runs under s.mu. It reports whether the user was assigned
// a group on the way.
func (s *RegistrationService) updateInterests(ctx context.Context, userID string, kws []string) (*UserView, bool, error) {
	u, err := s.activeUser(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if err := repo.ReplaceKeywords(ctx, s.DB, userID, kws); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, false, ErrUserNotFound
		}
		return nil, false, err
	}
	if err := s.Index.Restore(userID, kws, u.RegisteredAt); err != nil {
		return nil, false, err
	}
	assigned := false
	if _, ok := s.Groups.Lookup(userID); !ok {
		if _, err := s.assign(ctx, userID); err != nil {
			return nil, false, err
		}
		assigned = true
	}

	v := s.view(ctx, u)
	v.Keywords = kws
	return v, assigned, nil
}

// Get returns a user, including removed ones.
func (s *RegistrationService) Get(ctx context.Context, userID string) (*UserView, error) {
	ctx, span := otel.Tracer("services/RegistrationService").Start(ctx, "Get",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	u, err := repo.GetUser(ctx, s.DB, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return s.view(ctx, u), nil
}

// Remove soft-deletes an active user: its keywords leave the index and its
// group slot is released.
func (s *RegistrationService) Remove(ctx context.Context, userID string) error {
	ctx, span := otel.Tracer("services/RegistrationService").Start(ctx, "Remove",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.activeUser(ctx, userID); err != nil {
		return err
	}
	if err := repo.MarkUserRemoved(ctx, s.DB, userID, s.Now()); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	s.Index.Remove(userID)
	g, released, err := s.Groups.Release(userID)
	if err != nil {
		return err
	}
	if released {
		if err := repo.SaveGroupCounts(ctx, s.DB, g); err != nil {
			return err
		}
	}
	log.Info().Str("user_id", userID).Str("group_id", g.ID).Msg("user removed")
	return nil
}

// Rebalance moves an active user to the first open group with space. It is
// only ever triggered explicitly.
func (s *RegistrationService) Rebalance(ctx context.Context, userID string) (prev, next domain.Group, err error) {
	ctx, span := otel.Tracer("services/RegistrationService").Start(ctx, "Rebalance",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	s.mu.Lock()
	prev, next, err = s.rebalance(ctx, userID)
	s.mu.Unlock()
	if err != nil {
		return prev, next, err
	}
	if prev.ID != next.ID {
		s.invite(ctx, userID, next)
	}
	log.Info().Str("user_id", userID).Str("from", prev.ID).Str("to", next.ID).Msg("user rebalanced")
	return prev, next, nil
}

// rebalance runs under s.mu.
func (s *RegistrationService) rebalance(ctx context.Context, userID string) (prev, next domain.Group, err error) {
	if _, err := s.activeUser(ctx, userID); err != nil {
		return prev, next, err
	}
	prev, next, err = s.Groups.Rebalance(userID)
	if err != nil {
		return prev, next, err
	}
	touched := []domain.Group{next}
	if prev.ID != "" && prev.ID != next.ID {
		// Reread so the saved count reflects both the release and any
		// reassignment back into prev.
		if fresh, gerr := s.Groups.Group(prev.ID); gerr == nil {
			prev = fresh
		}
		touched = append(touched, prev)
	}
	if err := saveAssignment(ctx, s.DB, userID, touched...); err != nil {
		return prev, next, err
	}
	return prev, next, nil
}

// assign resolves the user's group and persists it. A fresh assignment is
// undone when it cannot be stored.
func (s *RegistrationService) assign(ctx context.Context, userID string) (domain.Group, error) {
	g, created, err := s.Groups.Assign(userID)
	if err != nil {
		return domain.Group{}, err
	}
	if err := saveAssignment(ctx, s.DB, userID, g); err != nil {
		if created {
			_, _, _ = s.Groups.Release(userID)
		}
		return domain.Group{}, err
	}
	return g, nil
}

func (s *RegistrationService) invite(ctx context.Context, userID string, g domain.Group) {
	if s.Inviter == nil || g.InviteLink == "" {
		return
	}
	if err := s.Inviter.SendInvite(ctx, userID, g); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Str("group_id", g.ID).Msg("invite not sent")
	}
}

func (s *RegistrationService) activeUser(ctx context.Context, userID string) (*domain.User, error) {
	u, err := repo.GetUser(ctx, s.DB, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if u.Status != domain.UserActive {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// view prefers the live directory snapshot of the user's group over the
// stored one.
func (s *RegistrationService) view(ctx context.Context, u *domain.User) *UserView {
	v := &UserView{
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
		if g, err := repo.GetGroup(ctx, s.DB, *u.GroupID); err == nil {
			v.Group = g
		}
	}
	return v
}

// saveAssignment stores the group snapshots and points userID at the first
// one, in one transaction.
func saveAssignment(ctx context.Context, db *gorm.DB, userID string, gs ...domain.Group) error {
	if len(gs) == 0 {
		return nil
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.SaveGroupCounts(ctx, tx, gs...); err != nil {
			return err
		}
		gid := gs[0].ID
		if err := repo.SetUserGroup(ctx, tx, userID, &gid); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		return nil
	})
}
