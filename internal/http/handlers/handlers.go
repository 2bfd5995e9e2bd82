// Package handlers exposes the HTTP boundaries of the notification router:
// ingestion (webhook), registration (users) and administration.
//
// Handlers are transport-thin: they bind input, call an application service
// and translate the result (or its sentinel error) into an HTTP response.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/notify-router/internal/backup"
	"github.com/tbourn/notify-router/internal/domain"
	"github.com/tbourn/notify-router/internal/groups"
	"github.com/tbourn/notify-router/internal/routing"
	"github.com/tbourn/notify-router/internal/search"
	"github.com/tbourn/notify-router/internal/services"
)

// Ingestor routes one webhook payload.
type Ingestor interface {
	Ingest(ctx context.Context, raw routing.RawPayload) (services.IngestResult, error)
}

// Registrar manages end users and their interests.
type Registrar interface {
	Register(ctx context.Context, in services.RegisterInput) (*services.UserView, error)
	UpdateInterests(ctx context.Context, userID string, keywords []string) (*services.UserView, error)
	Get(ctx context.Context, userID string) (*services.UserView, error)
}

// Administrator is the operator surface.
type Administrator interface {
	Stats(ctx context.Context) (*services.Stats, error)
	ListUsers(ctx context.Context, q string, page, pageSize int) ([]services.UserView, int64, error)
	Export(ctx context.Context) ([]services.UserView, error)
	RemoveUser(ctx context.Context, userID string) error
	RebalanceUser(ctx context.Context, userID string) (prev, next domain.Group, err error)
	ListGroups() []domain.Group
	AddGroup(ctx context.Context, in services.GroupInput) (domain.Group, error)
	BindGroup(ctx context.Context, id string, in services.BindingInput) (domain.Group, int, error)
	RetireGroup(ctx context.Context, id string) (domain.Group, error)
	Backup(ctx context.Context) (backup.Snapshot, error)
	ListBackups() ([]backup.Snapshot, error)
	Broadcast(ctx context.Context, in services.BroadcastInput) (services.BroadcastResult, error)
	Debug(ctx context.Context) (*services.DebugInfo, error)
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	ingest Ingestor
	users  Registrar
	admin  Administrator
}

// New binds handlers to their services.
func New(ingest Ingestor, users Registrar, admin Administrator) *Handlers {
	return &Handlers{ingest: ingest, users: users, admin: admin}
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// failService maps service and core sentinels onto the error envelope.
// Unknown errors are reported as 500 with a generic message.
func failService(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrUserNotFound):
		fail(c, http.StatusNotFound, ErrCodeUserNotFound, "user not found")
	case errors.Is(err, services.ErrUserExists):
		fail(c, http.StatusConflict, ErrCodeUserExists, "user already registered")
	case errors.Is(err, services.ErrInvalidUser):
		fail(c, http.StatusBadRequest, ErrCodeInvalidUser, err.Error())
	case errors.Is(err, search.ErrInvalidInterestSet):
		fail(c, http.StatusBadRequest, ErrCodeInvalidInterests, err.Error())
	case errors.Is(err, services.ErrGroupNotFound):
		fail(c, http.StatusNotFound, ErrCodeGroupNotFound, "group not found")
	case errors.Is(err, services.ErrInvalidGroup):
		fail(c, http.StatusBadRequest, ErrCodeInvalidGroup, err.Error())
	case errors.Is(err, services.ErrBackupsDisabled):
		fail(c, http.StatusServiceUnavailable, ErrCodeBackupsDisabled, "backups are disabled")
	case errors.Is(err, services.ErrInvalidBroadcast):
		fail(c, http.StatusBadRequest, ErrCodeInvalidBroadcast, err.Error())
	case errors.Is(err, services.ErrDeliveryUnavailable):
		fail(c, http.StatusServiceUnavailable, ErrCodeDeliveryUnavailable, "delivery is unavailable")
	case errors.Is(err, groups.ErrInvariantViolation):
		fail(c, http.StatusInternalServerError, ErrCodeInvariantViolation, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		fail(c, http.StatusServiceUnavailable, ErrCodeInternal, "request cancelled")
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}
