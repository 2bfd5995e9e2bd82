// Admin handlers. Every route here sits behind middleware.RequireAdmin.
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/notify-router/internal/backup"
	"github.com/tbourn/notify-router/internal/domain"
	"github.com/tbourn/notify-router/internal/services"
	"github.com/tbourn/notify-router/internal/utils"
)

// ListUsersResponse wraps a page of users.
type ListUsersResponse struct {
	Users      []services.UserView `json:"users"`
	Pagination Pagination          `json:"pagination"`
}

// RebalanceResponse reports a reassignment.
type RebalanceResponse struct {
	Previous domain.Group `json:"previous"`
	Current  domain.Group `json:"current"`
	Moved    bool         `json:"moved"`
}

// ListGroupsResponse lists groups in creation order.
type ListGroupsResponse struct {
	Groups []domain.Group `json:"groups"`
}

// BindingResponse reports a binding and how many members were invited.
type BindingResponse struct {
	Group   domain.Group `json:"group"`
	Invited int          `json:"invited"`
}

// ListBackupsResponse lists snapshots, newest first.
type ListBackupsResponse struct {
	Backups []backup.Snapshot `json:"backups"`
}

// Stats godoc
// @ID          adminStats
// @Summary     Router statistics
// @Description Stored counts, database size and live routing state.
// @Tags        Admin
// @Produce     json
// @Param       X-Admin-ID  header  string  true  "Operator id listed in ADMIN_IDS"
// @Success     200  {object}  services.Stats
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     403  {object}  handlers.ErrorResponse
// @Router      /admin/stats [get]
func (h *Handlers) Stats(c *gin.Context) {
	st, err := h.admin.Stats(c.Request.Context())
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, st)
}

// ListUsers godoc
// @ID          adminListUsers
// @Summary     List or find users
// @Description Newest first. q matches id, name or e-mail (case-insensitive).
// @Tags        Admin
// @Produce     json
// @Param       X-Admin-ID  header  string  true   "Operator id"
// @Param       q           query   string  false  "Search term"
// @Param       page        query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size   query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListUsersResponse
// @Router      /admin/users [get]
func (h *Handlers) ListUsers(c *gin.Context) {
	page, size := utils.ClampPage(c.Query("page"), c.Query("page_size"))
	users, total, err := h.admin.ListUsers(c.Request.Context(), strings.TrimSpace(c.Query("q")), page, size)
	if err != nil {
		failService(c, err)
		return
	}
	if users == nil {
		users = []services.UserView{}
	}
	pages := utils.TotalPages(total, size)
	ok(c, http.StatusOK, ListUsersResponse{
		Users: users,
		Pagination: Pagination{
			Page:       page,
			PageSize:   size,
			Total:      total,
			TotalPages: pages,
			HasNext:    page < pages,
		},
	})
}

// Export godoc
// @ID          adminExport
// @Summary     Export all users
// @Description Full JSON export in registration order; gzip-encoded when the client accepts it.
// @Tags        Admin
// @Produce     json
// @Param       X-Admin-ID  header  string  true  "Operator id"
// @Success     200  {array}  services.UserView
// @Router      /admin/export [get]
func (h *Handlers) Export(c *gin.Context) {
	users, err := h.admin.Export(c.Request.Context())
	if err != nil {
		failService(c, err)
		return
	}
	if users == nil {
		users = []services.UserView{}
	}
	c.Header("Content-Disposition", `attachment; filename="users.json"`)
	ok(c, http.StatusOK, users)
}

// RemoveUser godoc
// @ID          adminRemoveUser
// @Summary     Remove a user
// @Description Soft-deletes the user, drops its keywords from the index and frees its group slot.
// @Tags        Admin
// @Param       X-Admin-ID  header  string  true  "Operator id"
// @Param       id          path    string  true  "User ID"
// @Success     204
// @Failure     404  {object}  handlers.ErrorResponse  "User not found"
// @Router      /admin/users/{id} [delete]
func (h *Handlers) RemoveUser(c *gin.Context) {
	if err := h.admin.RemoveUser(c.Request.Context(), strings.TrimSpace(c.Param("id"))); err != nil {
		failService(c, err)
		return
	}
	noContent(c)
}

// RebalanceUser godoc
// @ID          adminRebalanceUser
// @Summary     Reassign a user
// @Description Moves the user to the first open group with space, creating one if needed.
// @Tags        Admin
// @Produce     json
// @Param       X-Admin-ID  header  string  true  "Operator id"
// @Param       id          path    string  true  "User ID"
// @Success     200  {object}  handlers.RebalanceResponse
// @Failure     404  {object}  handlers.ErrorResponse  "User not found"
// @Router      /admin/users/{id}/rebalance [post]
func (h *Handlers) RebalanceUser(c *gin.Context) {
	prev, next, err := h.admin.RebalanceUser(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, RebalanceResponse{Previous: prev, Current: next, Moved: prev.ID != next.ID})
}

// ListGroups godoc
// @ID          adminListGroups
// @Summary     List groups
// @Tags        Admin
// @Produce     json
// @Param       X-Admin-ID  header  string  true  "Operator id"
// @Success     200  {object}  handlers.ListGroupsResponse
// @Router      /admin/groups [get]
func (h *Handlers) ListGroups(c *gin.Context) {
	gs := h.admin.ListGroups()
	if gs == nil {
		gs = []domain.Group{}
	}
	ok(c, http.StatusOK, ListGroupsResponse{Groups: gs})
}

// AddGroup godoc
// @ID          adminAddGroup
// @Summary     Add a group bound to a chat
// @Description capacity 0 uses the configured default.
// @Tags        Admin
// @Accept      json
// @Produce     json
// @Param       X-Admin-ID  header  string               true  "Operator id"
// @Param       body        body    services.GroupInput  true  "Group"
// @Success     201  {object}  domain.Group
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid group"
// @Router      /admin/groups [post]
func (h *Handlers) AddGroup(c *gin.Context) {
	var in services.GroupInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	g, err := h.admin.AddGroup(c.Request.Context(), in)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusCreated, g)
}

// BindGroup godoc
// @ID          adminBindGroup
// @Summary     Bind a group to a chat
// @Description Sets chat id, invite link and title. A new invite link is sent to current members.
// @Tags        Admin
// @Accept      json
// @Produce     json
// @Param       X-Admin-ID  header  string                 true  "Operator id"
// @Param       id          path    string                 true  "Group ID"
// @Param       body        body    services.BindingInput  true  "Binding"
// @Success     200  {object}  handlers.BindingResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid binding"
// @Failure     404  {object}  handlers.ErrorResponse  "Group not found"
// @Router      /admin/groups/{id}/binding [put]
func (h *Handlers) BindGroup(c *gin.Context) {
	var in services.BindingInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	g, invited, err := h.admin.BindGroup(c.Request.Context(), strings.TrimSpace(c.Param("id")), in)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, BindingResponse{Group: g, Invited: invited})
}

// RetireGroup godoc
// @ID          adminRetireGroup
// @Summary     Retire a group
// @Description Retired groups keep their members but never receive new ones.
// @Tags        Admin
// @Produce     json
// @Param       X-Admin-ID  header  string  true  "Operator id"
// @Param       id          path    string  true  "Group ID"
// @Success     200  {object}  domain.Group
// @Failure     404  {object}  handlers.ErrorResponse  "Group not found"
// @Router      /admin/groups/{id}/retire [post]
func (h *Handlers) RetireGroup(c *gin.Context) {
	g, err := h.admin.RetireGroup(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, g)
}

// CreateBackup godoc
// @ID          adminCreateBackup
// @Summary     Snapshot the database now
// @Tags        Admin
// @Produce     json
// @Param       X-Admin-ID  header  string  true  "Operator id"
// @Success     201  {object}  backup.Snapshot
// @Failure     503  {object}  handlers.ErrorResponse  "Backups disabled"
// @Router      /admin/backups [post]
func (h *Handlers) CreateBackup(c *gin.Context) {
	snap, err := h.admin.Backup(c.Request.Context())
	if err != nil {
		if errors.Is(err, services.ErrBackupsDisabled) {
			failService(c, err)
			return
		}
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeBackupFailed, "backup failed")
		return
	}
	ok(c, http.StatusCreated, snap)
}

// ListBackups godoc
// @ID          adminListBackups
// @Summary     List snapshots
// @Tags        Admin
// @Produce     json
// @Param       X-Admin-ID  header  string  true  "Operator id"
// @Success     200  {object}  handlers.ListBackupsResponse
// @Failure     503  {object}  handlers.ErrorResponse  "Backups disabled"
// @Router      /admin/backups [get]
func (h *Handlers) ListBackups(c *gin.Context) {
	list, err := h.admin.ListBackups()
	if err != nil {
		failService(c, err)
		return
	}
	if list == nil {
		list = []backup.Snapshot{}
	}
	ok(c, http.StatusOK, ListBackupsResponse{Backups: list})
}

// Broadcast godoc
// @ID          adminBroadcast
// @Summary     Announce a message to every active user
// @Description Queues one announcement per group with members. Members of groups without a chat are counted as unbound_users.
// @Tags        Admin
// @Accept      json
// @Produce     json
// @Param       X-Admin-ID  header  string                   true  "Operator id"
// @Param       body        body    services.BroadcastInput  true  "Announcement"
// @Success     202  {object}  services.BroadcastResult
// @Failure     400  {object}  handlers.ErrorResponse  "Empty or oversized text"
// @Failure     503  {object}  handlers.ErrorResponse  "Delivery unavailable"
// @Router      /admin/broadcast [post]
func (h *Handlers) Broadcast(c *gin.Context) {
	var in services.BroadcastInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	res, err := h.admin.Broadcast(c.Request.Context(), in)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusAccepted, res)
}

// Debug godoc
// @ID          adminDebug
// @Summary     Process diagnostics
// @Description PID, uptime, memory, CPU and goroutine counts of the running router.
// @Tags        Admin
// @Produce     json
// @Param       X-Admin-ID  header  string  true  "Operator id"
// @Success     200  {object}  services.DebugInfo
// @Router      /admin/debug [get]
func (h *Handlers) Debug(c *gin.Context) {
	info, err := h.admin.Debug(c.Request.Context())
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, info)
}
