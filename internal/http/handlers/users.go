// Registration handlers.
//
//   - POST /users                  (register)
//   - PUT  /users/{id}/interests   (replace keywords)
//   - GET  /users/{id}             (status, group and invite link)
//
// These routes carry no authentication. They are meant to sit behind a
// trusted frontend (the chat bot or a signup form) that has already
// established who the user is and passes that id through unchanged.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/notify-router/internal/services"
)

// InterestsRequest replaces a user's keyword set.
type InterestsRequest struct {
	Keywords []string `json:"keywords" binding:"required" example:"ai,machine learning"`
}

// RegisterUser godoc
// @ID          registerUser
// @Summary     Register a user
// @Description Registers a user with a keyword set and assigns a delivery group.
// @Description When the group has an invite link it is sent to the user.
// @Description Unauthenticated: user_id is taken as given, so only trusted frontends should reach this route.
// @Tags        Users
// @Accept      json
// @Produce     json
//
// @Param       body  body  services.RegisterInput  true  "Registration payload"
//
// @Success     201  {object}  services.UserView
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid user data or keywords"
// @Failure     409  {object}  handlers.ErrorResponse  "Already registered"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /users [post]
func (h *Handlers) RegisterUser(c *gin.Context) {
	var in services.RegisterInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	v, err := h.users.Register(c.Request.Context(), in)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusCreated, v)
}

// UpdateInterests godoc
// @ID          updateInterests
// @Summary     Replace a user's keywords
// @Description Unauthenticated: any caller can change the interests of the id in the path, so only trusted frontends should reach this route.
// @Tags        Users
// @Accept      json
// @Produce     json
//
// @Param       id    path  string                     true  "User ID"
// @Param       body  body  handlers.InterestsRequest  true  "New keyword set"
//
// @Success     200  {object}  services.UserView
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid keywords"
// @Failure     404  {object}  handlers.ErrorResponse  "User not found"
// @Router      /users/{id}/interests [put]
func (h *Handlers) UpdateInterests(c *gin.Context) {
	var req InterestsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	v, err := h.users.UpdateInterests(c.Request.Context(), strings.TrimSpace(c.Param("id")), req.Keywords)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, v)
}

// GetUser godoc
// @ID          getUser
// @Summary     Show a user
// @Description Returns the user's status, keywords and current group (with invite link when bound).
// @Tags        Users
// @Produce     json
//
// @Param       id  path  string  true  "User ID"
//
// @Success     200  {object}  services.UserView
// @Failure     404  {object}  handlers.ErrorResponse  "User not found"
// @Router      /users/{id} [get]
func (h *Handlers) GetUser(c *gin.Context) {
	v, err := h.users.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, v)
}
