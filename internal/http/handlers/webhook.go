// Webhook ingestion handler.
//
// The upstream monitor posts one notification per request, either as a form
// (text, link, id) or as JSON. Duplicates are acknowledged with 200 so the
// monitor does not retry them.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/notify-router/internal/http/middleware"
	"github.com/tbourn/notify-router/internal/routing"
	"github.com/tbourn/notify-router/internal/sysutil"
)

// WebhookResponse reports how a notification was routed.
type WebhookResponse struct {
	Message       string `json:"message" example:"notification routed"`
	Key           string `json:"key" example:"9f2c6d0e1a…"`
	MatchingUsers int    `json:"matching_users" example:"3"`
	UniqueGroups  int    `json:"unique_groups" example:"2"`
	Queued        int    `json:"queued" example:"2"`
}

// DuplicateResponse acknowledges a notification that was already routed.
type DuplicateResponse struct {
	Message   string `json:"message" example:"notification already processed"`
	Key       string `json:"key,omitempty"`
	Duplicate bool   `json:"duplicate" example:"true"`
}

// Webhook godoc
// @ID          ingestNotification
// @Summary     Ingest a notification
// @Description Routes a monitored post to every group holding a user whose keywords occur in the text.
// @Description The Idempotency-Key header, when present, replaces the payload id as the dedup source.
// @Description Duplicates answer 200 with {"message":"notification already processed","duplicate":true}.
// @Tags        Ingestion
// @Accept      json
// @Accept      x-www-form-urlencoded
// @Produce     json
//
// @Param       Idempotency-Key  header  string              false "Source id of the post"  example(tweet-1789)
// @Param       body             body    routing.RawPayload  true  "Notification payload"
//
// @Success     200  {object}  handlers.WebhookResponse  "Routed"
// @Failure     400  {object}  handlers.ErrorResponse    "Malformed payload"
// @Failure     413  {object}  handlers.ErrorResponse    "Payload too large"
// @Failure     429  {object}  handlers.ErrorResponse    "Rate limited"
// @Router      /webhook [post]
func (h *Handlers) Webhook(c *gin.Context) {
	var raw routing.RawPayload
	if err := c.ShouldBind(&raw); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "request body too large")
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeMalformedPayload, "invalid payload encoding")
		return
	}
	if key, ok := middleware.GetIdempotencyKey(c); ok {
		raw.ID = sysutil.FirstNonEmpty(key, raw.ID)
	}

	res, err := h.ingest.Ingest(c.Request.Context(), raw)
	switch {
	case err == nil:
		ok(c, http.StatusOK, WebhookResponse{
			Message:       "notification routed",
			Key:           res.Notification.Key,
			MatchingUsers: res.Matched,
			UniqueGroups:  res.Groups,
			Queued:        res.Queued,
		})
	case errors.Is(err, routing.ErrDuplicateNotification):
		ok(c, http.StatusOK, DuplicateResponse{
			Message:   "notification already processed",
			Key:       res.Notification.Key,
			Duplicate: true,
		})
	case errors.Is(err, routing.ErrMalformedPayload):
		fail(c, http.StatusBadRequest, ErrCodeMalformedPayload, err.Error())
	case errors.Is(err, routing.ErrPayloadTooLarge):
		fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, err.Error())
	default:
		failService(c, err)
	}
}
