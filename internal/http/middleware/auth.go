package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderAdminID carries the caller's operator id on admin routes.
const HeaderAdminID = "X-Admin-ID"

const ctxKeyAdminID = "adminID"

// RequireAdmin rejects requests whose X-Admin-ID is missing (401) or not
// accepted by isAdmin (403). Accepted ids are stored for logging and rate
// limiting.
func RequireAdmin(isAdmin func(string) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderAdminID))
		if id == "" {
			abortAuth(c, http.StatusUnauthorized, "unauthorized", "missing "+HeaderAdminID)
			return
		}
		if isAdmin == nil || !isAdmin(id) {
			abortAuth(c, http.StatusForbidden, "forbidden", "admin access required")
			return
		}
		c.Set(ctxKeyAdminID, id)
		lg := LoggerFrom(c).With().Str("admin_id", id).Logger()
		c.Set(loggerKey, &lg)
		c.Next()
	}
}

// AdminID returns the id accepted by RequireAdmin.
func AdminID(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyAdminID)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

func abortAuth(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       code,
		"message":    msg,
	})
}
