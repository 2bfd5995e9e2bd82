package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestSecurityHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name      string
		opt       SecurityOptions
		expose    string // pre-existing Access-Control-Expose-Headers
		https     string // "", "tls" or "proxy"
		want      map[string]string
		wantEmpty []string
	}{
		{
			name: "baseline",
			opt:  SecurityOptions{},
			want: map[string]string{
				"X-Content-Type-Options":        "nosniff",
				"X-Frame-Options":               "DENY",
				"Referrer-Policy":               "no-referrer",
				"Access-Control-Expose-Headers": "X-Request-ID",
			},
			wantEmpty: []string{"Permissions-Policy", "Cache-Control", "Strict-Transport-Security"},
		},
		{
			name:   "appends to exposed headers",
			opt:    SecurityOptions{},
			expose: "Content-Length",
			want:   map[string]string{"Access-Control-Expose-Headers": "Content-Length, X-Request-ID"},
		},
		{
			name:   "no duplicate exposure",
			opt:    SecurityOptions{},
			expose: "X-Request-ID, Content-Length",
			want:   map[string]string{"Access-Control-Expose-Headers": "X-Request-ID, Content-Length"},
		},
		{
			name:  "admin posture over tls",
			opt:   SecurityOptions{EnableHSTS: true, HSTSMaxAge: 24 * time.Hour, NoStore: true, EnablePolicy: true},
			https: "tls",
			want: map[string]string{
				"Cache-Control":                     "no-store",
				"Pragma":                            "no-cache",
				"Expires":                           "0",
				"X-Permitted-Cross-Domain-Policies": "none",
				"Strict-Transport-Security":         "max-age=86400; includeSubDomains; preload",
			},
		},
		{
			name:  "hsts default age behind proxy",
			opt:   SecurityOptions{EnableHSTS: true},
			https: "proxy",
			want:  map[string]string{"Strict-Transport-Security": "max-age=15552000; includeSubDomains; preload"},
		},
		{
			name:      "no hsts on plain http",
			opt:       SecurityOptions{EnableHSTS: true},
			wantEmpty: []string{"Strict-Transport-Security"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(func(c *gin.Context) {
				c.Header("X-Request-ID", "rid")
				if tt.expose != "" {
					c.Header("Access-Control-Expose-Headers", tt.expose)
				}
				c.Next()
			})
			r.Use(SecurityHeaders(tt.opt))
			r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(http.MethodGet, "/ok", nil)
			switch tt.https {
			case "tls":
				req.TLS = &tls.ConnectionState{}
			case "proxy":
				req.Header.Set("X-Forwarded-Proto", "https")
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			for k, v := range tt.want {
				if got := w.Header().Get(k); got != v {
					t.Errorf("%s = %q; want %q", k, got, v)
				}
			}
			for _, k := range tt.wantEmpty {
				if got := w.Header().Get(k); got != "" {
					t.Errorf("%s should be unset, got %q", k, got)
				}
			}
		})
	}
}
