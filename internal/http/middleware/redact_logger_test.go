package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func withCapturedLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf)
	return &buf
}

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &m); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	return m
}

func TestRedact(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", ""},
		{"q=rockets", "q=rockets"},
		{"token=123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw1", "token=[REDACTED:token]"},
		{"mail=grace@navy.mil", "mail=[REDACTED:email]"},
		{"id=123e4567-e89b-12d3-a456-426614174000", "id=[REDACTED:id]"},
		{"call 212-555-1212", "call [REDACTED:phone]"},
	}
	for _, tt := range tests {
		if got := redact(tt.in); got != tt.want {
			t.Errorf("redact(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}

func TestRedactingLogger_LevelsAndMasking(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := withCapturedLogger(t)

	r := gin.New()
	r.Use(RequestID(), RedactingLogger(RedactOptions{MaskHeaders: []string{"X-Api-Key"}}))
	r.GET("/users/:id", func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("inside")
		c.Status(http.StatusOK)
	})
	r.GET("/bad", func(c *gin.Context) { c.Status(http.StatusBadRequest) })
	r.GET("/err", func(c *gin.Context) {
		_ = c.Error(http.ErrAbortHandler)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/users/7?email=grace@navy.mil", nil)
	req.Header.Set("X-Request-ID", "rid-1")
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set(HeaderAdminID, "42")
	req.Header.Set("X-Api-Key", "k")
	r.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	if strings.Contains(out, "grace@navy.mil") || strings.Contains(out, "Bearer secret") {
		t.Fatalf("PII leaked: %s", out)
	}
	m := lastLine(t, buf)
	if m["level"] != "info" || m["path"] != "/users/:id" || m["request_id"] != "rid-1" {
		t.Fatalf("access line = %v", m)
	}
	headers, _ := m["headers"].(map[string]any)
	for _, h := range []string{"Authorization", http.CanonicalHeaderKey(HeaderAdminID), "X-Api-Key"} {
		if headers[h] != "[REDACTED]" {
			t.Fatalf("header %s = %v", h, headers[h])
		}
	}
	if !strings.Contains(out, `"message":"inside"`) || !strings.Contains(out, `"request_id":"rid-1","method":"GET"`) {
		t.Fatalf("request-scoped logger not attached: %s", out)
	}

	buf.Reset()
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/bad", nil))
	if m := lastLine(t, buf); m["level"] != "warn" {
		t.Fatalf("4xx level = %v", m["level"])
	}
	buf.Reset()
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/err", nil))
	if m := lastLine(t, buf); m["level"] != "error" || m["errors"] == nil {
		t.Fatalf("gin error line = %v", m)
	}
}
