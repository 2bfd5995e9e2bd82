package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestIdempotencyHelpers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	if k, ok := GetIdempotencyKey(c); k != "" || ok {
		t.Fatalf("key should be absent")
	}
	if IsReplay(c) || IsRateBypass(c) {
		t.Fatalf("flags should default to false")
	}
	c.Set(ctxKeyIdemKey, 123)
	if _, ok := GetIdempotencyKey(c); ok {
		t.Fatalf("non-string key must be ignored")
	}
	c.Set(ctxKeyIdemReplay, "yes")
	if IsReplay(c) {
		t.Fatalf("non-bool replay flag must be ignored")
	}
}

func TestIdempotencyValidator(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var looked []string
	lookup := func(_ context.Context, key string, now time.Time) (bool, error) {
		looked = append(looked, key)
		if now.IsZero() {
			t.Errorf("lookup got zero time")
		}
		switch key {
		case "tweet-1":
			return true, nil
		case "broken":
			return true, errors.New("db down")
		}
		return false, nil
	}

	type seen struct {
		key    string
		replay bool
		bypass bool
	}
	var got seen
	r := gin.New()
	r.Use(IdempotencyValidator(IdempotencyOptions{MaxLen: 32}, lookup))
	r.POST("/webhook", func(c *gin.Context) {
		k, _ := GetIdempotencyKey(c)
		got = seen{k, IsReplay(c), IsRateBypass(c)}
		c.Status(http.StatusOK)
	})

	tests := []struct {
		name   string
		header string
		code   int
		want   seen
	}{
		{"no header", "", http.StatusOK, seen{}},
		{"fresh key", "tweet-2", http.StatusOK, seen{key: "tweet-2"}},
		{"routed key", "tweet-1", http.StatusOK, seen{"tweet-1", true, true}},
		{"url-like key", "https://x.com/p/1", http.StatusOK, seen{key: "https://x.com/p/1"}},
		{"bad chars", "a b", http.StatusBadRequest, seen{}},
		{"too long", strings.Repeat("k", 33), http.StatusBadRequest, seen{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got = seen{}
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
			if tt.header != "" {
				req.Header.Set(HeaderIdempotencyKey, tt.header)
			}
			r.ServeHTTP(w, req)
			if w.Code != tt.code {
				t.Fatalf("code = %d; want %d", w.Code, tt.code)
			}
			if tt.code == http.StatusBadRequest && !strings.Contains(w.Body.String(), "bad_idempotency_key") {
				t.Fatalf("body = %s", w.Body.String())
			}
			if got != tt.want {
				t.Fatalf("handler saw %+v; want %+v", got, tt.want)
			}
		})
	}
	if len(looked) != 3 {
		t.Fatalf("lookup calls = %v", looked)
	}
}

func TestIdempotencyValidator_NilLookup(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(IdempotencyValidator(IdempotencyOptions{}, nil))
	r.POST("/webhook", func(c *gin.Context) {
		if IsReplay(c) {
			t.Errorf("replay without lookup")
		}
		c.Status(http.StatusAccepted)
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	req.Header.Set(HeaderIdempotencyKey, "abc")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("code = %d", w.Code)
	}
}
