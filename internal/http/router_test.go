package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/notify-router/internal/config"
	"github.com/tbourn/notify-router/internal/domain"
	"github.com/tbourn/notify-router/internal/groups"
	"github.com/tbourn/notify-router/internal/http/handlers"
	"github.com/tbourn/notify-router/internal/http/middleware"
	"github.com/tbourn/notify-router/internal/repo"
	"github.com/tbourn/notify-router/internal/routing"
	"github.com/tbourn/notify-router/internal/search"
	"github.com/tbourn/notify-router/internal/services"
)

type queue struct {
	mu      sync.Mutex
	intents []domain.DeliveryIntent
}

func (q *queue) Enqueue(it domain.DeliveryIntent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.intents = append(q.intents, it)
	return true
}

func (q *queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.intents)
}

func newTestDB(t *testing.T) (*gorm.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "router.db")
	db, err := repo.OpenSQLite(path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db, path
}

func baseConfig() config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		AdminIDs:    []string{"42"},
		RateRPS:     100,
		RateBurst:   100,
		OTEL:        config.OTELConfig{ServiceName: "test-svc"},
		Routing: config.RoutingConfig{
			WebhookPath:     "/webhook",
			GroupCapacity:   50,
			MaxContentRunes: 4096,
			DedupRetention:  time.Hour,
			MaxBodyBytes:    64 << 10,
		},
	}
}

// newServer wires real services over a temp SQLite database.
func newServer(t *testing.T, cfg config.Config) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, path := newTestDB(t)

	idx := search.NewIndex()
	dir := groups.New(cfg.Routing.GroupCapacity)
	ledger := routing.NewLedger(cfg.Routing.DedupRetention)
	q := &queue{}

	users := services.NewRegistrationService(db, idx, dir, nil)
	co := routing.NewCoordinator(ledger, routing.NewMatchEngine(idx), dir)
	ingest := services.NewRoutingService(db, routing.NewGateway(cfg.Routing.MaxContentRunes), co, dir, q)
	admin := services.NewAdminService(db, path, users, ledger, nil, nil, q)

	r := gin.New()
	RegisterRoutes(r, db, handlers.New(ingest, users, admin), cfg)
	return r
}

func send(r http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var e handlers.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return e.Code
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	r := newServer(t, baseConfig())

	w := send(r, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Fatalf("/health = %d %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("ACAO = %q, want *", got)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID")
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("nosniff header = %q", got)
	}

	w = send(r, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "http_requests_inflight") {
		t.Fatalf("/metrics = %d", w.Code)
	}

	w = send(r, http.MethodGet, "/nope", "", nil)
	if w.Code != http.StatusNotFound || errCode(t, w) != handlers.ErrCodeNotFound {
		t.Fatalf("NoRoute = %d %s", w.Code, w.Body.String())
	}

	w = send(r, http.MethodDelete, "/health", "", nil)
	if w.Code != http.StatusMethodNotAllowed || errCode(t, w) != handlers.ErrCodeMethodNotAllowed {
		t.Fatalf("NoMethod = %d %s", w.Code, w.Body.String())
	}

	// Swagger stays unmounted unless enabled.
	if w := send(r, http.MethodGet, "/swagger/doc.json", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("swagger disabled = %d", w.Code)
	}
}

func TestRegisterRoutes_CORSAllowlist(t *testing.T) {
	cfg := baseConfig()
	cfg.CORS.AllowedOrigins = []string{"https://ops.example"}
	r := newServer(t, cfg)

	w := send(r, http.MethodGet, "/health", "", map[string]string{"Origin": "https://ops.example"})
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://ops.example" {
		t.Fatalf("ACAO = %q", got)
	}

	w = send(r, http.MethodGet, "/health", "", map[string]string{"Origin": "https://evil.example"})
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("foreign origin echoed: %q", got)
	}
}

func TestRegisterRoutes_Swagger(t *testing.T) {
	cfg := baseConfig()
	cfg.SwaggerEnabled = true
	r := newServer(t, cfg)

	w := send(r, http.MethodGet, "/swagger/doc.json", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("doc.json = %d", w.Code)
	}
	var doc map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatalf("doc.json is not JSON: %v", err)
	}
	if doc["basePath"] != "/api/v1" {
		t.Fatalf("basePath = %v", doc["basePath"])
	}

	paths, _ := doc["paths"].(map[string]any)
	for _, p := range []string{"/admin/broadcast", "/admin/debug"} {
		if _, ok := paths[p]; !ok {
			t.Fatalf("%s not documented", p)
		}
	}
	// Registration routes are open; their docs say who may call them.
	for path, method := range map[string]string{"/users": "post", "/users/{id}/interests": "put"} {
		item, _ := paths[path].(map[string]any)
		op, _ := item[method].(map[string]any)
		if desc, _ := op["description"].(string); !strings.Contains(desc, "Unauthenticated") {
			t.Fatalf("%s %s description = %q", method, path, desc)
		}
	}
}

func TestRegisterRoutes_RegisterAndRoute(t *testing.T) {
	r := newServer(t, baseConfig())

	for _, body := range []string{
		`{"user_id":"100","name":"Ada","keywords":["rockets"]}`,
		`{"user_id":"200","name":"Bob","keywords":["mars"]}`,
	} {
		if w := send(r, http.MethodPost, "/api/v1/users", body, nil); w.Code != http.StatusCreated {
			t.Fatalf("register = %d %s", w.Code, w.Body.String())
		}
	}

	w := send(r, http.MethodGet, "/api/v1/users/100", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"rockets"`) {
		t.Fatalf("get user = %d %s", w.Code, w.Body.String())
	}

	w = send(r, http.MethodPost, "/webhook",
		`{"text":"Rockets to Mars","link":"https://x.example/1"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("webhook = %d %s", w.Code, w.Body.String())
	}
	var res handlers.WebhookResponse
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.MatchingUsers != 2 || res.UniqueGroups != 1 {
		t.Fatalf("routed = %+v", res)
	}

	// Same link again inside retention.
	w = send(r, http.MethodPost, "/webhook",
		`{"text":"Rockets to Mars","link":"https://x.example/1"}`, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"duplicate":true`) {
		t.Fatalf("duplicate = %d %s", w.Code, w.Body.String())
	}
}

func TestRegisterRoutes_ReplayBypassesRateLimit(t *testing.T) {
	cfg := baseConfig()
	cfg.RateRPS = 0.001
	cfg.RateBurst = 1
	r := newServer(t, cfg)

	key := map[string]string{middleware.HeaderIdempotencyKey: "tweet-1"}
	body := `{"text":"hello","link":"https://x.example/2"}`

	if w := send(r, http.MethodPost, "/webhook", body, key); w.Code != http.StatusOK {
		t.Fatalf("first = %d %s", w.Code, w.Body.String())
	}
	// Bucket is empty now; the replay still reaches the handler.
	w := send(r, http.MethodPost, "/webhook", body, key)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"duplicate":true`) {
		t.Fatalf("replay = %d %s", w.Code, w.Body.String())
	}
	w = send(r, http.MethodPost, "/webhook", `{"text":"other","link":"https://x.example/3"}`, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("fresh request = %d, want 429", w.Code)
	}

	w = send(r, http.MethodPost, "/webhook", body, map[string]string{middleware.HeaderIdempotencyKey: "bad key!"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid key = %d", w.Code)
	}
}

func TestRegisterRoutes_BodyLimit(t *testing.T) {
	cfg := baseConfig()
	cfg.Routing.MaxBodyBytes = 64
	r := newServer(t, cfg)

	body := `{"text":"` + strings.Repeat("a", 200) + `","link":"https://x.example"}`
	w := send(r, http.MethodPost, "/webhook", body, nil)
	if w.Code != http.StatusRequestEntityTooLarge || errCode(t, w) != handlers.ErrCodePayloadTooLarge {
		t.Fatalf("oversized = %d %s", w.Code, w.Body.String())
	}
}

func TestRegisterRoutes_AdminGate(t *testing.T) {
	r := newServer(t, baseConfig())

	w := send(r, http.MethodGet, "/api/v1/admin/stats", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no header = %d", w.Code)
	}
	w = send(r, http.MethodGet, "/api/v1/admin/stats", "", map[string]string{middleware.HeaderAdminID: "7"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("non-admin = %d", w.Code)
	}

	admin := map[string]string{middleware.HeaderAdminID: "42"}
	w = send(r, http.MethodGet, "/api/v1/admin/stats", "", admin)
	if w.Code != http.StatusOK {
		t.Fatalf("admin stats = %d %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("Cache-Control = %q", got)
	}

	// Backups are not configured in this server.
	w = send(r, http.MethodPost, "/api/v1/admin/backups", "", admin)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("backup disabled = %d %s", w.Code, w.Body.String())
	}
}

func TestRegisterRoutes_BroadcastAndDebug(t *testing.T) {
	r := newServer(t, baseConfig())
	admin := map[string]string{middleware.HeaderAdminID: "42"}

	w := send(r, http.MethodPost, "/api/v1/users", `{"user_id":"100","keywords":["ai"]}`, nil)
	var u services.UserView
	if err := json.Unmarshal(w.Body.Bytes(), &u); err != nil || u.Group == nil {
		t.Fatalf("register = %d %s", w.Code, w.Body.String())
	}
	w = send(r, http.MethodPut, "/api/v1/admin/groups/"+u.Group.ID+"/binding", `{"chat_id":"-100"}`, admin)
	if w.Code != http.StatusOK {
		t.Fatalf("bind = %d %s", w.Code, w.Body.String())
	}

	if w = send(r, http.MethodPost, "/api/v1/admin/broadcast", `{"text":"hello"}`, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("broadcast without admin = %d", w.Code)
	}
	w = send(r, http.MethodPost, "/api/v1/admin/broadcast", `{"text":"hello"}`, admin)
	var res services.BroadcastResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil || w.Code != http.StatusAccepted {
		t.Fatalf("broadcast = %d %s", w.Code, w.Body.String())
	}
	if res.Groups != 1 || res.Users != 1 {
		t.Fatalf("broadcast result = %+v", res)
	}

	w = send(r, http.MethodGet, "/api/v1/admin/debug", "", admin)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"pid":`) || !strings.Contains(w.Body.String(), `"pending_deliveries":1`) {
		t.Fatalf("debug = %d %s", w.Code, w.Body.String())
	}
}

func TestRegisterRoutes_ExportGzip(t *testing.T) {
	r := newServer(t, baseConfig())
	if w := send(r, http.MethodPost, "/api/v1/users", `{"user_id":"100","keywords":["ai"]}`, nil); w.Code != http.StatusCreated {
		t.Fatalf("register = %d", w.Code)
	}

	w := send(r, http.MethodGet, "/api/v1/admin/export", "", map[string]string{
		middleware.HeaderAdminID: "42",
		"Accept-Encoding":        "gzip",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("export = %d", w.Code)
	}
	if got := w.Header().Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("Content-Encoding = %q", got)
	}
}

func TestLimitBody_Disabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBody(0))
	r.POST("/x", func(c *gin.Context) {
		b, err := c.GetRawData()
		if err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.String(http.StatusOK, "%d", len(b))
	})
	w := send(r, http.MethodPost, "/x", strings.Repeat("z", 1000), nil)
	if w.Code != http.StatusOK || w.Body.String() != "1000" {
		t.Fatalf("got %d %q", w.Code, w.Body.String())
	}
}

func TestGroupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	for _, p := range []string{"", "/"} {
		r := gin.New()
		groupWithPrefix(r, p).GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })
		if w := send(r, http.MethodGet, "/ping", "", nil); w.Code != http.StatusNoContent {
			t.Fatalf("prefix %q: %d", p, w.Code)
		}
	}
}
