package services

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/notify-router/internal/domain"
	"github.com/tbourn/notify-router/internal/groups"
	"github.com/tbourn/notify-router/internal/repo"
	"github.com/tbourn/notify-router/internal/routing"
	"github.com/tbourn/notify-router/internal/search"
)

// ---------- test helpers ----------

func newSvcDB(t *testing.T) (*gorm.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "svc.db")
	db, err := repo.OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db, path
}

// stepClock advances one second per call.
func stepClock() func() time.Time {
	var mu sync.Mutex
	cur := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(time.Second)
		return cur
	}
}

func seqGroupIDs() func() string {
	var n int64
	return func() string { return fmt.Sprintf("G%d", atomic.AddInt64(&n, 1)) }
}

type recordingInviter struct {
	mu   sync.Mutex
	sent map[string]string // user → invite link
}

func (r *recordingInviter) SendInvite(_ context.Context, userID string, g domain.Group) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sent == nil {
		r.sent = map[string]string{}
	}
	r.sent[userID] = g.InviteLink
	return nil
}

type recordingQueue struct {
	mu      sync.Mutex
	intents []domain.DeliveryIntent
	reject  bool
}

func (q *recordingQueue) Enqueue(it domain.DeliveryIntent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.reject {
		return false
	}
	q.intents = append(q.intents, it)
	return true
}

func (q *recordingQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.intents)
}

type env struct {
	db      *gorm.DB
	path    string
	index   *search.Index
	dir     *groups.Directory
	ledger  *routing.Ledger
	users   *RegistrationService
	routing *RoutingService
	admin   *AdminService
	queue   *recordingQueue
	inviter *recordingInviter
}

func newEnv(t *testing.T, capacity int) *env {
	t.Helper()
	db, path := newSvcDB(t)
	clk := stepClock()
	idx := search.NewIndex(search.WithClock(clk))
	dir := groups.New(capacity, groups.WithIDGenerator(seqGroupIDs()), groups.WithClock(clk))
	ledger := routing.NewLedger(time.Hour)
	q := &recordingQueue{}
	inv := &recordingInviter{}

	users := NewRegistrationService(db, idx, dir, inv)
	users.Now = clk
	co := routing.NewCoordinator(ledger, routing.NewMatchEngine(idx), dir)
	rs := NewRoutingService(db, routing.NewGateway(1000), co, dir, q)
	admin := NewAdminService(db, path, users, ledger, nil, inv, q)
	admin.NewGroupID = func() string { return fmt.Sprintf("admin-%d", time.Now().UnixNano()) }

	return &env{
		db: db, path: path, index: idx, dir: dir, ledger: ledger,
		users: users, routing: rs, admin: admin, queue: q, inviter: inv,
	}
}

func (e *env) register(t *testing.T, uid string, kws ...string) *UserView {
	t.Helper()
	v, err := e.users.Register(context.Background(), RegisterInput{UserID: uid, Name: "User " + uid, Keywords: kws})
	if err != nil {
		t.Fatalf("Register(%s): %v", uid, err)
	}
	return v
}

func storedGroup(t *testing.T, db *gorm.DB, id string) *domain.Group {
	t.Helper()
	g, err := repo.GetGroup(context.Background(), db, id)
	if err != nil {
		t.Fatalf("GetGroup(%s): %v", id, err)
	}
	return g
}
