package services

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/tbourn/notify-router/internal/domain"
	"github.com/tbourn/notify-router/internal/groups"
	"github.com/tbourn/notify-router/internal/repo"
	"github.com/tbourn/notify-router/internal/routing"
	"github.com/tbourn/notify-router/internal/search"
)

func TestBootstrap_RestoresState(t *testing.T) {
	e := newEnv(t, 2)
	ctx := context.Background()
	e.register(t, "A", "rockets")
	e.register(t, "B", "rockets")
	e.register(t, "C", "rockets", "mars")
	e.register(t, "D", "gardening")
	if err := e.users.Remove(ctx, "D"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	res, err := e.routing.Ingest(ctx, routing.RawPayload{Text: "rockets", Link: "https://x.com/p/1"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	// Active user stored without a group (e.g. crash between writes).
	late := &domain.User{ID: "E", Status: domain.UserActive, RegisteredAt: time.Now().UTC()}
	if err := repo.SaveUser(ctx, e.db, late, []string{"mars"}); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}

	idx := search.NewIndex()
	dir := groups.New(2)
	ledger := routing.NewLedger(time.Hour)
	rep, err := Bootstrap(ctx, e.db, idx, dir, ledger, time.Now().UTC())
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if rep.Users != 4 || rep.Groups != 2 || rep.AssignedLater != 1 || rep.DedupKeys != 1 {
		t.Fatalf("report = %+v", rep)
	}

	if got := idx.Match("Rockets to Mars"); !reflect.DeepEqual(got, []string{"A", "B", "C", "E"}) {
		t.Fatalf("Match = %v", got)
	}
	if g, ok := dir.Lookup("C"); !ok || g.ID != "G2" {
		t.Fatalf("Lookup(C) = %+v, %v", g, ok)
	}
	if g, ok := dir.Lookup("E"); !ok || g.ID != "G2" || g.Status != domain.GroupFull {
		t.Fatalf("E should fill G2: %+v, %v", g, ok)
	}
	if _, ok := dir.Lookup("D"); ok {
		t.Fatalf("removed user restored into directory")
	}
	if err := ledger.Reserve(res.Notification.Key); !errors.Is(err, routing.ErrDuplicateNotification) {
		t.Fatalf("replay after restart: %v", err)
	}
	if u, _ := repo.GetUser(ctx, e.db, "E"); u.GroupID == nil || *u.GroupID != "G2" {
		t.Fatalf("late assignment not stored")
	}
	if g := storedGroup(t, e.db, "G2"); g.MemberCount != 2 {
		t.Fatalf("recomputed count not stored: %+v", g)
	}
}

func TestBootstrap_RejectsInconsistentStorage(t *testing.T) {
	e := newEnv(t, 2)
	ctx := context.Background()
	e.register(t, "A", "go")
	gid := "missing"
	if err := repo.SetUserGroup(ctx, e.db, "A", &gid); err != nil {
		t.Fatalf("SetUserGroup: %v", err)
	}
	_, err := Bootstrap(ctx, e.db, search.NewIndex(), groups.New(2), routing.NewLedger(time.Hour), time.Now().UTC())
	if !errors.Is(err, groups.ErrInvariantViolation) {
		t.Fatalf("want ErrInvariantViolation, got %v", err)
	}
}
