package groups

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/tbourn/notify-router/internal/domain"
)

// seqIDs returns a generator producing G1, G2, ...
func seqIDs() func() string {
	var n int64
	return func() string { return fmt.Sprintf("G%d", atomic.AddInt64(&n, 1)) }
}

func mustAssign(t *testing.T, d *Directory, uid string) domain.Group {
	t.Helper()
	g, _, err := d.Assign(uid)
	if err != nil {
		t.Fatalf("Assign(%s): %v", uid, err)
	}
	return g
}

func TestNew_DefaultCapacity(t *testing.T) {
	if got := New(0).Capacity(); got != DefaultCapacity {
		t.Fatalf("Capacity() = %d; want %d", got, DefaultCapacity)
	}
	if got := New(7).Capacity(); got != 7 {
		t.Fatalf("Capacity() = %d; want 7", got)
	}
}

func TestAssign_FillsInCreationOrder(t *testing.T) {
	d := New(2, WithIDGenerator(seqIDs()))

	a := mustAssign(t, d, "A")
	b := mustAssign(t, d, "B")
	c := mustAssign(t, d, "C")

	if a.ID != "G1" || b.ID != "G1" || c.ID != "G2" {
		t.Fatalf("assignments = %s,%s,%s; want G1,G1,G2", a.ID, b.ID, c.ID)
	}
	if b.Status != domain.GroupFull {
		t.Fatalf("G1 should be full after second member, got %s", b.Status)
	}
	if c.Status != domain.GroupOpen || c.MemberCount != 1 || c.Seq != 2 {
		t.Fatalf("G2 snapshot unexpected: %+v", c)
	}
	if err := d.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestAssign_Idempotent(t *testing.T) {
	d := New(2, WithIDGenerator(seqIDs()))
	g1, created, err := d.Assign("A")
	if err != nil || !created {
		t.Fatalf("first Assign = %v, %v", created, err)
	}
	g2, created, err := d.Assign("A")
	if err != nil || created {
		t.Fatalf("second Assign = %v, %v", created, err)
	}
	if g1.ID != g2.ID || g2.MemberCount != 1 {
		t.Fatalf("re-assign changed state: %+v vs %+v", g1, g2)
	}
}

func TestRelease(t *testing.T) {
	d := New(2, WithIDGenerator(seqIDs()))
	mustAssign(t, d, "A")
	mustAssign(t, d, "B")

	g, ok, err := d.Release("A")
	if err != nil || !ok {
		t.Fatalf("Release = %v, %v", ok, err)
	}
	if g.Status != domain.GroupOpen || g.MemberCount != 1 {
		t.Fatalf("full group should reopen after release: %+v", g)
	}
	if _, ok, err := d.Release("A"); ok || err != nil {
		t.Fatalf("double release must be a no-op, got %v, %v", ok, err)
	}
	if _, ok, err := d.Release("nobody"); ok || err != nil {
		t.Fatalf("release of unassigned user must be a no-op, got %v, %v", ok, err)
	}
	if _, ok := d.Lookup("A"); ok {
		t.Fatalf("released user still has a group")
	}

	// Freed slot is reused before creating a new group.
	if g := mustAssign(t, d, "C"); g.ID != "G1" {
		t.Fatalf("C should reuse G1, got %s", g.ID)
	}
	if err := d.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestReleaseThenAssign_KeepsInvariants(t *testing.T) {
	d := New(3, WithIDGenerator(seqIDs()))
	for i := 0; i < 10; i++ {
		mustAssign(t, d, fmt.Sprintf("u%d", i))
	}
	for _, uid := range []string{"u1", "u4", "u7", "u9"} {
		if _, _, err := d.Release(uid); err != nil {
			t.Fatalf("Release: %v", err)
		}
		g := mustAssign(t, d, uid)
		if g.MemberCount > g.Capacity {
			t.Fatalf("group %s overfilled", g.ID)
		}
		if err := d.Verify(); err != nil {
			t.Fatalf("Verify after %s: %v", uid, err)
		}
	}
	groups, assigned := d.Stats()
	if assigned != 10 || groups != 4 {
		t.Fatalf("Stats = %d groups, %d assigned", groups, assigned)
	}
}

func TestConcurrentAssign_NeverOverfills(t *testing.T) {
	d := New(5)
	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				uid := fmt.Sprintf("w%d-u%d", w, i)
				if _, _, err := d.Assign(uid); err != nil {
					t.Errorf("Assign: %v", err)
					return
				}
				if i%5 == 0 {
					if _, _, err := d.Release(uid); err != nil {
						t.Errorf("Release: %v", err)
						return
					}
				}
			}
		}(w)
	}
	wg.Wait()

	if err := d.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	total := 0
	for _, g := range d.Groups() {
		if g.MemberCount > g.Capacity {
			t.Fatalf("group %s over capacity: %d/%d", g.ID, g.MemberCount, g.Capacity)
		}
		total += g.MemberCount
	}
	if _, assigned := d.Stats(); assigned != total || total != 16*20 {
		t.Fatalf("assigned=%d total=%d; want %d", assigned, total, 16*20)
	}
}

func TestRetire_SkippedForNewAssignments(t *testing.T) {
	d := New(3, WithIDGenerator(seqIDs()))
	mustAssign(t, d, "A")
	if _, err := d.Retire("G1"); err != nil {
		t.Fatalf("Retire: %v", err)
	}
	if g := mustAssign(t, d, "B"); g.ID != "G2" {
		t.Fatalf("retired group reused: %s", g.ID)
	}
	// Existing member keeps its retired group.
	g, ok := d.Lookup("A")
	if !ok || g.ID != "G1" || g.Status != domain.GroupRetired {
		t.Fatalf("Lookup(A) = %+v, %v", g, ok)
	}
	// Release from a retired group keeps it retired.
	g, _, _ = d.Release("A")
	if g.Status != domain.GroupRetired {
		t.Fatalf("release reopened retired group")
	}
	if _, err := d.Retire("missing"); !errors.Is(err, ErrGroupNotFound) {
		t.Fatalf("want ErrGroupNotFound, got %v", err)
	}
}

func TestAddGroupAndBind(t *testing.T) {
	d := New(2, WithIDGenerator(seqIDs()))
	g, err := d.AddGroup("team", "-1001", "Team", 0)
	if err != nil {
		t.Fatalf("AddGroup: %v", err)
	}
	if g.Capacity != 2 || !g.Bound() || g.Seq != 1 || g.Title != "Team" {
		t.Fatalf("AddGroup snapshot: %+v", g)
	}
	if _, err := d.AddGroup("team", "", "", 1); !errors.Is(err, ErrGroupExists) {
		t.Fatalf("want ErrGroupExists, got %v", err)
	}

	if got := mustAssign(t, d, "A"); got.ID != "team" {
		t.Fatalf("admin group should be used first, got %s", got.ID)
	}

	mustAssign(t, d, "B")
	auto := mustAssign(t, d, "C")
	if auto.Bound() {
		t.Fatalf("auto-created group must start unbound")
	}
	bound, err := d.Bind(auto.ID, "-1002", "https://t.me/+abc", "Overflow")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if bound.ChatID != "-1002" || bound.InviteLink != "https://t.me/+abc" || bound.Title != "Overflow" {
		t.Fatalf("Bind snapshot: %+v", bound)
	}
	if _, err := d.Bind("nope", "1", "", ""); !errors.Is(err, ErrGroupNotFound) {
		t.Fatalf("want ErrGroupNotFound, got %v", err)
	}
	if members := d.Members("team"); len(members) != 2 || members[0] != "A" || members[1] != "B" {
		t.Fatalf("Members(team) = %v", members)
	}
}

func TestRebalance(t *testing.T) {
	d := New(2, WithIDGenerator(seqIDs()))
	mustAssign(t, d, "A")
	mustAssign(t, d, "B")
	mustAssign(t, d, "C") // G2
	if _, err := d.Retire("G1"); err != nil {
		t.Fatalf("Retire: %v", err)
	}

	prev, next, err := d.Rebalance("A")
	if err != nil {
		t.Fatalf("Rebalance: %v", err)
	}
	if prev.ID != "G1" || next.ID != "G2" {
		t.Fatalf("Rebalance moved %s -> %s; want G1 -> G2", prev.ID, next.ID)
	}
	if next.Status != domain.GroupFull {
		t.Fatalf("G2 should be full now: %+v", next)
	}
	if err := d.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	// Rebalancing an unassigned user simply assigns it.
	prev, next, err = d.Rebalance("Z")
	if err != nil || prev.ID != "" || next.ID != "G3" {
		t.Fatalf("Rebalance(Z) = %+v, %+v, %v", prev, next, err)
	}
}

func TestRestore(t *testing.T) {
	d := New(2)
	groups := []domain.Group{
		{ID: "G2", Seq: 2, Capacity: 2, MemberCount: 99, Status: domain.GroupOpen},
		{ID: "G1", Seq: 1, Capacity: 2, Status: domain.GroupOpen},
		{ID: "R", Seq: 3, Capacity: 1, Status: domain.GroupRetired},
	}
	assign := map[string]string{"A": "G1", "B": "G1", "C": "G2", "D": "R"}
	if err := d.Restore(groups, assign); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	got := d.Groups()
	if got[0].ID != "G1" || got[0].Status != domain.GroupFull || got[0].MemberCount != 2 {
		t.Fatalf("G1 restored as %+v", got[0])
	}
	if got[1].ID != "G2" || got[1].MemberCount != 1 || got[1].Status != domain.GroupOpen {
		t.Fatalf("G2 restored as %+v", got[1])
	}
	if got[2].Status != domain.GroupRetired {
		t.Fatalf("retired status lost: %+v", got[2])
	}
	if err := d.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	// New groups continue after the highest stored sequence.
	mustAssign(t, d, "E") // G2 -> full
	if g := mustAssign(t, d, "F"); g.Seq != 4 {
		t.Fatalf("new group seq = %d; want 4", g.Seq)
	}
}

func TestRestore_RejectsCorruptState(t *testing.T) {
	d := New(2)
	groups := []domain.Group{{ID: "G1", Seq: 1, Capacity: 1}}

	err := d.Restore(groups, map[string]string{"A": "G1", "B": "G1"})
	if !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("overflow: want ErrInvariantViolation, got %v", err)
	}
	err = d.Restore(groups, map[string]string{"A": "ghost"})
	if !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("dangling: want ErrInvariantViolation, got %v", err)
	}
	if g, _ := d.Stats(); g != 0 {
		t.Fatalf("failed restore must leave directory unchanged, got %d groups", g)
	}
}

func TestGroup_NotFound(t *testing.T) {
	d := New(2)
	if _, err := d.Group("x"); !errors.Is(err, ErrGroupNotFound) {
		t.Fatalf("want ErrGroupNotFound, got %v", err)
	}
}

func TestWithOnCreate(t *testing.T) {
	var created []string
	d := New(1, WithIDGenerator(seqIDs()), WithOnCreate(func(g domain.Group) {
		created = append(created, g.ID)
	}))
	mustAssign(t, d, "A")
	mustAssign(t, d, "A")
	mustAssign(t, d, "B")
	if _, err := d.AddGroup("manual", "-100", "", 0); err != nil {
		t.Fatalf("AddGroup: %v", err)
	}
	if len(created) != 3 || created[0] != "G1" || created[1] != "G2" || created[2] != "manual" {
		t.Fatalf("created = %v", created)
	}
}
