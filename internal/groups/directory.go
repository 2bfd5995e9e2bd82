// Package groups implements the group directory: bounded-capacity delivery
// groups, the user → group assignment table, and the assignment policy.
//
// All state lives in memory behind a single mutex so that the capacity
// check and the member-count increment happen atomically. Persistence is the
// caller's job; the directory hands out value snapshots (domain.Group) that
// can be written to storage after the decision is made.
package groups

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tbourn/notify-router/internal/domain"
)

var (
	// ErrInvariantViolation reports internal state corruption (capacity
	// overflow, dangling references, count mismatches). It is never
	// corrected silently.
	ErrInvariantViolation = errors.New("group directory invariant violated")
	// ErrGroupNotFound is returned when a group handle is unknown.
	ErrGroupNotFound = errors.New("group not found")
	// ErrGroupExists is returned when adding a group with a taken handle.
	ErrGroupExists = errors.New("group already exists")
	// ErrInvalidCapacity is returned for non-positive capacities.
	ErrInvalidCapacity = errors.New("group capacity must be positive")
)

// DefaultCapacity is used when the directory is created with a non-positive
// capacity.
const DefaultCapacity = 50

// Option customizes a Directory.
type Option func(*Directory)

// WithIDGenerator overrides how handles of directory-created groups are
// generated. The default is a random UUID.
func WithIDGenerator(gen func() string) Option {
	return func(d *Directory) {
		if gen != nil {
			d.newID = gen
		}
	}
}

// WithOnCreate registers fn to observe every group the directory creates.
// fn runs under the directory lock and must not call back into it.
func WithOnCreate(fn func(domain.Group)) Option {
	return func(d *Directory) { d.onCreate = fn }
}

// WithClock overrides the clock used to stamp group creation.
func WithClock(now func() time.Time) Option {
	return func(d *Directory) {
		if now != nil {
			d.now = now
		}
	}
}

// Directory tracks groups and memberships.
type Directory struct {
	mu       sync.Mutex
	capacity int
	groups   map[string]*domain.Group
	order    []*domain.Group // ascending Seq
	members  map[string]string
	seq      int64

	newID    func() string
	now      func() time.Time
	onCreate func(domain.Group)
}

// New returns an empty directory whose auto-created groups hold up to
// capacity members.
func New(capacity int, opts ...Option) *Directory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	d := &Directory{
		capacity: capacity,
		groups:   make(map[string]*domain.Group),
		members:  make(map[string]string),
		newID:    func() string { return uuid.NewString() },
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Capacity returns the default capacity of auto-created groups.
func (d *Directory) Capacity() int { return d.capacity }

// Assign returns the group of userID, assigning it on first call. Open groups
// are scanned in creation order and the first one with spare capacity wins;
// when none has room a new group is created. The returned bool reports
// whether a new assignment was made.
func (d *Directory) Assign(userID string) (domain.Group, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.assignLocked(userID)
}

func (d *Directory) assignLocked(userID string) (domain.Group, bool, error) {
	if gid, ok := d.members[userID]; ok {
		g, ok := d.groups[gid]
		if !ok {
			return domain.Group{}, false, fmt.Errorf("%w: user %s references unknown group %s", ErrInvariantViolation, userID, gid)
		}
		return *g, false, nil
	}

	var target *domain.Group
	for _, g := range d.order {
		if g.Status == domain.GroupOpen && g.HasSpace() {
			target = g
			break
		}
	}
	if target == nil {
		g, err := d.createLocked(d.newID(), "", d.capacity)
		if err != nil {
			return domain.Group{}, false, err
		}
		target = g
	}

	if target.MemberCount >= target.Capacity {
		return domain.Group{}, false, fmt.Errorf("%w: group %s at %d/%d accepted a member", ErrInvariantViolation, target.ID, target.MemberCount, target.Capacity)
	}
	target.MemberCount++
	if target.MemberCount == target.Capacity {
		target.Status = domain.GroupFull
	}
	target.UpdatedAt = d.now()
	d.members[userID] = target.ID
	return *target, true, nil
}

// Release removes userID from its group. Releasing an unassigned user is a
// no-op and reports false. A full group with freed space becomes open again.
func (d *Directory) Release(userID string) (domain.Group, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.releaseLocked(userID)
}

func (d *Directory) releaseLocked(userID string) (domain.Group, bool, error) {
	gid, ok := d.members[userID]
	if !ok {
		return domain.Group{}, false, nil
	}
	g, ok := d.groups[gid]
	if !ok {
		return domain.Group{}, false, fmt.Errorf("%w: user %s references unknown group %s", ErrInvariantViolation, userID, gid)
	}
	if g.MemberCount <= 0 {
		return domain.Group{}, false, fmt.Errorf("%w: group %s has member %s but count %d", ErrInvariantViolation, gid, userID, g.MemberCount)
	}
	delete(d.members, userID)
	g.MemberCount--
	if g.Status == domain.GroupFull && g.HasSpace() {
		g.Status = domain.GroupOpen
	}
	g.UpdatedAt = d.now()
	return *g, true, nil
}

// Rebalance moves userID out of its current group and assigns it again
// following the normal policy. It returns the previous group (zero value if
// the user was unassigned) and the new one.
func (d *Directory) Rebalance(userID string) (prev, next domain.Group, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev, _, err = d.releaseLocked(userID)
	if err != nil {
		return domain.Group{}, domain.Group{}, err
	}
	next, _, err = d.assignLocked(userID)
	if err != nil {
		return domain.Group{}, domain.Group{}, err
	}
	return prev, next, nil
}

// Lookup returns the group of userID.
func (d *Directory) Lookup(userID string) (domain.Group, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	gid, ok := d.members[userID]
	if !ok {
		return domain.Group{}, false
	}
	g, ok := d.groups[gid]
	if !ok {
		return domain.Group{}, false
	}
	return *g, true
}

// Group returns a snapshot of the group with the given handle.
func (d *Directory) Group(id string) (domain.Group, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.groups[id]
	if !ok {
		return domain.Group{}, fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	return *g, nil
}

// Groups returns snapshots of all groups in creation order.
func (d *Directory) Groups() []domain.Group {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.Group, len(d.order))
	for i, g := range d.order {
		out[i] = *g
	}
	return out
}

// Members returns the users assigned to group id, sorted.
func (d *Directory) Members(id string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for uid, gid := range d.members {
		if gid == id {
			out = append(out, uid)
		}
	}
	sort.Strings(out)
	return out
}

// AddGroup creates an open group bound to chatID. A non-positive capacity
// falls back to the directory default.
func (d *Directory) AddGroup(id, chatID, title string, capacity int) (domain.Group, error) {
	if capacity <= 0 {
		capacity = d.capacity
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	g, err := d.createLocked(id, chatID, capacity)
	if err != nil {
		return domain.Group{}, err
	}
	g.Title = title
	return *g, nil
}

// Bind attaches group id to a transport chat.
func (d *Directory) Bind(id, chatID, inviteLink, title string) (domain.Group, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.groups[id]
	if !ok {
		return domain.Group{}, fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	g.ChatID = chatID
	g.InviteLink = inviteLink
	if title != "" {
		g.Title = title
	}
	g.UpdatedAt = d.now()
	return *g, nil
}

// Retire stops group id from taking new members. Existing members stay.
func (d *Directory) Retire(id string) (domain.Group, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.groups[id]
	if !ok {
		return domain.Group{}, fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	g.Status = domain.GroupRetired
	g.UpdatedAt = d.now()
	return *g, nil
}

// Restore replaces the directory state with groups and assignments read
// from storage. Member counts and statuses are derived from assignments;
// stored counts are ignored. Assignments to unknown groups and capacity
// overflows are reported as invariant violations and leave the directory
// unchanged.
func (d *Directory) Restore(groups []domain.Group, assignments map[string]string) error {
	byID := make(map[string]*domain.Group, len(groups))
	order := make([]*domain.Group, 0, len(groups))
	var maxSeq int64
	for i := range groups {
		g := groups[i]
		if _, dup := byID[g.ID]; dup {
			return fmt.Errorf("%w: duplicate group %s", ErrInvariantViolation, g.ID)
		}
		if g.Capacity <= 0 {
			return fmt.Errorf("%w: group %s capacity %d", ErrInvariantViolation, g.ID, g.Capacity)
		}
		g.MemberCount = 0
		byID[g.ID] = &g
		order = append(order, &g)
		if g.Seq > maxSeq {
			maxSeq = g.Seq
		}
	}
	sort.SliceStable(order, func(a, b int) bool { return order[a].Seq < order[b].Seq })

	members := make(map[string]string, len(assignments))
	for uid, gid := range assignments {
		g, ok := byID[gid]
		if !ok {
			return fmt.Errorf("%w: user %s assigned to unknown group %s", ErrInvariantViolation, uid, gid)
		}
		g.MemberCount++
		members[uid] = gid
	}
	for _, g := range order {
		if g.MemberCount > g.Capacity {
			return fmt.Errorf("%w: group %s holds %d members over capacity %d", ErrInvariantViolation, g.ID, g.MemberCount, g.Capacity)
		}
		if g.Status == domain.GroupRetired {
			continue
		}
		if g.HasSpace() {
			g.Status = domain.GroupOpen
		} else {
			g.Status = domain.GroupFull
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.groups = byID
	d.order = order
	d.members = members
	d.seq = maxSeq
	return nil
}

// Verify checks every directory invariant and returns the first violation.
func (d *Directory) Verify() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	counts := make(map[string]int, len(d.groups))
	for uid, gid := range d.members {
		if _, ok := d.groups[gid]; !ok {
			return fmt.Errorf("%w: user %s references unknown group %s", ErrInvariantViolation, uid, gid)
		}
		counts[gid]++
	}
	for _, g := range d.order {
		if g.MemberCount != counts[g.ID] {
			return fmt.Errorf("%w: group %s count %d != members %d", ErrInvariantViolation, g.ID, g.MemberCount, counts[g.ID])
		}
		if g.MemberCount > g.Capacity {
			return fmt.Errorf("%w: group %s over capacity %d/%d", ErrInvariantViolation, g.ID, g.MemberCount, g.Capacity)
		}
		if g.Status == domain.GroupFull && g.HasSpace() {
			return fmt.Errorf("%w: group %s full with spare capacity", ErrInvariantViolation, g.ID)
		}
		if g.Status == domain.GroupOpen && !g.HasSpace() {
			return fmt.Errorf("%w: group %s open without spare capacity", ErrInvariantViolation, g.ID)
		}
	}
	return nil
}

// Stats returns the number of groups and assigned users.
func (d *Directory) Stats() (groups, assigned int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.groups), len(d.members)
}

func (d *Directory) createLocked(id, chatID string, capacity int) (*domain.Group, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	if id == "" {
		id = d.newID()
	}
	if _, ok := d.groups[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrGroupExists, id)
	}
	d.seq++
	now := d.now()
	g := &domain.Group{
		ID:        id,
		Seq:       d.seq,
		ChatID:    chatID,
		Capacity:  capacity,
		Status:    domain.GroupOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	d.groups[id] = g
	d.order = append(d.order, g)
	if d.onCreate != nil {
		d.onCreate(*g)
	}
	return g, nil
}
