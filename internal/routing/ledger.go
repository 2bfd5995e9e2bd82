package routing

import (
	"fmt"
	"sync"
	"time"
)

// DefaultRetention is how long a routed key keeps rejecting replays when the
// ledger is created without an explicit window.
const DefaultRetention = 24 * time.Hour

// Ledger records routed deduplication keys. A key is reserved while it is
// being routed and committed once routing succeeds; both states reject
// further reservations until the retention window passes.
type Ledger struct {
	mu        sync.Mutex
	retention time.Duration
	routed    map[string]time.Time // key → expiry
	inflight  map[string]struct{}
	now       func() time.Time
	lastPrune time.Time
}

// LedgerOption customizes a Ledger.
type LedgerOption func(*Ledger)

// WithLedgerClock overrides the clock used for expiry decisions.
func WithLedgerClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLedger returns an empty ledger keeping keys for retention.
func NewLedger(retention time.Duration, opts ...LedgerOption) *Ledger {
	if retention <= 0 {
		retention = DefaultRetention
	}
	l := &Ledger{
		retention: retention,
		routed:    make(map[string]time.Time),
		inflight:  make(map[string]struct{}),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Retention returns the replay window.
func (l *Ledger) Retention() time.Duration { return l.retention }

// Reserve claims key for routing. It fails with ErrDuplicateNotification when
// the key is in flight or was routed within the retention window.
func (l *Ledger) Reserve(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.maybePruneLocked(now)

	if _, busy := l.inflight[key]; busy {
		return fmt.Errorf("%w: %s in flight", ErrDuplicateNotification, key)
	}
	if exp, ok := l.routed[key]; ok {
		if now.Before(exp) {
			return fmt.Errorf("%w: %s", ErrDuplicateNotification, key)
		}
		delete(l.routed, key)
	}
	l.inflight[key] = struct{}{}
	return nil
}

// Commit marks a reserved key as routed and returns its expiry.
func (l *Ledger) Commit(key string) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inflight, key)
	exp := l.now().Add(l.retention)
	l.routed[key] = exp
	return exp
}

// Abort releases a reservation so the key can be routed again.
func (l *Ledger) Abort(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inflight, key)
}

// Seen reports whether key is in flight or routed and unexpired.
func (l *Ledger) Seen(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.inflight[key]; busy {
		return true
	}
	exp, ok := l.routed[key]
	return ok && l.now().Before(exp)
}

// Restore loads a routed key read back from storage. Expired keys are
// ignored.
func (l *Ledger) Restore(key string, expiresAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.now().Before(expiresAt) {
		return
	}
	l.routed[key] = expiresAt
}

// Prune drops expired keys and returns how many were removed.
func (l *Ledger) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pruneLocked(l.now())
}

// Len returns the number of routed (unexpired or not yet pruned) keys.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.routed)
}

// maybePruneLocked prunes at most once per tenth of the retention window.
func (l *Ledger) maybePruneLocked(now time.Time) {
	if now.Sub(l.lastPrune) < l.retention/10 {
		return
	}
	l.pruneLocked(now)
}

func (l *Ledger) pruneLocked(now time.Time) int {
	n := 0
	for k, exp := range l.routed {
		if !now.Before(exp) {
			delete(l.routed, k)
			n++
		}
	}
	l.lastPrune = now
	return n
}
