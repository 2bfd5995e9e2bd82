// Package backup takes consistent SQLite snapshots with VACUUM INTO and
// keeps the newest N of them.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/notify-router/internal/observability"
)

// DefaultKeep is the retention used when keep is not positive.
const DefaultKeep = 10

const stampLayout = "20060102_150405"

var snapshotName = regexp.MustCompile(`^backup_(\d{8}_\d{6})(?:_(\d+))?\.db$`)

// Snapshot describes one backup file.
type Snapshot struct {
	Name      string    `json:"name"`
	Path      string    `json:"-"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Manager writes snapshots of db into dir.
type Manager struct {
	db   *gorm.DB
	dir  string
	keep int
	now  func() time.Time

	mu sync.Mutex
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the clock used to name snapshots.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager returns a manager writing to dir and keeping the newest keep
// snapshots.
func NewManager(db *gorm.DB, dir string, keep int, opts ...Option) *Manager {
	if keep <= 0 {
		keep = DefaultKeep
	}
	m := &Manager{
		db:   db,
		dir:  dir,
		keep: keep,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Dir returns the snapshot directory.
func (m *Manager) Dir() string { return m.dir }

// Snapshot writes backup_YYYYmmdd_HHMMSS.db and prunes old snapshots.
// Snapshots taken within the same second get a numeric suffix.
func (m *Manager) Snapshot(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, err := m.snapshotLocked(ctx)
	if err != nil {
		observability.RecordBackup(observability.ResultError)
		return Snapshot{}, err
	}
	observability.RecordBackup(observability.ResultOK)

	removed, err := m.pruneLocked()
	if err != nil {
		log.Warn().Err(err).Str("dir", m.dir).Msg("backup retention failed")
	}
	log.Info().
		Str("file", snap.Name).
		Int64("bytes", snap.Size).
		Int("pruned", removed).
		Msg("database backup written")
	return snap, nil
}

func (m *Manager) snapshotLocked(ctx context.Context) (Snapshot, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return Snapshot{}, fmt.Errorf("create backup dir: %w", err)
	}
	now := m.now()
	base := "backup_" + now.Format(stampLayout)
	name := base + ".db"
	for i := 1; ; i++ {
		if _, err := os.Stat(filepath.Join(m.dir, name)); errors.Is(err, os.ErrNotExist) {
			break
		}
		name = fmt.Sprintf("%s_%d.db", base, i)
	}
	path := filepath.Join(m.dir, name)

	if err := m.db.WithContext(ctx).Exec("VACUUM INTO ?", path).Error; err != nil {
		_ = os.Remove(path)
		return Snapshot{}, fmt.Errorf("vacuum into %s: %w", path, err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Name: name, Path: path, Size: fi.Size(), CreatedAt: now.Truncate(time.Second)}, nil
}

// List returns the snapshots in dir, newest first. A missing dir yields an
// empty list.
func (m *Manager) List() ([]Snapshot, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Snapshot{}, nil
		}
		return nil, err
	}
	out := make([]Snapshot, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		sm := snapshotName.FindStringSubmatch(e.Name())
		if sm == nil {
			continue
		}
		at, err := time.ParseInLocation(stampLayout, sm[1], time.UTC)
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Snapshot{
			Name:      e.Name(),
			Path:      filepath.Join(m.dir, e.Name()),
			Size:      info.Size(),
			CreatedAt: at,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return suffix(out[i].Name) > suffix(out[j].Name)
	})
	return out, nil
}

func (m *Manager) pruneLocked() (int, error) {
	snaps, err := m.List()
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs []error
	for _, s := range snaps[min(len(snaps), m.keep):] {
		if err := os.Remove(s.Path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

func suffix(name string) int {
	sm := snapshotName.FindStringSubmatch(name)
	if sm == nil || sm[2] == "" {
		return 0
	}
	n := 0
	fmt.Sscanf(sm[2], "%d", &n)
	return n
}
