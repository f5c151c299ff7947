package release

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/cairndb/cairn/internal/errs"
	"github.com/cairndb/cairn/internal/index"
)

// State of the shadow/real cycle.
type State string

const (
	// RealActive: the real instance serves; no transition in flight.
	RealActive State = "real-active"
	// ShadowSyncing: the shadow is being refreshed from real and upgraded.
	ShadowSyncing State = "shadow-syncing"
	// ShadowActive: the shadow is initialized at the target release and
	// may be validated before promotion. The real instance is untouched.
	ShadowActive State = "shadow-active"
	// Promoting: the shadow content is being copied back into real.
	Promoting State = "promoting"
)

// Upgrade is one release-upgrade procedure: it transforms the dumped
// listing of release n into the shape release n+1 expects. Procedures run
// on the in-transit listing, never against a live store, so a failure
// aborts the transition with both instances intact.
type Upgrade func(listing []Record) ([]Record, error)

// Manager orchestrates the two-phase shadow/real upgrade protocol for one
// real instance.
//
// Invariant: the real instance is only ever mutated by Promote, never by
// EnterShadow. Production data is never visible in a partially-upgraded
// state. Transitions are mutually exclusive: a second transition started
// while one is in flight fails fast instead of queueing.
type Manager struct {
	real     Instance
	upgrades map[int]Upgrade

	mu    sync.Mutex
	state State
}

// NewManager creates a manager for the real instance at root.
func NewManager(root string) *Manager {
	return &Manager{
		real:     Instance{Root: root},
		upgrades: make(map[int]Upgrade),
		state:    RealActive,
	}
}

// Real returns the managed real instance.
func (m *Manager) Real() Instance { return m.real }

// RegisterUpgrade installs the procedure for release n (run when moving a
// listing from release n to n+1).
func (m *Manager) RegisterUpgrade(n int, up Upgrade) {
	m.upgrades[n] = up
}

// State reports the current protocol state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status summarizes a completed transition.
type Status struct {
	Release  int `json:"release"`
	Upgrades int `json:"upgrades"`
	Loaded   int `json:"loaded"`
}

// Initialize bootstraps a fresh real instance from the config, optionally
// loading a listing dumped from another instance. The listing's release
// must already match the config's: any pending upgrade has to go through
// the shadow cycle, never straight into a real instance.
func (m *Manager) Initialize(ctx context.Context, cfg Config, listing []Record, listingRelease int) (Status, error) {
	if !m.mu.TryLock() {
		return Status{}, fmt.Errorf("transition already in flight")
	}
	defer m.mu.Unlock()

	if listing != nil && listingRelease != cfg.Release {
		return Status{}, fmt.Errorf(
			"listing is at release %d, config wants %d: upgrades must go through the shadow cycle",
			listingRelease, cfg.Release)
	}
	if err := os.MkdirAll(m.real.Root, 0o750); err != nil {
		return Status{}, fmt.Errorf("create instance root: %w", err)
	}
	if err := cfg.Write(m.real.ConfigPath()); err != nil {
		return Status{}, err
	}
	if err := initInstance(ctx, m.real, cfg.Cats, false, cfg.Release, listing); err != nil {
		return Status{}, err
	}
	return Status{Release: cfg.Release, Loaded: len(listing)}, nil
}

// EnterShadow refreshes the shadow instance from the real one and runs
// every registered upgrade procedure from the real index's release up to
// (excluding) the config's target release, in increasing order. The
// shadow's category directory is a live view (symlink) of the master
// cats directory, and attachment content is hard-linked, never copied.
//
// On any failure the shadow is rolled back to its prior content and the
// real instance is untouched (it is read, never written).
func (m *Manager) EnterShadow(ctx context.Context) (Status, error) {
	if !m.mu.TryLock() {
		return Status{}, fmt.Errorf("transition already in flight")
	}
	defer m.mu.Unlock()
	m.state = ShadowSyncing

	st, err := m.enterShadowLocked(ctx)
	if err != nil {
		m.state = RealActive
		return Status{}, err
	}
	m.state = ShadowActive
	return st, nil
}

func (m *Manager) enterShadowLocked(ctx context.Context) (Status, error) {
	cfg, err := LoadConfig(m.real.ConfigPath())
	if err != nil {
		return Status{}, err
	}

	// Narrow critical section: hold the real instance open only long
	// enough to copy its entry table and release stamp.
	h, err := m.real.Open()
	if err != nil {
		return Status{}, err
	}
	records, current, err := h.Dump(ctx)
	h.Close()
	if err != nil {
		return Status{}, err
	}

	if current > cfg.Release {
		return Status{}, fmt.Errorf("index release %d is ahead of config release %d", current, cfg.Release)
	}
	nUpgrades := cfg.Release - current
	for n := current; n < cfg.Release; n++ {
		records, err = m.runUpgrade(n, records)
		if err != nil {
			return Status{}, err
		}
	}

	shadow := m.real.Shadow()
	if err := os.MkdirAll(shadow.Root, 0o750); err != nil {
		return Status{}, fmt.Errorf("create shadow root: %w", err)
	}
	if err := initInstance(ctx, shadow, cfg.Cats, true, cfg.Release, records); err != nil {
		return Status{}, err
	}

	slog.Info("shadow synced", "release", cfg.Release, "upgrades", nUpgrades, "loaded", len(records))
	return Status{Release: cfg.Release, Upgrades: nUpgrades, Loaded: len(records)}, nil
}

// runUpgrade executes upgrade procedure n, converting a panic into an
// UpgradeFailure so a broken procedure can never leave the transition
// half-applied.
func (m *Manager) runUpgrade(n int, records []Record) (out []Record, err error) {
	up, ok := m.upgrades[n]
	if !ok {
		return nil, errs.UpgradeFailure(n, fmt.Errorf("no upgrade procedure registered"))
	}
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, errs.UpgradeFailure(n, fmt.Errorf("panic: %v", r))
		}
	}()
	out, upErr := up(records)
	if upErr != nil {
		return nil, errs.UpgradeFailure(n, upErr)
	}
	return out, nil
}

// Promote replaces the real instance's content with the shadow's, then
// resets the shadow to mirror the new real, ready for the next cycle.
// The category directory is snapshotted into the real instance (a fixed
// copy, unlike the shadow's live view). The shadow must already be at the
// config's target release: promotion never runs upgrades itself.
func (m *Manager) Promote(ctx context.Context) (Status, error) {
	if !m.mu.TryLock() {
		return Status{}, fmt.Errorf("transition already in flight")
	}
	defer m.mu.Unlock()
	m.state = Promoting

	st, err := m.promoteLocked(ctx)
	m.state = RealActive
	if err != nil {
		return Status{}, err
	}
	return st, nil
}

func (m *Manager) promoteLocked(ctx context.Context) (Status, error) {
	cfg, err := LoadConfig(m.real.ConfigPath())
	if err != nil {
		return Status{}, err
	}
	shadow := m.real.Shadow()

	sh, err := shadow.Open()
	if err != nil {
		return Status{}, fmt.Errorf("promote: shadow not initialized: %w", err)
	}
	records, shadowRelease, err := sh.Dump(ctx)
	sh.Close()
	if err != nil {
		return Status{}, err
	}
	if shadowRelease != cfg.Release {
		return Status{}, fmt.Errorf(
			"promote: shadow is at release %d, config wants %d: run enter-shadow first",
			shadowRelease, cfg.Release)
	}

	if err := initInstance(ctx, m.real, cfg.Cats, false, cfg.Release, records); err != nil {
		return Status{}, err
	}

	// Reset the shadow against the new real content so the next cycle
	// starts from a mirror.
	h, err := m.real.Open()
	if err != nil {
		return Status{}, err
	}
	fresh, _, err := h.Dump(ctx)
	h.Close()
	if err != nil {
		return Status{}, err
	}
	if err := initInstance(ctx, shadow, cfg.Cats, true, cfg.Release, fresh); err != nil {
		return Status{}, err
	}

	slog.Info("shadow promoted", "release", cfg.Release, "loaded", len(records))
	return Status{Release: cfg.Release, Loaded: len(records)}, nil
}

// initInstance (re-)initializes one instance under a directory backup:
// category directory (symlink for a live view, snapshot copy otherwise),
// empty attachment tree, fresh index at the given release with every
// category initializer installed, then the listing loaded with its
// attachment contents hard-linked in. On error the instance directory is
// restored to its prior state.
func initInstance(ctx context.Context, inst Instance, catsSrc string, liveCats bool, releaseN int, listing []Record) (err error) {
	backup, err := NewBackup(inst.Root)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rerr := backup.Restore(); rerr != nil {
				slog.Error("backup restore failed", "root", inst.Root, "error", rerr)
			}
			return
		}
		err = backup.Commit()
	}()

	catsPath, err := backup.Displace(CatsDir)
	if err != nil {
		return err
	}
	if liveCats {
		if err = os.Symlink(catsSrc, catsPath); err != nil {
			return fmt.Errorf("link cats: %w", err)
		}
	} else if err = copyTree(catsSrc, catsPath); err != nil {
		return fmt.Errorf("snapshot cats: %w", err)
	}

	if _, err = backup.Displace(AttachDir); err != nil {
		return err
	}
	if _, err = backup.Displace(IndexFile); err != nil {
		return err
	}

	h, err := inst.Open()
	if err != nil {
		return err
	}
	defer h.Close()

	if err = h.Index.SetRelease(ctx, releaseN); err != nil {
		return err
	}
	if err = h.Index.InstallInitializers(ctx, h.Registry.AllInitializers()); err != nil {
		return err
	}

	if len(listing) > 0 {
		entries := make([]index.Entry, len(listing))
		for i, r := range listing {
			entries[i] = r.Entry
		}
		// Load calls the link func once per row, in listing order.
		pos := 0
		err = h.Index.Load(ctx, entries, func(e index.Entry, attachPath string) error {
			r := listing[pos]
			pos++
			if len(r.Contents) == 0 {
				return nil
			}
			return h.Attach.LinkEntry(attachPath, r.Contents)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// copyTree copies a directory tree, preserving symlinks as symlinks.
func copyTree(src, dst string) error {
	src = filepath.Clean(src)
	return filepath.Walk(src, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		switch {
		case fi.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case fi.IsDir():
			return os.MkdirAll(target, 0o750)
		default:
			return copyFile(path, target, fi.Mode())
		}
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
