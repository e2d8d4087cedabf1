// Package fsfreeze provides a backup.SyncProvider that freezes the guest's
// mounted filesystems with the FIFREEZE and FITHAW ioctls.
package fsfreeze

import (
	"context"
	"log/slog"
	"os"
	"slices"
	"sync"

	"github.com/juju/errors"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/valvemist/vmbackup/backup"
)

// FreezeOpName names the suboperation that freezes the filesystems.
const FreezeOpName = "FsFreeze"

// ErrUnsupported is returned where the ioctls are not available.
const ErrUnsupported = errors.ConstError("filesystem freeze not supported on this platform")

// DefaultFSTypes are the filesystem types frozen when none are configured.
var DefaultFSTypes = []string{"ext3", "ext4", "xfs", "btrfs"}

var log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
	Level:     slog.LevelInfo,
	AddSource: true,
}))

// SetLogger sets the logger used by the fsfreeze package.
func SetLogger(logger *slog.Logger) {
	if logger != nil {
		log = logger
	}
}

// Freezer freezes and thaws a single mounted filesystem.
type Freezer interface {
	Freeze(mountpoint string) error
	Thaw(mountpoint string) error
}

// PartitionLister lists the mounted filesystems.
type PartitionLister func(ctx context.Context, all bool) ([]disk.PartitionStat, error)

// Config holds the provider settings. Zero values use the defaults.
type Config struct {
	FSTypes    []string
	Partitions PartitionLister
	Freezer    Freezer
}

// Provider implements backup.SyncProvider.
type Provider struct {
	cfg Config

	mu         sync.Mutex
	frozen     []string
	op         *backup.AsyncOp
	freezing   bool
	thawOnExit bool
}

// New returns a provider using the host's mount table and ioctls unless
// cfg overrides them.
func New(cfg Config) *Provider {
	if len(cfg.FSTypes) == 0 {
		cfg.FSTypes = DefaultFSTypes
	}
	if cfg.Partitions == nil {
		cfg.Partitions = disk.PartitionsWithContext
	}
	if cfg.Freezer == nil {
		cfg.Freezer = ioctlFreezer{}
	}
	return &Provider{cfg: cfg}
}

// Targets returns the mountpoints a session would freeze, in mount order.
func (p *Provider) Targets(s *backup.Session) ([]string, error) {
	partitions, err := p.cfg.Partitions(context.Background(), false)
	if err != nil {
		return nil, errors.Annotate(err, "listing partitions")
	}
	return p.selectTargets(partitions, s.Volumes(), s.DisabledTargets()), nil
}

func (p *Provider) selectTargets(partitions []disk.PartitionStat, volumes, disabled []string) []string {
	var targets []string
	for _, part := range partitions {
		switch {
		case !slices.Contains(p.cfg.FSTypes, part.Fstype):
		case len(volumes) > 0 && !slices.Contains(volumes, part.Mountpoint):
		case slices.Contains(disabled, part.Mountpoint):
			log.Debug("skipping disabled target", "mountpoint", part.Mountpoint)
		case slices.Contains(targets, part.Mountpoint):
		default:
			targets = append(targets, part.Mountpoint)
		}
	}
	return targets
}

// Start freezes the session's filesystems in the background.
func (p *Provider) Start(s *backup.Session) error {
	targets, err := p.Targets(s)
	if err != nil {
		return errors.Annotate(backup.ErrSyncProvider, err.Error())
	}
	if len(targets) == 0 {
		log.Warn("no filesystems to freeze", "session", s.ID())
	}
	p.mu.Lock()
	p.freezing = true
	p.thawOnExit = false
	p.mu.Unlock()

	op := backup.StartAsyncOp(func(ctx context.Context) error {
		return p.freezeAll(ctx, targets)
	})
	if !s.SetCurrentOp(op, nil, FreezeOpName) {
		p.stopFreeze(op)
		return errors.Annotate(backup.ErrSyncProvider, "suboperation already in flight")
	}
	p.mu.Lock()
	p.op = op
	p.mu.Unlock()
	return nil
}

// SnapshotDone thaws the frozen filesystems. Arriving while the freeze is
// still running is an error; the freeze is stopped and undone in the
// background.
func (p *Provider) SnapshotDone(s *backup.Session) error {
	if p.stopFreeze(nil) {
		return errors.Annotate(backup.ErrSyncProvider, "snapshot done before the filesystems were frozen")
	}
	if err := p.thawAll(); err != nil {
		return errors.Annotate(backup.ErrSyncProvider, err.Error())
	}
	return nil
}

// Abort stops an ongoing freeze and thaws everything frozen so far.
// It never waits for the freeze goroutine.
func (p *Provider) Abort(s *backup.Session) {
	if p.stopFreeze(nil) {
		log.Info("freeze in progress, thawing once it stops", "session", s.ID())
		return
	}
	if err := p.thawAll(); err != nil {
		log.Error("thaw after abort failed", "session", s.ID(), "error", err)
	}
}

// Release cancels any freeze, waits for it and thaws anything still frozen.
func (p *Provider) Release() {
	p.mu.Lock()
	op := p.op
	p.op = nil
	p.mu.Unlock()
	if op != nil {
		op.Cancel()
		_ = op.Wait()
	}
	if err := p.thawAll(); err != nil {
		log.Error("thaw on release failed", "error", err)
	}
}

// stopFreeze cancels the running freeze, or op when given, and reports
// whether it was still running. A running freeze thaws on its way out.
func (p *Provider) stopFreeze(op *backup.AsyncOp) bool {
	p.mu.Lock()
	if op == nil {
		op = p.op
	}
	running := p.freezing
	if running {
		p.thawOnExit = true
	}
	p.mu.Unlock()
	if op != nil {
		op.Cancel()
	}
	return running
}

func (p *Provider) freezeAll(ctx context.Context, targets []string) (err error) {
	defer func() {
		p.mu.Lock()
		p.freezing = false
		thaw := p.thawOnExit
		p.mu.Unlock()
		if thaw || err != nil {
			p.thawAll()
		}
	}()
	for _, mountpoint := range targets {
		if err := ctx.Err(); err != nil {
			return errors.Annotate(err, "freeze cancelled")
		}
		err := p.cfg.Freezer.Freeze(mountpoint)
		if errors.Is(err, errNotSupportedByFS) {
			log.Warn("filesystem does not support freezing", "mountpoint", mountpoint)
			continue
		}
		if err != nil {
			log.Error("freeze failed", "mountpoint", mountpoint, "error", err)
			return errors.Annotatef(err, "freezing %s", mountpoint)
		}
		log.Info("frozen", "mountpoint", mountpoint)
		p.mu.Lock()
		p.frozen = append(p.frozen, mountpoint)
		p.mu.Unlock()
	}
	return nil
}

// thawAll thaws in reverse freeze order and returns the first error.
func (p *Provider) thawAll() error {
	p.mu.Lock()
	frozen := p.frozen
	p.frozen = nil
	p.mu.Unlock()

	var firstErr error
	for i := len(frozen) - 1; i >= 0; i-- {
		err := p.cfg.Freezer.Thaw(frozen[i])
		if errors.Is(err, errNotFrozen) {
			continue
		}
		if err != nil {
			log.Error("thaw failed", "mountpoint", frozen[i], "error", err)
			if firstErr == nil {
				firstErr = errors.Annotatef(err, "thawing %s", frozen[i])
			}
			continue
		}
		log.Info("thawed", "mountpoint", frozen[i])
	}
	return firstErr
}
