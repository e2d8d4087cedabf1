package qemu

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/digitalocean/go-qemu/qmp"
	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/valvemist/vmbackup/backup"
)

// DefaultPauseTimeout bounds the wait for the guest to report "paused".
const DefaultPauseTimeout = 30 * time.Second

// PauseOpName names the suboperation that waits for the guest to pause.
const PauseOpName = "QemuPause"

// Config holds the provider settings.
type Config struct {
	Clock        clock.Clock
	PauseTimeout time.Duration

	// SyncGuest runs a monitor "sync" before pausing.
	SyncGuest bool
}

// Provider implements backup.SyncProvider by pausing a QEMU guest over QMP.
// The monitor must already be connected.
type Provider struct {
	monitor qmp.Monitor
	cfg     Config
	paused  atomic.Bool

	cancel   context.CancelFunc
	watching sync.WaitGroup
	released atomic.Bool
}

// New returns a provider for monitor and starts watching its events.
func New(monitor qmp.Monitor, cfg Config) *Provider {
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.PauseTimeout <= 0 {
		cfg.PauseTimeout = DefaultPauseTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Provider{
		monitor: monitor,
		cfg:     cfg,
		cancel:  cancel,
	}
	p.watching.Add(1)
	go func() {
		defer p.watching.Done()
		Events(ctx, monitor, p.handleEvent)
	}()
	return p
}

// Start pauses the guest and hands the session a QemuPause suboperation
// that finishes once QEMU reports the pause.
func (p *Provider) Start(s *backup.Session) error {
	log.Info("pausing guest", "session", s.ID())
	if p.cfg.SyncGuest {
		if err := RunGuestSync(p.monitor); err != nil {
			log.Warn("guest sync failed", "error", err)
		}
	}
	p.paused.Store(false)
	if err := RunStop(p.monitor); err != nil {
		return errors.Annotate(backup.ErrSyncProvider, err.Error())
	}
	op := &pauseOp{
		provider: p,
		deadline: p.cfg.Clock.Now().Add(p.cfg.PauseTimeout),
	}
	if !s.SetCurrentOp(op, nil, PauseOpName) {
		p.resume("cannot track pause")
		return errors.Annotate(backup.ErrSyncProvider, "suboperation already in flight")
	}
	return nil
}

// SnapshotDone resumes the guest.
func (p *Provider) SnapshotDone(s *backup.Session) error {
	log.Info("snapshot done, resuming guest", "session", s.ID())
	if err := RunCont(p.monitor); err != nil {
		return errors.Annotate(backup.ErrSyncProvider, err.Error())
	}
	return nil
}

// Abort resumes the guest; failures are only logged.
func (p *Provider) Abort(s *backup.Session) {
	p.resume("abort session " + s.ID())
}

// Release stops the event watcher and disconnects the monitor.
func (p *Provider) Release() {
	if p.released.Swap(true) {
		return
	}
	p.cancel()
	p.watching.Wait()
	if err := p.monitor.Disconnect(); err != nil {
		log.Debug("disconnect failed", "error", err)
	}
}

func (p *Provider) resume(reason string) {
	if err := RunCont(p.monitor); err != nil {
		log.Error("cannot resume guest", "reason", reason, "error", err)
	}
}

// pauseOp polls query-status until the guest is paused.
type pauseOp struct {
	provider  *Provider
	deadline  time.Time
	cancelled bool
	result    backup.OpStatus
}

func (op *pauseOp) Status() backup.OpStatus {
	if op.result != backup.OpPending {
		return op.result
	}
	op.result = op.poll()
	return op.result
}

func (op *pauseOp) poll() backup.OpStatus {
	if op.cancelled {
		return backup.OpFailed
	}
	if op.provider.paused.Load() {
		return backup.OpFinished
	}
	status, err := RunQueryStatus(op.provider.monitor)
	if err != nil {
		log.Error("cannot query guest status", "error", err)
		return backup.OpFailed
	}
	switch status {
	case StatusPaused:
		return backup.OpFinished
	case StatusShutdown, StatusInternalError, StatusGuestPanicked:
		log.Error("guest cannot be paused", "status", status)
		return backup.OpFailed
	}
	if !op.provider.cfg.Clock.Now().Before(op.deadline) {
		log.Error("timed out waiting for guest to pause", "status", status)
		return backup.OpFailed
	}
	return backup.OpPending
}

func (op *pauseOp) Cancel() { op.cancelled = true }

func (op *pauseOp) Release() {}
