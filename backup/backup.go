package backup

import (
	"github.com/google/uuid"
	"github.com/juju/errors"
)

// Protocol command names.
const (
	CommandStart        = "vmbackup.start"
	CommandAbort        = "vmbackup.abort"
	CommandSnapshotDone = "vmbackup.snapshotDone"
)

// Orchestrator runs at most one backup session at a time. All methods must
// be called from the scheduler's goroutine.
type Orchestrator struct {
	cfg     Config
	session *Session
}

// NewOrchestrator validates cfg and returns an idle Orchestrator.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Orchestrator{cfg: cfg.withDefaults()}, nil
}

// Active reports whether a session is in progress.
func (o *Orchestrator) Active() bool { return o.session != nil }

// SessionID returns the active session's ID, or "" when idle.
func (o *Orchestrator) SessionID() string {
	if o.session == nil {
		return ""
	}
	return o.session.id
}

// Handle dispatches a protocol command by name.
func (o *Orchestrator) Handle(command, args string) Result {
	switch command {
	case CommandStart:
		return o.Start(args)
	case CommandAbort:
		return o.Abort(args)
	case CommandSnapshotDone:
		return o.SnapshotDone(args)
	}
	return failed(errors.Annotate(ErrUnknownCommand, command), "Unknown command.")
}

// Start begins a session: the freeze scripts run first and the sync
// provider is enabled once they finish. args is "<0|1> [volume-list]".
func (o *Orchestrator) Start(args string) Result {
	log.Debug("*** Start", "args", args)
	if o.session != nil {
		return failed(ErrAlreadyRunning, "Backup operation already in progress.")
	}

	s := &Session{
		id:         uuid.NewString(),
		pollPeriod: o.cfg.PollPeriod,
		send:       o.sendEvent,
	}
	s.generateManifests, s.volumes = parseStartArgs(args)

	targets, err := o.cfg.Targets.Targets()
	if err != nil {
		log.Error("cannot read backup configuration", "error", err)
		return failed(errors.Annotate(ErrConfig, err.Error()), "Error when reading configuration file.")
	}
	s.disabledTargets = targets
	o.session = s
	log.Info("backup started", "session", s.id, "volumes", s.volumes, "manifests", s.generateManifests)

	s.SendEvent(EventReset, StatusSuccess, "")
	if !o.startScripts(s, ScriptFreeze, o.enableSyncProvider) {
		o.discard(s)
		return failed(ErrScript, "Error initializing backup.")
	}
	o.scheduleTick(s)
	return succeeded()
}

// Abort cancels the in-flight suboperation and the sync provider. The
// session finalizes on a later tick, once in-flight work has stopped.
func (o *Orchestrator) Abort(string) Result {
	s := o.session
	if s == nil {
		return failed(ErrNotRunning, "Error: no backup in progress")
	}
	log.Info("remote abort", "session", s.id)

	if s.op != nil {
		s.op.Cancel()
	}
	if s.providerRunning && !s.clientAborted {
		o.cfg.Provider.Abort(s)
	}
	s.clientAborted = true
	s.SendEvent(EventRequestorAbort, StatusRemoteAbort, "Remote abort.")
	return succeeded()
}

// SnapshotDone tells the sync provider the snapshot was taken. Provider
// failures are reported as events; the command itself always succeeds
// while a session exists.
func (o *Orchestrator) SnapshotDone(string) Result {
	s := o.session
	if s == nil {
		return failed(ErrNotRunning, "Error: no backup in progress")
	}
	log.Debug("*** SnapshotDone", "session", s.id)

	if err := o.cfg.Provider.SnapshotDone(s); err != nil {
		log.Error("sync provider snapshot done failed", "session", s.id, "error", err)
		s.providerFailed = true
		s.SendEvent(EventRequestorError, StatusSyncError, "Error when notifying the sync provider.")
	} else {
		s.snapshotReady = true
	}
	return succeeded()
}

// Shutdown finalizes the active session, if any, and releases the provider.
func (o *Orchestrator) Shutdown() {
	if o.session != nil {
		o.finalize(o.session)
	}
	o.cfg.Provider.Release()
}

// finalize tears the session down and sends the terminal event.
func (o *Orchestrator) finalize(s *Session) {
	log.Debug("*** finalize", "session", s.id)

	if s.op != nil {
		s.op.Cancel()
		o.clearOp(s)
	}
	if s.providerRunning {
		if !s.clientAborted {
			o.cfg.Provider.Abort(s)
		}
		s.providerRunning = false
	}

	code, msg := s.terminalStatus()
	s.SendEvent(EventRequestorDone, code, msg)
	o.discard(s)
	log.Info("backup finished", "session", s.id, "status", code)
}

// discard stops the session's timers and empties the slot.
func (o *Orchestrator) discard(s *Session) {
	if s.pollTimer != nil {
		s.pollTimer.Stop()
		s.pollTimer = nil
	}
	if s.keepAlive != nil {
		s.keepAlive.Stop()
		s.keepAlive = nil
	}
	s.pending = nil
	s.disabledTargets = nil
	if o.session == s {
		o.session = nil
	}
}
