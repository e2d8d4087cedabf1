package backup

import "fmt"

// tick is the poll callback. It checks the in-flight suboperation, runs the
// pending steps until one schedules asynchronous work, and decides whether
// the session goes on or is finalized.
func (o *Orchestrator) tick(s *Session) {
	if o.session != s {
		return
	}
	log.Debug("*** tick", "session", s.id)
	s.pollTimer = nil

	if s.op != nil {
		log.Debug("checking suboperation", "session", s.id, "op", s.opName)
		switch s.op.Status() {
		case OpPending:
			o.endTick(s, false)
			return

		case OpFinished:
			log.Debug("async request completed", "session", s.id, "op", s.opName)
			o.clearOp(s)

		default:
			name, phase := s.opName, s.opPhase
			o.clearOp(s)
			if s.clientAborted {
				// Cancelled by Abort. The abort cleanup below picks the
				// scripts to run; the provider's own continuation is dropped.
				log.Debug("suboperation cancelled by abort", "session", s.id, "op", name)
				if s.providerRunning {
					s.pending = nil
				}
				break
			}
			s.SendEvent(EventRequestorError, StatusUnexpectedError,
				fmt.Sprintf("Asynchronous operation failed: %s", name))

			// A freeze failure may leave some scripts frozen; run the
			// fail scripts before giving up.
			finalize := true
			if phase == ScriptFreeze && !s.providerRunning && o.cfg.Scripts.HasScripts() {
				s.pending = nil
				finalize = !o.startScripts(s, ScriptFreezeFail, nil)
			}
			o.endTick(s, finalize)
			return
		}
	}

	finalize := false
	for s.pending != nil {
		step := s.pending
		s.pending = nil

		if s.clientAborted && !s.providerRunning {
			log.Debug("dropping step after remote abort", "session", s.id)
			if s.thawPending && o.cfg.Scripts.HasScripts() {
				o.endTick(s, !o.startScripts(s, ScriptFreezeFail, nil))
				return
			}
			continue
		}

		if step(s) {
			if s.op != nil || s.forceRequeue {
				o.endTick(s, finalize)
				return
			}
		} else {
			// A running provider concludes through its own teardown below.
			finalize = finalize || !s.providerRunning
			s.providerFailed = s.providerFailed || s.providerRunning
		}
	}

	if s.providerRunning && s.pending == nil &&
		(s.snapshotReady || s.providerFailed || s.clientAborted) {
		log.Debug("sync provider concluded", "session", s.id,
			"snapshotReady", s.snapshotReady, "failed", s.providerFailed, "aborted", s.clientAborted)
		s.providerRunning = false
		s.pollPeriod = o.cfg.SlowPollPeriod
		phase := ScriptThaw
		if s.providerFailed || s.clientAborted {
			phase = ScriptFreezeFail
		}
		o.endTick(s, !o.startScripts(s, phase, nil))
		return
	}

	if !s.providerRunning && (s.pending == nil || s.clientAborted) {
		finalize = true
	}
	o.endTick(s, finalize)
}

func (o *Orchestrator) endTick(s *Session, finalize bool) {
	if finalize {
		o.finalize(s)
		return
	}
	s.forceRequeue = false
	o.scheduleTick(s)
}

// scheduleTick cancels any outstanding tick and arms a new one.
func (o *Orchestrator) scheduleTick(s *Session) {
	if s.pollTimer != nil {
		s.pollTimer.Stop()
	}
	s.pollTimer = o.cfg.Scheduler.AfterFunc(s.pollPeriod, func() {
		o.tick(s)
	})
}

func (o *Orchestrator) clearOp(s *Session) {
	s.op.Release()
	s.op = nil
	s.opName = ""
	s.opPhase = 0
}

// enableSyncProvider is the continuation of the freeze scripts.
func (o *Orchestrator) enableSyncProvider(s *Session) bool {
	log.Debug("*** enableSyncProvider", "session", s.id)
	if err := o.cfg.Provider.Start(s); err != nil {
		log.Error("cannot enable sync provider", "session", s.id, "error", err)
		s.SendEvent(EventRequestorError, StatusSyncError, "Error when enabling the sync provider.")
		if o.cfg.Scripts.HasScripts() {
			// Undo the freeze scripts; the session ends once they finish.
			return o.startScripts(s, ScriptFreezeFail, nil)
		}
		return false
	}
	s.providerRunning = true
	return true
}
