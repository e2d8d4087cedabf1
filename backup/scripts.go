package backup

// ScriptPhase selects the script set to run.
type ScriptPhase int

const (
	ScriptFreeze ScriptPhase = iota + 1
	ScriptFreezeFail
	ScriptThaw
)

// String returns the argument passed to the phase's scripts.
func (p ScriptPhase) String() string {
	switch p {
	case ScriptFreeze:
		return "freeze"
	case ScriptFreezeFail:
		return "freezeFail"
	case ScriptThaw:
		return "thaw"
	}
	return "none"
}

// OpName returns the suboperation label used in diagnostics.
func (p ScriptPhase) OpName() string {
	switch p {
	case ScriptFreeze:
		return "VmBackupOnFreeze"
	case ScriptFreezeFail:
		return "VmBackupOnFreezeFail"
	case ScriptThaw:
		return "VmBackupOnThaw"
	}
	return ""
}

// startScripts starts the scripts of phase as the current suboperation,
// with next as the continuation.
func (o *Orchestrator) startScripts(s *Session, phase ScriptPhase, next Step) bool {
	log.Debug("*** startScripts", "session", s.id, "phase", phase)

	op, err := o.cfg.Scripts.Run(phase, s)
	if err != nil {
		log.Error("cannot start backup scripts", "session", s.id, "phase", phase, "error", err)
		op = nil
	}
	if !s.SetCurrentOp(op, next, phase.OpName()) {
		if op != nil {
			op.Cancel()
			op.Release()
		}
		s.pending = nil
		s.forceRequeue = false
		s.SendEvent(EventRequestorError, StatusScriptError, "Error when starting backup scripts.")
		return false
	}
	s.opPhase = phase

	switch phase {
	case ScriptFreeze:
		s.thawPending = true
	default:
		s.thawPending = false
	}
	return true
}
