package backup

import (
	"strings"
	"time"
)

// Step is a callback in a session's chain. Returning false stops the chain.
type Step func(s *Session) bool

// Session is the state of the single active backup. It is only touched from
// scheduler callbacks and command handlers, which never run concurrently.
type Session struct {
	id                string
	generateManifests bool
	volumes           string
	disabledTargets   []string

	pollPeriod time.Duration
	pending    Step

	op      Operation
	opName  string
	opPhase ScriptPhase

	providerRunning bool
	providerFailed  bool
	clientAborted   bool
	snapshotReady   bool
	forceRequeue    bool

	// thawPending is set while freeze scripts may have run without a
	// matching freeze-fail or thaw phase.
	thawPending bool

	status    Status
	statusMsg string

	pollTimer Timer
	keepAlive Timer

	send func(s *Session, event string, code Status, msg string) bool
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// GenerateManifests reports whether the requester asked for backup manifests.
func (s *Session) GenerateManifests() bool { return s.generateManifests }

// Volumes returns the volume list given to start, if any.
func (s *Session) Volumes() []string { return strings.Fields(s.volumes) }

// DisabledTargets returns a copy of the targets excluded from quiescing.
func (s *Session) DisabledTargets() []string {
	if len(s.disabledTargets) == 0 {
		return nil
	}
	return append([]string(nil), s.disabledTargets...)
}

// Aborted reports whether the requester aborted the session.
func (s *Session) Aborted() bool { return s.clientAborted }

// SnapshotReady reports whether the snapshot-done command was accepted.
func (s *Session) SnapshotReady() bool { return s.snapshotReady }

// SetCurrentOp makes op the session's in-flight suboperation and next the
// step to run once it finishes. A nil op with a non-nil next defers next
// to the following tick. It returns false when op is nil or another
// suboperation is still in flight.
func (s *Session) SetCurrentOp(op Operation, next Step, name string) bool {
	if s.op != nil {
		log.Error("suboperation already in flight", "session", s.id, "current", s.opName, "new", name)
		return false
	}
	s.pending = next
	s.forceRequeue = next != nil && op == nil
	if op == nil {
		return false
	}
	s.op = op
	s.opName = name
	s.opPhase = 0
	return true
}

// CurrentOp returns the in-flight suboperation, or nil.
func (s *Session) CurrentOp() Operation { return s.op }

// SetNext queues step to run in the current drain.
func (s *Session) SetNext(step Step) { s.pending = step }

// ForceRequeue ends the current drain and runs the next step on the
// following tick.
func (s *Session) ForceRequeue() { s.forceRequeue = true }

// SendEvent emits an event to the requester.
func (s *Session) SendEvent(event string, code Status, msg string) bool {
	return s.send(s, event, code, msg)
}

// recordFailure keeps the first failure as the session's terminal status.
func (s *Session) recordFailure(code Status, msg string) {
	if s.status == StatusSuccess {
		s.status = code
		s.statusMsg = msg
	}
}

func (s *Session) terminalStatus() (Status, string) {
	if s.clientAborted {
		return StatusRemoteAbort, "Remote abort."
	}
	return s.status, s.statusMsg
}
