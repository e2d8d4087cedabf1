// Package backup coordinates a guest backup as a poll-driven state machine:
// freeze scripts run first, then a pluggable sync provider quiesces I/O
// until the requester reports the snapshot as taken, and finally the thaw
// scripts run. Failures along the way run the freeze-fail scripts instead.
//
// The Orchestrator never blocks. Every piece of asynchronous work is an
// Operation whose status is polled from a single tick callback run by a
// Scheduler; the steps of a session are chained callbacks drained inside
// that tick. Requesters drive it through three commands:
//
//   - vmbackup.start "<0|1> [volume-list]"
//   - vmbackup.abort
//   - vmbackup.snapshotDone
//
// and observe it through events sent to an EventSink: reset, req.keepAlive,
// req.error, req.aborted and, exactly once per session, req.done.
//
// The code of req.done is the session's outcome, not always 0: 0 when the
// backup succeeded, the RemoteAbort code after an abort, and otherwise the
// code of the first failure reported through req.error. Requesters must
// check it rather than the event name alone.
//
// Example usage:
//
//	orch, err := backup.NewOrchestrator(backup.Config{
//		Scheduler: loop,
//		Scripts:   runner,
//		Provider:  provider,
//		Events:    server,
//		Targets:   backup.FileTargets{Path: "/etc/vmbackup/vmbackup.conf"},
//	})
//	result := orch.Handle(backup.CommandStart, "0 ")
//
// All Orchestrator methods must run on the scheduler's goroutine.
package backup
