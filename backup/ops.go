package backup

import (
	"context"
	"time"
)

// OpStatus is the poll-able state of a suboperation.
type OpStatus int

const (
	OpPending OpStatus = iota
	OpFinished
	OpFailed
)

// String returns the status name.
func (s OpStatus) String() string {
	switch s {
	case OpPending:
		return "pending"
	case OpFinished:
		return "finished"
	}
	return "failed"
}

// Operation is one asynchronous unit of work tracked by a session.
// Cancel requests termination; the operation still has to report a
// terminal status before the session releases it. Release is called
// exactly once.
type Operation interface {
	Status() OpStatus
	Cancel()
	Release()
}

// ScriptRunner starts the script set registered for a phase.
type ScriptRunner interface {
	Run(phase ScriptPhase, s *Session) (Operation, error)
	HasScripts() bool
}

// SyncProvider performs the actual I/O quiesce. Start, Abort and
// SnapshotDone run on the scheduler goroutine and may schedule further
// work through the session.
type SyncProvider interface {
	Start(s *Session) error
	Abort(s *Session)
	SnapshotDone(s *Session) error
	Release()
}

// Timer is a pending scheduler callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs callbacks after a delay. Callbacks never run
// concurrently with each other, and a stopped timer never runs.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// AsyncOp is an Operation backed by a goroutine.
type AsyncOp struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// StartAsyncOp runs fn in a new goroutine. The context passed to fn is
// cancelled by Cancel and Release.
func StartAsyncOp(fn func(ctx context.Context) error) *AsyncOp {
	ctx, cancel := context.WithCancel(context.Background())
	op := &AsyncOp{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(op.done)
		op.err = fn(ctx)
	}()
	return op
}

// Status is part of the Operation interface.
func (op *AsyncOp) Status() OpStatus {
	select {
	case <-op.done:
		if op.err != nil {
			return OpFailed
		}
		return OpFinished
	default:
		return OpPending
	}
}

// Cancel is part of the Operation interface.
func (op *AsyncOp) Cancel() { op.cancel() }

// Release is part of the Operation interface.
func (op *AsyncOp) Release() { op.cancel() }

// Wait blocks until fn returns and returns its error.
func (op *AsyncOp) Wait() error {
	<-op.done
	return op.err
}
