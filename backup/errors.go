package backup

import (
	"github.com/juju/errors"
)

// Status is the numeric code carried by outbound events.
type Status uint32

const (
	StatusSuccess Status = iota
	StatusInvalidState
	StatusScriptError
	StatusSyncError
	StatusRemoteAbort
	StatusUnexpectedError
)

// String returns a short name for the status code.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusInvalidState:
		return "invalid-state"
	case StatusScriptError:
		return "script-error"
	case StatusSyncError:
		return "sync-error"
	case StatusRemoteAbort:
		return "remote-abort"
	case StatusUnexpectedError:
		return "unexpected-error"
	}
	return "unknown"
}

const (
	// ErrAlreadyRunning is returned by Start while a session exists.
	ErrAlreadyRunning = errors.ConstError("backup operation already in progress")

	// ErrNotRunning is returned by Abort and SnapshotDone without a session.
	ErrNotRunning = errors.ConstError("no backup in progress")

	// ErrConfig is returned by Start when the disabled targets cannot be loaded.
	ErrConfig = errors.ConstError("cannot read backup configuration")

	ErrScript         = errors.ConstError("backup script error")
	ErrSyncProvider   = errors.ConstError("sync provider error")
	ErrRemoteAbort    = errors.ConstError("remote abort")
	ErrUnexpected     = errors.ConstError("unexpected error")
	ErrUnknownCommand = errors.ConstError("unknown backup command")
)

// StatusOf maps an error from the taxonomy to its event code.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrAlreadyRunning), errors.Is(err, ErrNotRunning):
		return StatusInvalidState
	case errors.Is(err, ErrScript):
		return StatusScriptError
	case errors.Is(err, ErrSyncProvider):
		return StatusSyncError
	case errors.Is(err, ErrRemoteAbort):
		return StatusRemoteAbort
	}
	return StatusUnexpectedError
}

// Result is the synchronous reply to an inbound command. Work started by a
// successful command continues asynchronously and reports through events.
type Result struct {
	OK      bool
	Message string
	Err     error
}

func succeeded() Result {
	return Result{OK: true}
}

func failed(err error, msg string) Result {
	return Result{Message: msg, Err: err}
}
