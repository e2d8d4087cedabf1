// ops.go contains the low-level QMP operations used to quiesce a guest.

package qemu

import (
	"github.com/digitalocean/go-qemu/qmp"
	"github.com/juju/errors"
	"github.com/tidwall/gjson"
)

// Run states reported by query-status.
const (
	StatusRunning       = "running"
	StatusPaused        = "paused"
	StatusShutdown      = "shutdown"
	StatusInternalError = "internal-error"
	StatusGuestPanicked = "guest-panicked"
)

// RunStop pauses the guest.
func RunStop(monitor qmp.Monitor) error {
	raw, err := RunQMPAndLog(monitor, BuildStopJSON())
	return replyError(raw, err, "stop")
}

// RunCont resumes the guest.
func RunCont(monitor qmp.Monitor) error {
	raw, err := RunQMPAndLog(monitor, BuildContJSON())
	return replyError(raw, err, "cont")
}

// RunGuestSync flushes pending guest writes through the human monitor.
func RunGuestSync(monitor qmp.Monitor) error {
	raw, err := RunQMPAndLog(monitor, BuildGuestSyncJSON())
	return replyError(raw, err, "sync")
}

// RunQueryStatus returns the guest's run state, e.g. "running" or "paused".
func RunQueryStatus(monitor qmp.Monitor) (string, error) {
	raw, err := RunQMPAndLog(monitor, BuildQueryStatusJSON())
	if err := replyError(raw, err, "query-status"); err != nil {
		return "", err
	}
	status := gjson.GetBytes(raw, "return.status")
	if !status.Exists() {
		return "", errors.Errorf("query-status: no status in reply %q", raw)
	}
	return status.String(), nil
}

// replyError folds a transport error and a QMP error reply into one error.
func replyError(raw []byte, err error, command string) error {
	if err != nil {
		return errors.Annotatef(err, "qmp %s", command)
	}
	if desc := gjson.GetBytes(raw, "error.desc"); desc.Exists() {
		return errors.Errorf("qmp %s: %s", command, desc.String())
	}
	return nil
}
