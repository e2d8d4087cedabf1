package qemu

import "github.com/tidwall/sjson"

// BuildStopJSON returns the QMP command that pauses every vCPU of the guest.
func BuildStopJSON() string {
	json := `{}`
	json, _ = sjson.Set(json, "execute", "stop")
	return json
}

// BuildContJSON returns the QMP command that resumes a paused guest.
func BuildContJSON() string {
	json := `{}`
	json, _ = sjson.Set(json, "execute", "cont")
	return json
}

// BuildQueryStatusJSON returns the QMP command to query the run state.
func BuildQueryStatusJSON() string {
	json := `{}`
	json, _ = sjson.Set(json, "execute", "query-status")
	return json
}

// BuildGuestSyncJSON returns a human monitor "sync" command, flushing the
// host's copy of guest writes before the pause.
func BuildGuestSyncJSON() string {
	json := `{}`
	json, _ = sjson.Set(json, "execute", "human-monitor-command")
	json, _ = sjson.Set(json, "arguments.command-line", "sync")
	return json
}
