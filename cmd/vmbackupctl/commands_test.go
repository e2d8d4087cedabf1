package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valvemist/vmbackup/backup"
	"github.com/valvemist/vmbackup/control"
)

// fakeDaemon answers like an idle orchestrator and finishes a started
// session immediately with doneCode.
type fakeDaemon struct {
	mu       sync.Mutex
	commands []string
	doneCode backup.Status
	srv      *control.Server
}

func (d *fakeDaemon) dispatch(_ context.Context, command, args string) backup.Result {
	d.mu.Lock()
	d.commands = append(d.commands, command+"|"+args)
	d.mu.Unlock()
	switch command {
	case backup.CommandStart:
		_ = d.srv.SendEvent("s1", backup.EventReset, backup.StatusSuccess, "")
		_ = d.srv.SendEvent("s1", backup.EventKeepAlive, backup.StatusSuccess, "")
		_ = d.srv.SendEvent("s1", backup.EventRequestorDone, d.doneCode, "")
		return backup.Result{OK: true}
	case backup.CommandSnapshotDone:
		return backup.Result{OK: true}
	}
	return backup.Result{Message: "Error: no backup in progress"}
}

func (d *fakeDaemon) sent() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.commands...)
}

func setupDaemon(t *testing.T) (*fakeDaemon, string) {
	d := &fakeDaemon{}
	d.srv = control.NewServer(d.dispatch, "")
	mux := http.NewServeMux()
	d.srv.SetupRoutes(mux)
	hs := httptest.NewServer(mux)
	t.Cleanup(func() {
		d.srv.Close()
		hs.Close()
	})
	return d, "ws" + strings.TrimPrefix(hs.URL, "http") + control.Path
}

func execute(t *testing.T, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetArgs(nil)
		startManifests, startWait, watchUntilDone = false, false, false
	}()
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestStartArgs(t *testing.T) {
	assert.Equal(t, "0 ", startArgs(false, nil))
	assert.Equal(t, "1 /var /home", startArgs(true, []string{"/var", "/home"}))
}

func TestStartCmd_HasFlags(t *testing.T) {
	flag := startCmd.Flags().Lookup("manifests")
	require.NotNil(t, flag)
	assert.Equal(t, "m", flag.Shorthand)
	assert.Equal(t, "false", flag.DefValue)
	require.NotNil(t, startCmd.Flags().Lookup("wait"))
}

func TestStartCmd_SendsStart(t *testing.T) {
	d, url := setupDaemon(t)

	out, err := execute(t, "start", "--url", url, "--manifests", "/var")
	require.NoError(t, err)
	assert.Contains(t, out, "vmbackup.start: ok")
	assert.Equal(t, []string{"vmbackup.start|1 /var"}, d.sent())
}

func TestStartCmd_WaitPrintsEvents(t *testing.T) {
	_, url := setupDaemon(t)

	out, err := execute(t, "start", "--url", url, "--wait")
	require.NoError(t, err)
	assert.Contains(t, out, "s1 reset code=0")
	assert.Contains(t, out, "s1 req.done code=0")
	assert.NotContains(t, out, "req.keepAlive")
}

func TestStartCmd_WaitReportsFailure(t *testing.T) {
	d, url := setupDaemon(t)
	d.doneCode = backup.StatusScriptError

	_, err := execute(t, "start", "--url", url, "--wait")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backup failed")
}

func TestAbortCmd_RefusedWithoutSession(t *testing.T) {
	_, url := setupDaemon(t)

	_, err := execute(t, "abort", "--url", url)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no backup in progress")
}

func TestSnapshotDoneCmd(t *testing.T) {
	d, url := setupDaemon(t)

	out, err := execute(t, "snapshot-done", "--url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "vmbackup.snapshotDone: ok")
	assert.Equal(t, []string{"vmbackup.snapshotDone|"}, d.sent())
}

func TestAbortCmd_RejectsArgs(t *testing.T) {
	_, err := execute(t, "abort", "extra")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestConnectError(t *testing.T) {
	_, err := execute(t, "abort", "--url", "ws://127.0.0.1:1/vmbackup")
	assert.Error(t, err)
}
