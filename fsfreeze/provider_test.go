package fsfreeze

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valvemist/vmbackup/backup"
)

type fakeFreezer struct {
	mu        sync.Mutex
	calls     []string
	freezeErr map[string]error
	thawErr   map[string]error
}

func (f *fakeFreezer) Freeze(mountpoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "freeze "+mountpoint)
	return f.freezeErr[mountpoint]
}

func (f *fakeFreezer) Thaw(mountpoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "thaw "+mountpoint)
	return f.thawErr[mountpoint]
}

func (f *fakeFreezer) log() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func mounts(parts ...disk.PartitionStat) PartitionLister {
	return func(context.Context, bool) ([]disk.PartitionStat, error) {
		return parts, nil
	}
}

var testMounts = mounts(
	disk.PartitionStat{Device: "/dev/sda1", Mountpoint: "/", Fstype: "ext4"},
	disk.PartitionStat{Device: "proc", Mountpoint: "/proc", Fstype: "proc"},
	disk.PartitionStat{Device: "/dev/sda2", Mountpoint: "/var", Fstype: "xfs"},
	disk.PartitionStat{Device: "/dev/sda3", Mountpoint: "/home", Fstype: "btrfs"},
)

func newTestProvider(freezer *fakeFreezer) *Provider {
	return New(Config{Partitions: testMounts, Freezer: freezer})
}

func startAndWait(t *testing.T, p *Provider, s *backup.Session) backup.OpStatus {
	require.NoError(t, p.Start(s))
	op, ok := s.CurrentOp().(*backup.AsyncOp)
	require.True(t, ok)
	_ = op.Wait()
	return op.Status()
}

func TestTargetsFilterByType(t *testing.T) {
	p := newTestProvider(&fakeFreezer{})
	targets, err := p.Targets(&backup.Session{})
	require.NoError(t, err)
	assert.Equal(t, []string{"/", "/var", "/home"}, targets)
}

func TestTargetsCustomTypes(t *testing.T) {
	p := New(Config{Partitions: testMounts, Freezer: &fakeFreezer{}, FSTypes: []string{"xfs"}})
	targets, err := p.Targets(&backup.Session{})
	require.NoError(t, err)
	assert.Equal(t, []string{"/var"}, targets)
}

func TestTargetsListerError(t *testing.T) {
	p := New(Config{
		Freezer: &fakeFreezer{},
		Partitions: func(context.Context, bool) ([]disk.PartitionStat, error) {
			return nil, errors.New("no /proc")
		},
	})
	err := p.Start(&backup.Session{})
	require.Error(t, err)
	assert.Equal(t, backup.StatusSyncError, backup.StatusOf(err))
}

func TestFreezeThenThawInReverse(t *testing.T) {
	freezer := &fakeFreezer{}
	p := newTestProvider(freezer)
	s := &backup.Session{}

	assert.Equal(t, backup.OpFinished, startAndWait(t, p, s))
	require.NoError(t, p.SnapshotDone(s))
	assert.Equal(t, []string{
		"freeze /", "freeze /var", "freeze /home",
		"thaw /home", "thaw /var", "thaw /",
	}, freezer.log())
}

func TestFreezeFailureThawsFrozen(t *testing.T) {
	freezer := &fakeFreezer{freezeErr: map[string]error{"/home": errors.New("EBUSY")}}
	p := newTestProvider(freezer)

	assert.Equal(t, backup.OpFailed, startAndWait(t, p, &backup.Session{}))
	assert.Equal(t, []string{
		"freeze /", "freeze /var", "freeze /home",
		"thaw /var", "thaw /",
	}, freezer.log())
}

func TestUnsupportedFilesystemSkipped(t *testing.T) {
	freezer := &fakeFreezer{freezeErr: map[string]error{"/var": errNotSupportedByFS}}
	p := newTestProvider(freezer)
	s := &backup.Session{}

	assert.Equal(t, backup.OpFinished, startAndWait(t, p, s))
	p.Abort(s)
	assert.Equal(t, []string{
		"freeze /", "freeze /var", "freeze /home",
		"thaw /home", "thaw /",
	}, freezer.log())
}

func TestThawErrorReported(t *testing.T) {
	freezer := &fakeFreezer{thawErr: map[string]error{"/var": errors.New("EIO")}}
	p := newTestProvider(freezer)
	s := &backup.Session{}

	startAndWait(t, p, s)
	err := p.SnapshotDone(s)
	require.Error(t, err)
	assert.Equal(t, backup.StatusSyncError, backup.StatusOf(err))
	// Every mount is still thawed.
	assert.Contains(t, freezer.log(), "thaw /")
}

func TestReleaseThawsLeftovers(t *testing.T) {
	freezer := &fakeFreezer{}
	p := newTestProvider(freezer)

	startAndWait(t, p, &backup.Session{})
	p.Release()
	p.Release()
	assert.Equal(t, []string{
		"freeze /", "freeze /var", "freeze /home",
		"thaw /home", "thaw /var", "thaw /",
	}, freezer.log())
}

func TestSelectTargetsVolumesAndDisabled(t *testing.T) {
	p := newTestProvider(&fakeFreezer{})
	parts, err := testMounts(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, []string{"/var"}, p.selectTargets(parts, []string{"/var", "/proc"}, nil))
	assert.Equal(t, []string{"/", "/home"}, p.selectTargets(parts, nil, []string{"/var"}))
	assert.Empty(t, p.selectTargets(parts, []string{"/var"}, []string{"/var"}))

	dup := append(parts, disk.PartitionStat{Device: "/dev/sda1", Mountpoint: "/", Fstype: "ext4"})
	assert.Equal(t, []string{"/", "/var", "/home"}, p.selectTargets(dup, nil, nil))
}

// gatedFreezer blocks the freeze of one mountpoint until released.
type gatedFreezer struct {
	fakeFreezer
	gate    string
	reached chan struct{}
	release chan struct{}
}

func (f *gatedFreezer) Freeze(mountpoint string) error {
	if mountpoint == f.gate {
		close(f.reached)
		<-f.release
	}
	return f.fakeFreezer.Freeze(mountpoint)
}

func newGatedProvider(t *testing.T) (*Provider, *gatedFreezer, *backup.AsyncOp) {
	freezer := &gatedFreezer{
		gate:    "/var",
		reached: make(chan struct{}),
		release: make(chan struct{}),
	}
	p := New(Config{Partitions: testMounts, Freezer: freezer})
	s := &backup.Session{}
	require.NoError(t, p.Start(s))
	op := s.CurrentOp().(*backup.AsyncOp)
	select {
	case <-freezer.reached:
	case <-time.After(5 * time.Second):
		t.Fatal("freeze never reached the gate")
	}
	return p, freezer, op
}

func returnsPromptly(t *testing.T, f func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		f()
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("call blocked on the running freeze")
	}
}

func TestAbortDuringFreezeDoesNotWait(t *testing.T) {
	p, freezer, op := newGatedProvider(t)

	returnsPromptly(t, func() { p.Abort(&backup.Session{}) })
	assert.Equal(t, backup.OpPending, op.Status())

	close(freezer.release)
	_ = op.Wait()
	assert.Equal(t, backup.OpFailed, op.Status())
	assert.Equal(t, []string{
		"freeze /", "freeze /var",
		"thaw /var", "thaw /",
	}, freezer.log())
}

func TestSnapshotDoneDuringFreezeFails(t *testing.T) {
	p, freezer, op := newGatedProvider(t)

	var err error
	returnsPromptly(t, func() { err = p.SnapshotDone(&backup.Session{}) })
	require.Error(t, err)
	assert.Equal(t, backup.StatusSyncError, backup.StatusOf(err))

	close(freezer.release)
	_ = op.Wait()
	assert.Equal(t, []string{
		"freeze /", "freeze /var",
		"thaw /var", "thaw /",
	}, freezer.log())
}
