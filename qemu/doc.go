// Package qemu provides a backup.SyncProvider that quiesces a QEMU guest
// through QMP (QEMU Machine Protocol).
//
// Start issues "stop" and hands the session a QemuPause suboperation that
// polls "query-status" until the guest reports "paused", or until a STOP
// event arrives on the monitor. SnapshotDone and Abort issue "cont".
//
// Example usage:
//
//	monitor, _ := qmp.NewSocketMonitor("unix", "/tmp/qmp-socket", 2*time.Second)
//	_ = monitor.Connect()
//	provider := qemu.New(monitor, qemu.Config{PauseTimeout: 30 * time.Second})
//	defer provider.Release()
//
// Commands are built with sjson and replies read with gjson; see
// jsonbuilder.go and ops.go.
package qemu
