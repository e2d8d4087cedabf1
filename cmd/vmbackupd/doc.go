// Package main provides the vmbackupd daemon.
//
// vmbackupd owns the guest side of a backup: it accepts vmbackup.start,
// vmbackup.abort and vmbackup.snapshotDone commands from a requester over a
// websocket, runs the backup scripts, quiesces I/O through the configured
// sync provider (a QEMU guest over QMP, or the host's filesystems through
// FIFREEZE) and reports progress back as events.
//
// Usage:
//
//	vmbackupd -config /etc/vmbackup/vmbackupd.yaml [-v]
//
// A minimal configuration:
//
//	listen: 127.0.0.1:7070
//	provider:
//	  type: qemu
//	  socket: /run/qemu/vm0.qmp
//
// For the state machine, see the backup package.
package main
