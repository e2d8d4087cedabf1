// Package main provides vmbackupctl, a requester for the vmbackupd daemon.
//
// It speaks the control websocket protocol: every subcommand sends one
// command and prints the daemon's reply, and watch streams session events.
//
//	vmbackupctl start --manifests --wait /var /home
//	vmbackupctl snapshot-done
//	vmbackupctl abort
//	vmbackupctl watch
package main
