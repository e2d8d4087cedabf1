package main

import (
	"github.com/spf13/cobra"

	"github.com/valvemist/vmbackup/backup"
)

var abortCmd = &cobra.Command{
	Use:   "abort",
	Short: "Abort the backup session in progress",
	Args:  cobra.NoArgs,
	RunE:  runSimple(backup.CommandAbort),
}

var snapshotDoneCmd = &cobra.Command{
	Use:   "snapshot-done",
	Short: "Report the snapshot as taken so the guest can thaw",
	Args:  cobra.NoArgs,
	RunE:  runSimple(backup.CommandSnapshotDone),
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print session events as they arrive",
	Long: `Prints every session event, keep-alives excluded, until the
connection closes or, with --until-done, the session finishes.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var watchUntilDone bool

func init() {
	watchCmd.Flags().BoolVar(&watchUntilDone, "until-done", false, "exit after the terminal event")
	rootCmd.AddCommand(abortCmd, snapshotDoneCmd, watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	client, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	defer client.Close()

	if watchUntilDone {
		return waitDone(cmd, client)
	}
	for ev := range client.Events() {
		if ev.Name != backup.EventKeepAlive {
			printEvent(cmd, ev)
		}
	}
	return nil
}
