package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/valvemist/vmbackup/backup"
)

var (
	startManifests bool
	startWait      bool
)

var startCmd = &cobra.Command{
	Use:   "start [volumes...]",
	Short: "Start a backup session",
	Long: `Starts a backup session. Without volumes every eligible
filesystem is quiesced. With --wait, session events are printed until the
session finishes.`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&startManifests, "manifests", "m", false, "ask the guest to generate backup manifests")
	startCmd.Flags().BoolVarP(&startWait, "wait", "w", false, "wait for the session to finish")
	rootCmd.AddCommand(startCmd)
}

// startArgs formats the start command argument: "<0|1> [volumes]".
func startArgs(manifests bool, volumes []string) string {
	flag := "0"
	if manifests {
		flag = "1"
	}
	return flag + " " + strings.Join(volumes, " ")
}

func runStart(cmd *cobra.Command, args []string) error {
	client, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	defer client.Close()

	if err := call(cmd, client, backup.CommandStart, startArgs(startManifests, args)); err != nil {
		return err
	}
	if !startWait {
		return nil
	}
	return waitDone(cmd, client)
}
