package main

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/spf13/cobra"

	"github.com/valvemist/vmbackup/backup"
	"github.com/valvemist/vmbackup/control"
)

var (
	daemonURL   string
	daemonToken string
	callTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "vmbackupctl",
	Short: "Drive guest backups through vmbackupd",
	Long: `vmbackupctl sends backup commands to a running vmbackupd and
prints its replies and session events.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&daemonURL, "url", "ws://127.0.0.1:7070"+control.Path, "daemon websocket URL")
	rootCmd.PersistentFlags().StringVar(&daemonToken, "token", "", "bearer token")
	rootCmd.PersistentFlags().DurationVar(&callTimeout, "timeout", 10*time.Second, "timeout for connecting and for each reply")
}

func connect(ctx context.Context) (*control.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return control.Dial(ctx, daemonURL, daemonToken)
}

// call sends one command and prints the reply. A refused command is an error.
func call(cmd *cobra.Command, client *control.Client, command, args string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), callTimeout)
	defer cancel()
	reply, err := client.Call(ctx, command, args)
	if err != nil {
		return errors.Trace(err)
	}
	if !reply.OK {
		return errors.Errorf("%s refused: %s", command, reply.Message)
	}
	cmd.Printf("%s: ok\n", command)
	return nil
}

// runSimple returns a RunE sending a command without arguments.
func runSimple(command string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		client, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()
		return call(cmd, client, command, "")
	}
}

func printEvent(cmd *cobra.Command, ev control.Event) {
	if ev.Message == "" {
		cmd.Printf("%s %s code=%d (%s)\n", ev.Session, ev.Name, ev.Code, ev.Code)
		return
	}
	cmd.Printf("%s %s code=%d (%s): %s\n", ev.Session, ev.Name, ev.Code, ev.Code, ev.Message)
}

// waitDone prints events until the terminal one and returns its status as
// an error when it is not a success.
func waitDone(cmd *cobra.Command, client *control.Client) error {
	for ev := range client.Events() {
		if ev.Name == backup.EventKeepAlive {
			continue
		}
		printEvent(cmd, ev)
		if ev.Name != backup.EventRequestorDone {
			continue
		}
		if ev.Code != backup.StatusSuccess {
			return errors.Errorf("backup failed: %s", ev.Code)
		}
		return nil
	}
	return errors.New("connection closed before the backup finished")
}
