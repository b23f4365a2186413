package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/actionbridge/actionbridge/internal/adapter/outbound/state"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running gateway",
	Long: `Stop a running ActionBridge gateway by reading its PID from the
runtime state file and sending SIGTERM.

Examples:
  # Stop the gateway started from this directory
  actionbridge stop

  # Stop a gateway using a specific state file
  actionbridge --state /var/run/actionbridge/runtime.json stop`,
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	statePath := resolveStatePath()
	store := state.NewStore(statePath, slog.New(slog.NewTextHandler(io.Discard, nil)))

	st, err := store.Load()
	if err != nil {
		return fmt.Errorf("loading runtime state: %w", err)
	}
	if !st.Running() {
		return fmt.Errorf("no running gateway recorded in %s", statePath)
	}

	proc, err := os.FindProcess(st.PID)
	if err != nil {
		_ = store.Clear()
		return fmt.Errorf("invalid PID %d: %w", st.PID, err)
	}
	if !processIsAlive(proc) {
		_ = store.Clear()
		return fmt.Errorf("gateway process %d is not running (stale state cleared)", st.PID)
	}

	fmt.Fprintf(os.Stderr, "Stopping ActionBridge gateway (PID %d)...\n", st.PID)
	if err := sendGracefulStop(proc); err != nil {
		return fmt.Errorf("stopping gateway: %w", err)
	}

	// Poll every 200ms, up to 10s, then force kill.
	for i := 0; i < 50; i++ {
		time.Sleep(200 * time.Millisecond)
		if !processIsAlive(proc) {
			_ = store.Clear()
			fmt.Fprintln(os.Stderr, "Gateway stopped.")
			return nil
		}
	}

	fmt.Fprintln(os.Stderr, "Gateway did not stop gracefully, sending SIGKILL...")
	_ = proc.Kill()
	_ = store.Clear()
	fmt.Fprintln(os.Stderr, "Gateway killed.")
	return nil
}
