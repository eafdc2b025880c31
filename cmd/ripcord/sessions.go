package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Show recent rollback sessions",
	RunE:  showSessions,
}

var sessionsLast int

func init() {
	sessionsCmd.Flags().IntVar(&sessionsLast, "last", 10, "Number of recent sessions to show")
	rootCmd.AddCommand(sessionsCmd)
}

func showSessions(cmd *cobra.Command, args []string) error {
	if sessionsLast < 1 {
		return fmt.Errorf("--last must be at least 1, got %d", sessionsLast)
	}

	eng, _, err := newEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	records, err := eng.DB().ListSessions(sessionsLast)
	if err != nil {
		return fmt.Errorf("failed to read sessions: %w", err)
	}

	if len(records) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	fmt.Printf("%-38s %-18s %-10s %-10s %-14s %s\n",
		"SESSION_ID", "STATUS", "SEVERITY", "TRIGGER", "TARGET", "STARTED")
	fmt.Println("-------------------------------------- ------------------ ---------- ---------- -------------- --------------------")

	for _, r := range records {
		target := r.TargetRef
		if len(target) > 14 {
			target = target[:14]
		}
		fmt.Printf("%-38s %-18s %-10s %-10s %-14s %s\n",
			r.ID, r.Status, r.Severity, r.Trigger, target, r.StartedAt)
	}
	return nil
}
