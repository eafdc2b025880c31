package main

import (
	"context"
	"fmt"

	"github.com/lyndonlyu/ripcord/internal/session"
	"github.com/spf13/cobra"
)

var approveYes bool

var approveCmd = &cobra.Command{
	Use:   "approve [session-id]",
	Short: "Approve a rollback session awaiting execution",
	Long:  "Resume a session parked at the approval gate. The target is re-validated before execution: a session whose HEAD has moved since validation is aborted, not executed.",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprove,
}

var abortCmd = &cobra.Command{
	Use:   "abort [session-id]",
	Short: "Abort a rollback session awaiting execution",
	Args:  cobra.ExactArgs(1),
	RunE:  runAbort,
}

func init() {
	approveCmd.Flags().BoolVarP(&approveYes, "yes", "y", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(abortCmd)
}

func runApprove(cmd *cobra.Command, args []string) error {
	eng, _, err := newEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	rec, err := eng.DB().GetSession(args[0])
	if err != nil {
		return fmt.Errorf("approve: %w", err)
	}
	fmt.Printf("Session:  %s\n", rec.ID)
	fmt.Printf("Severity: %s\n", renderSeverity(rec.Severity))
	fmt.Printf("Target:   %s\n", rec.TargetRef)
	fmt.Printf("Reason:   %s\n", rec.Reason)
	if !approveYes && !confirm("Execute this rollback? [y/N] ") {
		fmt.Println("Aborted.")
		return nil
	}

	sess, err := eng.Approve(context.Background(), args[0])
	if sess != nil {
		printSessionOutcome(sess)
	}
	return err
}

func runAbort(cmd *cobra.Command, args []string) error {
	eng, _, err := newEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	sess, err := eng.AbortPending(context.Background(), args[0], "aborted by operator")
	if sess != nil {
		printSessionOutcome(sess)
	}
	if err != nil {
		return err
	}
	if sess.Status == session.Aborted {
		fmt.Println(styleDim.Render("Session aborted; no repository state was changed."))
	}
	return nil
}
