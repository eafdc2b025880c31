package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/lyndonlyu/ripcord/internal/engine"
	"github.com/lyndonlyu/ripcord/internal/session"
	"github.com/spf13/cobra"
)

var (
	rollbackReason    string
	rollbackScope     string
	rollbackEmergency bool
	rollbackYes       bool
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback [target-ref]",
	Short: "Manually roll the repository back to a target ref",
	Long:  "Run the rollback pipeline against an explicit target: validate ancestry, commit a backup snapshot, move the branch, verify, and write the incident report.",
	Args:  cobra.ExactArgs(1),
	RunE:  runRollback,
}

func init() {
	rollbackCmd.Flags().StringVar(&rollbackReason, "reason", "", "Reason recorded in the incident report")
	rollbackCmd.Flags().StringVar(&rollbackScope, "scope", "application", "Rollback scope (application, database, infrastructure, full)")
	rollbackCmd.Flags().BoolVar(&rollbackEmergency, "emergency", false, "Emergency rollback (reports CRITICAL)")
	rollbackCmd.Flags().BoolVarP(&rollbackYes, "yes", "y", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(rollbackCmd)
}

func runRollback(cmd *cobra.Command, args []string) error {
	target := args[0]

	scope, err := session.ParseScope(rollbackScope)
	if err != nil {
		return err
	}
	if rollbackReason == "" {
		rollbackReason = "manual rollback requested by operator"
	}

	if !rollbackYes && !confirm(fmt.Sprintf("Roll back to %s? This rewrites history. [y/N] ", target)) {
		fmt.Println("Aborted.")
		return nil
	}

	eng, _, err := newEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	sess, err := eng.Rollback(context.Background(), engine.Request{
		TargetRef: target,
		Reason:    rollbackReason,
		Scope:     scope,
		Trigger:   session.TriggerManual,
		Emergency: rollbackEmergency,
	})
	if sess != nil {
		printSessionOutcome(sess)
	}
	return err
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
