package main

import (
	"fmt"

	"github.com/lyndonlyu/ripcord/internal/audit"
	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent audit journal entries",
	RunE:  showAudit,
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the integrity of the audit journal hash chain",
	RunE:  verifyAudit,
}

var auditCount int

func init() {
	auditCmd.Flags().IntVarP(&auditCount, "count", "n", 20, "Number of entries to show")
	auditCmd.AddCommand(auditVerifyCmd)
	rootCmd.AddCommand(auditCmd)
}

func showAudit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	journal, err := audit.NewJournal(cfg.AuditDir())
	if err != nil {
		return fmt.Errorf("audit error: %w", err)
	}

	records, err := journal.Recent(auditCount)
	if err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}

	if len(records) == 0 {
		fmt.Println("No journal entries yet.")
		return nil
	}

	for _, r := range records {
		icon := "[OK]"
		if r.Outcome == "error" {
			icon = "[FAIL]"
		}
		sessionID := r.SessionID
		if len(sessionID) > 20 {
			sessionID = sessionID[:20]
		}
		fmt.Printf("%s %s %-20s %-10s %s\n", icon, r.Timestamp[:19], sessionID, r.Stage, r.Action)
	}
	return nil
}

func verifyAudit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	journal, err := audit.NewJournal(cfg.AuditDir())
	if err != nil {
		return fmt.Errorf("audit error: %w", err)
	}

	ok, badIndex, err := journal.Verify()
	if err != nil {
		return fmt.Errorf("verification error: %w", err)
	}
	if !ok {
		fmt.Println(styleError.Render(fmt.Sprintf("Journal chain BROKEN at record %d.", badIndex)))
		fmt.Println("Records at or after the break may have been altered or removed.")
		return fmt.Errorf("audit journal integrity check failed")
	}
	fmt.Println(styleSuccess.Render("Journal chain intact."))
	return nil
}
