package main

import (
	"fmt"

	"github.com/lyndonlyu/ripcord/internal/gc"
	"github.com/spf13/cobra"
)

var (
	gcDryRun      bool
	gcKeepReports int
	gcKeepBackups int
	gcMaxAudit    int
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Clean up old reports, backups, and audit logs",
	Long:  "Prune incident report pairs and backup snapshots beyond the retention count, and audit journal files past their age limit.",
	RunE:  runGC,
}

func init() {
	gcCmd.Flags().BoolVar(&gcDryRun, "dry-run", false, "Show what would be deleted without deleting")
	gcCmd.Flags().IntVar(&gcKeepReports, "keep-reports", 10, "Keep the N newest report pairs")
	gcCmd.Flags().IntVar(&gcKeepBackups, "keep-backups", 10, "Keep the N newest backup snapshots")
	gcCmd.Flags().IntVar(&gcMaxAudit, "max-audit", 90, "Keep audit logs for N days")
	rootCmd.AddCommand(gcCmd)
}

func runGC(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	policy := gc.Policy{
		KeepReports:  gcKeepReports,
		KeepBackups:  gcKeepBackups,
		MaxAuditDays: gcMaxAudit,
		DryRun:       gcDryRun,
	}

	if gcDryRun {
		fmt.Println("[GC] Dry run mode, no files will be deleted")
	}

	result, err := gc.Run(cfg.ReportsDir(), cfg.BackupsDir(), cfg.AuditDir(), policy)
	if err != nil {
		return fmt.Errorf("gc failed: %w", err)
	}

	if result.PairsRemoved > 0 {
		fmt.Printf("[GC] Removed %d report pairs\n", result.PairsRemoved)
	}
	if result.BackupsRemoved > 0 {
		fmt.Printf("[GC] Removed %d backup snapshots\n", result.BackupsRemoved)
	}
	if result.AuditFilesRemoved > 0 {
		fmt.Printf("[GC] Removed %d audit log files\n", result.AuditFilesRemoved)
	}

	if result.BytesFreed > 0 {
		fmt.Printf("[GC] Freed %s\n", formatBytes(result.BytesFreed))
	}

	if result.PairsRemoved == 0 && result.BackupsRemoved == 0 && result.AuditFilesRemoved == 0 {
		fmt.Println("[GC] Nothing to clean up")
	}

	return nil
}

func formatBytes(b int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
