package main

import (
	"errors"
	"fmt"

	"github.com/lyndonlyu/ripcord/internal/filelock"
	"github.com/lyndonlyu/ripcord/internal/session"
	"github.com/lyndonlyu/ripcord/internal/statedb"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine status: active session, lock, kill switch, queue",
	RunE:  showStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func showStatus(cmd *cobra.Command, args []string) error {
	eng, cfg, err := newEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	rec, err := eng.DB().ActiveSession()
	switch {
	case err == nil:
		status := session.Status(rec.Status)
		fmt.Printf("Active session: %s\n", rec.ID)
		fmt.Printf("  Status:   %s\n", status)
		fmt.Printf("  Severity: %s\n", renderSeverity(rec.Severity))
		fmt.Printf("  Target:   %s\n", rec.TargetRef)
		if status == session.AwaitingApproval {
			fmt.Printf("  Run 'ripcord approve %s' or 'ripcord abort %s'.\n", rec.ID, rec.ID)
		}
	case errors.Is(err, statedb.ErrNotFound):
		fmt.Println("No active session.")
	default:
		return err
	}

	if meta, err := filelock.HolderMeta(cfg.BaseDir, cfg.Repo.Path); err == nil {
		stale := ""
		if filelock.IsStale(cfg.BaseDir, cfg.Repo.Path) {
			stale = styleDim.Render(" (stale: holder process is gone)")
		}
		fmt.Printf("Repository lock: held by PID %d since %s%s\n", meta.PID, meta.Timestamp, stale)
	} else {
		fmt.Println("Repository lock: free")
	}

	ks := eng.KillSwitch()
	if ks.IsActive() {
		fmt.Printf("Kill switch: %s (%s)\n", styleError.Render("ACTIVE"), ks.Reason())
	} else {
		fmt.Println("Kill switch: inactive")
	}

	stats := eng.PendingStats()
	fmt.Printf("Pending signals: %d (%d urgent)\n", stats.Total, stats.Urgent)
	return nil
}
