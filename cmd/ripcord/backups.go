package main

import (
	"context"
	"fmt"
	"time"

	"github.com/lyndonlyu/ripcord/internal/backup"
	"github.com/lyndonlyu/ripcord/internal/gitrepo"
	"github.com/spf13/cobra"
)

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "Manage pre-rollback backup snapshots",
}

var backupsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backup snapshots",
	RunE:  listBackups,
}

var backupsRestoreCmd = &cobra.Command{
	Use:   "restore [backup-id]",
	Short: "Restore the repository from a backup snapshot",
	Long:  "Verify the snapshot bundle and reset the working tree to the state captured before a rollback executed.",
	Args:  cobra.ExactArgs(1),
	RunE:  restoreBackup,
}

var restoreYes bool

func init() {
	backupsRestoreCmd.Flags().BoolVarP(&restoreYes, "yes", "y", false, "Skip the confirmation prompt")
	backupsCmd.AddCommand(backupsListCmd)
	backupsCmd.AddCommand(backupsRestoreCmd)
	rootCmd.AddCommand(backupsCmd)
}

func listBackups(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	mgr := backup.NewManager(nil, cfg.BackupsDir(), 0)

	snaps, err := mgr.List()
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}

	if len(snaps) == 0 {
		fmt.Println("No backups found.")
		return nil
	}

	fmt.Printf("%-32s %-38s %-14s %s\n", "BACKUP_ID", "SESSION_ID", "SOURCE", "CREATED")
	fmt.Println("-------------------------------- -------------------------------------- -------------- --------------------")
	for _, s := range snaps {
		source := s.SourceRef
		if len(source) > 14 {
			source = source[:14]
		}
		fmt.Printf("%-32s %-38s %-14s %s\n",
			s.ID, s.SessionID, source, s.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func restoreBackup(cmd *cobra.Command, args []string) error {
	backupID := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	repo, err := gitrepo.Open(cfg.Repo.Path)
	if err != nil {
		return err
	}
	mgr := backup.NewManager(repo, cfg.BackupsDir(), time.Duration(cfg.Backup.TimeoutSeconds)*time.Second)

	snap, err := mgr.Load(backupID)
	if err != nil {
		return err
	}

	if !restoreYes && !confirm(fmt.Sprintf("Restore %s (source %s)? This resets the working tree. [y/N] ", backupID, snap.SourceRef[:12])) {
		fmt.Println("Aborted.")
		return nil
	}

	fmt.Printf("Restoring backup %s...\n", backupID)
	if err := mgr.Restore(context.Background(), backupID); err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}
	fmt.Println(styleSuccess.Render("Backup restored successfully."))
	return nil
}
