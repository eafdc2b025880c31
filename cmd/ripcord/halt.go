package main

import (
	"fmt"
	"strings"

	"github.com/lyndonlyu/ripcord/internal/killswitch"
	"github.com/spf13/cobra"
)

var haltCmd = &cobra.Command{
	Use:   "halt [reason]",
	Short: "Activate the kill switch to block destructive execution",
	RunE:  activateKillSwitch,
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Deactivate the kill switch and allow rollbacks to execute",
	RunE:  deactivateKillSwitch,
}

func init() {
	rootCmd.AddCommand(haltCmd)
	rootCmd.AddCommand(resumeCmd)
}

func activateKillSwitch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	w := killswitch.New(cfg.KillSwitchPath())

	if w.IsActive() {
		fmt.Printf("Kill switch already active at %s\n", w.Path())
		return nil
	}

	reason := "manual activation"
	if len(args) > 0 {
		reason = strings.Join(args, " ")
	}

	if err := w.Activate(reason); err != nil {
		return fmt.Errorf("failed to activate kill switch: %w", err)
	}

	fmt.Printf("Kill switch ACTIVATED at %s\n", w.Path())
	fmt.Printf("Reason: %s\n", reason)
	fmt.Println("New rollback sessions will abort before executing.")
	fmt.Println("Use 'ripcord resume' to deactivate.")
	return nil
}

func deactivateKillSwitch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	w := killswitch.New(cfg.KillSwitchPath())

	if !w.IsActive() {
		fmt.Println("No kill switch active.")
		return nil
	}

	if err := w.Clear(); err != nil {
		return fmt.Errorf("failed to deactivate kill switch: %w", err)
	}

	fmt.Println("Kill switch DEACTIVATED. Rollbacks may execute.")
	return nil
}
