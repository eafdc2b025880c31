package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/lyndonlyu/ripcord/internal/classify"
	"github.com/lyndonlyu/ripcord/internal/engine"
	"github.com/lyndonlyu/ripcord/internal/session"
	"github.com/spf13/cobra"
)

var (
	signalSource     string
	signalConclusion string
	signalTrigger    string
	signalEmergency  bool
	signalTarget     string
	signalReason     string
	signalScope      string
)

var signalCmd = &cobra.Command{
	Use:   "signal",
	Short: "Feed a deployment failure signal into the rollback engine",
	Long:  "Classify a failure signal from a monitoring source and, when a rollback is required, run the full pipeline: validate, back up, execute, verify, report.",
	RunE:  handleSignal,
}

func init() {
	signalCmd.Flags().StringVar(&signalSource, "source", "", "Name of the failing source (workflow, check, monitor)")
	signalCmd.Flags().StringVar(&signalConclusion, "conclusion", "failure", "Signal conclusion (failure, success, cancelled)")
	signalCmd.Flags().StringVar(&signalTrigger, "trigger", "automated", "Trigger kind (automated, manual)")
	signalCmd.Flags().BoolVar(&signalEmergency, "emergency", false, "Treat as an emergency (skips approval, reports CRITICAL)")
	signalCmd.Flags().StringVar(&signalTarget, "target", "", "Rollback target ref (default: previous commit)")
	signalCmd.Flags().StringVar(&signalReason, "reason", "", "Free-form reason recorded in the incident report")
	signalCmd.Flags().StringVar(&signalScope, "scope", "application", "Rollback scope (application, database, infrastructure, full)")
	signalCmd.MarkFlagRequired("source")
	rootCmd.AddCommand(signalCmd)
}

func handleSignal(cmd *cobra.Command, args []string) error {
	scope, err := session.ParseScope(signalScope)
	if err != nil {
		return err
	}

	eng, _, err := newEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	sig := classify.Signal{
		SourceName: signalSource,
		Conclusion: signalConclusion,
		Trigger:    signalTrigger,
		Emergency:  signalEmergency,
	}

	sev, required := classify.Classify(sig)
	if !required {
		fmt.Printf("Signal from %s classified %s: no rollback required.\n", signalSource, renderSeverity(sev.String()))
		return nil
	}
	fmt.Printf("Signal from %s classified %s: rollback required.\n", signalSource, renderSeverity(sev.String()))

	if err := eng.Submit(sig, signalTarget, signalReason, scope); err != nil {
		return fmt.Errorf("queue signal: %w", err)
	}

	sessions, err := eng.Drain(context.Background())
	for _, sess := range sessions {
		printSessionOutcome(sess)
	}
	if err != nil {
		if errors.Is(err, engine.ErrSessionActive) {
			fmt.Println(styleDim.Render("Another session is active; signal remains queued."))
			return nil
		}
		return err
	}
	return nil
}

func printSessionOutcome(sess *session.Session) {
	fmt.Printf("\nSession %s\n", sess.ID)
	fmt.Printf("  Severity: %s\n", renderSeverity(sess.ReportedSeverity().String()))
	fmt.Printf("  Target:   %s\n", sess.TargetRef)

	switch sess.Status {
	case session.ReportedResolved:
		fmt.Printf("  Status:   %s\n", styleSuccess.Render(string(sess.Status)))
	case session.ReportedDegraded, session.Aborted:
		fmt.Printf("  Status:   %s\n", styleError.Render(string(sess.Status)))
	case session.AwaitingApproval:
		fmt.Printf("  Status:   %s\n", string(sess.Status))
		fmt.Printf("\nBackup committed; execution needs an operator.\nRun 'ripcord approve %s' to proceed.\n", sess.ID)
	default:
		fmt.Printf("  Status:   %s\n", string(sess.Status))
	}

	if sess.Status.Terminal() {
		fmt.Printf("  Report:   ripcord show %s\n", sess.ID)
	}
}
