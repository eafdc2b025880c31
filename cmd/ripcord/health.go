package main

import (
	"context"
	"fmt"

	"github.com/lyndonlyu/ripcord/internal/gitrepo"
	"github.com/lyndonlyu/ripcord/internal/verify"
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run the post-rollback health checks without rolling back",
	Long:  "Execute the configured verification checks against the current repository state. Useful to confirm the checks themselves work before an incident.",
	RunE:  runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	repo, err := gitrepo.Open(cfg.Repo.Path)
	if err != nil {
		return err
	}

	verifier := verify.New(verify.BuildChecks(cfg.Checks, repo, cfg))
	rep := verifier.Run(context.Background())

	for _, res := range rep.Results {
		icon := styleSuccess.Render("[PASS]")
		switch res.Status {
		case verify.Failed:
			icon = styleError.Render("[FAIL]")
		case verify.TimedOut:
			icon = styleError.Render("[TIMEOUT]")
		}
		detail := ""
		if res.Detail != "" {
			detail = " " + styleDim.Render(res.Detail)
		}
		fmt.Printf("%s %-24s %.1fs%s\n", icon, res.Name, res.Duration.Seconds(), detail)
	}

	if !rep.Verified {
		return fmt.Errorf("%d of %d checks did not pass", len(rep.FailedChecks()), len(rep.Results))
	}
	fmt.Println(styleSuccess.Render("All checks passed."))
	return nil
}
