package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/glamour"
	"github.com/lyndonlyu/ripcord/internal/report"
	"github.com/spf13/cobra"
)

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "List incident report pairs",
	RunE:  listReports,
}

var showCmd = &cobra.Command{
	Use:   "show [session-id]",
	Short: "Render an incident report in the terminal",
	Args:  cobra.ExactArgs(1),
	RunE:  showReport,
}

var showRaw bool

func init() {
	showCmd.Flags().BoolVar(&showRaw, "raw", false, "Print raw markdown without rendering")
	rootCmd.AddCommand(reportsCmd)
	rootCmd.AddCommand(showCmd)
}

func listReports(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pairs, err := report.ListPairs(cfg.ReportsDir())
	if err != nil {
		return fmt.Errorf("failed to list reports: %w", err)
	}

	if len(pairs) == 0 {
		fmt.Println("No incident reports found.")
		return nil
	}

	fmt.Printf("%-38s %s\n", "SESSION_ID", "REPORT")
	fmt.Println("-------------------------------------- ------------------------------")
	for _, p := range pairs {
		fmt.Printf("%-38s %s\n", p.SessionID, filepath.Base(p.MarkdownPath))
	}
	return nil
}

func showReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path := filepath.Join(cfg.ReportsDir(), args[0]+".md")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no report for session %s", args[0])
		}
		return err
	}

	if showRaw {
		fmt.Print(string(data))
		return nil
	}
	fmt.Print(renderMarkdown(string(data)))
	return nil
}

// renderMarkdown renders markdown text for terminal display.
func renderMarkdown(text string) string {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return out
}
