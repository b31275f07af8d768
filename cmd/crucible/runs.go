package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmorgan/crucible/internal/config"
	"github.com/jmorgan/crucible/internal/storage"
	"github.com/jmorgan/crucible/internal/storage/sqlite"
)

var (
	agentFilter  string
	statusFilter string
	limitFlag    int
	exportFormat string
	exportOutput string
	forceFlag    bool
)

var runsCmd = &cobra.Command{
	Use:     "runs",
	Aliases: []string{"run", "r"},
	Short:   "Manage agent run history",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved runs",
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show run details",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsDelete,
}

var runsExportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export a run as markdown or JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsExport,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsDeleteCmd, runsExportCmd)

	runsListCmd.Flags().StringVar(&agentFilter, "agent", "", "Filter by agent name")
	runsListCmd.Flags().StringVar(&statusFilter, "status", "", "Filter by status (completed, failed)")
	runsListCmd.Flags().IntVar(&limitFlag, "limit", 20, "Max runs to show")

	runsExportCmd.Flags().StringVar(&exportFormat, "format", "md", "Export format: md or json")
	runsExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")

	runsDeleteCmd.Flags().BoolVar(&forceFlag, "force", false, "Skip confirmation")
}

func openStore() (storage.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return sqlite.Open(cfg.Storage.DBPath)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	opts := storage.RunListOptions{
		Agent:  agentFilter,
		Status: storage.RunStatus(statusFilter),
		Limit:  limitFlag,
	}

	runs, err := store.ListRuns(context.Background(), opts)
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("No runs found.")
		return nil
	}

	// Header
	fmt.Printf("%-10s %-12s %-20s %-40s %s\n", "ID", "STATUS", "AGENT", "MESSAGE", "WHEN")
	fmt.Println(strings.Repeat("─", 100))

	for _, r := range runs {
		message := r.Message
		if len(message) > 38 {
			message = message[:38] + ".."
		}

		agentName := r.Agent
		if len(agentName) > 18 {
			agentName = agentName[:18] + ".."
		}

		fmt.Printf("%-10s %-12s %-20s %-40s %s\n",
			r.ID[:8], r.Status, agentName, message, timeAgo(r.CreatedAt))
	}

	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := store.GetRun(context.Background(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Run:      %s\n", run.ID)
	fmt.Printf("Agent:    %s\n", run.Agent)
	fmt.Printf("Status:   %s\n", run.Status)
	fmt.Printf("Created:  %s\n", run.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Duration: %dms\n", run.DurationMS)
	if len(run.ToolsUsed) > 0 {
		fmt.Printf("Tools:    %s\n", strings.Join(run.ToolsUsed, ", "))
	}
	fmt.Println(strings.Repeat("─", 60))

	fmt.Printf("\n\033[36myou>\033[0m %s\n", run.Message)
	if run.Response != "" {
		fmt.Printf("\n\033[32mcrucible>\033[0m %s\n", run.Response)
	}
	if run.Error != "" {
		fmt.Printf("\n\033[31merror: %s\033[0m\n", run.Error)
	}

	return nil
}

func runRunsDelete(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	run, err := store.GetRun(ctx, args[0])
	if err != nil {
		return err
	}

	if !forceFlag {
		fmt.Printf("Delete run %s (%s)? [y/N] ", run.ID[:8], run.Agent)
		var confirm string
		fmt.Scanln(&confirm)
		if strings.ToLower(confirm) != "y" {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	if err := store.DeleteRun(ctx, run.ID); err != nil {
		return err
	}
	fmt.Printf("Deleted run %s\n", run.ID[:8])
	return nil
}

func runRunsExport(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := store.GetRun(context.Background(), args[0])
	if err != nil {
		return err
	}

	var output string
	switch exportFormat {
	case "json":
		data, err := storage.ExportJSON(run)
		if err != nil {
			return err
		}
		output = string(data)
	default:
		output = storage.ExportMarkdown(run)
	}

	if exportOutput != "" {
		return os.WriteFile(exportOutput, []byte(output), 0o644)
	}

	fmt.Print(output)
	return nil
}

func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
