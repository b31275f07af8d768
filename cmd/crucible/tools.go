package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmorgan/crucible/internal/config"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tool catalog",
	Long: `Start the configured tool servers and print the resulting catalog:
every local tool and every MCP server with its status.`,
	RunE: runTools,
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	registry, err := buildRegistry(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer registry.Close()

	infos := registry.ListTools()
	if len(infos) == 0 {
		fmt.Println("No tools configured.")
		return nil
	}

	fmt.Printf("%-40s %-14s %s\n", "NAME", "KIND", "STATUS")
	fmt.Println(strings.Repeat("─", 70))
	for _, info := range infos {
		fmt.Printf("%-40s %-14s %s\n", info.Name, info.Kind, info.Status)
	}
	return nil
}
