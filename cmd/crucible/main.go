package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	providerFlag string
	modelFlag    string
	agentFlag    string
)

var rootCmd = &cobra.Command{
	Use:   "crucible",
	Short: "Crucible - Agentic AI platform with an MCP tool registry",
	Long: `Crucible runs AI agents whose tools come from a shared registry:
in-process tools plus MCP servers launched as subprocesses. Agents declare
their tools by reference ("DuckDuckGoTools", "mcp:custom_tools",
"mcp:custom_tools[generate_id]") and the registry resolves them against
live server connections.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&providerFlag, "provider", "", "LLM provider (ollama, claude, gemini)")
	rootCmd.PersistentFlags().StringVar(&modelFlag, "model", "", "Model to use (overrides config)")
	rootCmd.PersistentFlags().StringVar(&agentFlag, "agent", "", "Agent profile to use (e.g. web_agent)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
