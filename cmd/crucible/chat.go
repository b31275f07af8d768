package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/jmorgan/crucible/internal/agent"
	"github.com/jmorgan/crucible/internal/config"
	"github.com/jmorgan/crucible/internal/llm"
	"github.com/jmorgan/crucible/internal/tools"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session with an agent",
	Long: `Start an interactive conversation with a Crucible agent.
The agent can use tools to help answer your questions.

Examples:
  crucible chat
  crucible chat --agent web_agent
  crucible chat --provider ollama --model qwen3:8b`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Load agent profile if specified
	var profile *agent.Profile
	if agentFlag != "" {
		profilePath := filepath.Join(cfg.Agent.ProfilesDir, agentFlag+".yaml")
		profile, err = agent.LoadProfile(profilePath)
		if err != nil {
			return fmt.Errorf("loading profile: %w", err)
		}
	}

	providerName := providerFlag
	if providerName == "" {
		if profile != nil && profile.Provider != "" {
			providerName = profile.Provider
		} else {
			providerName = cfg.DefaultProvider
		}
	}

	provider, err := cfg.Provider(providerName)
	if err != nil {
		return err
	}

	model := modelFlag
	if model == "" {
		if profile != nil && profile.Model != "" {
			model = profile.Model
		} else {
			model = provider.Models["default"]
		}
	}

	maxIter := cfg.Agent.MaxIterations
	if profile != nil && profile.MaxIter > 0 {
		maxIter = profile.MaxIter
	}

	fmt.Printf("Crucible - Interactive Agent Chat\n")
	if profile != nil {
		fmt.Printf("Agent: %s\n", profile.Name)
	}
	fmt.Printf("Provider: %s | Model: %s\n", providerName, model)

	// Start the tool registry
	registry, err := buildRegistry(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer registry.Close()

	// Resolve the agent's tools: the profile's references, or the entire
	// catalog when no profile is given.
	refs := catalogRefs(registry)
	if profile != nil && len(profile.Tools) > 0 {
		refs = profile.Tools
	}

	runtimes, err := registry.ResolveAll(cmd.Context(), refs)
	if err != nil {
		return fmt.Errorf("resolving tools: %w", err)
	}
	defer func() {
		for _, rt := range runtimes {
			rt.Release()
		}
	}()

	fmt.Printf("Type /help for commands, /quit to exit\n\n")

	client := llm.NewClient(provider.BaseURL, provider.APIKey, model)
	a := agent.New(client, runtimes, maxIter)

	if profile != nil {
		a.SetSystemPrompt(profile.SystemPrompt)
	}

	// Wire up callbacks for display
	a.OnTextDelta = func(delta string) {
		fmt.Print(delta)
	}
	a.OnToolCall = func(name string, args map[string]any) {
		fmt.Printf("\n  \033[33m⚡ Tool: %s\033[0m\n", agent.FormatToolCall(name, args))
	}
	a.OnToolResult = func(name string, result string) {
		// Show first few lines of result
		lines := strings.Split(strings.TrimSpace(result), "\n")
		preview := lines
		if len(preview) > 8 {
			preview = preview[:8]
		}
		for _, line := range preview {
			fmt.Printf("  \033[90m│ %s\033[0m\n", line)
		}
		if len(lines) > 8 {
			fmt.Printf("  \033[90m│ ... (%d more lines)\033[0m\n", len(lines)-8)
		}
		fmt.Println()
	}

	// Set up readline for input with history
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[36myou>\033[0m ",
		HistoryFile:     "/tmp/crucible_history",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	// Per-request cancellation: Ctrl+C cancels the active LLM request,
	// not the whole app. A second Ctrl+C while idle exits.
	var reqCancel context.CancelFunc
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for range sigCh {
			if reqCancel != nil {
				reqCancel()
			}
		}
	}()

	for {
		input, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		// Handle slash commands
		if strings.HasPrefix(input, "/") {
			if handleCommand(input, a) {
				continue
			}
		}

		// Create a per-request context so Ctrl+C only cancels this request
		reqCtx, cancel := context.WithCancel(context.Background())
		reqCancel = cancel

		// Run the agent with streaming output
		fmt.Printf("\n\033[32mcrucible>\033[0m ")
		_, err = a.RunStreaming(reqCtx, input)
		wasInterrupted := reqCtx.Err() != nil
		cancel()
		reqCancel = nil

		if err != nil {
			if wasInterrupted {
				fmt.Println("\n(interrupted)")
				continue
			}
			fmt.Printf("\n\033[31merror: %s\033[0m\n\n", err)
			continue
		}

		fmt.Printf("\n\n")
	}
}

// catalogRefs turns the registry's catalog into a list of resolvable
// references, skipping servers that are not ready.
func catalogRefs(registry *tools.Registry) []string {
	var refs []string
	for _, info := range registry.ListTools() {
		if info.Status != tools.StatusReady {
			continue
		}
		refs = append(refs, info.Name)
	}
	return refs
}

func handleCommand(input string, a *agent.Agent) bool {
	switch strings.ToLower(strings.Fields(input)[0]) {
	case "/quit", "/exit", "/q":
		fmt.Println("Goodbye!")
		os.Exit(0)
	case "/reset":
		a.Reset()
		fmt.Println("Conversation reset.")
		fmt.Println()
	case "/tools":
		for _, name := range a.ToolNames() {
			fmt.Printf("  %s\n", name)
		}
		fmt.Println()
	case "/history":
		fmt.Println(a.HistoryJSON())
		fmt.Println()
	case "/help":
		fmt.Println("Commands:")
		fmt.Println("  /help     - Show this help")
		fmt.Println("  /tools    - List the agent's tools")
		fmt.Println("  /reset    - Clear conversation history")
		fmt.Println("  /history  - Show raw conversation history (JSON)")
		fmt.Println("  /quit     - Exit")
		fmt.Println()
	default:
		fmt.Printf("Unknown command: %s (try /help)\n\n", input)
	}
	return true
}
