package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/jmorgan/crucible/internal/llm"
	"github.com/jmorgan/crucible/internal/tools"
)

const defaultSystemPrompt = `You are Crucible, a helpful AI assistant with access to tools.
When you need external information, use the available tools.
Always explain what you're doing and why. After using a tool, interpret the results for the user.`

// Agent manages a conversation and executes the ReAct loop. Its tools come
// from a fixed set of resolved runtimes: every tool call is dispatched to
// the runtime that advertised that tool.
type Agent struct {
	llm          llm.Client
	utilityLLM   llm.Client // optional, for summarization/titles
	runtimes     []tools.Runtime
	toolIndex    map[string]tools.Runtime
	defs         []llm.ToolDef
	history      []llm.Message
	maxIter      int
	maxTokens    int
	OnToolCall   func(name string, args map[string]any)
	OnToolResult func(name string, result string)
	OnTextDelta  func(delta string)
}

const defaultMaxTokens = 6000

// New creates an Agent over the given runtimes. When two runtimes advertise
// the same tool name the first one wins and the duplicate is logged.
func New(client llm.Client, runtimes []tools.Runtime, maxIterations int) *Agent {
	a := &Agent{
		llm:       client,
		runtimes:  runtimes,
		toolIndex: make(map[string]tools.Runtime),
		maxIter:   maxIterations,
		maxTokens: defaultMaxTokens,
		history: []llm.Message{
			llm.SystemMessage(defaultSystemPrompt),
		},
	}

	for _, rt := range runtimes {
		for _, def := range rt.ToolDefs() {
			if prev, ok := a.toolIndex[def.Name]; ok {
				log.Printf("agent: tool %q from %s shadowed by %s", def.Name, rt.Name(), prev.Name())
				continue
			}
			a.toolIndex[def.Name] = rt
			a.defs = append(a.defs, def)
		}
	}
	return a
}

// SetSystemPrompt overrides the default system prompt.
func (a *Agent) SetSystemPrompt(prompt string) {
	if prompt != "" {
		a.history[0] = llm.SystemMessage(prompt)
	}
}

// SetMaxTokens sets the context window token budget for history compaction.
func (a *Agent) SetMaxTokens(maxTokens int) {
	if maxTokens > 0 {
		a.maxTokens = maxTokens
	}
}

// SetUtilityLLM sets an optional lightweight LLM client for housekeeping tasks
// like summarization and title generation.
func (a *Agent) SetUtilityLLM(client llm.Client) {
	a.utilityLLM = client
}

// SetClient swaps the main conversation LLM client (for mid-session model switching).
func (a *Agent) SetClient(client llm.Client) {
	a.llm = client
}

// ToolNames lists every tool this agent can call, in advertisement order.
func (a *Agent) ToolNames() []string {
	names := make([]string, 0, len(a.defs))
	for _, def := range a.defs {
		names = append(names, def.Name)
	}
	return names
}

// compactHistory summarizes older turns when the history exceeds the token
// budget. On summarization failure it falls back to a plain trim.
func (a *Agent) compactHistory(ctx context.Context) error {
	if historyTokens(a.history) <= a.maxTokens {
		return nil
	}

	// The retained turns get 60% of the budget; the summary and whatever the
	// next turn produces share the rest.
	split := compactionSplit(a.history, a.maxTokens*60/100)
	if split <= 1 || split >= len(a.history) {
		return nil
	}

	summarizer := a.llm
	if a.utilityLLM != nil {
		summarizer = a.utilityLLM
	}
	summary, err := summarize(ctx, summarizer, a.history[1:split])
	if err != nil {
		a.trimHistory(10)
		return nil
	}

	compacted := make([]llm.Message, 0, 2+len(a.history)-split)
	compacted = append(compacted, a.history[0])
	compacted = append(compacted, llm.SystemMessage("[Prior conversation summary]\n"+summary))
	compacted = append(compacted, a.history[split:]...)
	a.history = compacted

	return nil
}

// Run sends a user message and executes the full ReAct loop.
// Returns the final assistant text response.
func (a *Agent) Run(ctx context.Context, userMessage string) (string, error) {
	a.compactHistory(ctx)
	a.history = append(a.history, llm.UserMessage(userMessage))

	for i := 0; i < a.maxIter; i++ {
		resp, err := a.llm.ChatCompletion(ctx, a.history, a.defs)
		if err != nil {
			return "", fmt.Errorf("llm call (iteration %d): %w", i+1, err)
		}

		a.history = append(a.history, resp.Message)

		// If no tool calls, the LLM is done — return the text response
		if len(resp.Message.ToolCalls) == 0 {
			return resp.Message.Content, nil
		}

		// Execute each tool call and append results
		for _, tc := range resp.Message.ToolCalls {
			if a.OnToolCall != nil {
				a.OnToolCall(tc.Name, tc.Args)
			}

			result := a.executeTool(ctx, tc)

			if a.OnToolResult != nil {
				a.OnToolResult(tc.Name, result)
			}

			a.history = append(a.history, llm.ToolResultMessage(tc.ID, result))
		}
		// Loop back — LLM will see the tool results and decide next action
	}

	return "", fmt.Errorf("agent reached max iterations (%d) without a final response", a.maxIter)
}

// RunStreaming is like Run but streams text output token-by-token via OnTextDelta.
func (a *Agent) RunStreaming(ctx context.Context, userMessage string) (string, error) {
	a.compactHistory(ctx)
	a.history = append(a.history, llm.UserMessage(userMessage))

	for i := 0; i < a.maxIter; i++ {
		resp, err := a.llm.ChatCompletionStream(ctx, a.history, a.defs, a.OnTextDelta)
		if err != nil {
			return "", fmt.Errorf("llm call (iteration %d): %w", i+1, err)
		}

		a.history = append(a.history, resp.Message)

		if len(resp.Message.ToolCalls) == 0 {
			return resp.Message.Content, nil
		}

		for _, tc := range resp.Message.ToolCalls {
			if a.OnToolCall != nil {
				a.OnToolCall(tc.Name, tc.Args)
			}

			result := a.executeTool(ctx, tc)

			if a.OnToolResult != nil {
				a.OnToolResult(tc.Name, result)
			}

			a.history = append(a.history, llm.ToolResultMessage(tc.ID, result))
		}
	}

	return "", fmt.Errorf("agent reached max iterations (%d) without a final response", a.maxIter)
}

// executeTool dispatches a tool call to the runtime that advertised it.
// Errors come back as tool result text so the LLM can react to them.
func (a *Agent) executeTool(ctx context.Context, tc llm.ToolCall) string {
	rt, ok := a.toolIndex[tc.Name]
	if !ok {
		return fmt.Sprintf("error: unknown tool %q", tc.Name)
	}
	result, err := rt.CallTool(ctx, tc.Name, tc.Args)
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	return result
}

// History returns the current conversation history (for debugging/display).
func (a *Agent) History() []llm.Message {
	return a.history
}

// HistoryJSON returns the conversation as formatted JSON (for debugging).
func (a *Agent) HistoryJSON() string {
	data, _ := json.MarshalIndent(a.history, "", "  ")
	return string(data)
}

// trimHistory keeps the conversation within reasonable bounds.
// Preserves the system message and last N messages.
func (a *Agent) trimHistory(keepLast int) {
	if len(a.history) <= keepLast+1 {
		return
	}
	system := a.history[0]
	recent := a.history[len(a.history)-keepLast:]
	a.history = append([]llm.Message{system}, recent...)
}

// SetHistory replaces the conversation history (used when resuming a session).
func (a *Agent) SetHistory(messages []llm.Message) {
	a.history = messages
}

// Reset clears conversation history (keeps system prompt).
func (a *Agent) Reset() {
	a.history = a.history[:1]
}

// String returns a summary of the agent state.
func (a *Agent) String() string {
	return fmt.Sprintf("Agent(tools=%d, history=%d messages, maxIter=%d)",
		len(a.defs), len(a.history), a.maxIter)
}

// FormatToolCall returns a human-readable string for a tool call.
func FormatToolCall(name string, args map[string]any) string {
	var parts []string
	for k, v := range args {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return fmt.Sprintf("%s(%s)", name, strings.Join(parts, ", "))
}
