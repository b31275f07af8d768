package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmorgan/crucible/internal/llm"
)

// Budget arithmetic runs on a chars/4 approximation; compaction only needs
// to land in the right ballpark.
const charsPerToken = 4

func messageTokens(m llm.Message) int {
	chars := len(m.Content)
	for _, tc := range m.ToolCalls {
		chars += len(tc.Name)
		if args, err := json.Marshal(tc.Args); err == nil {
			chars += len(args)
		}
	}
	if chars < charsPerToken {
		chars = charsPerToken // role framing is never free
	}
	return chars / charsPerToken
}

func historyTokens(messages []llm.Message) int {
	total := 0
	for _, m := range messages {
		total += messageTokens(m)
	}
	return total
}

// turnStarts returns the index of every user message past the system prompt.
// A turn runs from one user message to the next, so an assistant tool call
// and its results always travel together.
func turnStarts(messages []llm.Message) []int {
	var starts []int
	for i := 1; i < len(messages); i++ {
		if messages[i].Role == llm.RoleUser {
			starts = append(starts, i)
		}
	}
	return starts
}

// compactionSplit picks where the retained tail of the history begins: the
// newest turn always survives, older turns survive while they fit the
// budget, and the oldest turn is always given up for summarization. Returns
// len(messages) when there is nothing to compact.
func compactionSplit(messages []llm.Message, budget int) int {
	starts := turnStarts(messages)
	if len(starts) < 2 {
		return len(messages)
	}

	split := starts[len(starts)-1]
	tokens := historyTokens(messages[split:])
	for i := len(starts) - 2; i >= 1; i-- {
		cost := historyTokens(messages[starts[i]:starts[i+1]])
		if tokens+cost > budget {
			break
		}
		tokens += cost
		split = starts[i]
	}
	return split
}

const maxSummaryChars = 4000

// summarize condenses older turns into a short plain-text digest, keeping
// the facts and tool results later turns may still rely on.
func summarize(ctx context.Context, client llm.Client, messages []llm.Message) (string, error) {
	var transcript strings.Builder
	for _, m := range messages {
		switch {
		case m.Role == llm.RoleTool:
			fmt.Fprintf(&transcript, "result[%s]: %s\n", m.ToolCallID, m.Content)
		case len(m.ToolCalls) > 0:
			for _, tc := range m.ToolCalls {
				fmt.Fprintf(&transcript, "%s called %s\n", m.Role, FormatToolCall(tc.Name, tc.Args))
			}
			if m.Content != "" {
				fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
			}
		default:
			fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
		}
	}

	prompt := []llm.Message{
		llm.SystemMessage("Condense the conversation excerpt below. Keep decisions, facts, " +
			"the names of tools that ran, and any tool output later turns may still depend on. " +
			"Output only the summary."),
		llm.UserMessage(transcript.String()),
	}

	resp, err := client.ChatCompletion(ctx, prompt, nil)
	if err != nil {
		return "", fmt.Errorf("summarizing history: %w", err)
	}

	summary := resp.Message.Content
	if len(summary) > maxSummaryChars {
		summary = summary[:maxSummaryChars] + " (truncated)"
	}
	return summary, nil
}
