package storage

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExportMarkdown renders a run as a markdown document.
func ExportMarkdown(r *Run) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("# Run %s\n\n", r.ID))
	b.WriteString(fmt.Sprintf("- **Agent:** %s\n", r.Agent))
	b.WriteString(fmt.Sprintf("- **Created:** %s\n", r.CreatedAt.Format("2006-01-02 15:04:05")))
	b.WriteString(fmt.Sprintf("- **Status:** %s\n", r.Status))
	b.WriteString(fmt.Sprintf("- **Duration:** %dms\n", r.DurationMS))
	if len(r.ToolsUsed) > 0 {
		b.WriteString(fmt.Sprintf("- **Tools:** %s\n", strings.Join(r.ToolsUsed, ", ")))
	}
	b.WriteString("\n---\n\n")

	b.WriteString(fmt.Sprintf("## You\n\n%s\n\n", r.Message))
	if r.Response != "" {
		b.WriteString(fmt.Sprintf("## Crucible\n\n%s\n\n", r.Response))
	}
	if r.Error != "" {
		b.WriteString(fmt.Sprintf("**Error:** %s\n", r.Error))
	}

	return b.String()
}

// ExportJSON renders a run as formatted JSON.
func ExportJSON(r *Run) ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
