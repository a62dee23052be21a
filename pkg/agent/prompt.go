package agent

import (
	"strings"

	"zeroclaw/pkg/agent/profile"
)

// BuildSystemPrompt assembles the system prompt for one conversation: the
// configured prompt (or the provider's default profile), tool instructions
// and channel delivery notes.
func BuildSystemPrompt(configured, provider, channel string, tools []Tool) (string, error) {
	base := strings.TrimSpace(configured)
	if base == "" {
		resolved, err := profile.System(provider)
		if err != nil {
			return "", err
		}
		base = resolved
	}

	parts := make([]string, 0, 3)
	if base != "" {
		parts = append(parts, base)
	}
	if instructions := ToolInstructions(tools); instructions != "" {
		parts = append(parts, instructions)
	}
	if note := profile.ChannelNote(channel); note != "" {
		parts = append(parts, "## Channel\n"+note)
	}
	return strings.Join(parts, "\n\n"), nil
}

// ToolInstructions explains the tool-call format and lists tools.
func ToolInstructions(tools []Tool) string {
	if len(tools) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Tools\n")
	b.WriteString("To use a tool, reply with one block per call and nothing else:\n")
	b.WriteString(`<tool_call>{"name": "tool_name", "arguments": {}}</tool_call>`)
	b.WriteString("\nResults come back in a message starting with ")
	b.WriteString(ToolResultsPrefix)
	b.WriteString(". When you are done, reply to the user normally.\n\nAvailable tools:")
	for _, t := range tools {
		b.WriteString("\n- ")
		b.WriteString(t.Name())
		b.WriteString(": ")
		b.WriteString(t.Description())
		b.WriteString(" Arguments: ")
		b.WriteString(t.Parameters())
	}
	return b.String()
}
