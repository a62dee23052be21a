package agent

import (
	"encoding/json"
	"regexp"
	"slices"
	"strings"

	providertypes "zeroclaw/pkg/provider/types"
)

// ToolCall is one parsed tool invocation.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResultsPrefix starts the synthetic user turn that carries tool output.
const ToolResultsPrefix = "[Tool results]"

var (
	toolCallBlock    = regexp.MustCompile(`(?s)<tool_call>(.*?)</tool_call>`)
	danglingToolCall = regexp.MustCompile(`(?s)<tool_call>.*$`)
	toolResultBlock  = regexp.MustCompile(`(?s)<tool_result>.*?</tool_result>`)
	strayToolTag     = regexp.MustCompile(`</?tool_(call|result)>`)
	blankRun         = regexp.MustCompile(`\n{3,}`)
)

// ParseToolCalls extracts tool-call blocks from text and returns the text with
// the blocks removed. Blocks whose body is not valid JSON are dropped.
func ParseToolCalls(text string) (string, []ToolCall) {
	var calls []ToolCall
	for _, m := range toolCallBlock.FindAllStringSubmatch(text, -1) {
		var call ToolCall
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &call); err != nil {
			continue
		}
		call.Name = strings.TrimSpace(call.Name)
		if call.Name == "" {
			continue
		}
		if call.Arguments == nil {
			call.Arguments = map[string]any{}
		}
		calls = append(calls, call)
	}
	rest := toolCallBlock.ReplaceAllString(text, "")
	return strings.TrimSpace(rest), calls
}

// SanitizeResponse strips tool-call markup and raw tool-call JSON that leaked
// into a final reply.
func SanitizeResponse(text string, toolNames []string) string {
	text = toolCallBlock.ReplaceAllString(text, "")
	text = toolResultBlock.ReplaceAllString(text, "")
	text = danglingToolCall.ReplaceAllString(text, "")
	text = strayToolTag.ReplaceAllString(text, "")

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if isLeakedToolJSON(strings.TrimSpace(line), toolNames) {
			continue
		}
		kept = append(kept, line)
	}
	text = strings.Join(kept, "\n")
	text = blankRun.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func isLeakedToolJSON(line string, toolNames []string) bool {
	if !strings.HasPrefix(line, "{") || !strings.HasSuffix(line, "}") {
		return false
	}
	var head struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(line), &head); err != nil {
		return false
	}
	if head.Arguments == nil {
		return false
	}
	return slices.Contains(toolNames, head.Name)
}

// ToolContextSummary lists the tools called by assistant turns at or after
// from, as "[Used tools: a, b]". It returns "" when no tools ran.
func ToolContextSummary(history []providertypes.ChatMessage, from int) string {
	if from < 0 {
		from = 0
	}
	var names []string
	for _, m := range history[min(from, len(history)):] {
		if m.Role != providertypes.RoleAssistant {
			continue
		}
		_, calls := ParseToolCalls(m.Content)
		for _, c := range calls {
			if !slices.Contains(names, c.Name) {
				names = append(names, c.Name)
			}
		}
	}
	if len(names) == 0 {
		return ""
	}
	return "[Used tools: " + strings.Join(names, ", ") + "]"
}
