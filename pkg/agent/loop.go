package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	providertypes "zeroclaw/pkg/provider/types"
	"zeroclaw/pkg/security"
)

// DraftClearSentinel on the delta stream tells draft renderers to drop the
// text accumulated so far.
const DraftClearSentinel = "\x00__DRAFT_CLEAR__\x00"

// ErrLoopCancelled is returned when the caller cancels a running tool loop.
var ErrLoopCancelled = fmt.Errorf("tool loop cancelled: %w", context.Canceled)

const toolLimitNotice = "[Tool limit reached] Reply to the user now using the results above. Do not call any more tools."

// Chatter is the provider surface the loop needs.
type Chatter interface {
	Chat(ctx context.Context, req providertypes.Request) (providertypes.Response, error)
}

// LoopRequest is one run of the tool loop.
type LoopRequest struct {
	Provider      Chatter
	History       []providertypes.ChatMessage
	Model         string
	Temperature   float64
	MaxTokens     int
	Tools         []Tool
	Guard         *security.Guard
	MaxIterations int
	// Deltas receives streamed text, and DraftClearSentinel before each
	// round after the first. The loop never closes it.
	Deltas chan<- string
}

// LoopResult carries the final reply and the working history, including the
// assistant tool-call turns and tool result turns the loop appended.
type LoopResult struct {
	Text     string
	History  []providertypes.ChatMessage
	Metadata providertypes.PromptMetadata
}

// RunToolLoop calls the provider, runs any tools it asks for and feeds the
// results back, up to MaxIterations rounds. req.History is not modified.
func RunToolLoop(ctx context.Context, req LoopRequest) (LoopResult, error) {
	history := append([]providertypes.ChatMessage(nil), req.History...)
	iterations := max(req.MaxIterations, 1)

	for round := 0; ; round++ {
		if round > 0 {
			if err := sendDelta(ctx, req.Deltas, DraftClearSentinel); err != nil {
				return LoopResult{}, err
			}
		}

		resp, err := req.Provider.Chat(ctx, providertypes.Request{
			Messages:    history,
			Model:       req.Model,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
			Deltas:      req.Deltas,
		})
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled) {
				return LoopResult{}, ErrLoopCancelled
			}
			return LoopResult{}, err
		}

		_, calls := ParseToolCalls(resp.Text)
		if len(calls) == 0 || round >= iterations {
			return LoopResult{Text: resp.Text, History: history, Metadata: resp.Metadata}, nil
		}

		history = append(history, providertypes.Assistant(resp.Text))
		results := runTools(ctx, req, calls)
		if round+1 >= iterations {
			results += "\n\n" + toolLimitNotice
		}
		history = append(history, providertypes.User(results))
	}
}

func runTools(ctx context.Context, req LoopRequest, calls []ToolCall) string {
	var b strings.Builder
	b.WriteString(ToolResultsPrefix)
	for _, call := range calls {
		b.WriteString("\n<tool_result name=\"")
		b.WriteString(call.Name)
		b.WriteString("\">\n")
		b.WriteString(runTool(ctx, req, call))
		b.WriteString("\n</tool_result>")
	}
	return b.String()
}

func runTool(ctx context.Context, req LoopRequest, call ToolCall) string {
	var tool Tool
	for _, t := range req.Tools {
		if t.Name() == call.Name {
			tool = t
			break
		}
	}
	if tool == nil {
		return fmt.Sprintf("Error: unknown tool %q", call.Name)
	}

	args, _ := json.Marshal(call.Arguments)
	providertypes.EmitToolEvent(ctx, providertypes.ToolEvent{Kind: providertypes.ToolEventCall, Tool: call.Name, Payload: string(args)})

	if err := req.Guard.Authorize(call.Name, tool.Mutating()); err != nil {
		providertypes.EmitToolEvent(ctx, providertypes.ToolEvent{Kind: providertypes.ToolEventResult, Tool: call.Name, Payload: err.Error(), Failed: true})
		return "Error: " + err.Error()
	}

	startedAt := time.Now()
	out, err := execute(ctx, tool, call.Arguments)
	elapsed := time.Since(startedAt).Milliseconds()
	if err != nil {
		providertypes.EmitToolEvent(ctx, providertypes.ToolEvent{Kind: providertypes.ToolEventResult, Tool: call.Name, Payload: err.Error(), Failed: true, DurationMs: elapsed})
		return "Error: " + err.Error()
	}
	providertypes.EmitToolEvent(ctx, providertypes.ToolEvent{Kind: providertypes.ToolEventResult, Tool: call.Name, Payload: out, DurationMs: elapsed})
	return out
}

// execute runs one tool and reports a panic as an ordinary tool error.
func execute(ctx context.Context, tool Tool, args map[string]any) (out string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out, err = "", fmt.Errorf("tool %s panicked: %v", tool.Name(), rec)
		}
	}()
	return tool.Execute(ctx, args)
}

func sendDelta(ctx context.Context, deltas chan<- string, delta string) error {
	if deltas == nil {
		return nil
	}
	select {
	case deltas <- delta:
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			return ErrLoopCancelled
		}
		return ctx.Err()
	}
}
