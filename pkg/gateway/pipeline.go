package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"zeroclaw/pkg/agent"
	"zeroclaw/pkg/bus"
	"zeroclaw/pkg/channel"
	"zeroclaw/pkg/hooks"
	"zeroclaw/pkg/memory"
	providertypes "zeroclaw/pkg/provider/types"
)

const (
	reactionReceived = "\U0001F440"
	reactionDone     = "✅"
	reactionWarning  = "⚠️"

	malformedReplyText    = "I encountered malformed tool-call output and could not produce a safe reply. Please try again."
	overflowCompactedText = "⚠️ Context window exceeded for this conversation. I compacted recent history and kept the latest context. Please resend your last message."
	overflowText          = "⚠️ Context window exceeded for this conversation. Please resend your last message."
	timeoutReplyText      = "⚠️ Request timed out while waiting for the model. Please try again."

	// Channels that reject history turns with the tool summary prefix.
	noToolSummaryChannel = "telegram"
)

type loopOutcome struct {
	result agent.LoopResult
	err    error
}

// exchange is the state of one message as it moves through the pipeline.
type exchange struct {
	msg       bus.ChannelMessage
	requestID string
	key       string
	route     Route
	target    channel.Channel
	draftID   string
	startedAt time.Time
	log       *slog.Logger
}

func (x *exchange) elapsedMs() string {
	return strconv.FormatInt(time.Since(x.startedAt).Milliseconds(), 10)
}

// ProcessMessage runs one inbound message through hooks, routing, the tool
// loop and delivery. Cancelling ctx supersedes the message: an open draft is
// cancelled and the conversation history is left as is.
func (rc *RuntimeContext) ProcessMessage(ctx context.Context, msg bus.ChannelMessage) {
	if ctx.Err() != nil {
		return
	}

	x := &exchange{
		msg:       msg,
		requestID: uuid.NewString(),
		startedAt: time.Now(),
	}
	x.log = rc.log.With("channel", msg.Channel, "sender", msg.Sender, "message_id", msg.ID, "request_id", x.requestID)
	x.log.Info("Inbound message", "preview", truncateWithEllipsis(msg.Content, 80))
	rc.publish(ctx, bus.Event{
		Type:      bus.EventMessageInbound,
		Channel:   msg.Channel,
		Sender:    msg.Sender,
		MessageID: msg.ID,
		RequestID: x.requestID,
		Payload: map[string]string{
			"reply_target":    msg.ReplyTarget,
			"content_preview": truncateWithEllipsis(msg.Content, 160),
		},
	})

	received := rc.hooks.RunMessageReceived(ctx, msg)
	if received.Cancelled {
		x.log.Info("Incoming message dropped by hook", "reason", received.Reason)
		return
	}
	msg = received.Value
	x.msg = msg

	// Delivery and reactions outlive an interruption.
	deliverCtx := context.WithoutCancel(ctx)
	x.target, _ = rc.channels.Get(msg.Channel)

	if rc.handleCommand(deliverCtx, msg, x.target) {
		return
	}

	x.key = historyKey(msg)
	x.route = rc.Route(x.key)
	defaults := rc.Defaults()
	active, err := rc.providerFor(x.route.Provider)
	if err != nil {
		safe := providertypes.SanitizeAPIError(err.Error())
		x.log.Error("Failed to initialize provider", "provider", x.route.Provider, "error", safe)
		rc.send(deliverCtx, x, fmt.Sprintf("⚠️ Failed to initialize provider `%s`. Please run `/models` to choose another provider.\nDetails: %s", x.route.Provider, safe))
		return
	}

	if rc.autoSave && utf8.RuneCountInString(msg.Content) >= autosaveMinChars {
		if err := rc.memory.Store(ctx, memoryKey(msg), msg.Content, memory.CategoryConversation, ""); err != nil {
			x.log.Debug("Memory autosave failed", "error", err)
		}
	}

	x.log.Debug("Processing message", "provider", x.route.Provider, "model", x.route.Model)
	x.startedAt = time.Now()

	hadPriorHistory := rc.histories.Len(x.key) > 0
	// The user turn is recorded before the call so an interrupted request
	// still leaves it as context for the next message.
	rc.histories.Append(x.key, providertypes.User(msg.Content))
	priorTurns := normalizeTurns(rc.histories.Snapshot(x.key))

	if !hadPriorHistory {
		memoryContext := memory.BuildContext(ctx, rc.memory, msg.Content, rc.minRelevanceScore)
		if n := len(priorTurns); n > 0 && memoryContext != "" && priorTurns[n-1].Role == providertypes.RoleUser {
			priorTurns[n-1].Content = memoryContext + msg.Content
		}
	}

	tools := rc.tools.ForChannel(msg.Channel, rc.nonCLIExcludedTools)
	history := make([]providertypes.ChatMessage, 0, len(priorTurns)+1)
	history = append(history, providertypes.System(rc.buildSystemPrompt(x.route.Provider, msg.Channel, tools)))
	history = append(history, priorTurns...)

	var (
		deltas      chan string
		updaterDone <-chan struct{}
		stopDrafts  = make(chan struct{})
	)
	if x.target != nil && channel.SupportsDrafts(x.target) {
		ds := x.target.(channel.DraftStreamer)
		draftID, err := ds.SendDraft(deliverCtx, bus.NewSendMessage(draftPlaceholder, msg.ReplyTarget).InThread(msg.ThreadTS))
		if err != nil {
			x.log.Debug("Failed to send draft", "error", err)
		}
		if draftID != "" {
			x.draftID = draftID
			deltas = make(chan string, draftBufferSize)
			updaterDone = runDraftUpdater(deliverCtx, ds, msg.ReplyTarget, draftID, deltas, stopDrafts, x.log)
		}
	}
	x.log.Debug("Draft streaming decision", "has_target_channel", x.target != nil, "draft_id", x.draftID)

	rc.react(deliverCtx, x, reactionReceived, true)
	if x.target != nil {
		if err := channel.StartTyping(deliverCtx, x.target, msg.ReplyTarget); err != nil && !errors.Is(err, channel.ErrNotSupported) {
			x.log.Debug("Failed to start typing", "error", err)
		}
	}

	historyLenBeforeTools := len(history)
	budget := timeoutBudget(rc.messageTimeout, rc.maxToolIterations)

	loopCtx, cancelLoop := context.WithCancel(ctx)
	defer cancelLoop()
	loopCtx = providertypes.WithToolEventObserver(loopCtx, func(event providertypes.ToolEvent) {
		if event.Failed {
			x.log.Warn("Tool failed", "tool", event.Tool, "error", event.Payload, "duration_ms", event.DurationMs)
			return
		}
		x.log.Debug("Tool event", "kind", event.Kind, "tool", event.Tool, "duration_ms", event.DurationMs)
	})

	results := make(chan loopOutcome, 1)
	go func() {
		if deltas != nil {
			defer close(deltas)
		}
		defer func() {
			if rec := recover(); rec != nil {
				x.log.Error("Tool loop panicked", "panic", rec, "stack", string(debug.Stack()))
				results <- loopOutcome{err: fmt.Errorf("tool loop panicked: %v", rec)}
			}
		}()
		res, err := agent.RunToolLoop(loopCtx, agent.LoopRequest{
			Provider:      active,
			History:       history,
			Model:         x.route.Model,
			Temperature:   defaults.Temperature,
			MaxTokens:     rc.maxTokens,
			Tools:         tools,
			Guard:         rc.guard,
			MaxIterations: rc.maxToolIterations,
			Deltas:        deltas,
		})
		results <- loopOutcome{result: res, err: err}
	}()

	timer := time.NewTimer(budget)
	defer timer.Stop()

	var (
		outcome   loopOutcome
		cancelled bool
		timedOut  bool
	)
	select {
	case <-ctx.Done():
		cancelled = true
	case <-timer.C:
		timedOut = true
	case outcome = <-results:
	}
	if cancelled || timedOut {
		cancelLoop()
	}

	if updaterDone != nil {
		if cancelled || timedOut {
			// The abandoned loop may keep producing deltas; the draft is
			// about to be cancelled so no further edits may start.
			close(stopDrafts)
			select {
			case <-updaterDone:
			case <-time.After(draftDrainTimeout):
				x.log.Warn("Draft updater still running after the tool loop was abandoned", "draft_id", x.draftID)
			}
		} else {
			<-updaterDone
		}
	}
	if x.target != nil {
		if err := channel.StopTyping(deliverCtx, x.target, msg.ReplyTarget); err != nil && !errors.Is(err, channel.ErrNotSupported) {
			x.log.Debug("Failed to stop typing", "error", err)
		}
	}

	doneReaction := reactionWarning
	if !cancelled && !timedOut && outcome.err == nil {
		doneReaction = reactionDone
	}

	switch {
	case cancelled:
		rc.finishCancelled(deliverCtx, x, "cancelled due to newer inbound message")
	case timedOut:
		rc.finishTimedOut(deliverCtx, x, budget)
	case outcome.err != nil:
		if errors.Is(outcome.err, context.Canceled) || ctx.Err() != nil {
			rc.finishCancelled(deliverCtx, x, "cancelled during tool-call loop")
		} else if providertypes.IsContextWindowOverflow(outcome.err) {
			rc.finishOverflow(deliverCtx, x)
		} else {
			rc.finishFailed(deliverCtx, x, outcome.err)
		}
	default:
		rc.finishReply(deliverCtx, x, outcome.result, historyLenBeforeTools, tools)
	}

	rc.react(deliverCtx, x, reactionReceived, false)
	rc.react(deliverCtx, x, doneReaction, true)
}

func (rc *RuntimeContext) finishReply(ctx context.Context, x *exchange, res agent.LoopResult, historyLenBeforeTools int, tools []agent.Tool) {
	response := res.Text

	sending := rc.hooks.RunMessageSending(ctx, hooks.Outgoing{
		Channel:   x.msg.Channel,
		Recipient: x.msg.ReplyTarget,
		Content:   response,
	})
	if sending.Cancelled {
		x.log.Info("Outgoing message suppressed by hook", "reason", sending.Reason)
		rc.cancelDraft(ctx, x)
		return
	}
	if out := sending.Value; out.Channel != x.msg.Channel || out.Recipient != x.msg.ReplyTarget {
		x.log.Warn("on_message_sending attempted to rewrite channel routing; only content mutation is applied",
			"to_channel", out.Channel, "to_recipient", out.Recipient)
	}
	modified := sending.Value.Content
	if n := utf8.RuneCountInString(modified); n > hookMaxOutboundChars {
		x.log.Warn("Hook-modified outbound content exceeded limit; truncating", "limit", hookMaxOutboundChars, "attempted", n)
		modified = truncateWithEllipsis(modified, hookMaxOutboundChars)
	}
	if modified != response {
		x.log.Info("Outgoing message content modified by hook",
			"before_len", utf8.RuneCountInString(response), "after_len", utf8.RuneCountInString(modified))
	}
	response = modified

	delivered := agent.SanitizeResponse(response, agent.ToolNames(tools))
	if delivered == "" && strings.TrimSpace(response) != "" {
		delivered = malformedReplyText
	}

	payload := map[string]string{
		"response_preview": truncateWithEllipsis(providertypes.SanitizeAPIError(delivered), 160),
	}
	addUsage(payload, res.Metadata.Usage)
	rc.publish(ctx, x.event(bus.EventMessageOutbound, "", payload))

	historyResponse := delivered
	if summary := agent.ToolContextSummary(res.History, historyLenBeforeTools); summary != "" && x.msg.Channel != noToolSummaryChannel {
		historyResponse = summary + "\n" + delivered
	}
	rc.histories.Append(x.key, providertypes.Assistant(historyResponse))

	x.log.Info("Reply ready", "elapsed_ms", x.elapsedMs(), "preview", truncateWithEllipsis(delivered, 80))
	rc.deliver(ctx, x, delivered)
}

func (rc *RuntimeContext) finishCancelled(ctx context.Context, x *exchange, reason string) {
	x.log.Info("Cancelled in-flight channel request due to newer message", "reason", reason)
	rc.publish(ctx, x.event(bus.EventMessageCancelled, reason, nil))
	rc.cancelDraft(ctx, x)
}

func (rc *RuntimeContext) finishTimedOut(ctx context.Context, x *exchange, budget time.Duration) {
	timeoutMsg := fmt.Sprintf("LLM response timed out after %ds (base=%ds, max_tool_iterations=%d)",
		int(budget.Seconds()), int(rc.messageTimeout.Seconds()), rc.maxToolIterations)
	x.log.Error(timeoutMsg, "elapsed_ms", x.elapsedMs())
	rc.publish(ctx, x.event(bus.EventMessageTimeout, timeoutMsg, nil))

	rc.histories.Append(x.key, providertypes.Assistant(timedOutTurnSentinel))
	rc.deliver(ctx, x, timeoutReplyText)
}

func (rc *RuntimeContext) finishOverflow(ctx context.Context, x *exchange) {
	compacted := rc.histories.Compact(x.key)
	rc.histories.CloseOrphan(x.key, overflowTurnSentinel)
	x.log.Warn("Context window exceeded", "elapsed_ms", x.elapsedMs(), "history_compacted", compacted)
	rc.publish(ctx, x.event(bus.EventMessageError, "context window exceeded", map[string]string{
		"history_compacted": strconv.FormatBool(compacted),
	}))

	text := overflowText
	if compacted {
		text = overflowCompactedText
	}
	rc.deliver(ctx, x, text)
}

func (rc *RuntimeContext) finishFailed(ctx context.Context, x *exchange, err error) {
	safe := providertypes.SanitizeAPIError(err.Error())
	x.log.Error("LLM error", "elapsed_ms", x.elapsedMs(), "error", safe)
	rc.publish(ctx, x.event(bus.EventMessageError, safe, nil))

	rolledBack := false
	if capErr, ok := providertypes.AsCapabilityError(err); ok && strings.EqualFold(capErr.Capability, "vision") {
		rolledBack = rc.histories.RollbackUserTurn(x.key, x.msg.Content)
	}
	if !rolledBack {
		rc.histories.Append(x.key, providertypes.Assistant(failedTurnSentinel))
	}
	rc.deliver(ctx, x, "⚠️ Error: "+safe)
}

// deliver finalizes the open draft with text, or sends text as a new message.
// A draft that fails to finalize falls back to a plain send.
func (rc *RuntimeContext) deliver(ctx context.Context, x *exchange, text string) {
	if x.target == nil {
		return
	}
	if x.draftID != "" {
		ds := x.target.(channel.DraftStreamer)
		err := ds.FinalizeDraft(ctx, x.msg.ReplyTarget, x.draftID, text)
		if err == nil {
			return
		}
		x.log.Warn("Failed to finalize draft; sending as new message", "error", err)
	}
	rc.send(ctx, x, text)
}

func (rc *RuntimeContext) send(ctx context.Context, x *exchange, text string) {
	if x.target == nil {
		return
	}
	out := bus.NewSendMessage(text, x.msg.ReplyTarget).InThread(x.msg.ThreadTS)
	if err := x.target.Send(ctx, out); err != nil {
		x.log.Error("Failed to reply", "error", err)
	}
}

func (rc *RuntimeContext) cancelDraft(ctx context.Context, x *exchange) {
	if x.target == nil || x.draftID == "" {
		return
	}
	if err := x.target.(channel.DraftStreamer).CancelDraft(ctx, x.msg.ReplyTarget, x.draftID); err != nil {
		x.log.Debug("Failed to cancel draft", "error", err)
	}
}

func (rc *RuntimeContext) react(ctx context.Context, x *exchange, emoji string, add bool) {
	if x.target == nil {
		return
	}
	var err error
	if add {
		err = channel.AddReaction(ctx, x.target, x.msg.ReplyTarget, x.msg.ID, emoji)
	} else {
		err = channel.RemoveReaction(ctx, x.target, x.msg.ReplyTarget, x.msg.ID, emoji)
	}
	if err != nil && !errors.Is(err, channel.ErrNotSupported) {
		x.log.Debug("Failed to update reaction", "emoji", emoji, "add", add, "error", err)
	}
}

func (x *exchange) event(t bus.EventType, errText string, payload map[string]string) bus.Event {
	if payload == nil {
		payload = make(map[string]string, 1)
	}
	payload["elapsed_ms"] = x.elapsedMs()
	return bus.Event{
		Type:      t,
		Channel:   x.msg.Channel,
		Sender:    x.msg.Sender,
		MessageID: x.msg.ID,
		RequestID: x.requestID,
		Provider:  x.route.Provider,
		Model:     x.route.Model,
		Payload:   payload,
		Error:     errText,
	}
}
