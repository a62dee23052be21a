package gateway

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"zeroclaw/pkg/bus"
	"zeroclaw/pkg/channel"
	"zeroclaw/pkg/provider"
)

// handleCommand answers runtime commands (/models, /model, /new). It reports
// whether msg was a command and must not reach the model.
func (rc *RuntimeContext) handleCommand(ctx context.Context, msg bus.ChannelMessage, target channel.Channel) bool {
	content := strings.TrimSpace(msg.Content)
	if !strings.HasPrefix(content, "/") {
		return false
	}

	fields := strings.Fields(content)
	name := strings.ToLower(fields[0])
	// Telegram appends the bot name in groups: /models@zeroclaw_bot
	if at := strings.IndexByte(name, '@'); at > 0 {
		name = name[:at]
	}
	args := fields[1:]
	key := historyKey(msg)

	var reply string
	switch name {
	case "/models":
		if len(args) == 0 {
			reply = rc.describeRoutes(key)
		} else {
			reply = rc.switchProvider(key, args[0])
		}
	case "/model":
		if len(args) == 0 {
			reply = fmt.Sprintf("Current model: `%s`. Usage: /model <model-id>", rc.Route(key).Model)
		} else {
			route := rc.Route(key)
			route.Model = args[0]
			rc.setRoute(key, route)
			reply = fmt.Sprintf("Model switched to `%s` for this conversation.", route.Model)
		}
	case "/new":
		rc.histories.Clear(key)
		reply = "Started a new conversation. Previous context was cleared."
	default:
		return false
	}

	rc.log.Info("Runtime command handled", "command", name, "channel", msg.Channel, "sender", msg.Sender)
	if target == nil {
		return true
	}
	if err := target.Send(ctx, bus.NewSendMessage(reply, msg.ReplyTarget).InThread(msg.ThreadTS)); err != nil {
		rc.log.Warn("Failed to reply to runtime command", "channel", msg.Channel, "error", err)
	}
	return true
}

func (rc *RuntimeContext) describeRoutes(key string) string {
	route := rc.Route(key)
	var b strings.Builder
	b.WriteString("Providers:")
	for _, name := range provider.Names() {
		b.WriteString("\n- ")
		b.WriteString(name)
		if name == route.Provider {
			b.WriteString(" (current)")
		}
	}
	fmt.Fprintf(&b, "\nModel: `%s`\nUse /models <provider> or /model <model-id> to switch.", route.Model)
	return b.String()
}

func (rc *RuntimeContext) switchProvider(key, name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	known := provider.Names()
	if !slices.Contains(known, name) {
		return fmt.Sprintf("Unknown provider `%s`. Available: %s", name, strings.Join(known, ", "))
	}
	rc.setRoute(key, Route{Provider: name})
	return fmt.Sprintf("Provider switched to `%s` (model `%s`) for this conversation.", name, rc.Route(key).Model)
}
