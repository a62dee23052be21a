// Package hooks lets in-process extensions observe, veto and rewrite messages
// on their way into and out of the gateway.
package hooks

import (
	"context"
	"log/slog"

	"zeroclaw/pkg/bus"
	"zeroclaw/pkg/config"
)

// Outgoing is a reply about to be delivered.
type Outgoing struct {
	Channel   string
	Recipient string
	Content   string
}

// Outcome is what a hook decided for a value: continue with Value, or cancel
// with Reason.
type Outcome[T any] struct {
	Value     T
	Cancelled bool
	Reason    string
}

// Continue passes v on to the next hook.
func Continue[T any](v T) Outcome[T] {
	return Outcome[T]{Value: v}
}

// Cancel stops processing.
func Cancel[T any](reason string) Outcome[T] {
	return Outcome[T]{Cancelled: true, Reason: reason}
}

// Hook is implemented by message hooks. Hooks should return promptly; they
// run inline on the message worker.
type Hook interface {
	Name() string
	OnMessageReceived(ctx context.Context, msg bus.ChannelMessage) Outcome[bus.ChannelMessage]
	OnMessageSending(ctx context.Context, out Outgoing) Outcome[Outgoing]
}

// Runner invokes hooks in registration order. The first hook that cancels
// wins and later hooks are skipped.
type Runner struct {
	hooks []Hook
	log   *slog.Logger
}

func NewRunner(log *slog.Logger, hooks ...Hook) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{hooks: hooks, log: log.With("component", "hooks")}
}

// FromConfig builds the runner for cfg, or nil when hooks are disabled.
func FromConfig(cfg config.HooksConfig, log *slog.Logger) *Runner {
	if !cfg.Enabled {
		return nil
	}
	r := NewRunner(log)
	if cfg.Builtin.MessageLogger {
		r.Register(NewMessageLogger(log))
	}
	return r
}

// Register appends h.
func (r *Runner) Register(h Hook) {
	r.hooks = append(r.hooks, h)
}

func (r *Runner) Len() int {
	if r == nil {
		return 0
	}
	return len(r.hooks)
}

func (r *Runner) RunMessageReceived(ctx context.Context, msg bus.ChannelMessage) Outcome[bus.ChannelMessage] {
	if r == nil {
		return Continue(msg)
	}
	for _, h := range r.hooks {
		out := h.OnMessageReceived(ctx, msg)
		if out.Cancelled {
			r.log.Debug("hook cancelled inbound message", "hook", h.Name(), "reason", out.Reason)
			return out
		}
		msg = out.Value
	}
	return Continue(msg)
}

func (r *Runner) RunMessageSending(ctx context.Context, out Outgoing) Outcome[Outgoing] {
	if r == nil {
		return Continue(out)
	}
	for _, h := range r.hooks {
		res := h.OnMessageSending(ctx, out)
		if res.Cancelled {
			r.log.Debug("hook cancelled outbound message", "hook", h.Name(), "reason", res.Reason)
			return res
		}
		out = res.Value
	}
	return Continue(out)
}
