package gateway

import (
	"context"
	"log/slog"
	"strings"

	"zeroclaw/pkg/agent"
	"zeroclaw/pkg/channel"
)

// runDraftUpdater renders deltas into an open draft until deltas is closed
// or stop is closed. No update starts after stop is closed. The returned
// channel closes once the updater has returned.
func runDraftUpdater(ctx context.Context, ds channel.DraftStreamer, recipient, draftID string, deltas <-chan string, stop <-chan struct{}, log *slog.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		var accumulated strings.Builder
		for {
			var (
				delta string
				ok    bool
			)
			select {
			case <-stop:
				return
			case delta, ok = <-deltas:
			}
			if !ok {
				return
			}
			if delta == agent.DraftClearSentinel {
				accumulated.Reset()
				continue
			}
			accumulated.WriteString(delta)
			select {
			case <-stop:
				return
			default:
			}
			if err := ds.UpdateDraft(ctx, recipient, draftID, accumulated.String()); err != nil {
				log.Debug("Draft update failed", "draft_id", draftID, "error", err)
			}
		}
	}()
	return done
}
