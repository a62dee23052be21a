package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"zeroclaw/pkg/channel"
	"zeroclaw/pkg/health"
)

var doctorTimeout time.Duration

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check every configured channel",
	Long:  "Builds every configured channel, checks each one under a timeout and prints a health summary.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		boot, err := loadBootstrap()
		if err != nil {
			fmt.Printf("%v\n", err)
			return
		}

		channels, err := buildChannels(boot.cfg, boot.plugins, boot.log)
		if err != nil {
			fmt.Printf("%v\n", err)
			return
		}

		summary := runDoctor(cmd.Context(), os.Stdout, channels.All(), doctorTimeout)
		if summary.Unhealthy+summary.TimedOut > 0 {
			os.Exit(1)
		}
	},
}

func init() {
	doctorCmd.Flags().DurationVar(&doctorTimeout, "timeout", health.DefaultCheckTimeout, "per-channel health check timeout")
	rootCmd.AddCommand(doctorCmd)
}

// runDoctor checks channels one at a time and writes one row per channel
// followed by the summary line.
func runDoctor(ctx context.Context, w io.Writer, channels []channel.Channel, timeout time.Duration) health.Summary {
	if ctx == nil {
		ctx = context.Background()
	}
	styles := defaultTheme()

	rows := []string{
		styles.header.Render("ZeroClaw doctor"),
		styles.divider.Render(strings.Repeat("-", 40)),
	}

	var summary health.Summary
	if len(channels) == 0 {
		rows = append(rows, styles.hint.Render("No channels configured."))
	}
	for _, ch := range channels {
		outcome := health.CheckChannel(ctx, ch, timeout)
		summary.Add(outcome)
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top,
			styles.name.Render(ch.Name()),
			outcomeStyle(styles, outcome).Render(outcome.String()),
		))
	}

	rows = append(rows,
		styles.divider.Render(strings.Repeat("-", 40)),
		styles.meta.Render(summary.String()),
	)
	_, _ = fmt.Fprintln(w, lipgloss.JoinVertical(lipgloss.Left, rows...))
	return summary
}

func outcomeStyle(styles theme, outcome health.Outcome) lipgloss.Style {
	switch outcome {
	case health.Healthy:
		return styles.healthy
	case health.Timeout:
		return styles.timedOut
	default:
		return styles.failed
	}
}
