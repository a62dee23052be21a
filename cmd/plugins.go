package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"zeroclaw/pkg/plugin"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List discovered plugins",
	Long:  "Loads plugin manifests and inline registry entries and lists the resolved plugins by kind.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		boot, err := loadBootstrap()
		if err != nil {
			fmt.Printf("%v\n", err)
			return
		}
		if !boot.cfg.Plugins.Enabled {
			fmt.Println("Plugins are disabled (plugins.enabled = false).")
			return
		}
		renderPlugins(os.Stdout, boot.plugins)
	},
}

func init() {
	rootCmd.AddCommand(pluginsCmd)
}

func renderPlugins(w io.Writer, registry *plugin.Registry) {
	styles := defaultTheme()
	rows := []string{
		styles.header.Render("ZeroClaw plugins"),
		styles.meta.Render(fmt.Sprintf("%d plugin(s) loaded", registry.Total())),
	}

	for _, kind := range []plugin.Kind{plugin.KindChannel, plugin.KindMemory, plugin.KindSecurity} {
		plugins := registry.ByKind(kind)
		if len(plugins) == 0 {
			continue
		}
		rows = append(rows, "", styles.divider.Render(string(kind)))
		for _, p := range plugins {
			command := strings.TrimSpace(strings.Join(append([]string{p.Command}, p.Args...), " "))
			rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top,
				styles.name.Render(p.ID),
				command,
				styles.hint.Render(fmt.Sprintf("  (%s, %ds)", p.Source, p.TimeoutSecs)),
			))
		}
	}

	_, _ = fmt.Fprintln(w, lipgloss.JoinVertical(lipgloss.Left, rows...))
}
