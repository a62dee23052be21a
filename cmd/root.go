package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "zeroclaw",
	Short: "Multi-channel chat gateway for language-model agents",
	Long: `ZeroClaw connects Telegram, Discord, Slack and plugin channels to a
language-model agent with tools and long-term memory.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
