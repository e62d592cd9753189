// Package main provides the nimsuggestd daemon and CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nimlime/nimsuggestd/internal/config"
)

// Version is the current nimsuggestd version.
var Version = "0.1.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "nimsuggestd",
	Short: "nimsuggestd - resident nimsuggest sessions for editors and agents",
	Long: `nimsuggestd keeps one nimsuggest analyzer per Nim project running and
serves definition, usage and completion queries to editors (HTTP and
WebSocket), AI agents (MCP over stdio) and the command line.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFile, "Path to the YAML config file")

	rootCmd.AddCommand(serveCmd, queryCmd, mcpCmd, sessionsCmd, eventsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
