package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	nsmcp "github.com/nimlime/nimsuggestd/internal/adapter/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve navigation tools to an AI agent over MCP (stdio)",
	Long: `Run an MCP server on stdin/stdout exposing definition, usage, signature
and completion lookups as tools. Logs go to stderr.

Example agent config:
  {"command": "nimsuggestd", "args": ["mcp"]}`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	srv := nsmcp.NewServer(nsmcp.ServerConfig{Name: "nimsuggestd", Version: Version}, a.svc)
	serveErr := srv.ServeStdio(ctx, os.Stdin, os.Stdout)
	if errors.Is(serveErr, context.Canceled) {
		serveErr = nil
	}
	return errors.Join(serveErr, a.close(context.Background()))
}
