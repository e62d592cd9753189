// Package mcp exposes the nimsuggest navigation features as Model Context
// Protocol tools for AI agents.
package mcp

import (
	"context"
	"io"
	"log/slog"

	mcpserver "github.com/mark3labs/mcp-go/server"

	nsDomain "github.com/nimlime/nimsuggestd/internal/domain/nimsuggest"
	"github.com/nimlime/nimsuggestd/internal/service"
)

// Navigator is the part of the nimsuggest service the tools call.
type Navigator interface {
	Query(ctx context.Context, q *nsDomain.Query) (*nsDomain.Result, error)
	Signatures(ctx context.Context, q *nsDomain.Query) ([]string, error)
	Usages(ctx context.Context, q *nsDomain.Query) ([]nsDomain.Entry, error)
	UsagesInFile(ctx context.Context, q *nsDomain.Query) ([]nsDomain.Entry, error)
	Suggestions(ctx context.Context, q *nsDomain.Query) ([]nsDomain.Entry, error)
	CloseFile(ctx context.Context, file string) error
	Sessions() []nsDomain.SessionInfo
}

var _ Navigator = (*service.NimsuggestService)(nil)

// ServerConfig holds MCP server identity.
type ServerConfig struct {
	Name    string
	Version string
}

// Server wraps an MCP server with the nimsuggest tools registered.
type Server struct {
	cfg       ServerConfig
	nav       Navigator
	mcpServer *mcpserver.MCPServer
}

// NewServer creates the MCP server and registers tools and resources.
func NewServer(cfg ServerConfig, nav Navigator) *Server {
	s := &Server{
		cfg: cfg,
		nav: nav,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
			mcpserver.WithRecovery(),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// ServeStdio serves MCP over the given streams until ctx is done or stdin
// is closed.
func (s *Server) ServeStdio(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	slog.Info("mcp server listening on stdio", "name", s.cfg.Name, "version", s.cfg.Version)
	return mcpserver.NewStdioServer(s.mcpServer).Listen(ctx, stdin, stdout)
}
