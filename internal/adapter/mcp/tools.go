package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	nsDomain "github.com/nimlime/nimsuggestd/internal/domain/nimsuggest"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.positionTool(nsDomain.CommandDefinition.Name(), "Find the definitions of the symbol at a position in a Nim file", s.handleDefinition),
		s.positionTool("get_signatures", "Get the type signatures of the symbol at a position in a Nim file", s.handleSignatures),
		s.positionTool(nsDomain.CommandUsages.Name(), "Find all usages across the project of the symbol at a position", s.handleUsages),
		s.positionTool("find_usages_in_file", "Find the usages inside the same file of the symbol at a position", s.handleUsagesInFile),
		s.positionTool(nsDomain.CommandSuggestions.Name(), "Get completion suggestions at a position in a Nim file", s.handleSuggestions),
		s.listSessionsTool(),
		s.closeFileTool(),
	)
}

type toolHandler = func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error)

func (s *Server) positionTool(name, description string, handler toolHandler) mcpserver.ServerTool {
	tool := mcplib.NewTool(name,
		mcplib.WithDescription(description),
		mcplib.WithString("file",
			mcplib.Required(),
			mcplib.Description("Absolute path of the Nim source file"),
		),
		mcplib.WithNumber("line",
			mcplib.Required(),
			mcplib.Description("1-based line of the symbol"),
		),
		mcplib.WithNumber("column",
			mcplib.Required(),
			mcplib.Description("1-based column of the symbol"),
		),
		mcplib.WithString("dirty",
			mcplib.Description("Unsaved content of the file, used instead of the file on disk"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: handler}
}

func (s *Server) listSessionsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_sessions",
		mcplib.WithDescription("List the running nimsuggest project sessions"),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleListSessions}
}

func (s *Server) closeFileTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("close_file",
		mcplib.WithDescription("Release a file; the project session stops when its last file is closed"),
		mcplib.WithString("file",
			mcplib.Required(),
			mcplib.Description("Absolute path of the Nim source file"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleCloseFile}
}

// positionQuery reads the file/line/column/dirty arguments.
func positionQuery(req mcplib.CallToolRequest, cmd nsDomain.Command) (*nsDomain.Query, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	args := req.GetArguments()
	file, ok := args["file"].(string)
	if !ok || file == "" {
		return nil, fmt.Errorf("file is required")
	}
	line, ok := args["line"].(float64)
	if !ok {
		return nil, fmt.Errorf("line is required")
	}
	col, ok := args["column"].(float64)
	if !ok {
		return nil, fmt.Errorf("column is required")
	}
	q := &nsDomain.Query{Command: cmd, File: file, Line: int(line), Column: int(col)}
	if dirty, ok := args["dirty"].(string); ok {
		q.Dirty = []byte(dirty)
		q.HasDirty = true
	}
	return q, nil
}

func (s *Server) handleDefinition(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	q, err := positionQuery(req, nsDomain.CommandDefinition)
	if err != nil {
		return mcplib.NewToolResultError(err.Error()), nil
	}
	res, err := s.nav.Query(ctx, q)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("find definition failed", err), nil
	}
	return toolResultJSON(res.Entries)
}

func (s *Server) handleSignatures(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	q, err := positionQuery(req, nsDomain.CommandDefinition)
	if err != nil {
		return mcplib.NewToolResultError(err.Error()), nil
	}
	sigs, err := s.nav.Signatures(ctx, q)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("get signatures failed", err), nil
	}
	return toolResultJSON(sigs)
}

func (s *Server) handleUsages(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	return s.entries(ctx, req, nsDomain.CommandUsages, s.nav.Usages)
}

func (s *Server) handleUsagesInFile(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	return s.entries(ctx, req, nsDomain.CommandUsages, s.nav.UsagesInFile)
}

func (s *Server) handleSuggestions(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	return s.entries(ctx, req, nsDomain.CommandSuggestions, s.nav.Suggestions)
}

func (s *Server) entries(
	ctx context.Context,
	req mcplib.CallToolRequest, //nolint:gocritic // hugeParam: mcp-go handler signature
	cmd nsDomain.Command,
	fn func(context.Context, *nsDomain.Query) ([]nsDomain.Entry, error),
) (*mcplib.CallToolResult, error) {
	q, err := positionQuery(req, cmd)
	if err != nil {
		return mcplib.NewToolResultError(err.Error()), nil
	}
	entries, err := fn(ctx, q)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(cmd.Name()+" failed", err), nil
	}
	return toolResultJSON(entries)
}

func (s *Server) handleListSessions(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	return toolResultJSON(s.nav.Sessions())
}

func (s *Server) handleCloseFile(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	file, ok := req.GetArguments()["file"].(string)
	if !ok || file == "" {
		return mcplib.NewToolResultError("file is required"), nil
	}
	if err := s.nav.CloseFile(ctx, file); err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("close %s failed", file), err), nil
	}
	return mcplib.NewToolResultText("closed"), nil
}

func toolResultJSON(v any) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal result", err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}
