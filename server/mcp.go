package server

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/ctxsync/kit"
)

// RegisterMCP registers the ctxsync tools on srv.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	ep := s.Endpoints()

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "ctxsync_save",
		Description: "Capture cookies and storage of the configured sites and push the snapshot to the remote gist.",
		InputSchema: kit.InputSchema(map[string]any{}, nil),
	}, ep.Save, kit.DecodeArgs[saveReq]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "ctxsync_restore",
		Description: "Fetch the snapshot from the remote gist and replay it into the browser.",
		InputSchema: kit.InputSchema(map[string]any{}, nil),
	}, ep.Restore, kit.DecodeArgs[restoreReq]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "ctxsync_scripts",
		Description: "Report whether page scripts load. Pass enabled to switch them on or off.",
		InputSchema: kit.InputSchema(map[string]any{
			"enabled": map[string]any{"type": "boolean", "description": "Enable (true) or block (false) scripts"},
		}, nil),
	}, ep.Scripts, kit.DecodeArgs[scriptsReq]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "ctxsync_history",
		Description: "List recent save and restore runs, newest first.",
		InputSchema: kit.InputSchema(map[string]any{
			"kind":  map[string]any{"type": "string", "enum": []string{"save", "restore"}},
			"limit": map[string]any{"type": "integer", "description": "Max runs (default 20)"},
		}, nil),
	}, ep.History, kit.DecodeArgs[historyReq]())
}
