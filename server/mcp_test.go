package server

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testImpl = &mcp.Implementation{Name: "ctxsync-test", Version: "0.1.0"}

func connect(t *testing.T, svc *Service) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testImpl, nil)
	svc.RegisterMCP(srv)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	serverT, clientT := mcp.NewInMemoryTransports()
	go func() { _ = srv.Run(ctx, serverT) }()
	session, err := mcp.NewClient(testImpl, nil).Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool(t *testing.T, s *mcp.ClientSession, name string, args map[string]any) (map[string]any, *mcp.CallToolResult) {
	t.Helper()
	res, err := s.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	if res.IsError {
		return nil, res
	}
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.Content[0].(*mcp.TextContent).Text), &out))
	return out, res
}

func TestMCP_ListTools(t *testing.T) {
	f := newFixture(t, nil)
	s := connect(t, f.svc)

	res, err := s.ListTools(context.Background(), nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"ctxsync_save", "ctxsync_restore", "ctxsync_scripts", "ctxsync_history"}, names)
}

func TestMCP_SaveAndHistory(t *testing.T) {
	f := newFixture(t, nil)
	s := connect(t, f.svc)

	out, _ := callTool(t, s, "ctxsync_save", nil)
	require.NotNil(t, out)
	assert.Equal(t, "run_1", out["run_id"])

	out, _ = callTool(t, s, "ctxsync_history", map[string]any{"kind": "save", "limit": 5})
	require.NotNil(t, out)
	runs := out["runs"].([]any)
	require.Len(t, runs, 1)
	assert.Equal(t, "mcp", runs[0].(map[string]any)["transport"])
}

func TestMCP_RestoreErrorIsToolError(t *testing.T) {
	f := newFixture(t, nil)
	s := connect(t, f.svc)

	out, res := callTool(t, s, "ctxsync_restore", nil)
	assert.Nil(t, out)
	assert.True(t, res.IsError)
}

func TestMCP_Scripts(t *testing.T) {
	f := newFixture(t, nil)
	s := connect(t, f.svc)

	out, _ := callTool(t, s, "ctxsync_scripts", map[string]any{"enabled": false})
	require.NotNil(t, out)
	assert.Equal(t, false, out["scripts_enabled"])
	assert.True(t, f.browser.ScriptsBlocked())

	out, _ = callTool(t, s, "ctxsync_scripts", nil)
	require.NotNil(t, out)
	assert.Equal(t, false, out["scripts_enabled"])
}
