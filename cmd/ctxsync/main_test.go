package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/hazyhaar/ctxsync/host/memhost"
	"github.com/hazyhaar/ctxsync/server"
	"github.com/hazyhaar/ctxsync/snapshot"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ctxsync.yaml")
	cfg := "log_level: error\nsettings:\n  db: " + filepath.Join(dir, "state", "ctxsync.db") + "\n  keyring_service: ctxsync-test\n"
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSettingsCommands(t *testing.T) {
	keyring.MockInit()
	t.Setenv("CTXSYNC_GITHUB_TOKEN", "")
	cfg := writeConfig(t)

	out, err := execute(t, "ghp_abcdefghijkl\n", "--config", cfg, "settings", "set-token")
	require.NoError(t, err)
	assert.Contains(t, out, "token stored")
	assert.NotContains(t, out, "abcdefghijkl")

	out, err = execute(t, "https://example.com/a\n\n  https://example.org  \n", "--config", cfg, "settings", "set-urls")
	require.NoError(t, err)
	var urls struct {
		URLs []string `json:"urls"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &urls))
	assert.Equal(t, []string{"https://example.com/a", "https://example.org"}, urls.URLs)

	out, err = execute(t, "", "--config", cfg, "settings", "show")
	require.NoError(t, err)
	var show map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &show))
	assert.Equal(t, "keyring", show["token_source"])
	assert.Len(t, show["urls"], 2)
	assert.NotContains(t, show["token"], "abcdefghijkl")
	assert.Equal(t, false, show["sealed"])

	out, err = execute(t, "", "--config", cfg, "settings", "set-token", "")
	require.NoError(t, err)
	assert.Contains(t, out, "token removed")

	out, err = execute(t, "", "--config", cfg, "settings", "show")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &show))
	assert.Equal(t, "none", show["token_source"])
}

func TestSetURLsRejectsBadScheme(t *testing.T) {
	keyring.MockInit()
	cfg := writeConfig(t)

	_, err := execute(t, "file:///etc/passwd\n", "--config", cfg, "settings", "set-urls")
	assert.Error(t, err)
}

func TestHistoryEmpty(t *testing.T) {
	keyring.MockInit()
	cfg := writeConfig(t)

	out, err := execute(t, "", "--config", cfg, "history")
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = execute(t, "", "--config", cfg, "history", "run_missing")
	assert.Error(t, err)
}

func TestBadLogLevel(t *testing.T) {
	cfg := writeConfig(t)
	_, err := execute(t, "", "--config", cfg, "--log-level", "loud", "history")
	assert.Error(t, err)
}

func TestHoldScripts_BlocksUntilCancelled(t *testing.T) {
	b := memhost.New()
	svc := server.NewService(server.Config{
		Assembler: snapshot.New(snapshot.Deps{Cookies: b, Tabs: b, Rules: b}),
	})
	var out bytes.Buffer
	a := &app{logger: slog.New(slog.DiscardHandler), stdout: &out}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- holdScripts(ctx, a, svc) }()

	require.Eventually(t, b.ScriptsBlocked, 2*time.Second, 5*time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("returned before cancel: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	assert.True(t, b.ScriptsBlocked())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("did not return after cancel")
	}
	assert.False(t, b.ScriptsBlocked())
	assert.Contains(t, out.String(), `"scripts_enabled": false`)
}
