package settings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/hazyhaar/ctxsync/dbopen"
)

func newStore(t *testing.T, env map[string]string) *Store {
	t.Helper()
	keyring.MockInit()
	s, err := Open(context.Background(), Config{
		DB:      dbopen.OpenMemory(t),
		Service: "ctxsync-test",
		LookupEnv: func(k string) (string, bool) {
			v, ok := env[k]
			return v, ok
		},
	})
	require.NoError(t, err)
	return s
}

func TestToken(t *testing.T) {
	s := newStore(t, nil)

	tok, src, err := s.Token()
	require.NoError(t, err)
	assert.Empty(t, tok)
	assert.Equal(t, SourceNone, src)

	require.NoError(t, s.SetToken("  ghp_abcdef123456 \n"))
	tok, src, err = s.Token()
	require.NoError(t, err)
	assert.Equal(t, "ghp_abcdef123456", tok)
	assert.Equal(t, SourceKeyring, src)

	require.NoError(t, s.SetToken(""))
	tok, _, err = s.Token()
	require.NoError(t, err)
	assert.Empty(t, tok)

	// Deleting twice is fine.
	require.NoError(t, s.SetToken(""))
}

func TestTokenEnvOverride(t *testing.T) {
	s := newStore(t, map[string]string{EnvToken: "ghp_env"})
	require.NoError(t, s.SetToken("ghp_keyring"))

	tok, src, err := s.Token()
	require.NoError(t, err)
	assert.Equal(t, "ghp_env", tok)
	assert.Equal(t, SourceEnv, src)
}

func TestURLs(t *testing.T) {
	s := newStore(t, nil)
	ctx := context.Background()

	urls, err := s.URLs(ctx)
	require.NoError(t, err)
	assert.Empty(t, urls)

	got, err := s.SetURLs(ctx, "  https://example.com/a \n\n\thttps://www.example.org/\n   \n")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/a", "https://www.example.org/"}, got)

	urls, err = s.URLs(ctx)
	require.NoError(t, err)
	assert.Equal(t, got, urls)

	_, err = s.SetURLs(ctx, "https://ok.example/\nchrome://settings")
	assert.Error(t, err)
	urls, _ = s.URLs(ctx)
	assert.Equal(t, got, urls, "a rejected list leaves the stored one untouched")
}

func TestSession(t *testing.T) {
	s := newStore(t, nil)
	ctx := context.Background()
	require.NoError(t, s.SetToken("ghp_x"))
	_, err := s.SetURLs(ctx, "https://example.com/")
	require.NoError(t, err)

	sess, err := s.Session(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ghp_x", sess.Token)
	assert.Equal(t, []string{"https://example.com/"}, sess.URLs)
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "", MaskToken(""))
	assert.Equal(t, "*****", MaskToken("short"))
	assert.Equal(t, "ghp_************", MaskToken("ghp_abcdefghijkl"))
}
