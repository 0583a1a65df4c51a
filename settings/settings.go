// Package settings persists the user's session settings: the GitHub access
// token in the OS keyring and the site URL list in the local state
// database.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/hazyhaar/ctxsync/dbopen"
	"github.com/hazyhaar/ctxsync/horosafe"
	"github.com/hazyhaar/ctxsync/snapshot"
)

const (
	// DefaultService is the keyring service name.
	DefaultService = "ctxsync"
	// EnvToken overrides the stored token when set.
	EnvToken = "CTXSYNC_GITHUB_TOKEN"

	tokenAccount = "github-token"
	keyURLs      = "urls"
)

var migrations = []string{
	`CREATE TABLE settings (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
}

// TokenSource tells where the effective token came from.
type TokenSource string

const (
	SourceNone    TokenSource = "none"
	SourceEnv     TokenSource = "env"
	SourceKeyring TokenSource = "keyring"
)

// Config configures a Store.
type Config struct {
	DB *sql.DB

	// Service is the keyring service name. Default: DefaultService.
	Service string

	// LookupEnv reads the environment. Default: os.LookupEnv.
	LookupEnv func(string) (string, bool)

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Service == "" {
		c.Service = DefaultService
	}
	if c.LookupEnv == nil {
		c.LookupEnv = os.LookupEnv
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Store reads and writes settings.
type Store struct {
	cfg Config
}

// Open migrates the settings table and returns a Store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()
	if cfg.DB == nil {
		return nil, errors.New("settings: nil database")
	}
	if err := dbopen.Migrate(ctx, cfg.DB, "settings", migrations); err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}
	return &Store{cfg: cfg}, nil
}

// Token returns the effective access token: the environment override, then
// the keyring. A missing token is not an error.
func (s *Store) Token() (string, TokenSource, error) {
	if v, ok := s.cfg.LookupEnv(EnvToken); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), SourceEnv, nil
	}
	tok, err := keyring.Get(s.cfg.Service, tokenAccount)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return "", SourceNone, nil
	case err != nil:
		return "", SourceNone, fmt.Errorf("settings: read token: %w", err)
	}
	return tok, SourceKeyring, nil
}

// SetToken stores token in the keyring. An empty token deletes it.
func (s *Store) SetToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		err := keyring.Delete(s.cfg.Service, tokenAccount)
		if err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("settings: delete token: %w", err)
		}
		s.cfg.Logger.Info("settings: token removed")
		return nil
	}
	if err := keyring.Set(s.cfg.Service, tokenAccount, token); err != nil {
		return fmt.Errorf("settings: store token: %w", err)
	}
	s.cfg.Logger.Info("settings: token stored", "token", MaskToken(token))
	return nil
}

// URLs returns the configured URL list in order.
func (s *Store) URLs(ctx context.Context) ([]string, error) {
	var text string
	err := s.cfg.DB.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, keyURLs).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("settings: read urls: %w", err)
	}
	return snapshot.ParseURLs(text), nil
}

// SetURLs replaces the URL list with the lines of text. Lines are trimmed,
// blank lines dropped; every remaining line must be an http(s) URL.
func (s *Store) SetURLs(ctx context.Context, text string) ([]string, error) {
	urls := snapshot.ParseURLs(text)
	for _, u := range urls {
		if err := horosafe.ValidateScheme(u); err != nil {
			return nil, fmt.Errorf("settings: url %q: %w", u, err)
		}
	}
	err := dbopen.RunTx(ctx, s.cfg.DB, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			keyURLs, strings.Join(urls, "\n"), time.Now().UnixMilli())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("settings: write urls: %w", err)
	}
	s.cfg.Logger.Info("settings: urls updated", "count", len(urls))
	return urls, nil
}

// Session snapshots the current token and URL list.
func (s *Store) Session(ctx context.Context) (snapshot.Session, error) {
	tok, _, err := s.Token()
	if err != nil {
		return snapshot.Session{}, err
	}
	urls, err := s.URLs(ctx)
	if err != nil {
		return snapshot.Session{}, err
	}
	return snapshot.Session{Token: tok, URLs: urls}, nil
}

// MaskToken keeps the first four characters of a token.
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + strings.Repeat("*", len(token)-4)
}
