package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/ctxsync/config"
	"github.com/hazyhaar/ctxsync/dbopen"
	"github.com/hazyhaar/ctxsync/gist"
	"github.com/hazyhaar/ctxsync/host/rodhost"
	"github.com/hazyhaar/ctxsync/runlog"
	"github.com/hazyhaar/ctxsync/seal"
	"github.com/hazyhaar/ctxsync/server"
	"github.com/hazyhaar/ctxsync/settings"
	"github.com/hazyhaar/ctxsync/snapshot"
)

// app is the state shared by every subcommand.
type app struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger
	stdout io.Writer

	db       *sql.DB
	settings *settings.Store
	runs     *runlog.Log
}

// load reads the config file and sets up logging. It runs before every
// subcommand.
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.LoadFile(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(a.logger)
	a.stdout = cmd.OutOrStdout()
	return nil
}

// openState opens the local database with the settings and run history.
func (a *app) openState(ctx context.Context) error {
	if a.db != nil {
		return nil
	}
	db, err := dbopen.Open(a.cfg.Settings.DB, dbopen.WithMkdirAll())
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	st, err := settings.Open(ctx, settings.Config{
		DB:      db,
		Service: a.cfg.Settings.KeyringService,
		Logger:  a.logger,
	})
	if err != nil {
		db.Close()
		return err
	}
	runs, err := runlog.Open(ctx, db, runlog.WithLogger(a.logger))
	if err != nil {
		db.Close()
		return err
	}
	a.db, a.settings, a.runs = db, st, runs
	return nil
}

// openService starts the browser and wires a Service around it. The
// returned func closes the browser.
func (a *app) openService(ctx context.Context) (*server.Service, func(), error) {
	if err := a.openState(ctx); err != nil {
		return nil, nil, err
	}

	var sealer snapshot.Sealer
	if pass := a.cfg.Passphrase(); pass != "" {
		box, err := seal.New(pass)
		if err != nil {
			return nil, nil, err
		}
		sealer = box
	}

	b, err := rodhost.Start(ctx, rodhost.Config{
		RemoteURL:   a.cfg.Browser.Remote,
		Headful:     a.cfg.Browser.Headful,
		UserDataDir: a.cfg.Browser.UserDataDir,
		KeepAlive:   a.cfg.Browser.KeepAlive,
		Stealth:     a.cfg.Browser.Stealth,
		Logger:      a.logger,
	})
	if err != nil {
		return nil, nil, err
	}
	closeBrowser := func() {
		if err := b.Close(); err != nil {
			a.logger.Warn("ctxsync: close browser", "error", err)
		}
	}

	store := gist.New(
		gist.WithAPIURL(a.cfg.Store.APIURL),
		gist.WithFileName(a.cfg.Store.GistName),
		gist.WithMaxBody(a.cfg.Store.MaxBody),
		gist.WithLogger(a.logger),
	)
	asm := snapshot.New(snapshot.Deps{
		Cookies:     b,
		Tabs:        b,
		Rules:       b,
		Store:       store,
		Sealer:      sealer,
		LoadTimeout: a.cfg.Session.LoadTimeout,
		FailFast:    a.cfg.Session.FailFast,
		Logger:      a.logger,
	})

	svc := server.NewService(server.Config{
		Assembler: asm,
		Sessions:  a.settings,
		Runs:      a.runs,
		Logger:    a.logger,
	})
	return svc, closeBrowser, nil
}

func (a *app) close() {
	if a.db != nil {
		a.db.Close()
		a.db = nil
	}
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printRun prints the report of a run, even a failed one, and returns the
// run error.
func (a *app) printRun(rep *snapshot.Report, err error) error {
	if rep != nil {
		if perr := a.printJSON(rep); perr != nil && err == nil {
			err = perr
		}
	}
	if err == nil && rep != nil && rep.Failed() > 0 {
		a.logger.Warn("ctxsync: some sites failed", "failed", rep.Failed(), "sites", len(rep.Sites))
	}
	return err
}

var errNoInput = errors.New("nothing to read on standard input")

// readInput returns args joined by newlines, or standard input when there
// are none.
func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, "\n"), nil
	}
	if f, ok := cmd.InOrStdin().(*os.File); ok {
		if fi, err := f.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
			return "", errNoInput
		}
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", err
	}
	return string(data), nil
}
