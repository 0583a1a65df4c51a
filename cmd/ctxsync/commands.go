package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/ctxsync/idgen"
	"github.com/hazyhaar/ctxsync/kit"
	"github.com/hazyhaar/ctxsync/runlog"
	"github.com/hazyhaar/ctxsync/server"
	"github.com/hazyhaar/ctxsync/settings"
	"github.com/hazyhaar/ctxsync/snapshot"
)

const version = "0.1.0"

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "ctxsync",
		Short:         "Carry browser sessions between machines through a private gist",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) { a.close() },
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to ctxsync.yaml")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		runCmd(a, snapshot.RunSave, "Capture the configured sites and push the snapshot"),
		runCmd(a, snapshot.RunRestore, "Fetch the snapshot and replay it into the browser"),
		scriptsCmd(a),
		settingsCmd(a),
		historyCmd(a),
		serveCmd(a),
		mcpCmd(a),
	)
	return root
}

// cliContext tags ctx as a command-line call with its own request id.
func cliContext(ctx context.Context) context.Context {
	ctx = kit.WithTransport(ctx, "cli")
	return kit.WithRequestID(ctx, idgen.Prefixed("cli_", idgen.Default)())
}

func runCmd(a *app, kind snapshot.RunKind, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(kind),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, closeBrowser, err := a.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer closeBrowser()

			ctx := cliContext(cmd.Context())
			if kind == snapshot.RunSave {
				return a.printRun(svc.Save(ctx))
			}
			return a.printRun(svc.Restore(ctx))
		},
	}
}

func scriptsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scripts",
		Short: "Block page scripts in the browser",
		Long: `Script blocking lasts as long as the connection that installed it.
Use "scripts disable" to block from the command line, or the /scripts routes
of "serve" and the ctxsync_scripts MCP tool to toggle it in a long-running
process.`,
	}
	disable := &cobra.Command{
		Use:   "disable",
		Short: "Block page scripts until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, closeBrowser, err := a.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer closeBrowser()
			return holdScripts(cliContext(cmd.Context()), a, svc)
		},
	}
	cmd.AddCommand(disable)
	return cmd
}

// holdScripts blocks scripts until ctx is done, then lets them load again.
func holdScripts(ctx context.Context, a *app, svc *server.Service) error {
	if err := svc.SetScripts(ctx, false); err != nil {
		return err
	}
	err := printScripts(ctx, a, svc)
	if err == nil {
		a.logger.Info("ctxsync: scripts blocked, press Ctrl-C to release")
		<-ctx.Done()
	}
	if rerr := svc.SetScripts(context.WithoutCancel(ctx), true); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

func printScripts(ctx context.Context, a *app, svc *server.Service) error {
	enabled, err := svc.ScriptsEnabled(ctx)
	if err != nil {
		return err
	}
	return a.printJSON(map[string]bool{"scripts_enabled": enabled})
}

func settingsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the access token and the site list",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.openState(cmd.Context()); err != nil {
				return err
			}
			tok, src, err := a.settings.Token()
			if err != nil {
				return err
			}
			urls, err := a.settings.URLs(cmd.Context())
			if err != nil {
				return err
			}
			return a.printJSON(map[string]any{
				"token":        settings.MaskToken(tok),
				"token_source": src,
				"urls":         urls,
				"db":           a.cfg.Settings.DB,
				"gist_name":    a.cfg.Store.GistName,
				"sealed":       a.cfg.Passphrase() != "",
			})
		},
	}

	setToken := &cobra.Command{
		Use:   "set-token [token]",
		Short: "Store the GitHub token in the OS keyring (read from stdin when omitted; empty deletes it)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.openState(cmd.Context()); err != nil {
				return err
			}
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			tok := strings.TrimSpace(text)
			if err := a.settings.SetToken(tok); err != nil {
				return err
			}
			if tok == "" {
				fmt.Fprintln(a.stdout, "token removed")
				return nil
			}
			fmt.Fprintln(a.stdout, "token stored:", settings.MaskToken(tok))
			return nil
		},
	}

	setURLs := &cobra.Command{
		Use:   "set-urls [url...]",
		Short: "Replace the site list (one URL per line on stdin when omitted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.openState(cmd.Context()); err != nil {
				return err
			}
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			urls, err := a.settings.SetURLs(cmd.Context(), text)
			if err != nil {
				return err
			}
			return a.printJSON(map[string]any{"urls": urls})
		},
	}

	cmd.AddCommand(show, setToken, setURLs)
	return cmd
}

func historyCmd(a *app) *cobra.Command {
	var (
		kind  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recent runs, or show one run with its report",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.openState(cmd.Context()); err != nil {
				return err
			}
			if len(args) == 1 {
				run, err := a.runs.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return a.printJSON(run)
			}
			runs, err := a.runs.List(cmd.Context(), runlog.Filter{Kind: snapshot.RunKind(kind), Limit: limit})
			if err != nil {
				return err
			}
			for _, r := range runs {
				line := fmt.Sprintf("%s  %-7s  %-7s  %-3s  sites=%d failed=%d",
					r.Started.Local().Format(time.DateTime), r.Kind, r.Status, r.Transport, r.Sites, r.Failed)
				if r.ErrorKind != "" {
					line += "  error=" + string(r.ErrorKind)
				}
				fmt.Fprintf(a.stdout, "%s  %s\n", r.ID, line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "only save or restore runs")
	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to list")
	return cmd
}

func serveCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, closeBrowser, err := a.openService(ctx)
			if err != nil {
				return err
			}
			defer closeBrowser()

			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           svc.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errc := make(chan error, 1)
			go func() {
				a.logger.Info("ctxsync: listening", "addr", addr)
				errc <- srv.ListenAndServe()
			}()

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}
			a.logger.Info("ctxsync: shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (loopback only); default from config")
	return cmd
}

func mcpCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the ctxsync tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, closeBrowser, err := a.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer closeBrowser()

			srv := mcp.NewServer(&mcp.Implementation{Name: "ctxsync", Version: version}, nil)
			svc.RegisterMCP(srv)
			err = srv.Run(cmd.Context(), &mcp.StdioTransport{})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}
