// Package server exposes ctxsync runs to the command line, a local HTTP
// control API and MCP clients. All three go through Service, so every run
// is recorded in the run history the same way.
package server

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/ctxsync/runlog"
	"github.com/hazyhaar/ctxsync/snapshot"
)

// SessionSource yields the token and URL list for the next run.
type SessionSource interface {
	Session(ctx context.Context) (snapshot.Session, error)
}

// Config wires a Service.
type Config struct {
	Assembler *snapshot.Assembler
	Sessions  SessionSource
	// Runs, when set, records every save and restore run.
	Runs   *runlog.Log
	Logger *slog.Logger
}

// Service runs saves and restores against the current settings.
type Service struct {
	asm      *snapshot.Assembler
	sessions SessionSource
	runs     *runlog.Log
	logger   *slog.Logger
}

// NewService creates a Service.
func NewService(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{asm: cfg.Assembler, sessions: cfg.Sessions, runs: cfg.Runs, logger: cfg.Logger}
}

// Save captures the configured sites and pushes the snapshot.
func (s *Service) Save(ctx context.Context) (*snapshot.Report, error) {
	return s.run(ctx, snapshot.RunSave, s.asm.SaveAll)
}

// Restore fetches the snapshot and replays it.
func (s *Service) Restore(ctx context.Context) (*snapshot.Report, error) {
	return s.run(ctx, snapshot.RunRestore, s.asm.RestoreAll)
}

func (s *Service) run(ctx context.Context, kind snapshot.RunKind,
	fn func(context.Context, snapshot.Session) (*snapshot.Report, error)) (*snapshot.Report, error) {
	sess, err := s.sessions.Session(ctx)
	if err != nil {
		err = &snapshot.Error{Kind: snapshot.KindConfig, Op: string(kind), Err: err}
		s.record(ctx, kind, nil, err)
		return nil, err
	}
	rep, err := fn(ctx, sess)
	s.record(ctx, kind, rep, err)
	return rep, err
}

func (s *Service) record(ctx context.Context, kind snapshot.RunKind, rep *snapshot.Report, runErr error) {
	if s.runs == nil {
		return
	}
	if _, err := s.runs.Record(context.WithoutCancel(ctx), kind, rep, runErr); err != nil {
		s.logger.Warn("server: run not recorded", "kind", kind, "error", err)
	}
}

// SetScripts enables or disables scripts in the browser.
func (s *Service) SetScripts(ctx context.Context, enabled bool) error {
	return s.asm.SetScripts(ctx, enabled)
}

// ScriptsEnabled reports whether scripts currently load.
func (s *Service) ScriptsEnabled(ctx context.Context) (bool, error) {
	blocking, err := s.asm.Gate().Blocking(ctx)
	if err != nil {
		return false, &snapshot.Error{Kind: snapshot.KindGate, Op: "scripts", Err: err}
	}
	return !blocking, nil
}

// History lists recorded runs. It returns an empty list when no run log is
// configured.
func (s *Service) History(ctx context.Context, f runlog.Filter) ([]runlog.Run, error) {
	if s.runs == nil {
		return []runlog.Run{}, nil
	}
	return s.runs.List(ctx, f)
}

// Run returns one recorded run.
func (s *Service) Run(ctx context.Context, id string) (*runlog.Run, error) {
	if s.runs == nil {
		return nil, runlog.ErrNoRun
	}
	return s.runs.Get(ctx, id)
}
