// Package runlog keeps the history of save and restore runs in the local
// state database: one row per run with its summary counters, final error
// and the full per-site report.
package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/ctxsync/dbopen"
	"github.com/hazyhaar/ctxsync/idgen"
	"github.com/hazyhaar/ctxsync/kit"
	"github.com/hazyhaar/ctxsync/snapshot"
)

var migrations = []string{
	`CREATE TABLE runs (
		run_id         TEXT PRIMARY KEY,
		kind           TEXT NOT NULL,
		transport      TEXT NOT NULL,
		request_id     TEXT,
		started_at     INTEGER NOT NULL,
		finished_at    INTEGER NOT NULL,
		sites          INTEGER NOT NULL DEFAULT 0,
		failed         INTEGER NOT NULL DEFAULT 0,
		cookies_set    INTEGER NOT NULL DEFAULT 0,
		cookies_failed INTEGER NOT NULL DEFAULT 0,
		status         TEXT NOT NULL,
		error_kind     TEXT,
		error_message  TEXT,
		report         TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX idx_runs_started ON runs(started_at DESC)`,
}

// Status is the outcome of a run.
type Status string

const (
	StatusSuccess Status = "success" // every site succeeded
	StatusPartial Status = "partial" // the run finished, some sites failed
	StatusError   Status = "error"   // the run aborted
)

// Run is one history row.
type Run struct {
	ID            string           `json:"run_id"`
	Kind          snapshot.RunKind `json:"kind"`
	Transport     string           `json:"transport"`
	RequestID     string           `json:"request_id,omitempty"`
	Started       time.Time        `json:"started"`
	Finished      time.Time        `json:"finished"`
	Sites         int              `json:"sites"`
	Failed        int              `json:"failed"`
	CookiesSet    int              `json:"cookies_set"`
	CookiesFailed int              `json:"cookies_failed"`
	Status        Status           `json:"status"`
	ErrorKind     snapshot.Kind    `json:"error_kind,omitempty"`
	ErrorMessage  string           `json:"error_message,omitempty"`
	Report        json.RawMessage  `json:"report,omitempty"`
}

// Filter narrows List results.
type Filter struct {
	Kind  snapshot.RunKind // empty = all
	Limit int              // default 20, max 500
}

// Log records runs.
type Log struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger
}

// Option configures a Log.
type Option func(*Log)

// WithIDGenerator sets the generator for runs that failed before a report
// (and its run id) existed.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(l *Log) { l.newID = gen }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

// Open migrates the runs table and returns a Log.
func Open(ctx context.Context, db *sql.DB, opts ...Option) (*Log, error) {
	l := &Log{db: db, newID: idgen.RunID, logger: slog.Default()}
	for _, o := range opts {
		o(l)
	}
	if err := dbopen.Migrate(ctx, db, "runlog", migrations); err != nil {
		return nil, fmt.Errorf("runlog: %w", err)
	}
	return l, nil
}

// Record stores the outcome of one run. rep may be nil when the run failed
// before it started. Transport and request id come from ctx.
func (l *Log) Record(ctx context.Context, kind snapshot.RunKind, rep *snapshot.Report, runErr error) (*Run, error) {
	now := time.Now()
	run := &Run{
		Kind:      kind,
		Transport: kit.GetTransport(ctx),
		RequestID: kit.GetRequestID(ctx),
		Started:   now,
		Finished:  now,
		Status:    StatusSuccess,
	}
	if rep != nil {
		run.ID = rep.RunID
		run.Started, run.Finished = rep.Started, rep.Finished
		run.Sites = len(rep.Sites)
		run.Failed = rep.Failed()
		run.CookiesSet, run.CookiesFailed = rep.CookiesSet, rep.CookiesFailed
		data, err := json.Marshal(rep)
		if err != nil {
			return nil, fmt.Errorf("runlog: marshal report: %w", err)
		}
		run.Report = data
		if run.Failed > 0 {
			run.Status = StatusPartial
		}
	}
	if run.ID == "" {
		run.ID = l.newID()
	}
	if runErr != nil {
		run.Status = StatusError
		run.ErrorKind = snapshot.KindOf(runErr)
		run.ErrorMessage = runErr.Error()
	}
	if run.Report == nil {
		run.Report = json.RawMessage(`{}`)
	}

	_, err := dbopen.Exec(ctx, l.db,
		`INSERT INTO runs (run_id, kind, transport, request_id, started_at, finished_at,
			sites, failed, cookies_set, cookies_failed, status, error_kind, error_message, report)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Kind), run.Transport, nullable(run.RequestID),
		run.Started.UnixMilli(), run.Finished.UnixMilli(),
		run.Sites, run.Failed, run.CookiesSet, run.CookiesFailed,
		string(run.Status), nullable(string(run.ErrorKind)), nullable(run.ErrorMessage), string(run.Report))
	if err != nil {
		return nil, fmt.Errorf("runlog: insert %s: %w", run.ID, err)
	}
	l.logger.Debug("runlog: recorded", "run", run.ID, "kind", run.Kind, "status", run.Status)
	return run, nil
}

const selectRuns = `SELECT run_id, kind, transport, request_id, started_at, finished_at,
	sites, failed, cookies_set, cookies_failed, status, error_kind, error_message, report
	FROM runs`

// List returns the most recent runs first.
func (l *Log) List(ctx context.Context, f Filter) ([]Run, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
	q := selectRuns
	var args []any
	if f.Kind != "" {
		q += ` WHERE kind = ?`
		args = append(args, string(f.Kind))
	}
	q += ` ORDER BY started_at DESC, rowid DESC LIMIT ?`
	args = append(args, f.Limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("runlog: list: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// ErrNoRun is returned by Get for an unknown run id.
var ErrNoRun = errors.New("runlog: no such run")

// Get returns one run.
func (l *Log) Get(ctx context.Context, id string) (*Run, error) {
	r, err := scanRun(l.db.QueryRowContext(ctx, selectRuns+` WHERE run_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNoRun, id)
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		r                      Run
		kind, status, report   string
		reqID, errKind, errMsg sql.NullString
		started, finished      int64
	)
	err := sc.Scan(&r.ID, &kind, &r.Transport, &reqID, &started, &finished,
		&r.Sites, &r.Failed, &r.CookiesSet, &r.CookiesFailed, &status, &errKind, &errMsg, &report)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("runlog: scan: %w", err)
	}
	r.Kind = snapshot.RunKind(kind)
	r.Status = Status(status)
	r.RequestID = reqID.String
	r.ErrorKind = snapshot.Kind(errKind.String)
	r.ErrorMessage = errMsg.String
	r.Started = time.UnixMilli(started)
	r.Finished = time.UnixMilli(finished)
	r.Report = json.RawMessage(report)
	return &r, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
