package snapshot

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hazyhaar/ctxsync/agent"
	"github.com/hazyhaar/ctxsync/cookies"
	"github.com/hazyhaar/ctxsync/domain"
	"github.com/hazyhaar/ctxsync/host"
	"github.com/hazyhaar/ctxsync/idgen"
	"github.com/hazyhaar/ctxsync/pagesession"
	"github.com/hazyhaar/ctxsync/scriptgate"
)

// Deps wires an Assembler to its collaborators.
type Deps struct {
	Cookies host.CookieStore
	Tabs    host.Tabs
	Rules   host.RuleController
	Store   Store

	// Sealer, when set, encrypts the document before it is pushed.
	Sealer Sealer

	// LoadTimeout bounds each hidden-tab load. Default: 30s.
	LoadTimeout time.Duration

	// FailFast aborts the site loop on the first site failure instead of
	// recording it and moving on.
	FailFast bool

	Observer pagesession.Observer
	NewRunID idgen.Generator
	Logger   *slog.Logger
}

// Assembler runs save and restore passes over the site list. Runs never
// overlap: the script gate is one switch shared by the whole browser.
type Assembler struct {
	deps     Deps
	transfer *cookies.Transfer
	driver   *pagesession.Driver
	gate     *scriptgate.Gate
	sem      *semaphore.Weighted
	logger   *slog.Logger
}

// New creates an Assembler.
func New(deps Deps) *Assembler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.NewRunID == nil {
		deps.NewRunID = idgen.RunID
	}
	return &Assembler{
		deps:     deps,
		transfer: cookies.NewTransfer(deps.Cookies, deps.Logger),
		driver: pagesession.New(pagesession.Config{
			Tabs:        deps.Tabs,
			LoadTimeout: deps.LoadTimeout,
			Observer:    deps.Observer,
			Logger:      deps.Logger,
		}),
		gate:   scriptgate.New(deps.Rules, deps.Logger),
		sem:    semaphore.NewWeighted(1),
		logger: deps.Logger,
	}
}

// Gate returns the script gate shared by the assembler's runs.
func (a *Assembler) Gate() *scriptgate.Gate { return a.gate }

// Driver returns the page session driver.
func (a *Assembler) Driver() *pagesession.Driver { return a.driver }

// SetScripts enables or disables scripts outside of a run. It waits for a
// running pass to finish so it cannot flip the gate under it.
func (a *Assembler) SetScripts(ctx context.Context, enabled bool) error {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return &Error{Kind: KindCanceled, Op: "scripts", Err: err}
	}
	defer a.sem.Release(1)
	var err error
	if enabled {
		err = a.gate.Enable(ctx)
	} else {
		err = a.gate.Disable(ctx)
	}
	if err != nil {
		return &Error{Kind: KindGate, Op: "scripts", Err: err}
	}
	return nil
}

// SaveAll captures every URL of sess in order and pushes the snapshot.
func (a *Assembler) SaveAll(ctx context.Context, sess Session) (*Report, error) {
	if sess.Token == "" {
		return nil, &Error{Kind: KindConfig, Op: "save", Err: errors.New("no access token configured")}
	}
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return nil, &Error{Kind: KindCanceled, Op: "save", Err: err}
	}
	defer a.sem.Release(1)

	rep := newReport(a.deps.NewRunID(), RunSave)
	log := a.logger.With("run", rep.RunID, "op", "save")
	if len(sess.URLs) == 0 {
		log.Warn("snapshot: no urls configured, pushing an empty snapshot")
	}
	log.Info("snapshot: save started", "urls", len(sess.URLs))

	var snap Snapshot
	err := a.hidden(ctx, "save", func() error {
		for _, u := range sess.URLs {
			entry, serr := a.saveSite(ctx, u, log)
			rep.addSite(u, entry, serr)
			if entry != nil {
				snap = append(snap, *entry)
			}
			if serr != nil && a.stop(ctx) {
				return serr
			}
		}
		return nil
	})
	if err != nil {
		return rep.finish(), err
	}

	content, err := Encode(snap, a.deps.Sealer)
	if err != nil {
		return rep.finish(), &Error{Kind: KindCodec, Op: "save", Err: err}
	}
	if err := a.deps.Store.Save(ctx, sess.Token, content); err != nil {
		return rep.finish(), &Error{Kind: KindRemote, Op: "save", Err: err}
	}

	rep.finish()
	log.Info("snapshot: save finished", "sites", len(snap), "failed", rep.Failed(), "bytes", len(content))
	return rep, nil
}

// RestoreAll fetches the snapshot, replays it site by site and finally
// opens one visible tab per entry.
func (a *Assembler) RestoreAll(ctx context.Context, sess Session) (*Report, error) {
	if sess.Token == "" {
		return nil, &Error{Kind: KindConfig, Op: "restore", Err: errors.New("no access token configured")}
	}
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return nil, &Error{Kind: KindCanceled, Op: "restore", Err: err}
	}
	defer a.sem.Release(1)

	rep := newReport(a.deps.NewRunID(), RunRestore)
	log := a.logger.With("run", rep.RunID, "op", "restore")

	content, err := a.deps.Store.Load(ctx, sess.Token)
	if err != nil {
		kind := KindRemote
		if errors.Is(err, ErrNotFound) {
			kind = KindNotFound
		}
		return rep.finish(), &Error{Kind: kind, Op: "restore", Err: err}
	}
	snap, err := Decode(content, a.deps.Sealer)
	if err != nil {
		return rep.finish(), &Error{Kind: KindCodec, Op: "restore", Err: err}
	}
	log.Info("snapshot: restore started", "sites", len(snap))

	err = a.hidden(ctx, "restore", func() error {
		for _, entry := range snap {
			serr := a.restoreSite(ctx, entry, rep, log)
			rep.addSite(entry.URL, &entry, serr)
			if serr != nil && a.stop(ctx) {
				return serr
			}
		}
		return nil
	})
	if err != nil {
		return rep.finish(), err
	}

	for _, entry := range snap {
		if _, err := a.deps.Tabs.Create(ctx, entry.URL, true); err != nil {
			log.Warn("snapshot: open tab failed", "url", entry.URL, "error", err)
			continue
		}
		rep.Revealed++
	}

	rep.finish()
	log.Info("snapshot: restore finished",
		"sites", len(snap), "failed", rep.Failed(),
		"cookies_set", rep.CookiesSet, "cookies_failed", rep.CookiesFailed)
	return rep, nil
}

// hidden runs fn with scripts blocked and re-enables them afterwards, even
// when fn fails or ctx is cancelled.
func (a *Assembler) hidden(ctx context.Context, op string, fn func() error) error {
	release, err := a.gate.Hold(ctx)
	if err != nil {
		return &Error{Kind: KindGate, Op: op, Err: err}
	}
	fnErr := fn()
	if err := release(context.WithoutCancel(ctx)); err != nil {
		a.logger.Error("snapshot: scripts left disabled", "error", err)
		if fnErr == nil {
			return &Error{Kind: KindGate, Op: op, Err: err}
		}
	}
	return fnErr
}

func (a *Assembler) stop(ctx context.Context) bool {
	return a.deps.FailFast || ctx.Err() != nil
}

// saveSite returns a nil entry when the site cannot be resolved or its
// cookies cannot be read. A failed page session keeps the cookies and
// leaves the storage maps empty.
func (a *Assembler) saveSite(ctx context.Context, rawURL string, log *slog.Logger) (*SiteEntry, error) {
	names, err := domain.Resolve(rawURL)
	if err != nil {
		return nil, &Error{Kind: KindResolve, Op: "save", URL: rawURL, Err: err}
	}
	scope, records, err := a.transfer.CaptureWithFallback(ctx, names)
	if err != nil {
		return nil, &Error{Kind: KindCookie, Op: "save", URL: rawURL, Err: err}
	}
	entry := &SiteEntry{
		URL:      rawURL,
		Hostname: names.Hostname,
		Domain:   scope,
		Cookies:  records,
		SS:       map[string]string{},
		LS:       map[string]string{},
	}
	if entry.Cookies == nil {
		entry.Cookies = []cookies.Record{}
	}

	resp, err := a.driver.Open(ctx, rawURL, agent.SaveRequest{})
	if err != nil {
		log.Warn("snapshot: storage harvest failed", "url", rawURL, "error", err)
		return entry, &Error{Kind: sessionKind(err), Op: "save", URL: rawURL, Err: err}
	}
	save := resp.(agent.SaveResponse)
	entry.SS, entry.LS = save.SS, save.LS
	log.Debug("snapshot: site captured", "url", rawURL, "domain", scope,
		"cookies", len(records), "ss", len(entry.SS), "ls", len(entry.LS))
	return entry, nil
}

func (a *Assembler) restoreSite(ctx context.Context, entry SiteEntry, rep *Report, log *slog.Logger) error {
	res := a.transfer.Replay(ctx, entry.Cookies)
	rep.CookiesSet += res.Set
	rep.CookiesFailed += res.Failed

	_, err := a.driver.Open(ctx, entry.URL, agent.LoadRequest{SS: entry.SS, LS: entry.LS})
	if err != nil {
		log.Warn("snapshot: storage injection failed", "url", entry.URL, "error", err)
		return &Error{Kind: sessionKind(err), Op: "restore", URL: entry.URL, Err: err}
	}
	log.Debug("snapshot: site restored", "url", entry.URL, "cookies", res.Set, "cookie_failures", res.Failed)
	return nil
}

func sessionKind(err error) Kind {
	switch {
	case errors.Is(err, pagesession.ErrLoadTimeout):
		return KindTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	}
	var se *pagesession.Error
	if errors.As(err, &se) && se.Stage == pagesession.StageMessage {
		return KindMessage
	}
	return KindNavigation
}
