// Package pagesession drives one hidden-tab session at a time: open a
// background tab, wait for its load to complete, exchange one message with
// the page agent, and tear the tab down.
package pagesession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/ctxsync/agent"
	"github.com/hazyhaar/ctxsync/host"
)

// State is a driver state.
type State int

const (
	Idle State = iota
	TabOpening
	AwaitingLoadComplete
	Messaging
	TabClosing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case TabOpening:
		return "tab_opening"
	case AwaitingLoadComplete:
		return "awaiting_load_complete"
	case Messaging:
		return "messaging"
	case TabClosing:
		return "tab_closing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// DefaultLoadTimeout bounds the wait for a load-complete event.
const DefaultLoadTimeout = 30 * time.Second

// ErrLoadTimeout is returned when a tab never reports load completion.
var ErrLoadTimeout = errors.New("pagesession: load did not complete")

// ErrEventsClosed is returned when the event stream ends before completion.
var ErrEventsClosed = errors.New("pagesession: tab event stream closed")

// Stage names the step a session failed in.
type Stage string

const (
	StageOpen    Stage = "open"
	StageLoad    Stage = "load"
	StageMessage Stage = "message"
	StageClose   Stage = "close"
)

// Error reports a failed session.
type Error struct {
	Stage Stage
	URL   string
	TabID host.TabID
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("pagesession: %s %s: %v", e.Stage, e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transition is passed to an Observer on every state change.
type Transition struct {
	From, To State
	URL      string
	TabID    host.TabID
}

// Observer is notified of state transitions, synchronously, from the
// goroutine running the session.
type Observer func(Transition)

// Config configures a Driver.
type Config struct {
	Tabs host.Tabs

	// LoadTimeout bounds the wait for load completion. Default: 30s.
	LoadTimeout time.Duration

	Observer Observer
	Logger   *slog.Logger
}

// Driver runs hidden-tab sessions strictly one after another.
type Driver struct {
	cfg Config

	mu      sync.Mutex // held for a whole session
	state   atomic.Int32
	opened  atomic.Int64
	removed atomic.Int64
}

// New creates a Driver.
func New(cfg Config) *Driver {
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = DefaultLoadTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Driver{cfg: cfg}
}

// State returns the current state.
func (d *Driver) State() State {
	return State(d.state.Load())
}

// Counts returns how many hidden tabs were opened and removed so far.
func (d *Driver) Counts() (opened, removed int) {
	return int(d.opened.Load()), int(d.removed.Load())
}

// Open runs one session against rawURL and returns the agent's response.
// A session that fails after the tab exists still removes the tab.
func (d *Driver) Open(ctx context.Context, rawURL string, req agent.Request) (agent.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	log := d.cfg.Logger.With("url", rawURL, "cmd", req.Cmd())

	d.transition(TabOpening, rawURL, "")
	// Subscribe before creating so the completion of a fast load is not missed.
	events, unsubscribe := d.cfg.Tabs.Subscribe()
	id, err := d.cfg.Tabs.Create(ctx, rawURL, false)
	if err != nil {
		unsubscribe()
		d.transition(Idle, rawURL, "")
		return nil, &Error{Stage: StageOpen, URL: rawURL, Err: err}
	}
	d.opened.Add(1)
	log = log.With("tab", id)

	d.transition(AwaitingLoadComplete, rawURL, id)
	err = d.awaitComplete(ctx, events, id)
	unsubscribe()
	if err != nil {
		log.Warn("pagesession: load wait failed", "error", err)
		d.teardown(rawURL, id, log)
		return nil, &Error{Stage: StageLoad, URL: rawURL, TabID: id, Err: err}
	}

	d.transition(Messaging, rawURL, id)
	resp, msgErr := d.cfg.Tabs.SendMessage(ctx, id, req)

	rmErr := d.teardown(rawURL, id, log)
	if msgErr != nil {
		return nil, &Error{Stage: StageMessage, URL: rawURL, TabID: id, Err: msgErr}
	}
	if rmErr != nil {
		return nil, &Error{Stage: StageClose, URL: rawURL, TabID: id, Err: rmErr}
	}
	if err := checkResponse(req, resp); err != nil {
		return nil, &Error{Stage: StageMessage, URL: rawURL, TabID: id, Err: err}
	}
	log.Debug("pagesession: session complete")
	return resp, nil
}

// awaitComplete returns on the first complete event for id. Events of other
// tabs and non-complete statuses are ignored.
func (d *Driver) awaitComplete(ctx context.Context, events <-chan host.TabEvent, id host.TabID) error {
	timer := time.NewTimer(d.cfg.LoadTimeout)
	defer timer.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return ErrEventsClosed
			}
			if ev.TabID == id && ev.Status == host.StatusComplete {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("%w within %s", ErrLoadTimeout, d.cfg.LoadTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// teardown removes the tab with a context detached from the caller's, so a
// cancelled run still closes what it opened.
func (d *Driver) teardown(rawURL string, id host.TabID, log *slog.Logger) error {
	d.transition(TabClosing, rawURL, id)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := d.cfg.Tabs.Remove(ctx, id)
	if err != nil {
		log.Warn("pagesession: remove tab failed", "error", err)
	} else {
		d.removed.Add(1)
	}
	d.transition(Idle, rawURL, id)
	return err
}

func (d *Driver) transition(to State, rawURL string, id host.TabID) {
	from := State(d.state.Swap(int32(to)))
	if d.cfg.Observer != nil {
		d.cfg.Observer(Transition{From: from, To: to, URL: rawURL, TabID: id})
	}
}

func checkResponse(req agent.Request, resp agent.Response) error {
	switch req.(type) {
	case agent.SaveRequest:
		if _, ok := resp.(agent.SaveResponse); ok {
			return nil
		}
	case agent.LoadRequest:
		if _, ok := resp.(agent.LoadResponse); ok {
			return nil
		}
	}
	return fmt.Errorf("unexpected response %T to %s", resp, req.Cmd())
}
