// Package memhost is an in-memory browser implementing the host interfaces.
// It keeps a journal of every tab and rule operation together with the
// script-blocking state at that moment, so tests can check the order
// of operations after a run.
package memhost

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/hazyhaar/ctxsync/agent"
	"github.com/hazyhaar/ctxsync/host"
)

// ErrNoTab is returned for operations on an unknown tab.
var ErrNoTab = errors.New("memhost: no such tab")

// Site configures how pages of one URL behave.
type Site struct {
	// SessionStorage seeds the session storage of every tab opened on the URL.
	SessionStorage map[string]string
	// Hang suppresses the load-complete event.
	Hang bool
	// ExtraCompletes publishes additional complete events after the first,
	// as a reload or client redirect would.
	ExtraCompletes int
	// MessageErr makes SendMessage fail.
	MessageErr error
}

// OpKind names a journal entry.
type OpKind string

const (
	OpCreate      OpKind = "create"
	OpRemove      OpKind = "remove"
	OpMessage     OpKind = "message"
	OpRules       OpKind = "rules"
	OpCookieRead  OpKind = "cookie_read"
	OpCookieWrite OpKind = "cookie_write"
)

// Op is one journal entry.
type Op struct {
	Kind           OpKind
	TabID          host.TabID
	URL            string
	Active         bool
	ScriptsBlocked bool
}

type tab struct {
	id      host.TabID
	url     string
	origin  string
	active  bool
	session agent.MapStorage
}

// Browser is the in-memory host.
type Browser struct {
	mu      sync.Mutex
	bus     *host.Bus
	cookies []host.Cookie
	local   map[string]agent.MapStorage // keyed by origin
	sites   map[string]Site
	tabs    map[host.TabID]*tab
	rules   []host.Rule
	nextTab int
	journal []Op

	openHidden    int
	maxOpenHidden int

	// FailSet, when set, is consulted before each cookie write.
	FailSet func(host.CookieDetails) error
}

// New creates an empty Browser.
func New() *Browser {
	return &Browser{
		bus:   host.NewBus(64, nil),
		local: make(map[string]agent.MapStorage),
		sites: make(map[string]Site),
		tabs:  make(map[host.TabID]*tab),
	}
}

// SetSite configures page behaviour for rawURL.
func (b *Browser) SetSite(rawURL string, s Site) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sites[rawURL] = s
}

// AddCookie puts c in the jar, replacing a cookie with the same name,
// domain and path.
func (b *Browser) AddCookie(c host.Cookie) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.putCookie(c)
}

// LocalStorage returns the local storage area of origin, creating it.
func (b *Browser) LocalStorage(origin string) agent.MapStorage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.localFor(origin)
}

// Journal returns a copy of the operation journal.
func (b *Browser) Journal() []Op {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.journal)
}

// MaxOpenHidden returns the highest number of background tabs
// (active=false) that were open at the same time.
func (b *Browser) MaxOpenHidden() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxOpenHidden
}

// OpenTabs returns the URLs of tabs still open, in creation order.
func (b *Browser) OpenTabs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]host.TabID, 0, len(b.tabs))
	for id := range b.tabs {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(x, y host.TabID) int { return tabSeq(x) - tabSeq(y) })
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, b.tabs[id].url)
	}
	return out
}

// ScriptsBlocked reports whether a rule currently blocks script loads.
func (b *Browser) ScriptsBlocked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scriptsBlockedLocked()
}

// Create implements host.Tabs.
func (b *Browser) Create(_ context.Context, rawURL string, active bool) (host.TabID, error) {
	origin, err := originOf(rawURL)
	if err != nil {
		return "", err
	}

	b.mu.Lock()
	b.nextTab++
	id := host.TabID(fmt.Sprintf("tab-%d", b.nextTab))
	site := b.sites[rawURL]
	session := agent.MapStorage{}
	for k, v := range site.SessionStorage {
		session[k] = v
	}
	b.tabs[id] = &tab{id: id, url: rawURL, origin: origin, active: active, session: session}
	if !active {
		b.openHidden++
		b.maxOpenHidden = max(b.maxOpenHidden, b.openHidden)
	}
	b.record(Op{Kind: OpCreate, TabID: id, URL: rawURL, Active: active})
	b.mu.Unlock()

	b.bus.Publish(host.TabEvent{TabID: id, Status: host.StatusLoading, URL: rawURL})
	if !site.Hang {
		for i := 0; i <= site.ExtraCompletes; i++ {
			b.bus.Publish(host.TabEvent{TabID: id, Status: host.StatusComplete, URL: rawURL})
		}
	}
	return id, nil
}

// Remove implements host.Tabs.
func (b *Browser) Remove(_ context.Context, id host.TabID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tabs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoTab, id)
	}
	delete(b.tabs, id)
	if !t.active {
		b.openHidden--
	}
	b.record(Op{Kind: OpRemove, TabID: id, URL: t.url})
	return nil
}

// Subscribe implements host.Tabs.
func (b *Browser) Subscribe() (<-chan host.TabEvent, func()) {
	return b.bus.Subscribe()
}

// Subscribers returns the number of live event subscriptions.
func (b *Browser) Subscribers() int {
	return b.bus.Subscribers()
}

// SendMessage implements host.Tabs. The request and response cross the
// page boundary in their wire form.
func (b *Browser) SendMessage(ctx context.Context, id host.TabID, req agent.Request) (agent.Response, error) {
	wire, err := agent.EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	t, ok := b.tabs[id]
	if !ok {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNoTab, id)
	}
	b.record(Op{Kind: OpMessage, TabID: id, URL: t.url})
	site := b.sites[t.url]
	a := &agent.Agent{Session: t.session, Local: b.localFor(t.origin)}
	b.mu.Unlock()

	if site.MessageErr != nil {
		return nil, site.MessageErr
	}

	inPage, err := agent.DecodeRequest(wire)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	resp, err := a.Handle(ctx, inPage)
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out, err := agent.EncodeResponse(resp)
	if err != nil {
		return nil, err
	}
	return agent.DecodeResponse(out)
}

// GetAll implements host.CookieStore.
func (b *Browser) GetAll(_ context.Context, domain string) ([]host.Cookie, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(Op{Kind: OpCookieRead, URL: domain})
	var out []host.Cookie
	for _, c := range b.cookies {
		if host.DomainMatch(c.Domain, domain) {
			out = append(out, c)
		}
	}
	return out, nil
}

// Set implements host.CookieStore with the browser's write semantics: a
// given domain produces a domain cookie, none a host-only cookie for the
// URL host; a missing expiration produces a session cookie.
func (b *Browser) Set(_ context.Context, d host.CookieDetails) error {
	if b.FailSet != nil {
		if err := b.FailSet(d); err != nil {
			return err
		}
	}
	u, err := url.Parse(d.URL)
	if err != nil || u.Hostname() == "" {
		return fmt.Errorf("memhost: invalid cookie url %q", d.URL)
	}
	c := host.Cookie{
		Name:     d.Name,
		Value:    d.Value,
		Path:     d.Path,
		Secure:   d.Secure,
		HTTPOnly: d.HTTPOnly,
		StoreID:  d.StoreID,
	}
	if c.Path == "" {
		c.Path = "/"
	}
	if d.Domain != nil {
		c.Domain = "." + strings.TrimPrefix(*d.Domain, ".")
		if !host.DomainMatch(u.Hostname(), c.Domain) {
			return fmt.Errorf("memhost: domain %q does not cover %q", *d.Domain, u.Hostname())
		}
	} else {
		c.Domain = u.Hostname()
		c.HostOnly = true
	}
	if d.ExpirationDate != nil {
		c.ExpirationDate = *d.ExpirationDate
	} else {
		c.Session = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(Op{Kind: OpCookieWrite, URL: d.URL})
	b.putCookie(c)
	return nil
}

// UpdateRules implements host.RuleController.
func (b *Browser) UpdateRules(_ context.Context, update host.RuleUpdate) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rules = host.ApplyUpdate(b.rules, update)
	b.record(Op{Kind: OpRules})
	return nil
}

// Rules implements host.RuleController.
func (b *Browser) Rules(context.Context) ([]host.Rule, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.rules), nil
}

func (b *Browser) record(op Op) {
	op.ScriptsBlocked = b.scriptsBlockedLocked()
	b.journal = append(b.journal, op)
}

func (b *Browser) scriptsBlockedLocked() bool {
	for _, r := range b.rules {
		if r.Blocks(host.ResourceScript) {
			return true
		}
	}
	return false
}

func (b *Browser) localFor(origin string) agent.MapStorage {
	s, ok := b.local[origin]
	if !ok {
		s = agent.MapStorage{}
		b.local[origin] = s
	}
	return s
}

func (b *Browser) putCookie(c host.Cookie) {
	for i, old := range b.cookies {
		if old.Name == c.Name && old.Domain == c.Domain && old.Path == c.Path {
			b.cookies[i] = c
			return
		}
	}
	b.cookies = append(b.cookies, c)
}

func originOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("memhost: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("memhost: url %q has no host", rawURL)
	}
	return u.Scheme + "://" + u.Host, nil
}

func tabSeq(id host.TabID) int {
	var n int
	fmt.Sscanf(string(id), "tab-%d", &n)
	return n
}
