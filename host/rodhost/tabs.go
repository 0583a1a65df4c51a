package rodhost

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/ctxsync/agent"
	"github.com/hazyhaar/ctxsync/host"
)

// ErrNoTab is returned for operations on a tab this Browser did not open.
var ErrNoTab = errors.New("rodhost: no such tab")

type tabPage struct {
	page *rod.Page
	url  string
}

// Create opens a tab. Hidden tabs (active=false) start blank and are
// navigated in the background so the caller can subscribe to load events
// before the first one is published.
func (b *Browser) Create(ctx context.Context, rawURL string, active bool) (host.TabID, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return "", fmt.Errorf("rodhost: browser closed")
	}

	var page *rod.Page
	var err error
	switch {
	case active:
		page, err = b.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: rawURL})
	case b.cfg.Stealth:
		page, err = stealth.Page(b.browser.Context(ctx))
	default:
		page, err = b.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "", Background: true})
	}
	if err != nil {
		return "", fmt.Errorf("rodhost: create tab: %w", err)
	}

	id := host.TabID(page.TargetID)
	b.track(id, &tabPage{page: page, url: rawURL}, active)

	if active {
		if _, err := page.Activate(); err != nil {
			b.cfg.Logger.Debug("rodhost: activate tab", "tab", id, "error", err)
		}
		return id, nil
	}

	b.wg.Add(1)
	go b.navigate(id, page, rawURL)
	return id, nil
}

// track registers hidden tabs for Remove and SendMessage. Visible tabs
// belong to the user and are not tracked.
func (b *Browser) track(id host.TabID, t *tabPage, active bool) {
	if active {
		return
	}
	b.mu.Lock()
	b.pages[id] = t
	b.mu.Unlock()
}

// navigate loads rawURL and publishes the loading and complete events. A
// failed navigation publishes no complete event; the waiter times out.
func (b *Browser) navigate(id host.TabID, page *rod.Page, rawURL string) {
	defer b.wg.Done()
	log := b.cfg.Logger.With("tab", id, "url", rawURL)

	b.bus.Publish(host.TabEvent{TabID: id, Status: host.StatusLoading, URL: rawURL})
	p := page.Context(b.life)
	if err := p.Navigate(rawURL); err != nil {
		log.Warn("rodhost: navigate failed", "error", err)
		return
	}
	if err := p.WaitLoad(); err != nil {
		log.Warn("rodhost: wait load failed", "error", err)
		return
	}
	final := rawURL
	if info, err := p.Info(); err == nil && info.URL != "" {
		final = info.URL
	}
	b.bus.Publish(host.TabEvent{TabID: id, Status: host.StatusComplete, URL: final})
}

// Remove closes a tab.
func (b *Browser) Remove(ctx context.Context, id host.TabID) error {
	b.mu.Lock()
	t, ok := b.pages[id]
	delete(b.pages, id)
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoTab, id)
	}
	if err := t.page.Context(ctx).Close(); err != nil {
		return fmt.Errorf("rodhost: close tab %s: %w", id, err)
	}
	return nil
}

// Subscribe implements host.Tabs.
func (b *Browser) Subscribe() (<-chan host.TabEvent, func()) {
	return b.bus.Subscribe()
}

// SendMessage delivers req to the agent of tab id. The agent works on the
// page's session and local storage for the origin the tab ended up on.
func (b *Browser) SendMessage(ctx context.Context, id host.TabID, req agent.Request) (agent.Response, error) {
	b.mu.Lock()
	t, ok := b.pages[id]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoTab, id)
	}

	wire, err := agent.EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	page := t.page.Context(ctx)
	origin, err := pageOrigin(page, t.url)
	if err != nil {
		return nil, err
	}
	if err := (proto.DOMStorageEnable{}).Call(page); err != nil {
		return nil, fmt.Errorf("rodhost: enable dom storage: %w", err)
	}

	inPage, err := agent.DecodeRequest(wire)
	if err != nil {
		return nil, err
	}
	a := &agent.Agent{
		Session: &domStorage{page: page, origin: origin, local: false},
		Local:   &domStorage{page: page, origin: origin, local: true},
		Logger:  b.cfg.Logger,
	}
	resp, err := a.Handle(ctx, inPage)
	if err != nil {
		return nil, err
	}
	out, err := agent.EncodeResponse(resp)
	if err != nil {
		return nil, err
	}
	return agent.DecodeResponse(out)
}

// pageOrigin returns the security origin of the page's current document,
// falling back to the URL it was opened with.
func pageOrigin(page *rod.Page, fallback string) (string, error) {
	raw := fallback
	if info, err := page.Info(); err == nil && info.URL != "" && info.URL != "about:blank" {
		raw = info.URL
	}
	return originOf(raw)
}

func originOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("rodhost: origin of %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("rodhost: origin of %q: not an absolute url", raw)
	}
	return u.Scheme + "://" + u.Host, nil
}
