// Package rodhost implements the host interfaces over the Chrome DevTools
// Protocol with go-rod: it launches Chrome (or attaches to a running one),
// drives tabs, reads and writes cookies through the Storage domain, blocks
// requests with a browser-level hijack router and exposes each page's web
// storage to the in-page agent through the DOMStorage domain.
package rodhost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"

	"github.com/hazyhaar/ctxsync/host"
)

// Config configures the browser connection.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of an already running Chrome.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// Headful shows the launched browser window. Ignored with RemoteURL.
	Headful bool

	// UserDataDir is the profile directory of the launched browser. Restored
	// cookies only outlive the process when this is set.
	UserDataDir string

	// KeepAlive leaves a launched browser running after Close.
	KeepAlive bool

	// Stealth opens hidden tabs with go-rod/stealth evasions applied.
	Stealth bool

	// EventBuffer is the per-subscriber tab event buffer. Default: 64.
	EventBuffer int

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.EventBuffer <= 0 {
		c.EventBuffer = 64
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Browser is a connected Chrome. It implements host.Tabs, host.CookieStore
// and host.RuleController.
type Browser struct {
	cfg     Config
	browser *rod.Browser
	lnch    *launcher.Launcher
	bus     *host.Bus

	// life scopes background navigation; cancelled by Close.
	life   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	pages  map[host.TabID]*tabPage
	rules  []host.Rule
	router *rod.HijackRouter
	filter atomic.Pointer[ruleSet]
	closed bool
}

var (
	_ host.Tabs           = (*Browser)(nil)
	_ host.CookieStore    = (*Browser)(nil)
	_ host.RuleController = (*Browser)(nil)
)

// Start launches Chrome or connects to cfg.RemoteURL.
func Start(ctx context.Context, cfg Config) (*Browser, error) {
	cfg.defaults()
	log := cfg.Logger

	life, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b := &Browser{
		cfg:    cfg,
		bus:    host.NewBus(cfg.EventBuffer, log),
		life:   life,
		cancel: cancel,
		pages:  make(map[host.TabID]*tabPage),
	}
	b.filter.Store(compileRules(nil))

	var wsURL string
	if cfg.RemoteURL != "" {
		wsURL = cfg.RemoteURL
		log.Info("rodhost: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().Context(ctx).Headless(!cfg.Headful).Leakless(!cfg.KeepAlive)
		if cfg.UserDataDir != "" {
			l = l.UserDataDir(cfg.UserDataDir)
		}
		// Anti-detection flag.
		l = l.Set("disable-blink-features", "AutomationControlled")

		u, err := l.Launch()
		if err != nil {
			cancel()
			return nil, fmt.Errorf("rodhost: launch: %w", err)
		}
		wsURL = u
		b.lnch = l
		log.Info("rodhost: launched local chrome", "url", wsURL, "headful", cfg.Headful, "user_data_dir", cfg.UserDataDir)
	}

	rb := rod.New().Context(life).ControlURL(wsURL)
	if err := rb.Connect(); err != nil {
		b.cleanup()
		return nil, fmt.Errorf("rodhost: connect: %w", err)
	}
	b.browser = rb
	return b, nil
}

// Rod returns the underlying rod browser.
func (b *Browser) Rod() *rod.Browser { return b.browser }

// Close stops request interception and detaches from Chrome. A launched
// browser is shut down unless KeepAlive is set; a remote one is left
// running.
func (b *Browser) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	router := b.router
	b.router = nil
	b.mu.Unlock()

	var errs []error
	if router != nil {
		if err := router.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("rodhost: stop router: %w", err))
		}
	}
	if b.lnch != nil && !b.cfg.KeepAlive && b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("rodhost: close browser: %w", err))
		}
	}
	b.cleanup()
	return errors.Join(errs...)
}

func (b *Browser) cleanup() {
	b.cancel()
	b.wg.Wait()
	if b.lnch != nil && !b.cfg.KeepAlive {
		b.lnch.Cleanup()
	}
}
