// Package cookies moves a site's cookie jar in and out of the browser as
// portable records.
package cookies

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hazyhaar/ctxsync/domain"
	"github.com/hazyhaar/ctxsync/host"
)

// Record is a portable cookie, passed verbatim to the browser on replay.
type Record = host.CookieDetails

// FromHost converts a cookie read from the browser into a Record.
// Host-only cookies drop their domain and session cookies drop their
// expiration, so replay neither widens scope nor makes them persistent.
func FromHost(c host.Cookie) Record {
	r := Record{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
		StoreID:  c.StoreID,
		URL:      BuildURL(c.Secure, c.Domain, c.Path),
	}
	if !c.HostOnly {
		d := c.Domain
		r.Domain = &d
	}
	if !c.Session {
		exp := c.ExpirationDate
		r.ExpirationDate = &exp
	}
	return r
}

// BuildURL returns the URL a cookie is written through.
func BuildURL(secure bool, cookieDomain, path string) string {
	scheme := "http"
	if secure {
		scheme = "https"
	}
	return scheme + "://" + strings.TrimPrefix(cookieDomain, ".") + path
}

// Transfer captures and replays cookies through a host cookie store.
type Transfer struct {
	store  host.CookieStore
	logger *slog.Logger
}

// NewTransfer creates a Transfer.
func NewTransfer(store host.CookieStore, logger *slog.Logger) *Transfer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transfer{store: store, logger: logger}
}

// Capture returns the records of every cookie scoped to domain, in the
// order the browser reports them.
func (t *Transfer) Capture(ctx context.Context, domain string) ([]Record, error) {
	cs, err := t.store.GetAll(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("cookies: get %s: %w", domain, err)
	}
	out := make([]Record, 0, len(cs))
	for _, c := range cs {
		out = append(out, FromHost(c))
	}
	return out, nil
}

// CaptureWithFallback captures the apex scope and falls back to the exact
// hostname when the apex yields nothing. It returns the domain that
// produced the records.
func (t *Transfer) CaptureWithFallback(ctx context.Context, names domain.Names) (string, []Record, error) {
	records, err := t.Capture(ctx, names.Apex)
	if err != nil {
		return "", nil, err
	}
	if len(records) > 0 {
		return names.Apex, records, nil
	}
	t.logger.Debug("cookies: apex scope empty, using hostname", "apex", names.Apex, "hostname", names.Hostname)
	records, err = t.Capture(ctx, names.Hostname)
	if err != nil {
		return "", nil, err
	}
	return names.Hostname, records, nil
}

// ReplayResult counts replay outcomes.
type ReplayResult struct {
	Set    int
	Failed int
}

// Replay writes every record. A failing record is logged and skipped; the
// remaining records are still written. There is no retry and no rollback.
func (t *Transfer) Replay(ctx context.Context, records []Record) ReplayResult {
	var res ReplayResult
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			res.Failed += len(records) - res.Set - res.Failed
			t.logger.Warn("cookies: replay interrupted", "error", err)
			break
		}
		if err := t.store.Set(ctx, r); err != nil {
			res.Failed++
			t.logger.Warn("cookies: unable to set cookie", "name", r.Name, "url", r.URL, "error", err)
			continue
		}
		res.Set++
	}
	return res
}
