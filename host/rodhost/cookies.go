package rodhost

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/ctxsync/host"
)

// defaultStoreID is the cookie store id of the default browsing context.
const defaultStoreID = "0"

// GetAll returns the cookies of domain and its subdomains from every
// browsing context cookie jar reachable through the Storage domain.
func (b *Browser) GetAll(ctx context.Context, domain string) ([]host.Cookie, error) {
	all, err := b.browser.Context(ctx).GetCookies()
	if err != nil {
		return nil, fmt.Errorf("rodhost: get cookies: %w", err)
	}
	var out []host.Cookie
	for _, c := range all {
		if host.DomainMatch(c.Domain, domain) {
			out = append(out, fromNetworkCookie(c))
		}
	}
	return out, nil
}

// Set writes one cookie.
func (b *Browser) Set(ctx context.Context, d host.CookieDetails) error {
	if err := b.browser.Context(ctx).SetCookies([]*proto.NetworkCookieParam{toCookieParam(d)}); err != nil {
		return fmt.Errorf("rodhost: set cookie %s for %s: %w", d.Name, d.URL, err)
	}
	return nil
}

// fromNetworkCookie maps a CDP cookie. CDP has no host-only flag: domain
// cookies carry a leading dot, host-only cookies do not.
func fromNetworkCookie(c *proto.NetworkCookie) host.Cookie {
	out := host.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
		HostOnly: !strings.HasPrefix(c.Domain, "."),
		Session:  c.Session,
		StoreID:  defaultStoreID,
	}
	if !c.Session {
		out.ExpirationDate = float64(c.Expires)
	}
	return out
}

func toCookieParam(d host.CookieDetails) *proto.NetworkCookieParam {
	p := &proto.NetworkCookieParam{
		Name:     d.Name,
		Value:    d.Value,
		URL:      d.URL,
		Path:     d.Path,
		Secure:   d.Secure,
		HTTPOnly: d.HTTPOnly,
	}
	if d.Domain != nil {
		p.Domain = *d.Domain
	}
	if d.ExpirationDate != nil {
		p.Expires = proto.TimeSinceEpoch(*d.ExpirationDate)
	}
	return p
}
