// Package host declares the browser primitives consumed by ctxsync: the
// cookie store, tab lifecycle with its load-status event stream, and the
// network rule controller used to block script loads.
//
// Implementations live in host/rodhost (Chrome over CDP) and host/memhost
// (in-memory, deterministic).
package host

import (
	"context"
	"strings"

	"github.com/hazyhaar/ctxsync/agent"
)

// Cookie is a cookie as reported by the browser cookie store.
type Cookie struct {
	Name           string
	Value          string
	Domain         string
	Path           string
	Secure         bool
	HTTPOnly       bool
	HostOnly       bool
	Session        bool
	ExpirationDate float64
	StoreID        string
}

// CookieDetails is the argument of a cookie write. Domain and ExpirationDate
// are optional: a nil Domain writes a host-only cookie for URL's host, a nil
// ExpirationDate writes a session cookie.
type CookieDetails struct {
	Name           string   `json:"name"`
	Value          string   `json:"value"`
	Path           string   `json:"path"`
	Secure         bool     `json:"secure"`
	HTTPOnly       bool     `json:"httpOnly"`
	StoreID        string   `json:"storeId"`
	URL            string   `json:"url"`
	Domain         *string  `json:"domain,omitempty"`
	ExpirationDate *float64 `json:"expirationDate,omitempty"`
}

// CookieStore reads and writes browser cookies.
type CookieStore interface {
	// GetAll returns every cookie whose domain equals domain or is one of
	// its subdomains.
	GetAll(ctx context.Context, domain string) ([]Cookie, error)
	Set(ctx context.Context, details CookieDetails) error
}

// TabID identifies a browser tab.
type TabID string

// TabStatus is the load status carried by a TabEvent.
type TabStatus string

const (
	StatusLoading  TabStatus = "loading"
	StatusComplete TabStatus = "complete"
)

// TabEvent reports a load-status change of one tab.
type TabEvent struct {
	TabID  TabID
	Status TabStatus
	URL    string
}

// Tabs controls tab lifecycle and the message channel to the agent hosted
// in each tab.
type Tabs interface {
	Create(ctx context.Context, url string, active bool) (TabID, error)
	Remove(ctx context.Context, id TabID) error
	// Subscribe returns a stream of load-status events for every tab and a
	// function that de-registers it. The stream is closed on de-registration.
	Subscribe() (<-chan TabEvent, func())
	SendMessage(ctx context.Context, id TabID, req agent.Request) (agent.Response, error)
}

// ResourceType names a class of network request.
type ResourceType string

const (
	ResourceScript     ResourceType = "script"
	ResourceStylesheet ResourceType = "stylesheet"
	ResourceImage      ResourceType = "image"
	ResourceFont       ResourceType = "font"
	ResourceMedia      ResourceType = "media"
)

// RuleAction is what a matching rule does to a request.
type RuleAction string

const ActionBlock RuleAction = "block"

// Rule is a dynamic network rule.
type Rule struct {
	ID            int
	Priority      int
	Action        RuleAction
	URLFilter     string
	ResourceTypes []ResourceType
}

// RuleUpdate removes then adds rules atomically.
type RuleUpdate struct {
	RemoveRuleIDs []int
	AddRules      []Rule
}

// RuleController manages dynamic network rules for the browsing context.
type RuleController interface {
	UpdateRules(ctx context.Context, update RuleUpdate) error
	Rules(ctx context.Context) ([]Rule, error)
}

// DomainMatch reports whether a cookie scoped to cookieDomain belongs to
// domain, i.e. equals it or is a subdomain. Leading dots are ignored.
func DomainMatch(cookieDomain, domain string) bool {
	cd := strings.ToLower(strings.TrimPrefix(cookieDomain, "."))
	d := strings.ToLower(strings.TrimPrefix(domain, "."))
	if d == "" {
		return false
	}
	return cd == d || strings.HasSuffix(cd, "."+d)
}

// ApplyUpdate returns rules with update applied: removals first, then
// additions replacing any rule with the same ID.
func ApplyUpdate(rules []Rule, update RuleUpdate) []Rule {
	drop := make(map[int]bool, len(update.RemoveRuleIDs)+len(update.AddRules))
	for _, id := range update.RemoveRuleIDs {
		drop[id] = true
	}
	for _, r := range update.AddRules {
		drop[r.ID] = true
	}
	out := make([]Rule, 0, len(rules)+len(update.AddRules))
	for _, r := range rules {
		if !drop[r.ID] {
			out = append(out, r)
		}
	}
	return append(out, update.AddRules...)
}

// Blocks reports whether rule r blocks a request of type rt. URL filtering
// is left to the implementation.
func (r Rule) Blocks(rt ResourceType) bool {
	if r.Action != ActionBlock {
		return false
	}
	if len(r.ResourceTypes) == 0 {
		return true
	}
	for _, t := range r.ResourceTypes {
		if t == rt {
			return true
		}
	}
	return false
}
