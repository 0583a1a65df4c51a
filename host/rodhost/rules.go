package rodhost

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/gobwas/glob"

	"github.com/hazyhaar/ctxsync/host"
)

// UpdateRules applies update and re-arms request interception. The hijack
// router only runs while at least one rule is installed.
func (b *Browser) UpdateRules(_ context.Context, update host.RuleUpdate) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("rodhost: browser closed")
	}
	next := host.ApplyUpdate(b.rules, update)
	set := compileRules(next)
	if set.err != nil {
		b.mu.Unlock()
		return fmt.Errorf("rodhost: update rules: %w", set.err)
	}
	b.rules = next
	b.filter.Store(set)

	var stop *rod.HijackRouter
	switch {
	case len(next) > 0 && b.router == nil:
		router := b.browser.Context(b.life).HijackRequests()
		if err := router.Add("*", "", b.intercept); err != nil {
			b.mu.Unlock()
			return fmt.Errorf("rodhost: hijack: %w", err)
		}
		go router.Run()
		b.router = router
		b.cfg.Logger.Debug("rodhost: request interception on", "rules", len(next))
	case len(next) == 0 && b.router != nil:
		stop = b.router
		b.router = nil
	}
	b.mu.Unlock()

	if stop != nil {
		if err := stop.Stop(); err != nil {
			b.cfg.Logger.Warn("rodhost: stop router", "error", err)
		}
		b.cfg.Logger.Debug("rodhost: request interception off")
	}
	return nil
}

// Rules returns the installed rules.
func (b *Browser) Rules(context.Context) ([]host.Rule, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.rules), nil
}

func (b *Browser) intercept(h *rod.Hijack) {
	set := b.filter.Load()
	rt := resourceType(h.Request.Type())
	if set.blocks(h.Request.URL().String(), rt) {
		h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
		return
	}
	h.ContinueRequest(&proto.FetchContinueRequest{})
}

// resourceType maps a CDP resource type ("Script", "Image", ...) onto
// host.ResourceType.
func resourceType(t proto.NetworkResourceType) host.ResourceType {
	return host.ResourceType(strings.ToLower(string(t)))
}

type compiledRule struct {
	rule  host.Rule
	match glob.Glob
}

type ruleSet struct {
	rules []compiledRule
	err   error
}

// compileRules turns url filters into globs. A filter without a wildcard
// matches as a substring of the request URL.
func compileRules(rules []host.Rule) *ruleSet {
	set := &ruleSet{}
	for _, r := range rules {
		pattern := r.URLFilter
		if pattern == "" {
			pattern = "*"
		}
		if !strings.ContainsAny(pattern, "*?") {
			pattern = "*" + pattern + "*"
		}
		g, err := glob.Compile(pattern)
		if err != nil {
			set.err = fmt.Errorf("rule %d: url filter %q: %w", r.ID, r.URLFilter, err)
			return set
		}
		set.rules = append(set.rules, compiledRule{rule: r, match: g})
	}
	return set
}

func (s *ruleSet) blocks(rawURL string, rt host.ResourceType) bool {
	for _, c := range s.rules {
		if c.rule.Action != host.ActionBlock || !c.rule.Blocks(rt) {
			continue
		}
		if c.match.Match(rawURL) {
			return true
		}
	}
	return false
}
