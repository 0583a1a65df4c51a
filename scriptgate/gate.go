// Package scriptgate is the global switch that suppresses script loads while
// hidden tabs are harvested or injected.
package scriptgate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/ctxsync/host"
)

// RuleID is the reserved dynamic rule identifier owned by the gate.
const RuleID = 1

// BlockRule blocks every script-type request.
var BlockRule = host.Rule{
	ID:            RuleID,
	Priority:      1,
	Action:        host.ActionBlock,
	URLFilter:     "*",
	ResourceTypes: []host.ResourceType{host.ResourceScript},
}

// Gate toggles the reserved blocking rule.
type Gate struct {
	rules  host.RuleController
	logger *slog.Logger
}

// New creates a Gate over rules.
func New(rules host.RuleController, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{rules: rules, logger: logger}
}

// Disable blocks scripts, replacing any rule already holding RuleID.
func (g *Gate) Disable(ctx context.Context) error {
	err := g.rules.UpdateRules(ctx, host.RuleUpdate{
		RemoveRuleIDs: []int{RuleID},
		AddRules:      []host.Rule{BlockRule},
	})
	if err != nil {
		return fmt.Errorf("scriptgate: disable scripts: %w", err)
	}
	g.logger.Debug("scriptgate: scripts disabled")
	return nil
}

// Enable removes the blocking rule.
func (g *Gate) Enable(ctx context.Context) error {
	if err := g.rules.UpdateRules(ctx, host.RuleUpdate{RemoveRuleIDs: []int{RuleID}}); err != nil {
		return fmt.Errorf("scriptgate: enable scripts: %w", err)
	}
	g.logger.Debug("scriptgate: scripts enabled")
	return nil
}

// Blocking reports whether the reserved rule is installed.
func (g *Gate) Blocking(ctx context.Context) (bool, error) {
	rules, err := g.rules.Rules(ctx)
	if err != nil {
		return false, fmt.Errorf("scriptgate: list rules: %w", err)
	}
	for _, r := range rules {
		if r.ID == RuleID {
			return true, nil
		}
	}
	return false, nil
}

// Hold disables scripts and returns a release function that re-enables
// them. The release function is safe to call more than once; only the first
// call talks to the browser.
func (g *Gate) Hold(ctx context.Context) (release func(context.Context) error, err error) {
	if err := g.Disable(ctx); err != nil {
		return nil, err
	}
	released := false
	return func(ctx context.Context) error {
		if released {
			return nil
		}
		released = true
		return g.Enable(ctx)
	}, nil
}
