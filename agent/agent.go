package agent

import (
	"context"
	"fmt"
	"log/slog"
)

// StorageArea is one of the two key/value web storage areas of a page.
type StorageArea interface {
	Items(ctx context.Context) (map[string]string, error)
	SetItem(ctx context.Context, key, value string) error
}

// Agent answers protocol requests against the storage areas of one page.
type Agent struct {
	Session StorageArea
	Local   StorageArea
	Logger  *slog.Logger
}

// Handle serves exactly one request.
func (a *Agent) Handle(ctx context.Context, req Request) (Response, error) {
	switch r := req.(type) {
	case SaveRequest:
		return a.save(ctx)
	case LoadRequest:
		return a.load(ctx, r)
	default:
		return nil, fmt.Errorf("agent: unknown request %T", req)
	}
}

func (a *Agent) save(ctx context.Context) (Response, error) {
	ss, err := a.Session.Items(ctx)
	if err != nil {
		return nil, fmt.Errorf("agent: read session storage: %w", err)
	}
	ls, err := a.Local.Items(ctx)
	if err != nil {
		return nil, fmt.Errorf("agent: read local storage: %w", err)
	}
	return SaveResponse{SS: orEmpty(ss), LS: orEmpty(ls)}, nil
}

// load is additive: supplied keys overwrite, keys absent from the request
// are left alone.
func (a *Agent) load(ctx context.Context, r LoadRequest) (Response, error) {
	a.logger().Debug("agent: restoring session storage", "keys", len(r.SS))
	for k, v := range r.SS {
		if err := a.Session.SetItem(ctx, k, v); err != nil {
			return nil, fmt.Errorf("agent: write session storage %q: %w", k, err)
		}
	}
	a.logger().Debug("agent: restoring local storage", "keys", len(r.LS))
	for k, v := range r.LS {
		if err := a.Local.SetItem(ctx, k, v); err != nil {
			return nil, fmt.Errorf("agent: write local storage %q: %w", k, err)
		}
	}
	return LoadResponse{}, nil
}

func (a *Agent) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

// MapStorage is an in-memory StorageArea.
type MapStorage map[string]string

// Items returns a copy of the stored pairs.
func (m MapStorage) Items(context.Context) (map[string]string, error) {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out, nil
}

// SetItem stores one pair.
func (m MapStorage) SetItem(_ context.Context, key, value string) error {
	m[key] = value
	return nil
}
