package rodhost

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/ctxsync/agent"
)

// domStorage is one web storage area of a page, reached through the
// DOMStorage domain.
type domStorage struct {
	page   *rod.Page
	origin string
	local  bool
}

var _ agent.StorageArea = (*domStorage)(nil)

func (s *domStorage) id() *proto.DOMStorageStorageID {
	return &proto.DOMStorageStorageID{SecurityOrigin: s.origin, IsLocalStorage: s.local}
}

func (s *domStorage) area() string {
	if s.local {
		return "localStorage"
	}
	return "sessionStorage"
}

// Items implements agent.StorageArea.
func (s *domStorage) Items(ctx context.Context) (map[string]string, error) {
	res, err := proto.DOMStorageGetDOMStorageItems{StorageID: s.id()}.Call(s.page.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("rodhost: read %s of %s: %w", s.area(), s.origin, err)
	}
	return itemsToMap(res.Entries), nil
}

// SetItem implements agent.StorageArea.
func (s *domStorage) SetItem(ctx context.Context, key, value string) error {
	err := proto.DOMStorageSetDOMStorageItem{StorageID: s.id(), Key: key, Value: value}.Call(s.page.Context(ctx))
	if err != nil {
		return fmt.Errorf("rodhost: write %s of %s: %w", s.area(), s.origin, err)
	}
	return nil
}

// itemsToMap converts [key, value] pairs; malformed pairs are skipped.
func itemsToMap(entries []proto.DOMStorageItem) map[string]string {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		if len(e) != 2 {
			continue
		}
		out[e[0]] = e[1]
	}
	return out
}
