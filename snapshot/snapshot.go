// Package snapshot assembles and replays the ordered capture of cookies and
// web storage for a list of sites.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hazyhaar/ctxsync/cookies"
	"github.com/hazyhaar/ctxsync/seal"
)

// DefaultName is the document name the snapshot is stored under.
const DefaultName = "chrome-context-sync.json"

// SiteEntry is the captured state of one site.
type SiteEntry struct {
	URL      string            `json:"url"`
	Hostname string            `json:"hostname"`
	Domain   string            `json:"domain"`
	Cookies  []cookies.Record  `json:"cookies"`
	SS       map[string]string `json:"ss"`
	LS       map[string]string `json:"ls"`
}

// Snapshot is the ordered capture of every configured site.
type Snapshot []SiteEntry

// ErrNotFound is returned by a Store that holds no snapshot yet.
var ErrNotFound = errors.New("snapshot: not found")

// Store persists the encoded snapshot as one named document. The token is
// the access credential of the current session.
type Store interface {
	Load(ctx context.Context, token string) ([]byte, error)
	Save(ctx context.Context, token string, content []byte) error
}

// Sealer encrypts the encoded snapshot at rest.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// Encode serialises snap, sealing it when sealer is non-nil.
func Encode(snap Snapshot, sealer Sealer) ([]byte, error) {
	if snap == nil {
		snap = Snapshot{}
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("snapshot: encode: %w", err)
	}
	if sealer == nil {
		return data, nil
	}
	sealed, err := sealer.Seal(data)
	if err != nil {
		return nil, fmt.Errorf("snapshot: seal: %w", err)
	}
	return sealed, nil
}

// Decode parses content written by Encode. Unsealed content is accepted
// even when a sealer is configured; sealed content requires one.
func Decode(content []byte, sealer Sealer) (Snapshot, error) {
	if seal.IsSealed(content) {
		if sealer == nil {
			return nil, errors.New("snapshot: content is sealed and no passphrase is configured")
		}
		plain, err := sealer.Open(content)
		if err != nil {
			return nil, fmt.Errorf("snapshot: open: %w", err)
		}
		content = plain
	}
	var snap Snapshot
	if err := json.Unmarshal(content, &snap); err != nil {
		return nil, fmt.Errorf("snapshot: decode: %w", err)
	}
	for i := range snap {
		if snap[i].SS == nil {
			snap[i].SS = map[string]string{}
		}
		if snap[i].LS == nil {
			snap[i].LS = map[string]string{}
		}
	}
	return snap, nil
}

// Session is the explicit context of one run, built once from settings.
type Session struct {
	Token string
	URLs  []string
}

// ParseURLs splits a newline-separated URL list, trimming each line and
// dropping blank ones.
func ParseURLs(text string) []string {
	var urls []string
	for _, line := range strings.Split(text, "\n") {
		if u := strings.TrimSpace(line); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}
