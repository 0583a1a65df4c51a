// Package domain resolves the two cookie scopes tried for a site: the exact
// hostname and the apex formed by its last two labels.
package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// ErrNoHost is returned when a URL parses but carries no host component.
var ErrNoHost = errors.New("domain: url has no host")

// Names holds the scopes derived from one URL.
type Names struct {
	Hostname string
	Apex     string
}

// Resolve parses rawURL and returns its hostname and apex domain.
// The apex is the last two dot-separated labels; it is not checked against
// the public suffix list, so "a.b.co.uk" resolves to "co.uk".
func Resolve(rawURL string) (Names, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Names{}, err
	}
	host := u.Hostname()
	if host == "" {
		return Names{}, fmt.Errorf("%w: %q", ErrNoHost, rawURL)
	}
	ascii, err := normalize(host)
	if err != nil {
		return Names{}, fmt.Errorf("domain: normalize %q: %w", host, err)
	}
	return Names{Hostname: ascii, Apex: Apex(ascii)}, nil
}

// Apex returns the last two labels of hostname joined by ".".
func Apex(hostname string) string {
	labels := strings.Split(strings.TrimSuffix(hostname, "."), ".")
	if len(labels) <= 2 {
		return strings.Join(labels, ".")
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

// normalize lower-cases the host and converts internationalised labels to
// their ASCII form, which is what cookie stores key on. IP literals pass
// through untouched.
func normalize(host string) (string, error) {
	host = strings.ToLower(host)
	if strings.Contains(host, ":") || isASCII(host) {
		return host, nil
	}
	return idna.Lookup.ToASCII(host)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
