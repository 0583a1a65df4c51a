package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		url      string
		hostname string
		apex     string
	}{
		{"https://example.com/a", "example.com", "example.com"},
		{"https://mail.google.com/mail/u/0/", "mail.google.com", "google.com"},
		{"https://a.b.c.example.org:8443/x?y=z", "a.b.c.example.org", "example.org"},
		{"http://localhost:3000/", "localhost", "localhost"},
		{"https://WWW.Example.COM/", "www.example.com", "example.com"},
		{"https://bücher.example/", "xn--bcher-kva.example", "xn--bcher-kva.example"},
	}
	for _, tt := range tests {
		n, err := Resolve(tt.url)
		require.NoError(t, err, tt.url)
		assert.Equal(t, tt.hostname, n.Hostname, tt.url)
		assert.Equal(t, tt.apex, n.Apex, tt.url)
	}
}

func TestResolve_Errors(t *testing.T) {
	_, err := Resolve("://missing-scheme")
	assert.Error(t, err)

	_, err = Resolve("mailto:someone")
	assert.True(t, errors.Is(err, ErrNoHost), "got %v", err)

	// A label mixing left-to-right and right-to-left letters fails the
	// IDNA bidi rule; the error names the host as written.
	_, err = Resolve("https://a\u05d0.example/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "\"a\u05d0.example\"")
}

func TestApex_TwoLabelSuffix(t *testing.T) {
	// Last two labels, no public suffix awareness.
	assert.Equal(t, "co.uk", Apex("www.bbc.co.uk"))
	assert.Equal(t, "example.com", Apex("example.com."))
}
