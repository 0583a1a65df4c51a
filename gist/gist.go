// Package gist stores the snapshot document as a file of a private GitHub
// Gist. The gist is located by file name across the user's gists; it is
// created on first save and updated in place afterwards.
package gist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/hazyhaar/ctxsync/horosafe"
	"github.com/hazyhaar/ctxsync/snapshot"
)

const (
	// DefaultAPIURL is the public GitHub REST endpoint.
	DefaultAPIURL = "https://api.github.com"
	// Description is set on gists created by ctxsync.
	Description = "ctxsync snapshot"

	apiVersion = "2022-11-28"
	perPage    = 100
)

// Gist is the location of the snapshot file.
type Gist struct {
	ID     string
	RawURL string
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gist: %s %s: HTTP %d: %s", e.Method, e.URL, e.Status, e.Body)
}

// Client talks to the Gist API. The access token is passed per call.
type Client struct {
	apiURL  string
	name    string
	client  *http.Client
	maxBody int64
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithAPIURL overrides the API base URL.
func WithAPIURL(u string) Option {
	return func(c *Client) { c.apiURL = strings.TrimRight(u, "/") }
}

// WithFileName sets the gist file holding the snapshot. Default:
// snapshot.DefaultName.
func WithFileName(name string) Option {
	return func(c *Client) { c.name = name }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithMaxBody caps response body reads. Default: 32 MiB.
func WithMaxBody(n int64) Option {
	return func(c *Client) { c.maxBody = n }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{
		apiURL:  DefaultAPIURL,
		name:    snapshot.DefaultName,
		client:  &http.Client{Timeout: 30 * time.Second},
		maxBody: 32 << 20,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

var _ snapshot.Store = (*Client)(nil)

// Load implements snapshot.Store.
func (c *Client) Load(ctx context.Context, token string) ([]byte, error) {
	g, err := c.Find(ctx, token)
	if err != nil {
		return nil, err
	}
	return c.FetchRaw(ctx, g.RawURL)
}

// Save implements snapshot.Store: update the gist holding the file, or
// create one.
func (c *Client) Save(ctx context.Context, token string, content []byte) error {
	g, err := c.Find(ctx, token)
	switch {
	case errors.Is(err, snapshot.ErrNotFound):
		g, err = c.Create(ctx, token, content)
		if err != nil {
			return err
		}
		c.logger.Info("gist: created", "id", g.ID, "file", c.name, "bytes", len(content))
		return nil
	case err != nil:
		return err
	}
	if err := c.Update(ctx, token, g.ID, content); err != nil {
		return err
	}
	c.logger.Info("gist: updated", "id", g.ID, "file", c.name, "bytes", len(content))
	return nil
}

// Find pages through the user's gists and returns the first one containing
// the snapshot file. It returns an error wrapping snapshot.ErrNotFound when
// none does.
func (c *Client) Find(ctx context.Context, token string) (*Gist, error) {
	path := "files." + gjson.Escape(c.name)
	for page := 1; ; page++ {
		u := c.apiURL + "/gists?per_page=" + strconv.Itoa(perPage) + "&page=" + strconv.Itoa(page)
		body, err := c.do(ctx, http.MethodGet, u, token, nil)
		if err != nil {
			return nil, err
		}
		list := gjson.ParseBytes(body)
		if !list.IsArray() {
			return nil, fmt.Errorf("gist: list: unexpected response")
		}
		gists := list.Array()
		for _, g := range gists {
			f := g.Get(path)
			if !f.Exists() {
				continue
			}
			found := &Gist{ID: g.Get("id").String(), RawURL: f.Get("raw_url").String()}
			if found.ID == "" || found.RawURL == "" {
				return nil, fmt.Errorf("gist: list: entry for %s lacks id or raw_url", c.name)
			}
			c.logger.Debug("gist: found", "id", found.ID, "page", page)
			return found, nil
		}
		if len(gists) < perPage {
			return nil, fmt.Errorf("gist: %s: %w", c.name, snapshot.ErrNotFound)
		}
	}
}

type fileContent struct {
	Content string `json:"content"`
}

type gistRequest struct {
	Description string                 `json:"description"`
	Public      bool                   `json:"public"`
	Files       map[string]fileContent `json:"files"`
}

func (c *Client) body(content []byte) ([]byte, error) {
	return json.Marshal(gistRequest{
		Description: Description,
		Files:       map[string]fileContent{c.name: {Content: string(content)}},
	})
}

// Create creates a private gist holding content.
func (c *Client) Create(ctx context.Context, token string, content []byte) (*Gist, error) {
	body, err := c.body(content)
	if err != nil {
		return nil, fmt.Errorf("gist: create: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, c.apiURL+"/gists", token, body)
	if err != nil {
		return nil, err
	}
	r := gjson.ParseBytes(resp)
	return &Gist{
		ID:     r.Get("id").String(),
		RawURL: r.Get("files." + gjson.Escape(c.name) + ".raw_url").String(),
	}, nil
}

// Update replaces the snapshot file of gist id.
func (c *Client) Update(ctx context.Context, token, id string, content []byte) error {
	if err := horosafe.ValidateIdentifier(id); err != nil {
		return fmt.Errorf("gist: update: %w", err)
	}
	body, err := c.body(content)
	if err != nil {
		return fmt.Errorf("gist: update: %w", err)
	}
	_, err = c.do(ctx, http.MethodPatch, c.apiURL+"/gists/"+id, token, body)
	return err
}

// FetchRaw downloads a file through its raw URL. Raw URLs of secret gists
// need no credentials, so none are sent.
func (c *Client) FetchRaw(ctx context.Context, rawURL string) ([]byte, error) {
	if err := horosafe.ValidateScheme(rawURL); err != nil {
		return nil, fmt.Errorf("gist: raw: %w", err)
	}
	return c.do(ctx, http.MethodGet, rawURL, "", nil)
}

func (c *Client) do(ctx context.Context, method, u, token string, body []byte) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, fmt.Errorf("gist: %s %s: %w", method, u, err)
	}
	if token != "" {
		req.Header.Set("Authorization", "token "+token)
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", apiVersion)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gist: %s %s: %w", method, u, err)
	}
	defer resp.Body.Close()

	data, err := horosafe.LimitedReadAll(resp.Body, c.maxBody)
	if err != nil {
		return nil, fmt.Errorf("gist: %s %s: read body: %w", method, u, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := gjson.GetBytes(data, "message").String()
		if msg == "" {
			msg = string(data[:min(len(data), 512)])
		}
		return nil, &APIError{Method: method, URL: u, Status: resp.StatusCode, Body: msg}
	}
	return data, nil
}
