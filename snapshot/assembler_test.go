package snapshot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hazyhaar/ctxsync/host"
	"github.com/hazyhaar/ctxsync/host/memhost"
	"github.com/hazyhaar/ctxsync/idgen"
	"github.com/hazyhaar/ctxsync/pagesession"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const token = "ghp_test"

func newAssembler(b *memhost.Browser, store Store, mod func(*Deps)) *Assembler {
	deps := Deps{
		Cookies:     b,
		Tabs:        b,
		Rules:       b,
		Store:       store,
		LoadTimeout: time.Second,
		NewRunID:    idgen.Sequence("run_"),
	}
	if mod != nil {
		mod(&deps)
	}
	return New(deps)
}

func seedExample(b *memhost.Browser) {
	b.AddCookie(host.Cookie{
		Name: "sid", Value: "x", Domain: "example.com", Path: "/",
		Secure: true, HTTPOnly: true, HostOnly: false, Session: false,
		ExpirationDate: 1999999999, StoreID: "0",
	})
	b.SetSite("https://example.com/a", memhost.Site{SessionStorage: map[string]string{"tab": "7"}})
	b.LocalStorage("https://example.com")["user"] = "ada"
}

func TestSaveAll_EndToEnd(t *testing.T) {
	b := memhost.New()
	seedExample(b)
	store := NewMockStore(nil)
	a := newAssembler(b, store, nil)

	rep, err := a.SaveAll(context.Background(), Session{Token: token, URLs: []string{"https://example.com/a"}})
	require.NoError(t, err)
	assert.Equal(t, "run_1", rep.RunID)
	assert.Equal(t, RunSave, rep.Kind)
	assert.Zero(t, rep.Failed())

	snap, err := Decode(store.Content, nil)
	require.NoError(t, err)
	require.Len(t, snap, 1)
	e := snap[0]
	assert.Equal(t, "https://example.com/a", e.URL)
	assert.Equal(t, "example.com", e.Hostname)
	assert.Equal(t, "example.com", e.Domain)
	assert.Equal(t, map[string]string{"tab": "7"}, e.SS)
	assert.Equal(t, map[string]string{"user": "ada"}, e.LS)

	require.Len(t, e.Cookies, 1)
	c := e.Cookies[0]
	require.NotNil(t, c.Domain)
	require.NotNil(t, c.ExpirationDate)
	assert.Equal(t, "example.com", *c.Domain)
	assert.Equal(t, 1999999999.0, *c.ExpirationDate)
	assert.Equal(t, "https://example.com/", c.URL)
	assert.Equal(t, []string{token}, store.Tokens)
}

func TestSaveAll_HostnameFallback(t *testing.T) {
	b := memhost.New()
	b.AddCookie(host.Cookie{Name: "k", Value: "v", Domain: "192.168.1.10", Path: "/", HostOnly: true, Session: true})
	store := NewMockStore(nil)
	a := newAssembler(b, store, nil)

	_, err := a.SaveAll(context.Background(), Session{Token: token, URLs: []string{"http://192.168.1.10:8080/"}})
	require.NoError(t, err)

	snap, _ := Decode(store.Content, nil)
	require.Len(t, snap, 1)
	assert.Equal(t, "192.168.1.10", snap[0].Domain)
	require.Len(t, snap[0].Cookies, 1)
	assert.Nil(t, snap[0].Cookies[0].Domain)
	assert.Nil(t, snap[0].Cookies[0].ExpirationDate)
}

func TestSaveAll_GateAndTabOrdering(t *testing.T) {
	b := memhost.New()
	seedExample(b)
	urls := []string{"https://example.com/a", "https://www.example.org/", "https://news.example.net/x"}

	store := NewMockStore(nil)
	store.SaveFunc = func(_ context.Context, _ string, content []byte) error {
		assert.False(t, b.ScriptsBlocked(), "scripts must be enabled during the remote transfer")
		store.Content = content
		return nil
	}
	var transitions []pagesession.Transition
	a := newAssembler(b, store, func(d *Deps) {
		d.Observer = func(tr pagesession.Transition) { transitions = append(transitions, tr) }
	})

	_, err := a.SaveAll(context.Background(), Session{Token: token, URLs: urls})
	require.NoError(t, err)

	j := b.Journal()
	require.Equal(t, memhost.OpRules, j[0].Kind)
	require.Equal(t, memhost.OpRules, j[len(j)-1].Kind)
	for _, op := range j[:len(j)-1] {
		assert.True(t, op.ScriptsBlocked, "%s %s ran with scripts enabled", op.Kind, op.URL)
	}
	assert.False(t, b.ScriptsBlocked())

	opened, removed := a.Driver().Counts()
	assert.Equal(t, len(urls), opened)
	assert.Equal(t, len(urls), removed)
	assert.Equal(t, 1, b.MaxOpenHidden())
	assert.Empty(t, b.OpenTabs())

	// Sites are visited in list order.
	var visited []string
	for _, tr := range transitions {
		if tr.To == pagesession.TabOpening {
			visited = append(visited, tr.URL)
		}
	}
	assert.Equal(t, urls, visited)
}

func TestSaveAll_SiteFailureContinues(t *testing.T) {
	b := memhost.New()
	seedExample(b)
	b.SetSite("https://stuck.example.org/", memhost.Site{Hang: true})
	store := NewMockStore(nil)
	a := newAssembler(b, store, func(d *Deps) { d.LoadTimeout = 20 * time.Millisecond })

	rep, err := a.SaveAll(context.Background(), Session{Token: token, URLs: []string{
		"https://stuck.example.org/", "not a url\x7f", "https://example.com/a",
	}})
	require.NoError(t, err)
	require.Len(t, rep.Sites, 3)
	assert.Equal(t, 2, rep.Failed())
	assert.Equal(t, KindTimeout, rep.Sites[0].Err.Kind)
	assert.Equal(t, KindResolve, rep.Sites[1].Err.Kind)
	assert.Nil(t, rep.Sites[2].Err)

	snap, _ := Decode(store.Content, nil)
	require.Len(t, snap, 2, "unresolvable url has no entry")
	assert.Equal(t, "https://stuck.example.org/", snap[0].URL)
	assert.Empty(t, snap[0].LS)
	assert.Equal(t, "https://example.com/a", snap[1].URL)
	assert.False(t, b.ScriptsBlocked())
	assert.Empty(t, b.OpenTabs())
}

func TestSaveAll_FailFast(t *testing.T) {
	b := memhost.New()
	b.SetSite("https://stuck.example.org/", memhost.Site{Hang: true})
	store := NewMockStore(nil)
	a := newAssembler(b, store, func(d *Deps) {
		d.LoadTimeout = 20 * time.Millisecond
		d.FailFast = true
	})

	rep, err := a.SaveAll(context.Background(), Session{Token: token, URLs: []string{
		"https://stuck.example.org/", "https://example.com/a",
	}})
	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.ErrorIs(t, err, pagesession.ErrLoadTimeout)
	assert.Len(t, rep.Sites, 1)
	assert.Zero(t, store.SaveCalls)
	assert.False(t, b.ScriptsBlocked(), "gate must be re-enabled after an aborted run")
}

func TestSaveAll_RemoteFailure(t *testing.T) {
	b := memhost.New()
	store := NewMockStore(nil)
	store.SaveFunc = func(context.Context, string, []byte) error { return errors.New("401 Bad credentials") }
	a := newAssembler(b, store, nil)

	_, err := a.SaveAll(context.Background(), Session{Token: token, URLs: []string{"https://example.com/"}})
	assert.Equal(t, KindRemote, KindOf(err))
	assert.False(t, b.ScriptsBlocked())
}

func TestSaveAll_NoToken(t *testing.T) {
	b := memhost.New()
	store := NewMockStore(nil)
	_, err := newAssembler(b, store, nil).SaveAll(context.Background(), Session{URLs: []string{"https://example.com/"}})
	assert.Equal(t, KindConfig, KindOf(err))
	assert.Empty(t, b.Journal())
}

func TestRestoreAll_EndToEnd(t *testing.T) {
	src := memhost.New()
	seedExample(src)
	src.AddCookie(host.Cookie{Name: "pref", Value: "p", Domain: "www.example.org", Path: "/", HostOnly: true, Session: true})
	src.LocalStorage("https://www.example.org")["lang"] = "fr"
	store := NewMockStore(nil)
	urls := []string{"https://example.com/a", "https://www.example.org/"}

	_, err := newAssembler(src, store, nil).SaveAll(context.Background(), Session{Token: token, URLs: urls})
	require.NoError(t, err)

	dst := memhost.New()
	dst.LocalStorage("https://example.com")["existing"] = "keep"
	store.LoadFunc = func(context.Context, string) ([]byte, error) {
		assert.False(t, dst.ScriptsBlocked(), "snapshot is fetched before scripts are disabled")
		return store.Content, nil
	}
	a := newAssembler(dst, store, nil)

	rep, err := a.RestoreAll(context.Background(), Session{Token: token})
	require.NoError(t, err)
	assert.Equal(t, RunRestore, rep.Kind)
	assert.Equal(t, 2, rep.CookiesSet)
	assert.Zero(t, rep.CookiesFailed)
	assert.Equal(t, 2, rep.Revealed)

	got, _ := dst.GetAll(context.Background(), "example.com")
	require.Len(t, got, 1)
	assert.Equal(t, ".example.com", got[0].Domain)
	assert.False(t, got[0].Session)

	org, _ := dst.GetAll(context.Background(), "www.example.org")
	require.Len(t, org, 1)
	assert.True(t, org[0].HostOnly)
	assert.True(t, org[0].Session)

	assert.Equal(t, map[string]string{"existing": "keep", "user": "ada"}, map[string]string(dst.LocalStorage("https://example.com")))
	assert.Equal(t, map[string]string{"lang": "fr"}, map[string]string(dst.LocalStorage("https://www.example.org")))

	// Only the reveal tabs stay open, in entry order, created after the gate reopened.
	assert.Equal(t, urls, dst.OpenTabs())
	for _, op := range dst.Journal() {
		switch {
		case op.Kind == memhost.OpCreate && op.Active:
			assert.False(t, op.ScriptsBlocked, "reveal tab %s opened while scripts were blocked", op.URL)
		case op.Kind == memhost.OpCreate, op.Kind == memhost.OpRemove, op.Kind == memhost.OpMessage, op.Kind == memhost.OpCookieWrite:
			assert.True(t, op.ScriptsBlocked, "%s %s ran with scripts enabled", op.Kind, op.URL)
		case op.Kind == memhost.OpCookieRead:
			t.Errorf("restore must reuse the captured domain, not query %s", op.URL)
		}
	}
	assert.Equal(t, 1, dst.MaxOpenHidden())
}

func TestRestoreAll_CookieFailuresIsolated(t *testing.T) {
	src := memhost.New()
	seedExample(src)
	src.AddCookie(host.Cookie{Name: "bad", Value: "b", Domain: "example.com", Path: "/", Session: true})
	store := NewMockStore(nil)
	_, err := newAssembler(src, store, nil).SaveAll(context.Background(), Session{Token: token, URLs: []string{"https://example.com/a"}})
	require.NoError(t, err)

	dst := memhost.New()
	dst.FailSet = func(d host.CookieDetails) error {
		if d.Name == "bad" {
			return errors.New("invalid")
		}
		return nil
	}
	rep, err := newAssembler(dst, store, nil).RestoreAll(context.Background(), Session{Token: token})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.CookiesSet)
	assert.Equal(t, 1, rep.CookiesFailed)
	assert.Zero(t, rep.Failed())
	assert.Equal(t, 1, rep.Revealed)
}

func TestRestoreAll_NotFound(t *testing.T) {
	b := memhost.New()
	rep, err := newAssembler(b, NewMockStore(nil), nil).RestoreAll(context.Background(), Session{Token: token})
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotNil(t, rep)
	assert.Empty(t, b.Journal(), "nothing touches the browser when the fetch fails")
}

func TestRestoreAll_Corrupt(t *testing.T) {
	b := memhost.New()
	_, err := newAssembler(b, NewMockStore([]byte("{not json")), nil).RestoreAll(context.Background(), Session{Token: token})
	assert.Equal(t, KindCodec, KindOf(err))
	assert.Empty(t, b.Journal())
}

func TestRuns_DoNotOverlap(t *testing.T) {
	b := memhost.New()
	seedExample(b)
	a := newAssembler(b, NewMockStore(nil), nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.SaveAll(context.Background(), Session{Token: token, URLs: []string{"https://example.com/a", "https://example.com/b"}})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var gates []bool
	for _, op := range b.Journal() {
		if op.Kind == memhost.OpRules {
			gates = append(gates, op.ScriptsBlocked)
		}
	}
	require.Len(t, gates, 8)
	for i, blocked := range gates {
		assert.Equal(t, i%2 == 0, blocked, "gate toggles must alternate")
	}
	assert.Equal(t, 1, b.MaxOpenHidden())
}

func TestSetScripts(t *testing.T) {
	b := memhost.New()
	a := newAssembler(b, NewMockStore(nil), nil)
	ctx := context.Background()

	require.NoError(t, a.SetScripts(ctx, false))
	assert.True(t, b.ScriptsBlocked())
	require.NoError(t, a.SetScripts(ctx, true))
	assert.False(t, b.ScriptsBlocked())
}
