package pagesession

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hazyhaar/ctxsync/agent"
	"github.com/hazyhaar/ctxsync/host"
	"github.com/hazyhaar/ctxsync/host/memhost"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func countOps(b *memhost.Browser, kind memhost.OpKind) int {
	n := 0
	for _, op := range b.Journal() {
		if op.Kind == kind {
			n++
		}
	}
	return n
}

func TestOpen_Save(t *testing.T) {
	b := memhost.New()
	b.SetSite("https://example.com/a", memhost.Site{SessionStorage: map[string]string{"s": "1"}})
	b.LocalStorage("https://example.com")["l"] = "2"

	var seen []State
	d := New(Config{Tabs: b, Observer: func(tr Transition) { seen = append(seen, tr.To) }})

	resp, err := d.Open(context.Background(), "https://example.com/a", agent.SaveRequest{})
	require.NoError(t, err)
	save := resp.(agent.SaveResponse)
	assert.Equal(t, map[string]string{"s": "1"}, save.SS)
	assert.Equal(t, map[string]string{"l": "2"}, save.LS)

	assert.Equal(t, []State{TabOpening, AwaitingLoadComplete, Messaging, TabClosing, Idle}, seen)
	assert.Equal(t, Idle, d.State())
	opened, removed := d.Counts()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, removed)
	assert.Empty(t, b.OpenTabs())
	assert.Zero(t, b.Subscribers())
}

func TestOpen_LoadAcknowledges(t *testing.T) {
	b := memhost.New()
	b.LocalStorage("https://example.com")["b"] = "2"
	d := New(Config{Tabs: b})

	resp, err := d.Open(context.Background(), "https://example.com/", agent.LoadRequest{LS: map[string]string{"a": "1"}})
	require.NoError(t, err)
	assert.Equal(t, agent.LoadResponse{}, resp)
	assert.Equal(t, agent.MapStorage{"a": "1", "b": "2"}, b.LocalStorage("https://example.com"))
}

func TestOpen_ReloadDoesNotRefire(t *testing.T) {
	b := memhost.New()
	b.SetSite("https://example.com/", memhost.Site{ExtraCompletes: 3})
	d := New(Config{Tabs: b})

	_, err := d.Open(context.Background(), "https://example.com/", agent.SaveRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, countOps(b, memhost.OpMessage))
	assert.Zero(t, b.Subscribers())
}

func TestOpen_TimeoutRemovesTab(t *testing.T) {
	b := memhost.New()
	b.SetSite("https://stuck.example/", memhost.Site{Hang: true})
	d := New(Config{Tabs: b, LoadTimeout: 20 * time.Millisecond})

	_, err := d.Open(context.Background(), "https://stuck.example/", agent.SaveRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLoadTimeout)

	var se *Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageLoad, se.Stage)
	assert.Equal(t, "https://stuck.example/", se.URL)

	assert.Equal(t, Idle, d.State())
	assert.Empty(t, b.OpenTabs())
	assert.Zero(t, countOps(b, memhost.OpMessage))
	assert.Zero(t, b.Subscribers())
}

func TestOpen_CancelledContext(t *testing.T) {
	b := memhost.New()
	b.SetSite("https://stuck.example/", memhost.Site{Hang: true})
	d := New(Config{Tabs: b})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := d.Open(ctx, "https://stuck.example/", agent.SaveRequest{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, b.OpenTabs())
}

func TestOpen_MessageError(t *testing.T) {
	b := memhost.New()
	b.SetSite("https://example.com/", memhost.Site{MessageErr: errors.New("no receiving end")})
	d := New(Config{Tabs: b})

	_, err := d.Open(context.Background(), "https://example.com/", agent.SaveRequest{})
	var se *Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageMessage, se.Stage)
	assert.Empty(t, b.OpenTabs())
}

// scriptedTabs emits a completion for an unrelated tab only.
type scriptedTabs struct {
	bus  *host.Bus
	sent int
}

func (s *scriptedTabs) Create(context.Context, string, bool) (host.TabID, error) {
	s.bus.Publish(host.TabEvent{TabID: "other", Status: host.StatusComplete})
	s.bus.Publish(host.TabEvent{TabID: "mine", Status: host.StatusLoading})
	return "mine", nil
}

func (s *scriptedTabs) Remove(context.Context, host.TabID) error { return nil }

func (s *scriptedTabs) Subscribe() (<-chan host.TabEvent, func()) { return s.bus.Subscribe() }

func (s *scriptedTabs) SendMessage(context.Context, host.TabID, agent.Request) (agent.Response, error) {
	s.sent++
	return agent.SaveResponse{}, nil
}

func TestOpen_IgnoresOtherTabs(t *testing.T) {
	tabs := &scriptedTabs{bus: host.NewBus(8, nil)}
	d := New(Config{Tabs: tabs, LoadTimeout: 20 * time.Millisecond})

	_, err := d.Open(context.Background(), "https://example.com/", agent.SaveRequest{})
	assert.ErrorIs(t, err, ErrLoadTimeout)
	assert.Zero(t, tabs.sent)
}

func TestOpen_OneHiddenTabAtATime(t *testing.T) {
	b := memhost.New()
	d := New(Config{Tabs: b})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Open(context.Background(), "https://example.com/", agent.SaveRequest{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, b.MaxOpenHidden())
	opened, removed := d.Counts()
	assert.Equal(t, 8, opened)
	assert.Equal(t, 8, removed)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting_load_complete", AwaitingLoadComplete.String())
	assert.Equal(t, "state(42)", State(42).String())
}
