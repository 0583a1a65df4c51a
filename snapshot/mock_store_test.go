package snapshot

import (
	"context"
	"sync"
)

// MockStore is an in-memory Store with call tracking.
type MockStore struct {
	mu sync.Mutex

	LoadFunc func(ctx context.Context, token string) ([]byte, error)
	SaveFunc func(ctx context.Context, token string, content []byte) error

	Content   []byte
	LoadCalls int
	SaveCalls int
	Tokens    []string
}

// NewMockStore returns a store holding content (nil means empty).
func NewMockStore(content []byte) *MockStore {
	m := &MockStore{Content: content}
	m.LoadFunc = func(context.Context, string) ([]byte, error) {
		if m.Content == nil {
			return nil, ErrNotFound
		}
		return m.Content, nil
	}
	m.SaveFunc = func(_ context.Context, _ string, content []byte) error {
		m.Content = content
		return nil
	}
	return m
}

func (m *MockStore) Load(ctx context.Context, token string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LoadCalls++
	m.Tokens = append(m.Tokens, token)
	return m.LoadFunc(ctx, token)
}

func (m *MockStore) Save(ctx context.Context, token string, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveCalls++
	m.Tokens = append(m.Tokens, token)
	return m.SaveFunc(ctx, token, content)
}
