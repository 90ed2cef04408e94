package memory

import (
	"context"
	"strings"
	"sync"
)

// Adapter is an in-memory implementation of cache.Adapter
type Adapter struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// New creates an empty in-memory cache adapter
func New() *Adapter {
	return &Adapter{items: make(map[string][]byte)}
}

func (a *Adapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	value, ok := a.items[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func (a *Adapter) Set(ctx context.Context, key string, value []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items[key] = append([]byte(nil), value...)
	return nil
}

func (a *Adapter) Delete(ctx context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.items, key)
	return nil
}

func (a *Adapter) Flush(ctx context.Context, prefix string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for key := range a.items {
		if strings.HasPrefix(key, prefix) {
			delete(a.items, key)
		}
	}
	return nil
}

// Len returns the number of entries.
func (a *Adapter) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.items)
}
