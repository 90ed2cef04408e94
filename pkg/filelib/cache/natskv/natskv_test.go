package natskv

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeKV implements the subset of jetstream.KeyValue the adapter uses.
// Calling anything else panics on the nil embedded interface.
type fakeKV struct {
	jetstream.KeyValue

	mu      sync.Mutex
	data    map[string][]byte
	failGet error
}

type fakeEntry struct {
	jetstream.KeyValueEntry
	key   string
	value []byte
}

func (e *fakeEntry) Key() string   { return e.key }
func (e *fakeEntry) Value() []byte { return e.value }

type fakeLister struct {
	ch chan string
}

func (l *fakeLister) Keys() <-chan string { return l.ch }
func (l *fakeLister) Stop() error         { return nil }

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string][]byte)}
}

func (f *fakeKV) Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet != nil {
		return nil, f.failGet
	}
	v, ok := f.data[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	return &fakeEntry{key: key, value: v}, nil
}

func (f *fakeKV) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return uint64(len(f.data)), nil
}

func (f *fakeKV) Purge(ctx context.Context, key string, opts ...jetstream.KVDeleteOpt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *fakeKV) ListKeys(ctx context.Context, opts ...jetstream.WatchOpt) (jetstream.KeyLister, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.data) == 0 {
		return nil, jetstream.ErrNoKeysFound
	}
	keys := make([]string, 0, len(f.data))
	for k := range f.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ch := make(chan string, len(keys))
	for _, k := range keys {
		ch <- k
	}
	close(ch)
	return &fakeLister{ch: ch}, nil
}

func TestAdapter(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	a := New(kv)

	t.Run("miss", func(t *testing.T) {
		_, ok, err := a.Get(ctx, "filelib.file___1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("set and get", func(t *testing.T) {
		require.NoError(t, a.Set(ctx, "filelib.file___1", []byte(`{"id":"1"}`)))
		v, ok, err := a.Get(ctx, "filelib.file___1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.JSONEq(t, `{"id":"1"}`, string(v))
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, a.Delete(ctx, "filelib.file___1"))
		_, ok, err := a.Get(ctx, "filelib.file___1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("get error", func(t *testing.T) {
		kv.failGet = errors.New("nats: timeout")
		defer func() { kv.failGet = nil }()
		_, _, err := a.Get(ctx, "x")
		assert.Error(t, err)
	})
}

func TestAdapter_Flush(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	a := New(kv)

	require.NoError(t, a.Flush(ctx, "filelib."))

	require.NoError(t, a.Set(ctx, "filelib.file___1", []byte("1")))
	require.NoError(t, a.Set(ctx, "filelib.resource___2", []byte("2")))
	require.NoError(t, a.Set(ctx, "sessions.abc", []byte("3")))

	require.NoError(t, a.Flush(ctx, "filelib."))

	assert.Len(t, kv.data, 1)
	_, ok := kv.data["sessions.abc"]
	assert.True(t, ok)
}
