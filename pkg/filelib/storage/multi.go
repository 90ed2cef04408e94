package storage

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"

	"github.com/tendant/simple-filelib/pkg/filelib"
)

// Multi replicates writes to every storage in order and serves reads from
// one session storage picked at random on first use. The pick holds for
// the lifetime of the Multi.
//
// Writes are not transactional: when a storage fails, the storages before
// it keep the data and the error is returned to the caller.
type Multi struct {
	mu       sync.Mutex
	storages []filelib.StorageAdapter
	session  filelib.StorageAdapter
	pick     func(n int) int
}

// NewMulti creates a facade over storages. Nesting a Multi is rejected.
// An empty facade is valid until first use.
func NewMulti(storages ...filelib.StorageAdapter) (*Multi, error) {
	m := &Multi{pick: rand.IntN}
	for _, s := range storages {
		if err := m.AddStorage(s); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// AddStorage appends a storage.
func (m *Multi) AddStorage(s filelib.StorageAdapter) error {
	if isMulti(s) {
		return fmt.Errorf("%w: multi storage adapter cannot contain another multi storage adapter", filelib.ErrInvalidArgument)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storages = append(m.storages, s)
	return nil
}

// Storages returns the storages in write order.
func (m *Multi) Storages() []filelib.StorageAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]filelib.StorageAdapter(nil), m.storages...)
}

// SetSessionPicker replaces the random pick. It must be called before the
// first read.
func (m *Multi) SetSessionPicker(pick func(n int) int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pick = pick
}

// SessionStorage returns the storage reads are served from.
func (m *Multi) SessionStorage() (filelib.StorageAdapter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.storages) == 0 {
		return nil, errNoStorages()
	}
	if m.session == nil {
		m.session = m.storages[m.pick(len(m.storages))]
	}
	return m.session, nil
}

func (m *Multi) Store(ctx context.Context, resource *filelib.Resource, path string) error {
	return m.each(func(s filelib.StorageAdapter) error {
		return s.Store(ctx, resource, path)
	})
}

func (m *Multi) StoreVersion(ctx context.Context, v filelib.Versionable, version filelib.Version, path string) error {
	return m.each(func(s filelib.StorageAdapter) error {
		return s.StoreVersion(ctx, v, version, path)
	})
}

func (m *Multi) Delete(ctx context.Context, resource *filelib.Resource) error {
	return m.each(func(s filelib.StorageAdapter) error {
		return s.Delete(ctx, resource)
	})
}

func (m *Multi) DeleteVersion(ctx context.Context, v filelib.Versionable, version filelib.Version) error {
	return m.each(func(s filelib.StorageAdapter) error {
		return s.DeleteVersion(ctx, v, version)
	})
}

func (m *Multi) Retrieve(ctx context.Context, resource *filelib.Resource) (io.ReadCloser, error) {
	s, err := m.SessionStorage()
	if err != nil {
		return nil, err
	}
	return s.Retrieve(ctx, resource)
}

func (m *Multi) RetrieveVersion(ctx context.Context, v filelib.Versionable, version filelib.Version) (io.ReadCloser, error) {
	s, err := m.SessionStorage()
	if err != nil {
		return nil, err
	}
	return s.RetrieveVersion(ctx, v, version)
}

func (m *Multi) Exists(ctx context.Context, resource *filelib.Resource) (bool, error) {
	s, err := m.SessionStorage()
	if err != nil {
		return false, err
	}
	return s.Exists(ctx, resource)
}

func (m *Multi) VersionExists(ctx context.Context, v filelib.Versionable, version filelib.Version) (bool, error) {
	s, err := m.SessionStorage()
	if err != nil {
		return false, err
	}
	return s.VersionExists(ctx, v, version)
}

func (m *Multi) each(fn func(s filelib.StorageAdapter) error) error {
	storages := m.Storages()
	if len(storages) == 0 {
		return errNoStorages()
	}
	for _, s := range storages {
		if err := fn(s); err != nil {
			return err
		}
	}
	return nil
}

func errNoStorages() error {
	return fmt.Errorf("%w: multi storage adapter has no storages", filelib.ErrInvalidArgument)
}

func isMulti(s filelib.StorageAdapter) bool {
	for s != nil {
		if _, ok := s.(*Multi); ok {
			return true
		}
		u, ok := s.(interface{ Unwrap() filelib.StorageAdapter })
		if !ok {
			return false
		}
		s = u.Unwrap()
	}
	return false
}
