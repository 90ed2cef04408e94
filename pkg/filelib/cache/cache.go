// Package cache mirrors files and resources in a key/value store so that
// lookups can skip the primary repository.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tendant/simple-filelib/pkg/filelib"
)

// Adapter is a key/value backend. Get reports a miss with ok == false and a
// nil error. Flush removes every key starting with prefix; an empty prefix
// removes everything.
type Adapter interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Flush(ctx context.Context, prefix string) error
}

// Cache stores JSON snapshots of entities under
// prefix + kind + "___" + id.
type Cache struct {
	adapter Adapter
	prefix  string
	logger  *slog.Logger
}

// Option configures a Cache
type Option func(*Cache)

// WithPrefix namespaces all keys. Clear only removes keys under it.
func WithPrefix(prefix string) Option {
	return func(c *Cache) {
		c.prefix = prefix
	}
}

// WithLogger sets the cache logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// New creates a cache facade over adapter.
func New(adapter Adapter, opts ...Option) *Cache {
	c := &Cache{
		adapter: adapter,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns the cache key of an entity.
func (c *Cache) Key(kind filelib.Kind, id uuid.UUID) string {
	return c.prefix + string(kind) + "___" + id.String()
}

// FindFile returns the cached file, or ok == false on a miss.
func (c *Cache) FindFile(ctx context.Context, id uuid.UUID) (*filelib.File, bool, error) {
	var file filelib.File
	ok, err := c.load(ctx, c.Key(filelib.KindFile, id), &file)
	if err != nil || !ok {
		return nil, false, err
	}
	return &file, true, nil
}

// FindResource returns the cached resource, or ok == false on a miss.
func (c *Cache) FindResource(ctx context.Context, id uuid.UUID) (*filelib.Resource, bool, error) {
	var resource filelib.Resource
	ok, err := c.load(ctx, c.Key(filelib.KindResource, id), &resource)
	if err != nil || !ok {
		return nil, false, err
	}
	return &resource, true, nil
}

// FindFiles returns the cached files among ids. Misses are skipped.
func (c *Cache) FindFiles(ctx context.Context, ids []uuid.UUID) ([]*filelib.File, error) {
	files := make([]*filelib.File, 0, len(ids))
	for _, id := range ids {
		file, ok, err := c.FindFile(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			files = append(files, file)
		}
	}
	return files, nil
}

// FindResources returns the cached resources among ids. Misses are skipped.
func (c *Cache) FindResources(ctx context.Context, ids []uuid.UUID) ([]*filelib.Resource, error) {
	resources := make([]*filelib.Resource, 0, len(ids))
	for _, id := range ids {
		resource, ok, err := c.FindResource(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			resources = append(resources, resource)
		}
	}
	return resources, nil
}

// Save writes a snapshot of entity.
func (c *Cache) Save(ctx context.Context, entity filelib.Versionable) error {
	key, err := c.entityKey(entity)
	if err != nil {
		return err
	}
	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.adapter.Set(ctx, key, data)
}

// Delete removes the snapshot of entity.
func (c *Cache) Delete(ctx context.Context, entity filelib.Versionable) error {
	key, err := c.entityKey(entity)
	if err != nil {
		return err
	}
	return c.adapter.Delete(ctx, key)
}

// Clear removes every entry under the cache prefix.
func (c *Cache) Clear(ctx context.Context) error {
	return c.adapter.Flush(ctx, c.prefix)
}

func (c *Cache) entityKey(entity filelib.Versionable) (string, error) {
	if entity == nil || isNilEntity(entity) || entity.EntityID() == uuid.Nil {
		return "", fmt.Errorf("%w: cache entity has no identifier", filelib.ErrInvalidArgument)
	}
	return c.Key(entity.EntityKind(), entity.EntityID()), nil
}

func (c *Cache) load(ctx context.Context, key string, target interface{}) (bool, error) {
	data, ok, err := c.adapter.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, target); err != nil {
		// A corrupt entry is a miss; the next save overwrites it.
		c.logger.WarnContext(ctx, "dropping undecodable cache entry", "key", key, "err", err)
		return false, nil
	}
	return true, nil
}

func isNilEntity(entity filelib.Versionable) bool {
	switch e := entity.(type) {
	case *filelib.File:
		return e == nil
	case *filelib.Resource:
		return e == nil
	}
	return false
}
