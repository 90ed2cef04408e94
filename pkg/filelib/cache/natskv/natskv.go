// Package natskv implements cache.Adapter on a NATS JetStream key/value
// bucket.
//
// Keys must be valid NATS KV keys: letters, digits and "-/_=." only. The
// cache key layout prefix + kind + "___" + uuid satisfies this as long as
// the prefix does.
package natskv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Adapter is a JetStream KV implementation of cache.Adapter
type Adapter struct {
	kv jetstream.KeyValue
}

// New wraps an existing bucket.
func New(kv jetstream.KeyValue) *Adapter {
	return &Adapter{kv: kv}
}

// Open gets the bucket or creates it when missing. A zero ttl keeps
// entries until deleted.
func Open(ctx context.Context, js jetstream.JetStream, bucket string, ttl time.Duration) (*Adapter, error) {
	kv, err := js.KeyValue(ctx, bucket)
	if err == nil {
		return New(kv), nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, fmt.Errorf("access kv bucket %s: %w", bucket, err)
	}

	kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "filelib entity cache",
		TTL:         ttl,
		History:     1,
	})
	if err != nil {
		// Lost a creation race; use the bucket the winner created
		if errors.Is(err, jetstream.ErrBucketExists) {
			if kv, err = js.KeyValue(ctx, bucket); err == nil {
				return New(kv), nil
			}
		}
		return nil, fmt.Errorf("create kv bucket %s: %w", bucket, err)
	}
	return New(kv), nil
}

func (a *Adapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := a.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("kv get %s: %w", key, err)
	}
	return entry.Value(), true, nil
}

func (a *Adapter) Set(ctx context.Context, key string, value []byte) error {
	if _, err := a.kv.Put(ctx, key, value); err != nil {
		return fmt.Errorf("kv put %s: %w", key, err)
	}
	return nil
}

func (a *Adapter) Delete(ctx context.Context, key string) error {
	if err := a.kv.Purge(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("kv purge %s: %w", key, err)
	}
	return nil
}

// Flush purges every key starting with prefix.
func (a *Adapter) Flush(ctx context.Context, prefix string) error {
	lister, err := a.kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil
		}
		return fmt.Errorf("kv list keys: %w", err)
	}
	defer lister.Stop()

	var keys []string
	for key := range lister.Keys() {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}

	for _, key := range keys {
		if err := a.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
