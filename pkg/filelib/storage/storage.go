// Package storage stores resources and versions in one or more blob
// backends.
//
// A Backend is a plain key/blob store (memory, filesystem, S3). An Adapter
// turns a Backend into a filelib.StorageAdapter by mapping resources and
// versions to object keys. Multi replicates writes to several adapters and
// pins reads to one of them.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/tendant/simple-filelib/pkg/filelib"
	"github.com/tendant/simple-filelib/pkg/filelib/storage/objectkey"
)

// ErrObjectNotFound is returned by backends for unknown keys. It matches
// filelib.ErrNotFound.
var ErrObjectNotFound = fmt.Errorf("object %w", filelib.ErrNotFound)

// Backend is a key/blob store.
type Backend interface {
	Upload(ctx context.Context, key string, r io.Reader) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Adapter implements filelib.StorageAdapter on top of a Backend.
type Adapter struct {
	name    string
	backend Backend
	keys    objectkey.Generator
	logger  *slog.Logger
}

// AdapterOption configures an Adapter
type AdapterOption func(*Adapter)

// WithKeyGenerator sets the object key layout. Defaults to the flat layout.
func WithKeyGenerator(g objectkey.Generator) AdapterOption {
	return func(a *Adapter) {
		a.keys = g
	}
}

// WithLogger sets the adapter logger.
func WithLogger(logger *slog.Logger) AdapterOption {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// NewAdapter wraps backend. The name shows up in errors and metrics.
func NewAdapter(name string, backend Backend, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		name:    name,
		backend: backend,
		keys:    objectkey.NewFlatGenerator(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the backend name used in errors and metrics.
func (a *Adapter) Name() string { return a.name }

// Store uploads the original of resource from path.
func (a *Adapter) Store(ctx context.Context, resource *filelib.Resource, path string) error {
	return a.upload(ctx, "store", a.keys.ResourceKey(resource.ID), path)
}

// StoreVersion uploads a version of v from path.
func (a *Adapter) StoreVersion(ctx context.Context, v filelib.Versionable, version filelib.Version, path string) error {
	return a.upload(ctx, "store version", a.versionKey(v, version), path)
}

// Retrieve opens the original of resource. Callers close the reader.
func (a *Adapter) Retrieve(ctx context.Context, resource *filelib.Resource) (io.ReadCloser, error) {
	return a.download(ctx, "retrieve", a.keys.ResourceKey(resource.ID))
}

// RetrieveVersion opens a version of v.
func (a *Adapter) RetrieveVersion(ctx context.Context, v filelib.Versionable, version filelib.Version) (io.ReadCloser, error) {
	return a.download(ctx, "retrieve version", a.versionKey(v, version))
}

// Delete removes the original of resource.
func (a *Adapter) Delete(ctx context.Context, resource *filelib.Resource) error {
	return a.delete(ctx, "delete", a.keys.ResourceKey(resource.ID))
}

// DeleteVersion removes a version of v.
func (a *Adapter) DeleteVersion(ctx context.Context, v filelib.Versionable, version filelib.Version) error {
	return a.delete(ctx, "delete version", a.versionKey(v, version))
}

// Exists reports whether the original of resource is stored.
func (a *Adapter) Exists(ctx context.Context, resource *filelib.Resource) (bool, error) {
	return a.exists(ctx, "exists", a.keys.ResourceKey(resource.ID))
}

// VersionExists reports whether a version of v is stored.
func (a *Adapter) VersionExists(ctx context.Context, v filelib.Versionable, version filelib.Version) (bool, error) {
	return a.exists(ctx, "version exists", a.versionKey(v, version))
}

func (a *Adapter) versionKey(v filelib.Versionable, version filelib.Version) string {
	return a.keys.VersionKey(v.EntityKind(), v.EntityID(), version)
}

func (a *Adapter) upload(ctx context.Context, op, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return a.wrap(op, key, err)
	}
	defer f.Close()

	if err := a.backend.Upload(ctx, key, f); err != nil {
		a.logger.ErrorContext(ctx, "storage upload failed", "backend", a.name, "key", key, "err", err)
		return a.wrap(op, key, err)
	}
	return nil
}

func (a *Adapter) download(ctx context.Context, op, key string) (io.ReadCloser, error) {
	rc, err := a.backend.Download(ctx, key)
	if err != nil {
		return nil, a.wrap(op, key, err)
	}
	return rc, nil
}

func (a *Adapter) delete(ctx context.Context, op, key string) error {
	if err := a.backend.Delete(ctx, key); err != nil {
		return a.wrap(op, key, err)
	}
	return nil
}

func (a *Adapter) exists(ctx context.Context, op, key string) (bool, error) {
	ok, err := a.backend.Exists(ctx, key)
	if err != nil {
		return false, a.wrap(op, key, err)
	}
	return ok, nil
}

func (a *Adapter) wrap(op, key string, err error) error {
	var storageErr *filelib.StorageError
	if errors.As(err, &storageErr) {
		return err
	}
	return &filelib.StorageError{Backend: a.name, Key: key, Op: op, Err: err}
}
