package storage

import (
	"context"
	"io"
	"time"

	"github.com/tendant/simple-filelib/pkg/filelib"
)

// Observer receives one call per storage operation.
type Observer interface {
	ObserveStorage(backend, op string, err error, elapsed time.Duration)
}

// Instrumented reports every operation of the wrapped adapter to an
// Observer.
type Instrumented struct {
	name     string
	next     filelib.StorageAdapter
	observer Observer
}

// Instrument wraps next. name labels the observations.
func Instrument(name string, next filelib.StorageAdapter, observer Observer) *Instrumented {
	return &Instrumented{name: name, next: next, observer: observer}
}

// Unwrap returns the wrapped adapter.
func (i *Instrumented) Unwrap() filelib.StorageAdapter { return i.next }

func (i *Instrumented) observe(op string, start time.Time, err error) {
	i.observer.ObserveStorage(i.name, op, err, time.Since(start))
}

func (i *Instrumented) Store(ctx context.Context, resource *filelib.Resource, path string) error {
	start := time.Now()
	err := i.next.Store(ctx, resource, path)
	i.observe("store", start, err)
	return err
}

func (i *Instrumented) StoreVersion(ctx context.Context, v filelib.Versionable, version filelib.Version, path string) error {
	start := time.Now()
	err := i.next.StoreVersion(ctx, v, version, path)
	i.observe("store_version", start, err)
	return err
}

func (i *Instrumented) Retrieve(ctx context.Context, resource *filelib.Resource) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := i.next.Retrieve(ctx, resource)
	i.observe("retrieve", start, err)
	return rc, err
}

func (i *Instrumented) RetrieveVersion(ctx context.Context, v filelib.Versionable, version filelib.Version) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := i.next.RetrieveVersion(ctx, v, version)
	i.observe("retrieve_version", start, err)
	return rc, err
}

func (i *Instrumented) Delete(ctx context.Context, resource *filelib.Resource) error {
	start := time.Now()
	err := i.next.Delete(ctx, resource)
	i.observe("delete", start, err)
	return err
}

func (i *Instrumented) DeleteVersion(ctx context.Context, v filelib.Versionable, version filelib.Version) error {
	start := time.Now()
	err := i.next.DeleteVersion(ctx, v, version)
	i.observe("delete_version", start, err)
	return err
}

func (i *Instrumented) Exists(ctx context.Context, resource *filelib.Resource) (bool, error) {
	start := time.Now()
	ok, err := i.next.Exists(ctx, resource)
	i.observe("exists", start, err)
	return ok, err
}

func (i *Instrumented) VersionExists(ctx context.Context, v filelib.Versionable, version filelib.Version) (bool, error) {
	start := time.Now()
	ok, err := i.next.VersionExists(ctx, v, version)
	i.observe("version_exists", start, err)
	return ok, err
}
