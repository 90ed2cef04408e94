package cache

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/tendant/simple-filelib/pkg/filelib"
)

// Repository decorates a filelib.Repository with the cache: reads are served
// from the cache when warm, writes go to the repository first and are then
// mirrored. Cache failures are logged and never fail the operation.
type Repository struct {
	next  filelib.Repository
	cache *Cache
}

// NewRepository wraps next.
func NewRepository(next filelib.Repository, cache *Cache) *Repository {
	return &Repository{next: next, cache: cache}
}

// Cache returns the cache facade.
func (r *Repository) Cache() *Cache { return r.cache }

// Unwrap returns the backing repository.
func (r *Repository) Unwrap() filelib.Repository { return r.next }

func (r *Repository) CreateFile(ctx context.Context, file *filelib.File) error {
	if err := r.next.CreateFile(ctx, file); err != nil {
		return err
	}
	r.saveFile(ctx, file)
	return nil
}

func (r *Repository) GetFile(ctx context.Context, id uuid.UUID) (*filelib.File, error) {
	file, ok, err := r.cache.FindFile(ctx, id)
	if err != nil {
		r.cache.logger.WarnContext(ctx, "cache read failed", "kind", filelib.KindFile, "id", id, "err", err)
	}
	if ok {
		resource, err := r.GetResource(ctx, file.ResourceID)
		if err == nil {
			file.Resource = resource
			return file, nil
		}
	}

	file, err = r.next.GetFile(ctx, id)
	if err != nil {
		return nil, err
	}
	r.saveFile(ctx, file)
	return file, nil
}

// GetFiles skips ids that do not exist. Other errors abort the lookup.
func (r *Repository) GetFiles(ctx context.Context, ids []uuid.UUID) ([]*filelib.File, error) {
	files := make([]*filelib.File, 0, len(ids))
	for _, id := range ids {
		file, err := r.GetFile(ctx, id)
		if errors.Is(err, filelib.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, nil
}

func (r *Repository) UpdateFile(ctx context.Context, file *filelib.File) error {
	if err := r.next.UpdateFile(ctx, file); err != nil {
		return err
	}
	r.saveFile(ctx, file)
	return nil
}

func (r *Repository) DeleteFile(ctx context.Context, id uuid.UUID) error {
	if err := r.next.DeleteFile(ctx, id); err != nil {
		return err
	}
	r.forget(ctx, &filelib.File{ID: id})
	return nil
}

func (r *Repository) CreateResource(ctx context.Context, resource *filelib.Resource) error {
	if err := r.next.CreateResource(ctx, resource); err != nil {
		return err
	}
	r.save(ctx, resource)
	return nil
}

func (r *Repository) GetResource(ctx context.Context, id uuid.UUID) (*filelib.Resource, error) {
	resource, ok, err := r.cache.FindResource(ctx, id)
	if err != nil {
		r.cache.logger.WarnContext(ctx, "cache read failed", "kind", filelib.KindResource, "id", id, "err", err)
	}
	if ok {
		return resource, nil
	}

	resource, err = r.next.GetResource(ctx, id)
	if err != nil {
		return nil, err
	}
	r.save(ctx, resource)
	return resource, nil
}

// GetResources skips ids that do not exist.
func (r *Repository) GetResources(ctx context.Context, ids []uuid.UUID) ([]*filelib.Resource, error) {
	resources := make([]*filelib.Resource, 0, len(ids))
	for _, id := range ids {
		resource, err := r.GetResource(ctx, id)
		if errors.Is(err, filelib.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		resources = append(resources, resource)
	}
	return resources, nil
}

// GetResourcesByHash always asks the repository; the cache has no hash
// index.
func (r *Repository) GetResourcesByHash(ctx context.Context, hash string) ([]*filelib.Resource, error) {
	return r.next.GetResourcesByHash(ctx, hash)
}

func (r *Repository) UpdateResource(ctx context.Context, resource *filelib.Resource) error {
	if err := r.next.UpdateResource(ctx, resource); err != nil {
		return err
	}
	r.save(ctx, resource)
	return nil
}

func (r *Repository) DeleteResource(ctx context.Context, id uuid.UUID) error {
	if err := r.next.DeleteResource(ctx, id); err != nil {
		return err
	}
	r.forget(ctx, &filelib.Resource{ID: id})
	return nil
}

// saveFile caches the file without its resource, which is cached on its
// own and may change independently.
func (r *Repository) saveFile(ctx context.Context, file *filelib.File) {
	snapshot := file.Clone()
	if snapshot.ResourceID == uuid.Nil && snapshot.Resource != nil {
		snapshot.ResourceID = snapshot.Resource.ID
	}
	if snapshot.Resource != nil {
		r.save(ctx, snapshot.Resource)
	}
	snapshot.Resource = nil
	r.save(ctx, snapshot)
}

func (r *Repository) save(ctx context.Context, entity filelib.Versionable) {
	if err := r.cache.Save(ctx, entity); err != nil {
		r.cache.logger.WarnContext(ctx, "cache write failed",
			"kind", entity.EntityKind(), "id", entity.EntityID(), "err", err)
	}
}

func (r *Repository) forget(ctx context.Context, entity filelib.Versionable) {
	if err := r.cache.Delete(ctx, entity); err != nil {
		r.cache.logger.WarnContext(ctx, "cache delete failed",
			"kind", entity.EntityKind(), "id", entity.EntityID(), "err", err)
	}
}

var _ filelib.Repository = (*Repository)(nil)
