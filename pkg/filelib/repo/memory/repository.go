package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/tendant/simple-filelib/pkg/filelib"
)

// Repository implements filelib.Repository using in-memory storage
type Repository struct {
	mu        sync.RWMutex
	files     map[uuid.UUID]*filelib.File
	resources map[uuid.UUID]*filelib.Resource
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		files:     make(map[uuid.UUID]*filelib.File),
		resources: make(map[uuid.UUID]*filelib.Resource),
	}
}

// File operations

func (r *Repository) CreateFile(ctx context.Context, file *filelib.File) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.files[file.ID]; exists {
		return fmt.Errorf("%w: file %s already exists", filelib.ErrInvalidArgument, file.ID)
	}
	r.files[file.ID] = detach(file)
	return nil
}

func (r *Repository) GetFile(ctx context.Context, id uuid.UUID) (*filelib.File, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	file, exists := r.files[id]
	if !exists {
		return nil, fmt.Errorf("file %s: %w", id, filelib.ErrNotFound)
	}
	return r.hydrate(file), nil
}

func (r *Repository) GetFiles(ctx context.Context, ids []uuid.UUID) ([]*filelib.File, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	files := make([]*filelib.File, 0, len(ids))
	for _, id := range ids {
		if file, exists := r.files[id]; exists {
			files = append(files, r.hydrate(file))
		}
	}
	return files, nil
}

func (r *Repository) UpdateFile(ctx context.Context, file *filelib.File) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.files[file.ID]; !exists {
		return fmt.Errorf("file %s: %w", file.ID, filelib.ErrNotFound)
	}
	r.files[file.ID] = detach(file)
	return nil
}

func (r *Repository) DeleteFile(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.files[id]; !exists {
		return fmt.Errorf("file %s: %w", id, filelib.ErrNotFound)
	}
	delete(r.files, id)
	return nil
}

// Resource operations

func (r *Repository) CreateResource(ctx context.Context, resource *filelib.Resource) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.resources[resource.ID]; exists {
		return fmt.Errorf("%w: resource %s already exists", filelib.ErrInvalidArgument, resource.ID)
	}
	r.resources[resource.ID] = resource.Clone()
	return nil
}

func (r *Repository) GetResource(ctx context.Context, id uuid.UUID) (*filelib.Resource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resource, exists := r.resources[id]
	if !exists {
		return nil, fmt.Errorf("resource %s: %w", id, filelib.ErrNotFound)
	}
	return resource.Clone(), nil
}

func (r *Repository) GetResources(ctx context.Context, ids []uuid.UUID) ([]*filelib.Resource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resources := make([]*filelib.Resource, 0, len(ids))
	for _, id := range ids {
		if resource, exists := r.resources[id]; exists {
			resources = append(resources, resource.Clone())
		}
	}
	return resources, nil
}

func (r *Repository) GetResourcesByHash(ctx context.Context, hash string) ([]*filelib.Resource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var resources []*filelib.Resource
	for _, resource := range r.resources {
		if resource.Hash == hash {
			resources = append(resources, resource.Clone())
		}
	}
	return resources, nil
}

func (r *Repository) UpdateResource(ctx context.Context, resource *filelib.Resource) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.resources[resource.ID]; !exists {
		return fmt.Errorf("resource %s: %w", resource.ID, filelib.ErrNotFound)
	}
	r.resources[resource.ID] = resource.Clone()
	return nil
}

func (r *Repository) DeleteResource(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.resources[id]; !exists {
		return fmt.Errorf("resource %s: %w", id, filelib.ErrNotFound)
	}
	delete(r.resources, id)
	return nil
}

// hydrate returns a copy of file with its resource loaded. Caller holds the
// read lock.
func (r *Repository) hydrate(file *filelib.File) *filelib.File {
	out := file.Clone()
	if resource, exists := r.resources[file.ResourceID]; exists {
		out.Resource = resource.Clone()
	}
	return out
}

// detach copies file for storage; the resource is stored on its own.
func detach(file *filelib.File) *filelib.File {
	out := file.Clone()
	if out.Resource != nil && out.ResourceID == uuid.Nil {
		out.ResourceID = out.Resource.ID
	}
	out.Resource = nil
	return out
}

var _ filelib.Repository = (*Repository)(nil)
