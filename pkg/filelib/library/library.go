// Package library wires storage, repositories, plugins, profiles and the
// renderer into one file library and implements the upload and delete
// flows.
package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	"github.com/tendant/simple-filelib/pkg/filelib"
	"github.com/tendant/simple-filelib/pkg/filelib/cache"
	"github.com/tendant/simple-filelib/pkg/filelib/plugin"
	"github.com/tendant/simple-filelib/pkg/filelib/profile"
	"github.com/tendant/simple-filelib/pkg/filelib/renderer"
)

// DefaultProfile is created by New unless WithoutDefaultProfile is given.
const DefaultProfile = "default"

// Library is the entry point of the file library. It is the filelib.Host
// every plugin is attached to.
type Library struct {
	storage        filelib.StorageAdapter
	repository     filelib.Repository
	cache          *cache.Cache
	dispatcher     *filelib.Dispatcher
	logger         *slog.Logger
	defaultProfile bool

	plugins  *plugin.Registry
	profiles *profile.Manager
	renderer *renderer.Renderer
}

// Option configures a Library
type Option func(*Library)

// WithStorage sets the storage adapter, usually a *storage.Multi.
func WithStorage(storage filelib.StorageAdapter) Option {
	return func(l *Library) { l.storage = storage }
}

// WithRepository sets the file and resource repository.
func WithRepository(repo filelib.Repository) Option {
	return func(l *Library) { l.repository = repo }
}

// WithCache puts the cache in front of the repository.
func WithCache(c *cache.Cache) Option {
	return func(l *Library) { l.cache = c }
}

// WithDispatcher sets the event dispatcher. A new one is created otherwise.
func WithDispatcher(d *filelib.Dispatcher) Option {
	return func(l *Library) { l.dispatcher = d }
}

// WithLogger sets the logger handed to plugins.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Library) { l.logger = logger }
}

// WithoutDefaultProfile skips creating the "default" profile.
func WithoutDefaultProfile() Option {
	return func(l *Library) { l.defaultProfile = false }
}

// New creates a library. Storage and repository are required.
func New(ctx context.Context, options ...Option) (*Library, error) {
	l := &Library{
		logger:         slog.Default(),
		defaultProfile: true,
	}
	for _, option := range options {
		option(l)
	}

	if l.storage == nil {
		return nil, fmt.Errorf("%w: storage is required", filelib.ErrInvalidArgument)
	}
	if l.repository == nil {
		return nil, fmt.Errorf("%w: repository is required", filelib.ErrInvalidArgument)
	}
	if l.cache != nil {
		l.repository = cache.NewRepository(l.repository, l.cache)
	}
	if l.dispatcher == nil {
		l.dispatcher = filelib.NewDispatcher(l.logger)
	}

	l.plugins = plugin.NewRegistry(l)
	l.profiles = profile.NewManager(l.dispatcher)
	l.renderer = renderer.New(l, l.profiles, renderer.WithLogger(l.logger))

	if l.defaultProfile {
		if err := l.AddProfile(ctx, filelib.NewProfile(DefaultProfile, filelib.WithDescription("Default profile"))); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// filelib.Host

func (l *Library) Storage() filelib.StorageAdapter { return l.storage }
func (l *Library) Repository() filelib.Repository  { return l.repository }
func (l *Library) Dispatcher() *filelib.Dispatcher { return l.dispatcher }
func (l *Library) Logger() *slog.Logger            { return l.logger }

func (l *Library) Plugins() *plugin.Registry    { return l.plugins }
func (l *Library) Profiles() *profile.Manager   { return l.profiles }
func (l *Library) Renderer() *renderer.Renderer { return l.renderer }

// Cache returns the cache, nil when the library runs without one.
func (l *Library) Cache() *cache.Cache { return l.cache }

// AddProfile registers a profile. Plugins already registered for it are
// attached.
func (l *Library) AddProfile(ctx context.Context, p *filelib.Profile) error {
	return l.profiles.AddProfile(ctx, p)
}

// AddPlugin registers a plugin for profiles, all profiles when none are
// given, under a generated name.
func (l *Library) AddPlugin(ctx context.Context, p filelib.Plugin, profiles ...string) error {
	return l.plugins.AddPlugin(ctx, p, profiles, "")
}

// AddNamedPlugin registers a plugin under name.
func (l *Library) AddNamedPlugin(ctx context.Context, name string, p filelib.Plugin, profiles ...string) error {
	return l.plugins.AddPlugin(ctx, p, profiles, name)
}

// Upload stores the file at path under profile.
func (l *Library) Upload(ctx context.Context, path, profileName string) (*filelib.File, error) {
	return l.UploadFile(ctx, filelib.NewFileUpload(path, profileName))
}

// UploadFile creates a file from upload. The resource is shared with an
// identical upload when every applicable provider allows it and the upload
// is not exclusive. A failed store removes the resource record again.
func (l *Library) UploadFile(ctx context.Context, upload *filelib.FileUpload) (*filelib.File, error) {
	if upload == nil || upload.Path == "" {
		return nil, fmt.Errorf("%w: upload has no path", filelib.ErrInvalidArgument)
	}
	if upload.Profile == "" {
		upload.Profile = DefaultProfile
	}
	if _, err := l.profiles.Profile(upload.Profile); err != nil {
		return nil, err
	}

	info, err := os.Stat(upload.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", filelib.ErrInvalidArgument, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", filelib.ErrInvalidArgument, upload.Path)
	}
	if upload.Name == "" {
		upload.Name = filepath.Base(upload.Path)
	}

	if err := l.dispatcher.Dispatch(ctx, filelib.TopicFileBeforeCreate, &filelib.FileUploadEvent{Upload: upload}); err != nil {
		return nil, err
	}

	hash, mimeType, err := inspect(upload.Path)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	file := &filelib.File{
		ID:        uuid.New(),
		Profile:   upload.Profile,
		Name:      upload.Name,
		Status:    filelib.FileStatusRaw,
		CreatedAt: now,
		UpdatedAt: now,
	}

	resource, err := l.resolveResource(ctx, file, upload, hash, mimeType, info.Size())
	if err != nil {
		return nil, err
	}
	file.ResourceID = resource.ID
	file.Resource = resource

	if err := l.repository.CreateFile(ctx, file); err != nil {
		return nil, err
	}

	l.logger.InfoContext(ctx, "file uploaded", "file_id", file.ID, "resource_id", resource.ID, "profile", file.Profile, "name", file.Name)

	if err := l.dispatcher.Dispatch(ctx, filelib.TopicFileAfterUpload, &filelib.FileEvent{File: file}); err != nil {
		return file, err
	}

	file.Status = filelib.FileStatusCompleted
	file.UpdatedAt = time.Now().UTC()
	if err := l.repository.UpdateFile(ctx, file); err != nil {
		return file, err
	}

	return file, l.dispatcher.Dispatch(ctx, filelib.TopicFileAfterMaterialize, &filelib.FileEvent{File: file})
}

func (l *Library) resolveResource(ctx context.Context, file *filelib.File, upload *filelib.FileUpload, hash, mimeType string, size int64) (*filelib.Resource, error) {
	resource := &filelib.Resource{
		ID:        uuid.New(),
		Hash:      hash,
		MimeType:  mimeType,
		Size:      size,
		CreatedAt: file.CreatedAt,
	}

	// Applicability checks look at the resource mime type.
	file.Resource = resource
	shared := !upload.Exclusive && l.profiles.IsSharedResourceAllowed(file)
	file.Resource = nil

	if shared {
		candidates, err := l.repository.GetResourcesByHash(ctx, hash)
		if err != nil {
			return nil, err
		}
		for _, candidate := range candidates {
			if !candidate.Exclusive {
				l.logger.DebugContext(ctx, "reusing resource", "resource_id", candidate.ID, "hash", hash)
				return candidate, nil
			}
		}
	}

	resource.Exclusive = !shared
	if err := l.repository.CreateResource(ctx, resource); err != nil {
		return nil, err
	}
	if err := l.storage.Store(ctx, resource, upload.Path); err != nil {
		l.logger.ErrorContext(ctx, "failed to store resource", "resource_id", resource.ID, "err", err)
		// Earlier storages may already hold the blob.
		if delErr := l.storage.Delete(ctx, resource); delErr != nil {
			l.logger.WarnContext(ctx, "failed to delete partially stored resource", "resource_id", resource.ID, "err", delErr)
		}
		if delErr := l.repository.DeleteResource(ctx, resource.ID); delErr != nil {
			l.logger.ErrorContext(ctx, "failed to delete resource after store failure", "resource_id", resource.ID, "err", delErr)
		}
		return nil, err
	}
	return resource, nil
}

// FindFile returns the file with its resource loaded.
func (l *Library) FindFile(ctx context.Context, id uuid.UUID) (*filelib.File, error) {
	return l.repository.GetFile(ctx, id)
}

// FindFiles returns the files found among ids.
func (l *Library) FindFiles(ctx context.Context, ids []uuid.UUID) ([]*filelib.File, error) {
	return l.repository.GetFiles(ctx, ids)
}

// FindResource returns a resource.
func (l *Library) FindResource(ctx context.Context, id uuid.UUID) (*filelib.Resource, error) {
	return l.repository.GetResource(ctx, id)
}

// UpdateFile persists changes to file.
func (l *Library) UpdateFile(ctx context.Context, file *filelib.File) error {
	file.UpdatedAt = time.Now().UTC()
	return l.repository.UpdateFile(ctx, file)
}

// DeleteFile removes the file record and publishes TopicFileAfterDelete.
// An exclusive resource is deleted with it.
func (l *Library) DeleteFile(ctx context.Context, file *filelib.File) error {
	if err := l.repository.DeleteFile(ctx, file.ID); err != nil {
		return err
	}
	if err := l.dispatcher.Dispatch(ctx, filelib.TopicFileAfterDelete, &filelib.FileEvent{File: file}); err != nil {
		return err
	}

	if file.Resource == nil && file.ResourceID != uuid.Nil {
		resource, err := l.repository.GetResource(ctx, file.ResourceID)
		if err != nil && !errors.Is(err, filelib.ErrNotFound) {
			return err
		}
		file.Resource = resource
	}
	if file.Resource != nil && file.Resource.Exclusive {
		return l.DeleteResource(ctx, file.Resource)
	}
	return nil
}

// DeleteResource removes the resource record and its stored original, then
// publishes TopicResourceAfterDelete.
func (l *Library) DeleteResource(ctx context.Context, resource *filelib.Resource) error {
	if err := l.repository.DeleteResource(ctx, resource.ID); err != nil {
		return err
	}
	exists, err := l.storage.Exists(ctx, resource)
	if err != nil {
		return err
	}
	if exists {
		if err := l.storage.Delete(ctx, resource); err != nil {
			return err
		}
	}
	return l.dispatcher.Dispatch(ctx, filelib.TopicResourceAfterDelete, &filelib.ResourceEvent{Resource: resource})
}

// HasVersion reports whether version of file has been created.
func (l *Library) HasVersion(file *filelib.File, version string) bool {
	v, err := filelib.ParseVersion(version)
	if err != nil {
		return false
	}
	return l.profiles.FileHasVersion(file, v)
}

// VersionProvider returns the provider of version for file.
func (l *Library) VersionProvider(file *filelib.File, version string) (filelib.VersionProvider, error) {
	v, err := filelib.ParseVersion(version)
	if err != nil {
		return nil, err
	}
	return l.profiles.VersionProvider(file, v)
}

// Render renders version of the file with id.
func (l *Library) Render(ctx context.Context, id uuid.UUID, version string, opts renderer.Options) *renderer.Response {
	return l.renderer.RenderID(ctx, id, version, opts)
}

func inspect(path string) (hash, mimeType string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", err
	}
	defer f.Close()

	d, err := digest.FromReader(f)
	if err != nil {
		return "", "", fmt.Errorf("hash upload: %w", err)
	}

	mime, err := mimetype.DetectFile(path)
	if err != nil {
		return "", "", fmt.Errorf("detect mime type: %w", err)
	}
	return d.String(), mime.String(), nil
}

var _ filelib.Host = (*Library)(nil)
