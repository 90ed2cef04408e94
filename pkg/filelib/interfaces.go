package filelib

import (
	"context"
	"io"
	"log/slog"

	"github.com/google/uuid"
)

// StorageAdapter stores original resources and their versions. Writes take
// the path of a local file so that an adapter may read it more than once.
type StorageAdapter interface {
	Store(ctx context.Context, resource *Resource, path string) error
	StoreVersion(ctx context.Context, v Versionable, version Version, path string) error
	Retrieve(ctx context.Context, resource *Resource) (io.ReadCloser, error)
	RetrieveVersion(ctx context.Context, v Versionable, version Version) (io.ReadCloser, error)
	Delete(ctx context.Context, resource *Resource) error
	DeleteVersion(ctx context.Context, v Versionable, version Version) error
	Exists(ctx context.Context, resource *Resource) (bool, error)
	VersionExists(ctx context.Context, v Versionable, version Version) (bool, error)
}

// FileRepository persists files. GetFile returns the file with its resource
// loaded and ErrNotFound when the id is unknown.
type FileRepository interface {
	CreateFile(ctx context.Context, file *File) error
	GetFile(ctx context.Context, id uuid.UUID) (*File, error)
	GetFiles(ctx context.Context, ids []uuid.UUID) ([]*File, error)
	UpdateFile(ctx context.Context, file *File) error
	DeleteFile(ctx context.Context, id uuid.UUID) error
}

// ResourceRepository persists resources.
type ResourceRepository interface {
	CreateResource(ctx context.Context, resource *Resource) error
	GetResource(ctx context.Context, id uuid.UUID) (*Resource, error)
	GetResources(ctx context.Context, ids []uuid.UUID) ([]*Resource, error)
	GetResourcesByHash(ctx context.Context, hash string) ([]*Resource, error)
	UpdateResource(ctx context.Context, resource *Resource) error
	DeleteResource(ctx context.Context, id uuid.UUID) error
}

// Repository persists both entity kinds.
type Repository interface {
	FileRepository
	ResourceRepository
}

// Host is what plugins get attached to. It replaces any process wide
// state: every component reaches its collaborators through the host.
type Host interface {
	Storage() StorageAdapter
	Repository() Repository
	Dispatcher() *Dispatcher
	Logger() *slog.Logger
}

// Plugin is an event subscriber scoped to a set of profiles.
type Plugin interface {
	Subscriber

	// Attach is called once by the registry before subscription.
	Attach(host Host) error

	// SetProfiles installs the profile membership predicate once. An empty
	// list means the plugin belongs to every profile.
	SetProfiles(profiles []string) error
	BelongsToProfile(profile string) bool
}

// VersionProvider derives versions of files.
type VersionProvider interface {
	Plugin

	// ProvidedVersions lists the declared base versions.
	ProvidedVersions() []string
	IsApplicableTo(file *File) bool
	IsSharedResourceAllowed() bool
	AreSharedVersionsAllowed() bool

	// EnsureValidVersion returns v unchanged or fails with ErrInvalidVersion.
	EnsureValidVersion(v Version) (Version, error)
	ApplicableVersionable(file *File) Versionable
	AreProvidedVersionsCreated(file *File) bool

	ProvideAllVersions(ctx context.Context, file *File) error
	DeleteProvidedVersions(ctx context.Context, v Versionable) error

	// CanProvideLazily reports whether ProvideVersion is supported.
	CanProvideLazily() bool
	ProvideVersion(ctx context.Context, file *File, v Version) error

	MimeType(ctx context.Context, file *File, v Version) (string, error)
	Extension(ctx context.Context, file *File, v Version) (string, error)
}
