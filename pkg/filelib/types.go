package filelib

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind tags an entity type. It is part of storage and cache keys.
type Kind string

const (
	KindFile     Kind = "file"
	KindResource Kind = "resource"
)

// FileStatus represents the lifecycle state of a file
type FileStatus string

const (
	FileStatusRaw       FileStatus = "raw"
	FileStatusCompleted FileStatus = "completed"
)

// Versionable is an entity that versions can be attached to.
type Versionable interface {
	EntityID() uuid.UUID
	EntityKind() Kind
	HasVersion(v Version) bool
	AddVersion(v Version)
	RemoveVersion(v Version)
	Versions() []Version
}

// Resource holds the bytes of one or more files. Files with identical
// content may share a resource unless it is marked exclusive.
type Resource struct {
	ID         uuid.UUID `json:"id"`
	Hash       string    `json:"hash"`
	MimeType   string    `json:"mime_type"`
	Size       int64     `json:"size"`
	Exclusive  bool      `json:"exclusive"`
	VersionSet []Version `json:"versions"`
	CreatedAt  time.Time `json:"created_at"`
}

// File is an upload under a profile.
type File struct {
	ID         uuid.UUID  `json:"id"`
	Profile    string     `json:"profile"`
	Name       string     `json:"name"`
	Status     FileStatus `json:"status"`
	ResourceID uuid.UUID  `json:"resource_id"`
	Resource   *Resource  `json:"resource,omitempty"`
	VersionSet []Version  `json:"versions"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// FileUpload describes a pending upload. Subscribers of
// TopicFileBeforeCreate may change the name or mark the resource exclusive.
type FileUpload struct {
	Path      string
	Name      string
	Profile   string
	Exclusive bool
}

// NewFileUpload creates an upload named after the base name of path.
func NewFileUpload(path, profile string) *FileUpload {
	return &FileUpload{
		Path:    path,
		Name:    filepath.Base(path),
		Profile: profile,
	}
}

func (r *Resource) EntityID() uuid.UUID { return r.ID }
func (r *Resource) EntityKind() Kind    { return KindResource }

func (r *Resource) HasVersion(v Version) bool { return containsVersion(r.VersionSet, v) }
func (r *Resource) AddVersion(v Version)      { r.VersionSet = addVersion(r.VersionSet, v) }
func (r *Resource) RemoveVersion(v Version)   { r.VersionSet = removeVersion(r.VersionSet, v) }
func (r *Resource) Versions() []Version       { return append([]Version(nil), r.VersionSet...) }

// Clone returns a deep copy of the resource.
func (r *Resource) Clone() *Resource {
	if r == nil {
		return nil
	}
	c := *r
	c.VersionSet = append([]Version(nil), r.VersionSet...)
	return &c
}

func (f *File) EntityID() uuid.UUID { return f.ID }
func (f *File) EntityKind() Kind    { return KindFile }

func (f *File) HasVersion(v Version) bool { return containsVersion(f.VersionSet, v) }
func (f *File) AddVersion(v Version)      { f.VersionSet = addVersion(f.VersionSet, v) }
func (f *File) RemoveVersion(v Version)   { f.VersionSet = removeVersion(f.VersionSet, v) }
func (f *File) Versions() []Version       { return append([]Version(nil), f.VersionSet...) }

// Clone returns a deep copy of the file, including its resource.
func (f *File) Clone() *File {
	if f == nil {
		return nil
	}
	c := *f
	c.VersionSet = append([]Version(nil), f.VersionSet...)
	c.Resource = f.Resource.Clone()
	return &c
}

// Extension returns the lowercase file name extension without the dot.
func (f *File) Extension() string {
	ext := filepath.Ext(f.Name)
	if ext == "" {
		return ""
	}
	return strings.ToLower(ext[1:])
}

func containsVersion(set []Version, v Version) bool {
	for _, existing := range set {
		if existing == v {
			return true
		}
	}
	return false
}

func addVersion(set []Version, v Version) []Version {
	if containsVersion(set, v) {
		return set
	}
	return append(set, v)
}

func removeVersion(set []Version, v Version) []Version {
	out := set[:0]
	for _, existing := range set {
		if existing != v {
			out = append(out, existing)
		}
	}
	return out
}
