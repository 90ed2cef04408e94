package filelib

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrInvalidArgument indicates a caller supplied a bad argument or the
	// component is misconfigured
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound indicates an entity, plugin or artifact does not exist
	ErrNotFound = errors.New("not found")

	// ErrInvalidVersion indicates a malformed or unsupported version token
	ErrInvalidVersion = errors.New("invalid version")

	// ErrAccessDenied indicates an authorization subscriber vetoed a render
	ErrAccessDenied = errors.New("access denied")

	// ErrStorageIO indicates a storage backend failed to read or write
	ErrStorageIO = errors.New("storage i/o failure")

	// ErrRuntimeFailure indicates an artifact producer failed
	ErrRuntimeFailure = errors.New("runtime failure")
)

// FileError represents an error related to file operations
type FileError struct {
	FileID uuid.UUID
	Op     string
	Err    error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("file operation %s failed for file %s: %v", e.Op, e.FileID, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// StorageError represents a storage backend failure. It matches both
// ErrStorageIO and the underlying error with errors.Is.
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for backend %s, key %s: %v", e.Op, e.Backend, e.Key, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorageIO, e.Err}
}

// ProviderError represents a failure while producing a version.
type ProviderError struct {
	Provider string
	Version  string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("version provider %s failed to %s version %q: %v", e.Provider, e.Op, e.Version, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
