// Package versionprovider derives versions of files.
//
// A Provider declares a set of version names and materializes their
// artifacts through a Producer, either eagerly when a file is uploaded or
// lazily when a version is first requested. Producers that can create one
// version at a time implement SingleProducer, which is what makes a
// provider lazy capable.
package versionprovider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/tendant/simple-filelib/pkg/filelib"
	"github.com/tendant/simple-filelib/pkg/filelib/plugin"
)

// Mode selects when versions are materialized.
type Mode int

const (
	// Eager creates every version after upload.
	Eager Mode = iota
	// Lazy creates a version on first request.
	Lazy
)

func (m Mode) String() string {
	if m == Lazy {
		return "lazy"
	}
	return "eager"
}

// DefaultSuffixes is the suffix vocabulary used unless WithSuffixes is given.
var DefaultSuffixes = []string{"thumbnail"}

// Artifact is a temporary file holding a produced version.
type Artifact struct {
	Version filelib.Version
	Path    string
}

// Producer creates the declared versions of a file from a local copy of its
// original. The provider removes the returned paths when done.
type Producer interface {
	Versions() []string
	Produce(ctx context.Context, file *filelib.File, source string) ([]Artifact, error)
}

// SingleProducer creates one version at a time.
type SingleProducer interface {
	Producer
	ProduceVersion(ctx context.Context, file *filelib.File, source string, v filelib.Version) (string, error)
}

// Applicator restricts a producer to some files, usually by mime type.
type Applicator interface {
	IsApplicableTo(file *filelib.File) bool
}

// MimeTyper answers the mime type of a version without reading it back.
// ok is false when the type is not known up front.
type MimeTyper interface {
	MimeType(file *filelib.File, v filelib.Version) (mimeType string, ok bool)
}

// Provider is a filelib.VersionProvider driven by a Producer.
type Provider struct {
	plugin.Base

	producer       Producer
	mode           Mode
	sharedVersions bool
	sharedResource bool
	suffixes       []string
	applicable     func(*filelib.File) bool
	logger         *slog.Logger
	tempDir        string
}

// Option configures a Provider
type Option func(*Provider)

// WithMode sets the materialization mode. The default is Eager.
func WithMode(mode Mode) Option {
	return func(p *Provider) { p.mode = mode }
}

// WithSharedVersions stores versions on the resource so that files sharing
// the same content share the versions.
func WithSharedVersions(allowed bool) Option {
	return func(p *Provider) { p.sharedVersions = allowed }
}

// WithSharedResource allows files of this provider to reuse a resource with
// identical content.
func WithSharedResource(allowed bool) Option {
	return func(p *Provider) { p.sharedResource = allowed }
}

// WithSuffixes replaces the suffix vocabulary.
func WithSuffixes(suffixes ...string) Option {
	return func(p *Provider) { p.suffixes = append([]string(nil), suffixes...) }
}

// WithApplicability overrides the applicability test of the producer.
func WithApplicability(fn func(*filelib.File) bool) Option {
	return func(p *Provider) { p.applicable = fn }
}

// WithLogger sets the provider logger. It defaults to the host logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) { p.logger = logger }
}

// WithTempDir sets where originals are spooled. Empty means os.TempDir.
func WithTempDir(dir string) Option {
	return func(p *Provider) { p.tempDir = dir }
}

// New creates a provider around producer.
func New(producer Producer, opts ...Option) *Provider {
	p := &Provider{
		producer:       producer,
		mode:           Eager,
		sharedVersions: true,
		sharedResource: true,
		suffixes:       DefaultSuffixes,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Subscriptions implements filelib.Subscriber
func (p *Provider) Subscriptions() []filelib.Subscription {
	return []filelib.Subscription{
		{Topic: filelib.TopicFileAfterUpload, Handler: p.onAfterUpload},
		{Topic: filelib.TopicFileAfterDelete, Handler: p.onFileDelete},
		{Topic: filelib.TopicResourceAfterDelete, Handler: p.onResourceDelete},
	}
}

func (p *Provider) Mode() Mode { return p.mode }

func (p *Provider) Producer() Producer { return p.producer }

func (p *Provider) ProvidedVersions() []string {
	return append([]string(nil), p.producer.Versions()...)
}

func (p *Provider) IsSharedResourceAllowed() bool  { return p.sharedResource }
func (p *Provider) AreSharedVersionsAllowed() bool { return p.sharedVersions }

// CanProvideLazily reports whether the producer can create single versions.
// It does not depend on the mode.
func (p *Provider) CanProvideLazily() bool {
	_, ok := p.producer.(SingleProducer)
	return ok
}

// IsApplicableTo is true for files in the provider's profiles that the
// producer can handle.
func (p *Provider) IsApplicableTo(file *filelib.File) bool {
	if file == nil || !p.BelongsToProfile(file.Profile) {
		return false
	}
	if p.applicable != nil {
		return p.applicable(file)
	}
	if a, ok := p.producer.(Applicator); ok {
		return a.IsApplicableTo(file)
	}
	return true
}

// EnsureValidVersion checks the base against the declared versions and the
// suffix against the vocabulary.
func (p *Provider) EnsureValidVersion(v filelib.Version) (filelib.Version, error) {
	if !slices.Contains(p.producer.Versions(), v.Base()) {
		return v, fmt.Errorf("%w: invalid base version %q", filelib.ErrInvalidVersion, v.Base())
	}
	if v.HasSuffix() && !slices.Contains(p.suffixes, v.Suffix()) {
		return v, fmt.Errorf("%w: invalid version suffix %q", filelib.ErrInvalidVersion, v.Suffix())
	}
	return v, nil
}

// ApplicableVersionable returns where versions of file are registered: the
// resource when versions are shared, the file otherwise. It is nil when the
// resource is not loaded.
func (p *Provider) ApplicableVersionable(file *filelib.File) filelib.Versionable {
	if p.sharedVersions {
		if file.Resource == nil {
			return nil
		}
		return file.Resource
	}
	return file
}

// AreProvidedVersionsCreated is true when every declared version is
// registered.
func (p *Provider) AreProvidedVersionsCreated(file *filelib.File) bool {
	versionable := p.ApplicableVersionable(file)
	if versionable == nil {
		return false
	}
	for _, name := range p.producer.Versions() {
		v, err := filelib.ParseVersion(name)
		if err != nil || !versionable.HasVersion(v) {
			return false
		}
	}
	return true
}

// ProvideAllVersions produces, stores and registers every declared version,
// persists the versionable and publishes TopicVersionsProvided.
func (p *Provider) ProvideAllVersions(ctx context.Context, file *filelib.File) error {
	versionable, err := p.versionable(ctx, file)
	if err != nil {
		return err
	}

	source, err := p.spool(ctx, file)
	if err != nil {
		return p.fail("provide", filelib.Version{}, err)
	}
	defer os.Remove(source)

	artifacts, err := p.producer.Produce(ctx, file, source)
	defer func() {
		for _, a := range artifacts {
			os.Remove(a.Path)
		}
	}()
	if err != nil {
		return p.fail("produce", filelib.Version{}, err)
	}

	storage := p.Host().Storage()
	provided := make([]filelib.Version, 0, len(artifacts))
	for _, a := range artifacts {
		if err := storage.StoreVersion(ctx, versionable, a.Version, a.Path); err != nil {
			return p.fail("store_version", a.Version, err)
		}
		versionable.AddVersion(a.Version)
		provided = append(provided, a.Version)
	}

	if err := p.persist(ctx, versionable); err != nil {
		return err
	}

	p.log().InfoContext(ctx, "versions provided",
		"file_id", file.ID, "kind", versionable.EntityKind(), "versions", filelib.VersionStrings(provided))

	return p.Host().Dispatcher().Dispatch(ctx, filelib.TopicVersionsProvided, &filelib.VersionProviderEvent{
		Provider:    p,
		File:        file,
		Versionable: versionable,
		Versions:    provided,
	})
}

// ProvideVersion materializes a single version. The version is registered
// only after its artifact is stored.
func (p *Provider) ProvideVersion(ctx context.Context, file *filelib.File, v filelib.Version) error {
	single, ok := p.producer.(SingleProducer)
	if !ok {
		return p.fail("provide_version", v, fmt.Errorf("%w: provider cannot create single versions", filelib.ErrRuntimeFailure))
	}
	v, err := p.EnsureValidVersion(v)
	if err != nil {
		return err
	}
	versionable, err := p.versionable(ctx, file)
	if err != nil {
		return err
	}

	source, err := p.spool(ctx, file)
	if err != nil {
		return p.fail("provide_version", v, err)
	}
	defer os.Remove(source)

	path, err := single.ProduceVersion(ctx, file, source, v)
	if path != "" {
		defer os.Remove(path)
	}
	if err != nil {
		return p.fail("produce", v, err)
	}

	if err := p.Host().Storage().StoreVersion(ctx, versionable, v, path); err != nil {
		return p.fail("store_version", v, err)
	}
	versionable.AddVersion(v)

	if err := p.persist(ctx, versionable); err != nil {
		return err
	}

	p.log().InfoContext(ctx, "version provided", "file_id", file.ID, "kind", versionable.EntityKind(), "version", v)

	return p.Host().Dispatcher().Dispatch(ctx, filelib.TopicVersionsProvided, &filelib.VersionProviderEvent{
		Provider:    p,
		File:        file,
		Versionable: versionable,
		Versions:    []filelib.Version{v},
	})
}

// DeleteProvidedVersions unregisters every declared version, and its
// suffixed variants, and deletes the stored artifacts.
// TopicVersionsUnprovided is published with the full declared set whether
// or not anything was present.
func (p *Provider) DeleteProvidedVersions(ctx context.Context, versionable filelib.Versionable) error {
	declared, err := filelib.ParseVersions(p.producer.Versions())
	if err != nil {
		return err
	}

	storage := p.Host().Storage()
	for _, v := range p.withSuffixes(declared) {
		versionable.RemoveVersion(v)
		exists, err := storage.VersionExists(ctx, versionable, v)
		if err != nil {
			return p.fail("version_exists", v, err)
		}
		if !exists {
			continue
		}
		if err := storage.DeleteVersion(ctx, versionable, v); err != nil {
			return p.fail("delete_version", v, err)
		}
	}

	event := &filelib.VersionProviderEvent{
		Provider:    p,
		Versionable: versionable,
		Versions:    declared,
	}
	if file, ok := versionable.(*filelib.File); ok {
		event.File = file
	}
	return p.Host().Dispatcher().Dispatch(ctx, filelib.TopicVersionsUnprovided, event)
}

// withSuffixes adds every base_suffix combination of the vocabulary.
func (p *Provider) withSuffixes(declared []filelib.Version) []filelib.Version {
	out := append([]filelib.Version(nil), declared...)
	for _, v := range declared {
		for _, suffix := range p.suffixes {
			variant, err := filelib.NewVersion(v.Base(), suffix)
			if err != nil {
				continue
			}
			out = append(out, variant)
		}
	}
	return out
}

// MimeType returns the mime type of a stored version. Unless the producer
// knows it, the artifact is read back and sniffed.
func (p *Provider) MimeType(ctx context.Context, file *filelib.File, v filelib.Version) (string, error) {
	if m, ok := p.producer.(MimeTyper); ok {
		if mimeType, known := m.MimeType(file, v); known {
			return mimeType, nil
		}
	}

	versionable, err := p.versionable(ctx, file)
	if err != nil {
		return "", err
	}
	rc, err := p.Host().Storage().RetrieveVersion(ctx, versionable, v)
	if err != nil {
		return "", p.fail("mime_type", v, err)
	}
	defer rc.Close()

	mime, err := mimetype.DetectReader(rc)
	if err != nil {
		return "", p.fail("mime_type", v, err)
	}
	return mime.String(), nil
}

// Extension returns the file extension of a version, without the dot.
func (p *Provider) Extension(ctx context.Context, file *filelib.File, v filelib.Version) (string, error) {
	mimeType, err := p.MimeType(ctx, file, v)
	if err != nil {
		return "", err
	}
	return ExtensionFor(mimeType), nil
}

// ExtensionFor maps a mime type to an extension without the dot. Unknown
// types map to an empty string.
func ExtensionFor(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	mime := mimetype.Lookup(strings.TrimSpace(base))
	if mime == nil {
		return ""
	}
	return strings.TrimPrefix(mime.Extension(), ".")
}

func (p *Provider) onAfterUpload(ctx context.Context, event filelib.Event) error {
	e, ok := event.(*filelib.FileEvent)
	if !ok || p.mode == Lazy {
		return nil
	}
	file := e.File
	if !p.BelongsToProfile(file.Profile) || !p.IsApplicableTo(file) || p.AreProvidedVersionsCreated(file) {
		return nil
	}
	return p.ProvideAllVersions(ctx, file)
}

func (p *Provider) onFileDelete(ctx context.Context, event filelib.Event) error {
	e, ok := event.(*filelib.FileEvent)
	if !ok || !p.BelongsToProfile(e.File.Profile) {
		return nil
	}
	return p.DeleteProvidedVersions(ctx, e.File)
}

func (p *Provider) onResourceDelete(ctx context.Context, event filelib.Event) error {
	e, ok := event.(*filelib.ResourceEvent)
	if !ok {
		return nil
	}
	return p.DeleteProvidedVersions(ctx, e.Resource)
}

// versionable loads the resource of file when needed and returns the
// applicable versionable.
func (p *Provider) versionable(ctx context.Context, file *filelib.File) (filelib.Versionable, error) {
	if file == nil {
		return nil, fmt.Errorf("%w: nil file", filelib.ErrInvalidArgument)
	}
	if err := p.loadResource(ctx, file); err != nil {
		return nil, err
	}
	return p.ApplicableVersionable(file), nil
}

func (p *Provider) loadResource(ctx context.Context, file *filelib.File) error {
	if file.Resource != nil {
		return nil
	}
	resource, err := p.Host().Repository().GetResource(ctx, file.ResourceID)
	if err != nil {
		return &filelib.FileError{FileID: file.ID, Op: "load_resource", Err: err}
	}
	file.Resource = resource
	return nil
}

// spool copies the original of file to a temporary file. The caller removes
// it.
func (p *Provider) spool(ctx context.Context, file *filelib.File) (string, error) {
	rc, err := p.Host().Storage().Retrieve(ctx, file.Resource)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(p.tempDir, "filelib-original-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("spool original: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return tmp.Name(), nil
}

func (p *Provider) persist(ctx context.Context, versionable filelib.Versionable) error {
	repo := p.Host().Repository()
	switch v := versionable.(type) {
	case *filelib.Resource:
		return repo.UpdateResource(ctx, v)
	case *filelib.File:
		return repo.UpdateFile(ctx, v)
	}
	return fmt.Errorf("%w: unknown versionable %T", filelib.ErrInvalidArgument, versionable)
}

func (p *Provider) fail(op string, v filelib.Version, err error) error {
	return &filelib.ProviderError{Provider: p.Name(), Version: v.String(), Op: op, Err: err}
}

func (p *Provider) log() *slog.Logger {
	if p.logger != nil {
		return p.logger
	}
	return p.Logger()
}

var _ filelib.VersionProvider = (*Provider)(nil)
