// Package renderer serves versions of files as HTTP shaped responses.
//
// Every failure is reported as 403 or 404 with an empty body. The cause is
// published on TopicRendererRender for logging and metrics.
package renderer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/tendant/simple-filelib/pkg/filelib"
	"golang.org/x/sync/singleflight"
)

// FileFinder loads files by id.
type FileFinder interface {
	GetFile(ctx context.Context, id uuid.UUID) (*filelib.File, error)
}

// ProviderResolver finds the version provider serving a version of a file.
type ProviderResolver interface {
	VersionProvider(file *filelib.File, v filelib.Version) (filelib.VersionProvider, error)
}

// Options of a single render.
type Options struct {
	// Download adds a Content-disposition attachment header.
	Download bool
}

// Renderer resolves, authorizes, materializes and reads versions.
type Renderer struct {
	host      filelib.Host
	files     FileFinder
	providers ProviderResolver
	logger    *slog.Logger
	flights   singleflight.Group
}

// Option configures a Renderer
type Option func(*Renderer)

// WithFileFinder overrides the file lookup, which defaults to the host
// repository.
func WithFileFinder(files FileFinder) Option {
	return func(r *Renderer) { r.files = files }
}

// WithLogger sets the renderer logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Renderer) { r.logger = logger }
}

// New creates a renderer.
func New(host filelib.Host, providers ProviderResolver, opts ...Option) *Renderer {
	r := &Renderer{
		host:      host,
		files:     host.Repository(),
		providers: providers,
		logger:    host.Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// RenderID loads the file by id and renders it.
func (r *Renderer) RenderID(ctx context.Context, id uuid.UUID, version string, opts Options) *Response {
	file, err := r.files.GetFile(ctx, id)
	if err != nil {
		return r.finish(ctx, &filelib.RenderEvent{Version: version, Download: opts.Download}, newResponse(http.StatusNotFound), err)
	}
	return r.Render(ctx, file, version, opts)
}

// Render renders version of file.
func (r *Renderer) Render(ctx context.Context, file *filelib.File, version string, opts Options) *Response {
	event := &filelib.RenderEvent{File: file, Version: version, Download: opts.Download}
	notFound := func(err error) *Response {
		return r.finish(ctx, event, newResponse(http.StatusNotFound), err)
	}

	if file == nil {
		return notFound(fmt.Errorf("%w: nil file", filelib.ErrNotFound))
	}

	v, err := filelib.ParseVersion(version)
	if err != nil {
		return notFound(err)
	}
	provider, err := r.providers.VersionProvider(file, v)
	if err != nil {
		return notFound(err)
	}

	before := &filelib.RenderEvent{File: file, Version: version, Download: opts.Download}
	if err := r.host.Dispatcher().Dispatch(ctx, filelib.TopicRendererBeforeRender, before); err != nil {
		if errors.Is(err, filelib.ErrAccessDenied) {
			return r.finish(ctx, event, newResponse(http.StatusForbidden), err)
		}
		return notFound(err)
	}

	v, err = provider.EnsureValidVersion(v)
	if err != nil {
		return notFound(err)
	}

	versionable := provider.ApplicableVersionable(file)
	if versionable == nil {
		return notFound(&filelib.FileError{FileID: file.ID, Op: "render", Err: fmt.Errorf("%w: resource not loaded", filelib.ErrNotFound)})
	}

	if !versionable.HasVersion(v) {
		if !provider.CanProvideLazily() {
			return notFound(&filelib.ProviderError{
				Provider: filelib.PluginName(provider),
				Version:  v.String(),
				Op:       "render",
				Err:      fmt.Errorf("%w: version not created and provider is not lazy", filelib.ErrNotFound),
			})
		}
		if err := r.provide(ctx, provider, file, versionable, v); err != nil {
			return notFound(err)
		}
	}

	rc, err := r.host.Storage().RetrieveVersion(ctx, versionable, v)
	if err != nil {
		return notFound(err)
	}
	body, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return notFound(&filelib.StorageError{Op: "read_version", Err: err})
	}

	mimeType, err := provider.MimeType(ctx, file, v)
	if err != nil {
		return notFound(err)
	}

	resp := newResponse(http.StatusOK)
	resp.Headers.Set("Content-Type", mimeType)
	if opts.Download {
		resp.Headers.Set("Content-disposition", "attachment; filename="+file.Name)
	}
	resp.Body = body
	return r.finish(ctx, event, resp, nil)
}

// provide collapses concurrent materializations of the same version.
func (r *Renderer) provide(ctx context.Context, provider filelib.VersionProvider, file *filelib.File, versionable filelib.Versionable, v filelib.Version) error {
	key := string(versionable.EntityKind()) + "/" + versionable.EntityID().String() + "/" + v.String()
	_, err, shared := r.flights.Do(key, func() (interface{}, error) {
		return nil, provider.ProvideVersion(ctx, file, v)
	})
	if shared {
		r.logger.DebugContext(ctx, "joined version materialization", "key", key)
	}
	return err
}

func (r *Renderer) finish(ctx context.Context, event *filelib.RenderEvent, resp *Response, err error) *Response {
	event.StatusCode = resp.StatusCode
	event.Err = err
	if err != nil {
		r.logger.DebugContext(ctx, "render failed", "version", event.Version, "status", resp.StatusCode, "err", err)
	}
	if dispatchErr := r.host.Dispatcher().Dispatch(ctx, filelib.TopicRendererRender, event); dispatchErr != nil {
		r.logger.WarnContext(ctx, "render event handler failed", "err", dispatchErr)
	}
	return resp
}
