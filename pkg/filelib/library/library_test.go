package library_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-filelib/pkg/filelib"
	"github.com/tendant/simple-filelib/pkg/filelib/cache"
	cachememory "github.com/tendant/simple-filelib/pkg/filelib/cache/memory"
	"github.com/tendant/simple-filelib/pkg/filelib/filelibtest"
	"github.com/tendant/simple-filelib/pkg/filelib/library"
	"github.com/tendant/simple-filelib/pkg/filelib/plugin"
	repomemory "github.com/tendant/simple-filelib/pkg/filelib/repo/memory"
	"github.com/tendant/simple-filelib/pkg/filelib/renderer"
	"github.com/tendant/simple-filelib/pkg/filelib/storage"
	storagememory "github.com/tendant/simple-filelib/pkg/filelib/storage/memory"
	"github.com/tendant/simple-filelib/pkg/filelib/versionprovider"
	"github.com/tendant/simple-filelib/pkg/filelib/versionprovider/imagethumb"
)

type failingStore struct {
	filelib.StorageAdapter
}

func (s failingStore) Store(ctx context.Context, resource *filelib.Resource, path string) error {
	return &filelib.StorageError{Backend: "broken", Op: "store", Err: errors.New("disk on fire")}
}

func newLibrary(t *testing.T, opts ...library.Option) *library.Library {
	t.Helper()
	multi, err := storage.NewMulti(
		storage.NewAdapter("a", storagememory.New()),
		storage.NewAdapter("b", storagememory.New()),
	)
	require.NoError(t, err)

	host := filelibtest.NewHost()
	base := []library.Option{
		library.WithStorage(multi),
		library.WithRepository(repomemory.New()),
		library.WithLogger(host.Logger()),
	}
	lib, err := library.New(context.Background(), append(base, opts...)...)
	require.NoError(t, err)
	return lib
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func writePNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{R: 255, A: 255})
	}
	path := filepath.Join(t.TempDir(), "picture.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	_, err := library.New(ctx, library.WithRepository(repomemory.New()))
	assert.ErrorIs(t, err, filelib.ErrInvalidArgument)

	_, err = library.New(ctx, library.WithStorage(filelibtest.NewHost().Storage()))
	assert.ErrorIs(t, err, filelib.ErrInvalidArgument)

	lib := newLibrary(t)
	p, err := lib.Profiles().Profile(library.DefaultProfile)
	require.NoError(t, err)
	assert.Equal(t, "Default profile", p.Description())

	bare := newLibrary(t, library.WithoutDefaultProfile())
	_, err = bare.Profiles().Profile(library.DefaultProfile)
	assert.ErrorIs(t, err, filelib.ErrNotFound)
}

func TestLibrary_Upload(t *testing.T) {
	ctx := context.Background()
	lib := newLibrary(t)
	rec := filelibtest.Record(lib.Dispatcher(),
		filelib.TopicFileBeforeCreate, filelib.TopicFileAfterUpload, filelib.TopicFileAfterMaterialize)

	file, err := lib.Upload(ctx, writeFile(t, "notes.txt", "hello world"), "")
	require.NoError(t, err)

	assert.Equal(t, "notes.txt", file.Name)
	assert.Equal(t, library.DefaultProfile, file.Profile)
	assert.Equal(t, filelib.FileStatusCompleted, file.Status)
	require.NotNil(t, file.Resource)
	assert.Equal(t, "sha256:b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", file.Resource.Hash)
	assert.Equal(t, int64(11), file.Resource.Size)
	assert.Equal(t, "text/plain; charset=utf-8", file.Resource.MimeType)

	for _, topic := range []filelib.Topic{filelib.TopicFileBeforeCreate, filelib.TopicFileAfterUpload, filelib.TopicFileAfterMaterialize} {
		assert.Equal(t, 1, rec.Count(topic), topic)
	}

	found, err := lib.FindFile(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, filelib.FileStatusCompleted, found.Status)
	assert.Equal(t, file.Resource.ID, found.Resource.ID)

	multi := lib.Storage().(*storage.Multi)
	for _, s := range multi.Storages() {
		exists, err := s.Exists(ctx, file.Resource)
		require.NoError(t, err)
		assert.True(t, exists)
	}
}

func TestLibrary_UploadErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown profile", func(t *testing.T) {
		lib := newLibrary(t)
		_, err := lib.Upload(ctx, writeFile(t, "a.txt", "a"), "nonexistent")
		assert.ErrorIs(t, err, filelib.ErrNotFound)
	})

	t.Run("missing path", func(t *testing.T) {
		lib := newLibrary(t)
		_, err := lib.Upload(ctx, filepath.Join(t.TempDir(), "nope"), "")
		assert.ErrorIs(t, err, filelib.ErrInvalidArgument)
	})

	t.Run("store failure removes the resource", func(t *testing.T) {
		repo := repomemory.New()
		first := storagememory.New()
		multi, err := storage.NewMulti(
			storage.NewAdapter("a", first),
			failingStore{storage.NewAdapter("b", storagememory.New())},
		)
		require.NoError(t, err)
		lib, err := library.New(ctx,
			library.WithStorage(multi),
			library.WithRepository(repo),
		)
		require.NoError(t, err)

		_, err = lib.Upload(ctx, writeFile(t, "a.txt", "content"), "")
		assert.ErrorIs(t, err, filelib.ErrStorageIO)
		assert.Empty(t, first.Keys())

		resources, err := repo.GetResourcesByHash(ctx, "sha256:ed7002b439e9ac845f22357d822bac1444730fbdb6016d3ec9432297b9ec9f73")
		require.NoError(t, err)
		assert.Empty(t, resources)
	})

	t.Run("before create veto", func(t *testing.T) {
		lib := newLibrary(t)
		lib.Dispatcher().Subscribe(filelib.TopicFileBeforeCreate, func(ctx context.Context, event filelib.Event) error {
			return filelib.ErrAccessDenied
		})
		_, err := lib.Upload(ctx, writeFile(t, "a.txt", "a"), "")
		assert.ErrorIs(t, err, filelib.ErrAccessDenied)
	})
}

func TestLibrary_SharedResources(t *testing.T) {
	ctx := context.Background()

	t.Run("identical uploads share", func(t *testing.T) {
		lib := newLibrary(t)
		a, err := lib.Upload(ctx, writeFile(t, "a.txt", "same"), "")
		require.NoError(t, err)
		b, err := lib.Upload(ctx, writeFile(t, "b.txt", "same"), "")
		require.NoError(t, err)
		assert.Equal(t, a.Resource.ID, b.Resource.ID)
		assert.NotEqual(t, a.ID, b.ID)
	})

	t.Run("exclusive upload", func(t *testing.T) {
		lib := newLibrary(t)
		a, err := lib.Upload(ctx, writeFile(t, "a.txt", "same"), "")
		require.NoError(t, err)

		upload := filelib.NewFileUpload(writeFile(t, "b.txt", "same"), "")
		upload.Exclusive = true
		b, err := lib.UploadFile(ctx, upload)
		require.NoError(t, err)
		assert.NotEqual(t, a.Resource.ID, b.Resource.ID)
		assert.True(t, b.Resource.Exclusive)
	})

	t.Run("provider forbids sharing", func(t *testing.T) {
		lib := newLibrary(t)
		provider := versionprovider.New(
			imagethumb.MustNew(map[string]imagethumb.Box{"thumb": {Width: 4, Height: 4}}),
			versionprovider.WithSharedResource(false),
			versionprovider.WithMode(versionprovider.Lazy),
		)
		require.NoError(t, lib.AddPlugin(ctx, provider))

		source := writePNG(t, 16, 16)
		a, err := lib.Upload(ctx, source, "")
		require.NoError(t, err)
		b, err := lib.Upload(ctx, source, "")
		require.NoError(t, err)
		assert.NotEqual(t, a.Resource.ID, b.Resource.ID)

		// Not applicable to text, so text still shares.
		c, err := lib.Upload(ctx, writeFile(t, "c.txt", "same"), "")
		require.NoError(t, err)
		d, err := lib.Upload(ctx, writeFile(t, "d.txt", "same"), "")
		require.NoError(t, err)
		assert.Equal(t, c.Resource.ID, d.Resource.ID)
	})
}

func TestLibrary_EagerVersions(t *testing.T) {
	ctx := context.Background()
	lib := newLibrary(t)
	require.NoError(t, lib.AddProfile(ctx, filelib.NewProfile("images")))

	provider := versionprovider.New(imagethumb.MustNew(map[string]imagethumb.Box{
		"small":  {Width: 8, Height: 8},
		"medium": {Width: 16, Height: 16},
	}))
	require.NoError(t, lib.AddNamedPlugin(ctx, "thumbs", provider, "images"))

	file, err := lib.Upload(ctx, writePNG(t, 64, 32), "images")
	require.NoError(t, err)
	assert.True(t, lib.HasVersion(file, "small"))
	assert.True(t, lib.HasVersion(file, "medium"))
	assert.False(t, lib.HasVersion(file, "large"))
	assert.False(t, lib.HasVersion(file, "bad@token"))

	plain, err := lib.Upload(ctx, writePNG(t, 64, 32), library.DefaultProfile)
	require.NoError(t, err)
	assert.False(t, lib.HasVersion(plain, "small"))

	resp := lib.Render(ctx, file.ID, "small", renderer.Options{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Headers.Get("Content-Type"))
	img, err := png.Decode(bytes.NewReader(resp.Body))
	require.NoError(t, err)
	assert.Equal(t, image.Point{X: 8, Y: 4}, img.Bounds().Size())

	got, err := lib.VersionProvider(file, "small_thumbnail")
	require.NoError(t, err)
	assert.Same(t, provider, got)
}

func TestLibrary_LazyRender(t *testing.T) {
	ctx := context.Background()
	lib := newLibrary(t)
	provider := versionprovider.New(
		imagethumb.MustNew(map[string]imagethumb.Box{"thumb": {Width: 10, Height: 10}}, imagethumb.WithFormat(imagethumb.FormatJPEG)),
		versionprovider.WithMode(versionprovider.Lazy),
	)
	require.NoError(t, lib.AddPlugin(ctx, provider))

	file, err := lib.Upload(ctx, writePNG(t, 20, 20), "")
	require.NoError(t, err)
	assert.False(t, lib.HasVersion(file, "thumb"))

	resp := lib.Render(ctx, file.ID, "thumb", renderer.Options{Download: true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Headers.Get("Content-Type"))
	assert.Equal(t, "attachment; filename=picture.png", resp.Headers.Get("Content-disposition"))

	reloaded, err := lib.FindFile(ctx, file.ID)
	require.NoError(t, err)
	assert.True(t, lib.HasVersion(reloaded, "thumb"))
}

func TestLibrary_Delete(t *testing.T) {
	ctx := context.Background()
	lib := newLibrary(t)
	rec := filelibtest.Record(lib.Dispatcher(),
		filelib.TopicFileAfterDelete, filelib.TopicResourceAfterDelete, filelib.TopicVersionsUnprovided)

	provider := versionprovider.New(imagethumb.MustNew(map[string]imagethumb.Box{"thumb": {Width: 4, Height: 4}}))
	require.NoError(t, lib.AddPlugin(ctx, provider))

	t.Run("shared resource survives", func(t *testing.T) {
		file, err := lib.Upload(ctx, writeFile(t, "a.txt", "shared"), "")
		require.NoError(t, err)
		require.NoError(t, lib.DeleteFile(ctx, file))

		_, err = lib.FindFile(ctx, file.ID)
		assert.ErrorIs(t, err, filelib.ErrNotFound)
		_, err = lib.FindResource(ctx, file.Resource.ID)
		assert.NoError(t, err)
		assert.Equal(t, 0, rec.Count(filelib.TopicResourceAfterDelete))
	})

	t.Run("exclusive resource is deleted", func(t *testing.T) {
		upload := filelib.NewFileUpload(writePNG(t, 8, 8), "")
		upload.Exclusive = true
		file, err := lib.UploadFile(ctx, upload)
		require.NoError(t, err)
		require.True(t, lib.HasVersion(file, "thumb"))

		require.NoError(t, lib.DeleteFile(ctx, file))
		_, err = lib.FindResource(ctx, file.Resource.ID)
		assert.ErrorIs(t, err, filelib.ErrNotFound)

		exists, err := lib.Storage().Exists(ctx, file.Resource)
		require.NoError(t, err)
		assert.False(t, exists)
		exists, err = lib.Storage().VersionExists(ctx, file.Resource, filelib.MustParseVersion("thumb"))
		require.NoError(t, err)
		assert.False(t, exists)

		assert.Equal(t, 1, rec.Count(filelib.TopicResourceAfterDelete))
	})

	assert.Equal(t, 2, rec.Count(filelib.TopicFileAfterDelete))
}

func TestLibrary_WithCache(t *testing.T) {
	ctx := context.Background()
	c := cache.New(cachememory.New(), cache.WithPrefix("filelib."))
	lib := newLibrary(t, library.WithCache(c))
	assert.Same(t, c, lib.Cache())

	file, err := lib.Upload(ctx, writeFile(t, "a.txt", "cached"), "")
	require.NoError(t, err)

	cached, ok, err := c.FindFile(ctx, file.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, filelib.FileStatusCompleted, cached.Status)

	_, ok, err = c.FindResource(ctx, file.Resource.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLibrary_RandomizeName(t *testing.T) {
	ctx := context.Background()
	lib := newLibrary(t)
	require.NoError(t, lib.AddPlugin(ctx, plugin.NewRandomizeName("up-")))

	file, err := lib.Upload(ctx, writeFile(t, "Report.PDF", "%PDF-1.4\n"), "")
	require.NoError(t, err)
	assert.Regexp(t, `^up-[0-9a-f]{32}\.PDF$`, file.Name)
	assert.Equal(t, "pdf", file.Extension())
}
