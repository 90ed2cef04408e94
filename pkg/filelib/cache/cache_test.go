package cache_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-filelib/pkg/filelib"
	"github.com/tendant/simple-filelib/pkg/filelib/cache"
	"github.com/tendant/simple-filelib/pkg/filelib/cache/memory"
)

func TestCache_Key(t *testing.T) {
	id := uuid.MustParse("12345678-1234-1234-1234-123456789abc")

	c := cache.New(memory.New(), cache.WithPrefix("filelib."))
	assert.Equal(t, "filelib.file___12345678-1234-1234-1234-123456789abc", c.Key(filelib.KindFile, id))
	assert.Equal(t, "filelib.resource___12345678-1234-1234-1234-123456789abc", c.Key(filelib.KindResource, id))

	bare := cache.New(memory.New())
	assert.Equal(t, "file___12345678-1234-1234-1234-123456789abc", bare.Key(filelib.KindFile, id))
}

func TestCache_SaveFindDelete(t *testing.T) {
	ctx := context.Background()
	c := cache.New(memory.New(), cache.WithPrefix("t."))

	file := &filelib.File{ID: uuid.New(), Name: "cat.jpg", Profile: "default"}
	file.AddVersion(filelib.MustParseVersion("thumb"))
	resource := &filelib.Resource{ID: uuid.New(), Hash: "sha256:x"}

	t.Run("miss", func(t *testing.T) {
		got, ok, err := c.FindFile(ctx, file.ID)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, got)
	})

	t.Run("hit", func(t *testing.T) {
		require.NoError(t, c.Save(ctx, file))
		require.NoError(t, c.Save(ctx, resource))

		got, ok, err := c.FindFile(ctx, file.ID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "cat.jpg", got.Name)
		assert.True(t, got.HasVersion(filelib.MustParseVersion("thumb")))

		res, ok, err := c.FindResource(ctx, resource.ID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "sha256:x", res.Hash)
	})

	t.Run("kinds do not collide", func(t *testing.T) {
		_, ok, err := c.FindResource(ctx, file.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("find many", func(t *testing.T) {
		files, err := c.FindFiles(ctx, []uuid.UUID{file.ID, uuid.New()})
		require.NoError(t, err)
		assert.Len(t, files, 1)

		resources, err := c.FindResources(ctx, []uuid.UUID{resource.ID})
		require.NoError(t, err)
		assert.Len(t, resources, 1)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, c.Delete(ctx, file))
		_, ok, err := c.FindFile(ctx, file.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestCache_RequiresIdentity(t *testing.T) {
	ctx := context.Background()
	c := cache.New(memory.New())

	assert.ErrorIs(t, c.Save(ctx, &filelib.File{}), filelib.ErrInvalidArgument)
	assert.ErrorIs(t, c.Delete(ctx, &filelib.Resource{}), filelib.ErrInvalidArgument)
	assert.ErrorIs(t, c.Save(ctx, (*filelib.File)(nil)), filelib.ErrInvalidArgument)
	assert.ErrorIs(t, c.Save(ctx, nil), filelib.ErrInvalidArgument)
}

func TestCache_ClearIsScopedToPrefix(t *testing.T) {
	ctx := context.Background()
	adapter := memory.New()
	require.NoError(t, adapter.Set(ctx, "other.key", []byte("keep")))

	c := cache.New(adapter, cache.WithPrefix("filelib."))
	require.NoError(t, c.Save(ctx, &filelib.File{ID: uuid.New()}))
	require.NoError(t, c.Save(ctx, &filelib.Resource{ID: uuid.New()}))
	assert.Equal(t, 3, adapter.Len())

	require.NoError(t, c.Clear(ctx))
	assert.Equal(t, 1, adapter.Len())

	_, ok, err := adapter.Get(ctx, "other.key")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCache_CorruptEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	adapter := memory.New()
	c := cache.New(adapter)

	id := uuid.New()
	require.NoError(t, adapter.Set(ctx, c.Key(filelib.KindFile, id), []byte("{not json")))

	_, ok, err := c.FindFile(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}
