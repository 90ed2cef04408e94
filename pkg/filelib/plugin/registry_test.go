package plugin_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-filelib/pkg/filelib"
	"github.com/tendant/simple-filelib/pkg/filelib/filelibtest"
	"github.com/tendant/simple-filelib/pkg/filelib/plugin"
)

type testPlugin struct {
	plugin.Base
	attachErr error
	attached  int
}

func (p *testPlugin) Attach(host filelib.Host) error {
	if p.attachErr != nil {
		return p.attachErr
	}
	p.attached++
	return p.Base.Attach(host)
}

func (p *testPlugin) Subscriptions() []filelib.Subscription { return nil }

func TestRegistry_AddPlugin(t *testing.T) {
	ctx := context.Background()

	t.Run("generated names are unique", func(t *testing.T) {
		host := filelibtest.NewHost()
		r := plugin.NewRegistry(host)

		for i := 0; i < 3; i++ {
			require.NoError(t, r.AddPlugin(ctx, &testPlugin{}, nil, ""))
		}

		names := r.Names()
		require.Len(t, names, 3)
		assert.Len(t, r.Plugins(), 3)
		for i, name := range names {
			assert.True(t, strings.HasSuffix(name, "___testPlugin___"+string(rune('1'+i))), name)
			assert.NotContains(t, name, "/")
		}
	})

	t.Run("name is set on the plugin", func(t *testing.T) {
		r := plugin.NewRegistry(filelibtest.NewHost())
		p := &testPlugin{}
		require.NoError(t, r.AddPlugin(ctx, p, nil, "lussutin"))
		assert.Equal(t, "lussutin", p.Name())
		assert.Equal(t, "lussutin", filelib.PluginName(p))
		assert.Equal(t, 1, p.attached)
		assert.NotNil(t, p.Host())
	})

	t.Run("duplicate name", func(t *testing.T) {
		r := plugin.NewRegistry(filelibtest.NewHost())
		require.NoError(t, r.AddPlugin(ctx, &testPlugin{}, nil, "lussutin"))
		err := r.AddPlugin(ctx, &testPlugin{}, nil, "lussutin")
		assert.ErrorIs(t, err, filelib.ErrInvalidArgument)
		assert.Len(t, r.Plugins(), 1)
	})

	t.Run("same instance twice", func(t *testing.T) {
		r := plugin.NewRegistry(filelibtest.NewHost())
		p := &testPlugin{}
		require.NoError(t, r.AddPlugin(ctx, p, []string{"a"}, "first"))

		err := r.AddPlugin(ctx, p, nil, "second")
		assert.ErrorIs(t, err, filelib.ErrInvalidArgument)
		assert.Equal(t, []string{"first"}, r.Names())
		assert.Equal(t, "first", p.Name())
		assert.Equal(t, 1, p.attached)
		assert.True(t, p.BelongsToProfile("a"))
		assert.False(t, p.BelongsToProfile("b"))
	})

	t.Run("failed attach is not registered", func(t *testing.T) {
		r := plugin.NewRegistry(filelibtest.NewHost())
		boom := errors.New("boom")
		err := r.AddPlugin(ctx, &testPlugin{attachErr: boom}, nil, "broken")
		assert.ErrorIs(t, err, boom)
		_, err = r.Plugin("broken")
		assert.ErrorIs(t, err, filelib.ErrNotFound)
	})

	t.Run("publishes plugin added", func(t *testing.T) {
		host := filelibtest.NewHost()
		rec := filelibtest.Record(host.Dispatcher(), filelib.TopicPluginAdded)
		r := plugin.NewRegistry(host)

		p := &testPlugin{}
		require.NoError(t, r.AddPlugin(ctx, p, nil, "p"))

		events := rec.Events(filelib.TopicPluginAdded)
		require.Len(t, events, 1)
		e := events[0].(*filelib.PluginEvent)
		assert.Same(t, p, e.Plugin)
		assert.Same(t, r, e.Registry)
	})
}

func TestRegistry_Plugin(t *testing.T) {
	r := plugin.NewRegistry(filelibtest.NewHost())
	p := &testPlugin{}
	require.NoError(t, r.AddPlugin(context.Background(), p, nil, "found"))

	got, err := r.Plugin("found")
	require.NoError(t, err)
	assert.Same(t, p, got)

	_, err = r.Plugin("missing")
	assert.ErrorIs(t, err, filelib.ErrNotFound)
}

func TestRegistry_ProfilePredicate(t *testing.T) {
	ctx := context.Background()
	r := plugin.NewRegistry(filelibtest.NewHost())

	all := &testPlugin{}
	some := &testPlugin{}
	require.NoError(t, r.AddPlugin(ctx, all, nil, "all"))
	require.NoError(t, r.AddPlugin(ctx, some, []string{"lussen", "hofer"}, "some"))

	for _, profile := range []string{"lussen", "hofer", "tussi", ""} {
		assert.True(t, all.BelongsToProfile(profile), profile)
	}
	assert.True(t, some.BelongsToProfile("lussen"))
	assert.True(t, some.BelongsToProfile("hofer"))
	assert.False(t, some.BelongsToProfile("tussi"))
}

func TestBase_ProfilesAreInstalledOnce(t *testing.T) {
	p := &testPlugin{}
	require.NoError(t, p.SetProfiles([]string{"a"}))
	assert.ErrorIs(t, p.SetProfiles(nil), filelib.ErrInvalidArgument)
	assert.True(t, p.BelongsToProfile("a"))
	assert.False(t, p.BelongsToProfile("b"))
}

func TestRegistry_AttachesToAddedProfiles(t *testing.T) {
	ctx := context.Background()
	host := filelibtest.NewHost()
	r := plugin.NewRegistry(host)

	all := &testPlugin{}
	some := &testPlugin{}
	require.NoError(t, r.AddPlugin(ctx, all, nil, "all"))
	require.NoError(t, r.AddPlugin(ctx, some, []string{"versioned"}, "some"))

	plain := filelib.NewProfile("plain")
	require.NoError(t, host.Dispatcher().Dispatch(ctx, filelib.TopicProfileAdded, &filelib.ProfileEvent{Profile: plain}))
	assert.Len(t, plain.Plugins(), 1)

	versioned := filelib.NewProfile("versioned")
	require.NoError(t, host.Dispatcher().Dispatch(ctx, filelib.TopicProfileAdded, &filelib.ProfileEvent{Profile: versioned}))
	assert.Len(t, versioned.Plugins(), 2)
}
