package filelib_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-filelib/pkg/filelib"
)

type recordingSubscriber struct {
	calls []filelib.Topic
}

func (r *recordingSubscriber) Subscriptions() []filelib.Subscription {
	return []filelib.Subscription{
		{Topic: filelib.TopicFileAfterUpload, Handler: r.record(filelib.TopicFileAfterUpload)},
		{Topic: filelib.TopicFileAfterDelete, Handler: r.record(filelib.TopicFileAfterDelete)},
	}
}

func (r *recordingSubscriber) record(topic filelib.Topic) filelib.Handler {
	return func(ctx context.Context, event filelib.Event) error {
		r.calls = append(r.calls, topic)
		return nil
	}
}

func TestDispatcher_Order(t *testing.T) {
	ctx := context.Background()
	d := filelib.NewDispatcher(nil)

	var order []string
	d.Subscribe(filelib.TopicFileAfterUpload, func(ctx context.Context, e filelib.Event) error {
		order = append(order, "first")
		return nil
	})
	d.Subscribe(filelib.TopicFileAfterUpload, func(ctx context.Context, e filelib.Event) error {
		order = append(order, "second")
		return nil
	})

	err := d.Dispatch(ctx, filelib.TopicFileAfterUpload, &filelib.FileEvent{File: &filelib.File{}})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestDispatcher_StopsOnError(t *testing.T) {
	ctx := context.Background()
	d := filelib.NewDispatcher(nil)

	called := false
	d.Subscribe(filelib.TopicRendererBeforeRender, func(ctx context.Context, e filelib.Event) error {
		return filelib.ErrAccessDenied
	})
	d.Subscribe(filelib.TopicRendererBeforeRender, func(ctx context.Context, e filelib.Event) error {
		called = true
		return nil
	})

	err := d.Dispatch(ctx, filelib.TopicRendererBeforeRender, &filelib.RenderEvent{})
	assert.True(t, errors.Is(err, filelib.ErrAccessDenied))
	assert.False(t, called)
}

func TestDispatcher_StopPropagation(t *testing.T) {
	ctx := context.Background()
	d := filelib.NewDispatcher(nil)

	called := false
	d.Subscribe(filelib.TopicFileAfterDelete, func(ctx context.Context, e filelib.Event) error {
		e.StopPropagation()
		return nil
	})
	d.Subscribe(filelib.TopicFileAfterDelete, func(ctx context.Context, e filelib.Event) error {
		called = true
		return nil
	})

	event := &filelib.FileEvent{File: &filelib.File{}}
	require.NoError(t, d.Dispatch(ctx, filelib.TopicFileAfterDelete, event))
	assert.False(t, called)
	assert.True(t, event.IsPropagationStopped())
}

func TestDispatcher_AddSubscriber(t *testing.T) {
	ctx := context.Background()
	d := filelib.NewDispatcher(nil)
	sub := &recordingSubscriber{}
	d.AddSubscriber(sub)

	assert.True(t, d.HasSubscribers(filelib.TopicFileAfterUpload))
	assert.False(t, d.HasSubscribers(filelib.TopicProfileAdded))

	require.NoError(t, d.Dispatch(ctx, filelib.TopicFileAfterDelete, &filelib.FileEvent{File: &filelib.File{}}))
	require.NoError(t, d.Dispatch(ctx, filelib.TopicProfileAdded, &filelib.ProfileEvent{}))
	assert.Equal(t, []filelib.Topic{filelib.TopicFileAfterDelete}, sub.calls)
}

func TestLoggingSubscriber(t *testing.T) {
	ctx := context.Background()
	d := filelib.NewDispatcher(nil)
	d.AddSubscriber(filelib.NewLoggingSubscriber(nil))

	file := &filelib.File{Name: "cat.jpg"}
	err := d.Dispatch(ctx, filelib.TopicVersionsProvided, &filelib.VersionProviderEvent{
		File:        file,
		Versionable: file,
		Versions:    []filelib.Version{filelib.MustParseVersion("thumb")},
	})
	assert.NoError(t, err)
	assert.NoError(t, d.Dispatch(ctx, filelib.TopicRendererRender, &filelib.RenderEvent{StatusCode: 404, Err: filelib.ErrNotFound}))
}
