package natsbridge_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-filelib/pkg/filelib"
	"github.com/tendant/simple-filelib/pkg/filelib/events/natsbridge"
	"github.com/tendant/simple-filelib/pkg/filelib/filelibtest"
	"github.com/tendant/simple-filelib/pkg/filelib/plugin"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{subject: subject, data: data})
	return nil
}

func (f *fakePublisher) decode(t *testing.T, i int) natsbridge.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Greater(t, len(f.msgs), i)
	var msg natsbridge.Message
	require.NoError(t, json.Unmarshal(f.msgs[i].data, &msg))
	return msg
}

var fixedTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T, pub *fakePublisher, profiles []string, opts ...natsbridge.Option) *filelib.Dispatcher {
	t.Helper()
	host := filelibtest.NewHost()
	opts = append(opts, natsbridge.WithClock(func() time.Time { return fixedTime }))
	b := natsbridge.New(pub, opts...)
	require.NoError(t, plugin.NewRegistry(host).AddPlugin(context.Background(), b, profiles, ""))
	return host.Dispatcher()
}

func TestBridge_Subject(t *testing.T) {
	b := natsbridge.New(&fakePublisher{})
	assert.Equal(t, "filelib.file.after_upload", b.Subject(filelib.TopicFileAfterUpload))

	b = natsbridge.New(&fakePublisher{}, natsbridge.WithSubjectPrefix("media.events."))
	assert.Equal(t, "media.events.versions.provided", b.Subject(filelib.TopicVersionsProvided))
}

func TestBridge_Forward(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	d := setup(t, pub, nil)

	file := &filelib.File{ID: uuid.New(), Profile: "default", ResourceID: uuid.New()}

	t.Run("file event", func(t *testing.T) {
		require.NoError(t, d.Dispatch(ctx, filelib.TopicFileAfterUpload, &filelib.FileEvent{File: file}))

		assert.Equal(t, "filelib.file.after_upload", pub.msgs[0].subject)
		msg := pub.decode(t, 0)
		assert.Equal(t, string(filelib.TopicFileAfterUpload), msg.Topic)
		assert.True(t, fixedTime.Equal(msg.Time))
		require.NotNil(t, msg.FileID)
		assert.Equal(t, file.ID, *msg.FileID)
		require.NotNil(t, msg.ResourceID)
		assert.Equal(t, file.ResourceID, *msg.ResourceID)
		assert.Equal(t, "default", msg.Profile)
	})

	t.Run("versions on a resource", func(t *testing.T) {
		resource := &filelib.Resource{ID: uuid.New()}
		require.NoError(t, d.Dispatch(ctx, filelib.TopicVersionsProvided, &filelib.VersionProviderEvent{
			Versionable: resource,
			Versions:    []filelib.Version{filelib.MustParseVersion("thumb"), filelib.MustParseVersion("thumb_thumbnail")},
		}))

		msg := pub.decode(t, 1)
		assert.Nil(t, msg.FileID)
		require.NotNil(t, msg.ResourceID)
		assert.Equal(t, resource.ID, *msg.ResourceID)
		assert.Equal(t, []string{"thumb", "thumb_thumbnail"}, msg.Versions)
	})

	t.Run("render", func(t *testing.T) {
		require.NoError(t, d.Dispatch(ctx, filelib.TopicRendererRender, &filelib.RenderEvent{
			File: file, Version: "thumb", StatusCode: http.StatusOK,
		}))

		msg := pub.decode(t, 2)
		assert.Equal(t, "thumb", msg.Version)
		assert.Equal(t, http.StatusOK, msg.StatusCode)
	})

	t.Run("resource delete", func(t *testing.T) {
		resource := &filelib.Resource{ID: uuid.New()}
		require.NoError(t, d.Dispatch(ctx, filelib.TopicResourceAfterDelete, &filelib.ResourceEvent{Resource: resource}))

		assert.Equal(t, "filelib.resource.after_delete", pub.msgs[3].subject)
		msg := pub.decode(t, 3)
		require.NotNil(t, msg.ResourceID)
		assert.Equal(t, resource.ID, *msg.ResourceID)
	})
}

func TestBridge_ProfileFilter(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	d := setup(t, pub, []string{"images"})

	require.NoError(t, d.Dispatch(ctx, filelib.TopicFileAfterDelete, &filelib.FileEvent{
		File: &filelib.File{ID: uuid.New(), Profile: "default"},
	}))
	assert.Empty(t, pub.msgs)

	require.NoError(t, d.Dispatch(ctx, filelib.TopicFileAfterDelete, &filelib.FileEvent{
		File: &filelib.File{ID: uuid.New(), Profile: "images"},
	}))
	assert.Len(t, pub.msgs, 1)
}

func TestBridge_PublishFailureDoesNotAbort(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{err: errors.New("nats: connection closed")}
	d := setup(t, pub, nil)

	err := d.Dispatch(ctx, filelib.TopicFileAfterUpload, &filelib.FileEvent{
		File: &filelib.File{ID: uuid.New(), Profile: "default"},
	})
	assert.NoError(t, err)
}
