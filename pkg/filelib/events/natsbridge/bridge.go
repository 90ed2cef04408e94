// Package natsbridge forwards file lifecycle events to NATS subjects as
// JSON messages.
//
// Subjects are the subject prefix followed by the topic without its
// "filelib." namespace, e.g. "files.file.after_upload". Publishing is
// best effort: failures are logged and never abort the lifecycle operation
// that raised the event.
package natsbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/tendant/simple-filelib/pkg/filelib"
	"github.com/tendant/simple-filelib/pkg/filelib/plugin"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "filelib"

// Publisher sends a message on a subject. *nats.Conn implements it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Message is the JSON body published for every event.
type Message struct {
	Topic      string     `json:"topic"`
	Time       time.Time  `json:"time"`
	FileID     *uuid.UUID `json:"file_id,omitempty"`
	ResourceID *uuid.UUID `json:"resource_id,omitempty"`
	Profile    string     `json:"profile,omitempty"`
	Versions   []string   `json:"versions,omitempty"`
	Version    string     `json:"version,omitempty"`
	StatusCode int        `json:"status_code,omitempty"`
}

// Bridge is a plugin publishing lifecycle events.
type Bridge struct {
	plugin.Base

	publisher Publisher
	prefix    string
	now       func() time.Time
}

// Option configures a Bridge
type Option func(*Bridge)

// WithSubjectPrefix sets the subject prefix.
func WithSubjectPrefix(prefix string) Option {
	return func(b *Bridge) {
		b.prefix = strings.TrimSuffix(prefix, ".")
	}
}

// WithClock sets the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) {
		b.now = now
	}
}

func New(publisher Publisher, opts ...Option) *Bridge {
	b := &Bridge{
		publisher: publisher,
		prefix:    DefaultSubjectPrefix,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Connect dials a NATS server with reconnect settings suitable for a long
// running publisher.
func Connect(url, clientName string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(clientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return conn, nil
}

// Topics lists the forwarded topics.
var Topics = []filelib.Topic{
	filelib.TopicFileAfterUpload,
	filelib.TopicFileAfterMaterialize,
	filelib.TopicFileAfterDelete,
	filelib.TopicResourceAfterDelete,
	filelib.TopicVersionsProvided,
	filelib.TopicVersionsUnprovided,
	filelib.TopicRendererRender,
}

func (b *Bridge) Subscriptions() []filelib.Subscription {
	subs := make([]filelib.Subscription, 0, len(Topics))
	for _, topic := range Topics {
		subs = append(subs, filelib.Subscription{Topic: topic, Handler: b.forward(topic)})
	}
	return subs
}

// Subject returns the subject events of topic are published on.
func (b *Bridge) Subject(topic filelib.Topic) string {
	return b.prefix + "." + strings.TrimPrefix(string(topic), "filelib.")
}

func (b *Bridge) forward(topic filelib.Topic) filelib.Handler {
	return func(ctx context.Context, event filelib.Event) error {
		msg, ok := b.message(topic, event)
		if !ok {
			return nil
		}
		data, err := json.Marshal(msg)
		if err != nil {
			b.Logger().ErrorContext(ctx, "marshal event", "topic", topic, "err", err)
			return nil
		}
		subject := b.Subject(topic)
		if err := b.publisher.Publish(subject, data); err != nil {
			b.Logger().WarnContext(ctx, "publish event", "subject", subject, "err", err)
		}
		return nil
	}
}

// message builds the payload. Events for files outside the plugin's
// profiles are skipped.
func (b *Bridge) message(topic filelib.Topic, event filelib.Event) (Message, bool) {
	msg := Message{Topic: string(topic), Time: b.now().UTC()}

	var file *filelib.File
	switch e := event.(type) {
	case *filelib.FileEvent:
		file = e.File
	case *filelib.ResourceEvent:
		if e.Resource == nil {
			return msg, false
		}
		msg.ResourceID = &e.Resource.ID
	case *filelib.VersionProviderEvent:
		file = e.File
		msg.Versions = filelib.VersionStrings(e.Versions)
		if file == nil && e.Versionable != nil && e.Versionable.EntityKind() == filelib.KindResource {
			id := e.Versionable.EntityID()
			msg.ResourceID = &id
		}
	case *filelib.RenderEvent:
		file = e.File
		msg.Version = e.Version
		msg.StatusCode = e.StatusCode
	default:
		return msg, false
	}

	if file != nil {
		if !b.BelongsToProfile(file.Profile) {
			return msg, false
		}
		id := file.ID
		msg.FileID = &id
		msg.Profile = file.Profile
		if file.ResourceID != uuid.Nil {
			rid := file.ResourceID
			msg.ResourceID = &rid
		}
	}
	return msg, true
}

var _ Publisher = (*nats.Conn)(nil)
