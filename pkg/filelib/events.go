package filelib

import (
	"context"
	"log/slog"
	"sync"
)

// Topic names a lifecycle event.
type Topic string

// Lifecycle topics
const (
	TopicPluginAdded          Topic = "filelib.plugin.add"
	TopicProfileAdded         Topic = "filelib.profile.add"
	TopicFileBeforeCreate     Topic = "filelib.file.before_create"
	TopicFileAfterUpload      Topic = "filelib.file.after_upload"
	TopicFileAfterMaterialize Topic = "filelib.file.after_materialize"
	TopicFileAfterDelete      Topic = "filelib.file.after_delete"
	TopicResourceAfterDelete  Topic = "filelib.resource.after_delete"
	TopicVersionsProvided     Topic = "filelib.versions.provided"
	TopicVersionsUnprovided   Topic = "filelib.versions.unprovided"
	TopicRendererBeforeRender Topic = "filelib.renderer.before_render"
	TopicRendererRender       Topic = "filelib.renderer.render"
)

// Event is a payload passed to subscribers. Any subscriber may stop the
// remaining subscribers of the same dispatch from running.
type Event interface {
	StopPropagation()
	IsPropagationStopped() bool
}

// Propagation implements the propagation half of Event. Embed it in payloads.
type Propagation struct {
	stopped bool
}

func (p *Propagation) StopPropagation()           { p.stopped = true }
func (p *Propagation) IsPropagationStopped() bool { return p.stopped }

// Handler handles one event. Returning an error aborts the dispatch and the
// error is returned to the publisher.
type Handler func(ctx context.Context, event Event) error

// Subscription binds a handler to a topic.
type Subscription struct {
	Topic   Topic
	Handler Handler
}

// Subscriber declares the topics it wants, in order.
type Subscriber interface {
	Subscriptions() []Subscription
}

// PluginLookup is the read side of a plugin registry.
type PluginLookup interface {
	Plugin(name string) (Plugin, error)
	Plugins() []Plugin
}

// PluginEvent is published on TopicPluginAdded.
type PluginEvent struct {
	Propagation
	Plugin   Plugin
	Registry PluginLookup
}

// ProfileEvent is published on TopicProfileAdded.
type ProfileEvent struct {
	Propagation
	Profile *Profile
}

// FileUploadEvent is published on TopicFileBeforeCreate.
type FileUploadEvent struct {
	Propagation
	Upload *FileUpload
}

// FileEvent is published on file lifecycle topics.
type FileEvent struct {
	Propagation
	File *File
}

// ResourceEvent is published on TopicResourceAfterDelete.
type ResourceEvent struct {
	Propagation
	Resource *Resource
}

// VersionProviderEvent is published when versions are provided or
// unprovided. File is nil when the event concerns a resource only.
type VersionProviderEvent struct {
	Propagation
	Provider    VersionProvider
	File        *File
	Versionable Versionable
	Versions    []Version
}

// RenderEvent is published before and after a render. StatusCode and Err are
// set on the after-render event only.
type RenderEvent struct {
	Propagation
	File       *File
	Version    string
	Download   bool
	StatusCode int
	Err        error
}

// Dispatcher is a synchronous, ordered publish/subscribe hub.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[Topic][]Handler
	logger   *slog.Logger
}

// NewDispatcher creates an empty dispatcher. A nil logger means slog.Default.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[Topic][]Handler),
		logger:   logger,
	}
}

// Subscribe appends a handler for topic.
func (d *Dispatcher) Subscribe(topic Topic, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[topic] = append(d.handlers[topic], h)
}

// AddSubscriber subscribes every handler the subscriber declares.
func (d *Dispatcher) AddSubscriber(s Subscriber) {
	for _, sub := range s.Subscriptions() {
		d.Subscribe(sub.Topic, sub.Handler)
	}
}

// HasSubscribers reports whether anything listens to topic.
func (d *Dispatcher) HasSubscribers(topic Topic) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[topic]) > 0
}

// Dispatch runs the handlers of topic in subscription order. It stops at the
// first error or when a handler stops propagation.
func (d *Dispatcher) Dispatch(ctx context.Context, topic Topic, event Event) error {
	d.mu.RLock()
	handlers := append([]Handler(nil), d.handlers[topic]...)
	d.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			d.logger.Debug("event handler failed", "topic", topic, "err", err)
			return err
		}
		if event.IsPropagationStopped() {
			break
		}
	}
	return nil
}
