package filelib

import (
	"context"
	"log/slog"
)

// LoggingSubscriber logs lifecycle events but takes no other action.
// Useful for development and debugging.
type LoggingSubscriber struct {
	logger *slog.Logger
}

// NewLoggingSubscriber creates a new logging subscriber
func NewLoggingSubscriber(logger *slog.Logger) *LoggingSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingSubscriber{logger: logger}
}

// Subscriptions implements Subscriber
func (s *LoggingSubscriber) Subscriptions() []Subscription {
	topics := []Topic{
		TopicPluginAdded,
		TopicProfileAdded,
		TopicFileAfterUpload,
		TopicFileAfterDelete,
		TopicResourceAfterDelete,
		TopicVersionsProvided,
		TopicVersionsUnprovided,
		TopicRendererRender,
	}
	subs := make([]Subscription, 0, len(topics))
	for _, topic := range topics {
		subs = append(subs, Subscription{Topic: topic, Handler: s.handler(topic)})
	}
	return subs
}

func (s *LoggingSubscriber) handler(topic Topic) Handler {
	return func(ctx context.Context, event Event) error {
		attrs := []any{"topic", topic}
		switch e := event.(type) {
		case *PluginEvent:
			attrs = append(attrs, "plugin", PluginName(e.Plugin))
		case *ProfileEvent:
			attrs = append(attrs, "profile", e.Profile.Name())
		case *FileEvent:
			attrs = append(attrs, "file_id", e.File.ID, "name", e.File.Name)
		case *ResourceEvent:
			attrs = append(attrs, "resource_id", e.Resource.ID)
		case *VersionProviderEvent:
			attrs = append(attrs,
				"kind", e.Versionable.EntityKind(),
				"id", e.Versionable.EntityID(),
				"versions", VersionStrings(e.Versions))
		case *RenderEvent:
			attrs = append(attrs, "version", e.Version, "status", e.StatusCode)
			if e.File != nil {
				attrs = append(attrs, "file_id", e.File.ID)
			}
			if e.Err != nil {
				attrs = append(attrs, "err", e.Err)
			}
		}
		s.logger.InfoContext(ctx, "filelib event", attrs...)
		return nil
	}
}

// Named is implemented by plugins that know their registry name.
type Named interface {
	Name() string
}

// PluginName returns the registry name of p, or an empty string.
func PluginName(p Plugin) string {
	if n, ok := p.(Named); ok {
		return n.Name()
	}
	return ""
}
