package plugin

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/tendant/simple-filelib/pkg/filelib"
)

// Registry binds plugins to a host under unique names.
type Registry struct {
	mu      sync.RWMutex
	host    filelib.Host
	names   []string
	plugins map[string]filelib.Plugin
}

// NewRegistry creates a registry and subscribes it to profile additions so
// that plugins registered earlier are attached to profiles added later.
func NewRegistry(host filelib.Host) *Registry {
	r := &Registry{
		host:    host,
		plugins: make(map[string]filelib.Plugin),
	}
	host.Dispatcher().AddSubscriber(r)
	return r
}

// Subscriptions implements filelib.Subscriber
func (r *Registry) Subscriptions() []filelib.Subscription {
	return []filelib.Subscription{
		{Topic: filelib.TopicProfileAdded, Handler: r.onProfileAdded},
	}
}

// AddPlugin registers p. An empty name is replaced by a generated one built
// from the plugin type and the registration count. The plugin is attached to
// the host, subscribed to the dispatcher and announced on
// TopicPluginAdded.
func (r *Registry) AddPlugin(ctx context.Context, p filelib.Plugin, profiles []string, name string) error {
	r.mu.Lock()
	if name == "" {
		name = generateName(p, len(r.names)+1)
	}
	if _, exists := r.plugins[name]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: plugin with the name %q already exists", filelib.ErrInvalidArgument, name)
	}
	if existing, ok := r.nameOf(p); ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: plugin is already registered as %q", filelib.ErrInvalidArgument, existing)
	}
	r.plugins[name] = p
	r.names = append(r.names, name)
	r.mu.Unlock()

	if err := p.SetProfiles(profiles); err != nil {
		r.remove(name)
		return err
	}
	if named, ok := p.(interface{ SetName(string) }); ok {
		named.SetName(name)
	}

	if err := p.Attach(r.host); err != nil {
		r.remove(name)
		return fmt.Errorf("attach plugin %s: %w", name, err)
	}

	r.host.Dispatcher().AddSubscriber(p)

	return r.host.Dispatcher().Dispatch(ctx, filelib.TopicPluginAdded, &filelib.PluginEvent{
		Plugin:   p,
		Registry: r,
	})
}

// Plugin returns the plugin registered under name.
func (r *Registry) Plugin(name string) (filelib.Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plugins[name]
	if !ok {
		return nil, fmt.Errorf("%w: plugin with the name %q does not exist", filelib.ErrNotFound, name)
	}
	return p, nil
}

// Plugins returns all plugins in registration order.
func (r *Registry) Plugins() []filelib.Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]filelib.Plugin, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.plugins[name])
	}
	return out
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.names...)
}

func (r *Registry) onProfileAdded(ctx context.Context, event filelib.Event) error {
	e, ok := event.(*filelib.ProfileEvent)
	if !ok {
		return nil
	}
	for _, p := range r.Plugins() {
		if !p.BelongsToProfile(e.Profile.Name()) {
			continue
		}
		if err := e.Profile.AddPlugin(p); err != nil {
			return err
		}
	}
	return nil
}

// nameOf finds the name p is registered under. Callers hold r.mu.
func (r *Registry) nameOf(p filelib.Plugin) (string, bool) {
	if !reflect.TypeOf(p).Comparable() {
		return "", false
	}
	for name, existing := range r.plugins {
		if reflect.TypeOf(existing).Comparable() && existing == p {
			return name, true
		}
	}
	return "", false
}

func (r *Registry) remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.plugins, name)
	for i, n := range r.names {
		if n == name {
			r.names = append(r.names[:i], r.names[i+1:]...)
			break
		}
	}
}

func generateName(p filelib.Plugin, n int) string {
	t := reflect.TypeOf(p)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	id := t.Name()
	if t.PkgPath() != "" {
		id = t.PkgPath() + "/" + id
	}
	return fmt.Sprintf("%s___%d", strings.ReplaceAll(id, "/", "___"), n)
}
