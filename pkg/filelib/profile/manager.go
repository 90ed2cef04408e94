// Package profile keeps the profiles of a library and resolves which version
// provider serves a version of a file.
package profile

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tendant/simple-filelib/pkg/filelib"
)

// Manager holds profiles by name. Plugins registered after a profile are
// attached to it through TopicPluginAdded; plugins registered before are
// attached by the registry on TopicProfileAdded.
type Manager struct {
	mu         sync.RWMutex
	dispatcher *filelib.Dispatcher
	profiles   map[string]*filelib.Profile
}

// NewManager creates a manager and subscribes it to d.
func NewManager(d *filelib.Dispatcher) *Manager {
	m := &Manager{
		dispatcher: d,
		profiles:   make(map[string]*filelib.Profile),
	}
	d.AddSubscriber(m)
	return m
}

// Subscriptions implements filelib.Subscriber
func (m *Manager) Subscriptions() []filelib.Subscription {
	return []filelib.Subscription{
		{Topic: filelib.TopicPluginAdded, Handler: m.onPluginAdded},
	}
}

// AddProfile registers p and publishes TopicProfileAdded.
func (m *Manager) AddProfile(ctx context.Context, p *filelib.Profile) error {
	if p == nil || p.Name() == "" {
		return fmt.Errorf("%w: profile has no name", filelib.ErrInvalidArgument)
	}

	m.mu.Lock()
	if _, exists := m.profiles[p.Name()]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: profile %q already exists", filelib.ErrInvalidArgument, p.Name())
	}
	m.profiles[p.Name()] = p
	m.mu.Unlock()

	return m.dispatcher.Dispatch(ctx, filelib.TopicProfileAdded, &filelib.ProfileEvent{Profile: p})
}

// Profile returns the profile called name.
func (m *Manager) Profile(name string) (*filelib.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[name]
	if !ok {
		return nil, fmt.Errorf("%w: profile %q", filelib.ErrNotFound, name)
	}
	return p, nil
}

// Profiles returns all profiles ordered by name.
func (m *Manager) Profiles() []*filelib.Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*filelib.Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// VersionProvider returns the provider serving v for files of the profile of
// file. A profile without the version yields ErrInvalidVersion.
func (m *Manager) VersionProvider(file *filelib.File, v filelib.Version) (filelib.VersionProvider, error) {
	p, err := m.Profile(file.Profile)
	if err != nil {
		return nil, err
	}
	return p.VersionProvider(v)
}

// FileHasVersion reports whether the artifact of v exists for file, looking
// at the versionable the serving provider stores it on.
func (m *Manager) FileHasVersion(file *filelib.File, v filelib.Version) bool {
	provider, err := m.VersionProvider(file, v)
	if err != nil {
		return false
	}
	versionable := provider.ApplicableVersionable(file)
	if versionable == nil {
		return false
	}
	return versionable.HasVersion(v)
}

// IsSharedResourceAllowed is true only when every provider applicable to
// file allows a shared resource.
func (m *Manager) IsSharedResourceAllowed(file *filelib.File) bool {
	p, err := m.Profile(file.Profile)
	if err != nil {
		return true
	}
	for _, provider := range p.VersionProviders() {
		if provider.IsApplicableTo(file) && !provider.IsSharedResourceAllowed() {
			return false
		}
	}
	return true
}

func (m *Manager) onPluginAdded(ctx context.Context, event filelib.Event) error {
	e, ok := event.(*filelib.PluginEvent)
	if !ok {
		return nil
	}
	for _, p := range m.Profiles() {
		if !e.Plugin.BelongsToProfile(p.Name()) {
			continue
		}
		if err := p.AddPlugin(e.Plugin); err != nil {
			return err
		}
	}
	return nil
}
