package filelib

import (
	"fmt"
	"sort"
	"sync"
)

// Profile is a named upload configuration. It knows which plugins belong to
// it and which version provider serves each declared version.
type Profile struct {
	mu          sync.RWMutex
	name        string
	description string
	plugins     []Plugin
	providers   map[string]VersionProvider
}

// ProfileOption configures a Profile
type ProfileOption func(*Profile)

// WithDescription sets a human readable description.
func WithDescription(description string) ProfileOption {
	return func(p *Profile) {
		p.description = description
	}
}

// NewProfile creates an empty profile.
func NewProfile(name string, opts ...ProfileOption) *Profile {
	p := &Profile{
		name:      name,
		providers: make(map[string]VersionProvider),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Profile) Name() string        { return p.name }
func (p *Profile) Description() string { return p.description }

// AddPlugin attaches a plugin to the profile. Adding the same plugin twice is
// a no-op. A version provider declaring a version already served by another
// provider is rejected with ErrInvalidArgument.
func (p *Profile) AddPlugin(plugin Plugin) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, existing := range p.plugins {
		if existing == plugin {
			return nil
		}
	}

	if provider, ok := plugin.(VersionProvider); ok {
		for _, version := range provider.ProvidedVersions() {
			if other, exists := p.providers[version]; exists && other != provider {
				return fmt.Errorf("%w: version %q already provided in profile %q", ErrInvalidArgument, version, p.name)
			}
		}
		for _, version := range provider.ProvidedVersions() {
			p.providers[version] = provider
		}
	}

	p.plugins = append(p.plugins, plugin)
	return nil
}

// Plugins returns the attached plugins in attachment order.
func (p *Profile) Plugins() []Plugin {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Plugin(nil), p.plugins...)
}

// VersionProvider returns the provider serving the base of v.
func (p *Profile) VersionProvider(v Version) (VersionProvider, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	provider, ok := p.providers[v.Base()]
	if !ok {
		return nil, fmt.Errorf("%w: profile %q has no version %q", ErrInvalidVersion, p.name, v)
	}
	return provider, nil
}

// FileVersions lists every version base served in this profile, sorted.
func (p *Profile) FileVersions() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	versions := make([]string, 0, len(p.providers))
	for version := range p.providers {
		versions = append(versions, version)
	}
	sort.Strings(versions)
	return versions
}

// VersionProviders returns the distinct providers attached to the profile.
func (p *Profile) VersionProviders() []VersionProvider {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var providers []VersionProvider
	for _, plugin := range p.plugins {
		if provider, ok := plugin.(VersionProvider); ok {
			providers = append(providers, provider)
		}
	}
	return providers
}
