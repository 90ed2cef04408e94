// Package plugin holds the plugin registry and the plumbing shared by all
// plugins.
package plugin

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/tendant/simple-filelib/pkg/filelib"
)

// Base implements the profile membership and host plumbing of
// filelib.Plugin. Embed it and add Subscriptions.
type Base struct {
	mu       sync.RWMutex
	name     string
	profiles map[string]struct{}
	// installed is set once profiles are installed.
	installed bool
	host      filelib.Host
}

// Attach stores the host.
func (b *Base) Attach(host filelib.Host) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.host = host
	return nil
}

// Host returns the attached host, nil before Attach.
func (b *Base) Host() filelib.Host {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.host
}

// Logger returns the host logger or slog.Default when detached.
func (b *Base) Logger() *slog.Logger {
	if host := b.Host(); host != nil && host.Logger() != nil {
		return host.Logger()
	}
	return slog.Default()
}

// SetProfiles installs the membership predicate. It is set by the registry
// at registration; a second call fails with ErrInvalidArgument.
func (b *Base) SetProfiles(profiles []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.installed {
		return fmt.Errorf("%w: plugin %q already has its profiles installed", filelib.ErrInvalidArgument, b.name)
	}
	b.installed = true
	if len(profiles) == 0 {
		b.profiles = nil
		return nil
	}
	b.profiles = make(map[string]struct{}, len(profiles))
	for _, p := range profiles {
		b.profiles[p] = struct{}{}
	}
	return nil
}

// BelongsToProfile is always true when no profiles were given.
func (b *Base) BelongsToProfile(profile string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.profiles == nil {
		return true
	}
	_, ok := b.profiles[profile]
	return ok
}

func (b *Base) SetName(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.name = name
}

func (b *Base) Name() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.name
}
