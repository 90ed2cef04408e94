package plugin

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/tendant/simple-filelib/pkg/filelib"
)

// RandomizeName replaces the name of uploads in its profiles with a random
// one, keeping the extension.
type RandomizeName struct {
	Base
	prefix string
}

// NewRandomizeName creates the plugin. Generated names start with prefix.
func NewRandomizeName(prefix string) *RandomizeName {
	return &RandomizeName{prefix: prefix}
}

func (p *RandomizeName) Prefix() string { return p.prefix }

// Subscriptions implements filelib.Subscriber
func (p *RandomizeName) Subscriptions() []filelib.Subscription {
	return []filelib.Subscription{
		{Topic: filelib.TopicFileBeforeCreate, Handler: p.beforeCreate},
	}
}

func (p *RandomizeName) beforeCreate(ctx context.Context, event filelib.Event) error {
	e, ok := event.(*filelib.FileUploadEvent)
	if !ok || !p.BelongsToProfile(e.Upload.Profile) {
		return nil
	}

	name := p.prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
	if ext := filepath.Ext(e.Upload.Name); ext != "" {
		name += ext
	}

	p.Logger().DebugContext(ctx, "randomized upload name", "from", e.Upload.Name, "to", name)
	e.Upload.Name = name
	return nil
}
