// Package objectkey builds backend object keys for resources and versions.
package objectkey

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tendant/simple-filelib/pkg/filelib"
)

// Generator defines the interface for object key generation strategies
type Generator interface {
	// ResourceKey is the key of the original bytes of a resource
	ResourceKey(id uuid.UUID) string

	// VersionKey is the key of one version of a file or resource
	VersionKey(kind filelib.Kind, id uuid.UUID, version filelib.Version) string
}

// FlatGenerator lays keys out without sharding:
//
//	resources/{id}
//	versions/{kind}/{id}/{version}
type FlatGenerator struct{}

func NewFlatGenerator() *FlatGenerator {
	return &FlatGenerator{}
}

func (g *FlatGenerator) ResourceKey(id uuid.UUID) string {
	return fmt.Sprintf("resources/%s", id)
}

func (g *FlatGenerator) VersionKey(kind filelib.Kind, id uuid.UUID, version filelib.Version) string {
	return fmt.Sprintf("versions/%s/%s/%s", kind, id, version)
}

// ShardedGenerator spreads keys over git style shard directories taken
// from the entity id:
//
//	resources/ab/cd1234ef...
//	versions/{kind}/ab/cd1234ef.../{version}
type ShardedGenerator struct {
	// ShardLength controls how many characters to use for sharding (default: 2)
	ShardLength int
}

func NewShardedGenerator() *ShardedGenerator {
	return &ShardedGenerator{ShardLength: 2}
}

func (g *ShardedGenerator) ResourceKey(id uuid.UUID) string {
	shard, rest := g.split(id)
	return fmt.Sprintf("resources/%s/%s", shard, rest)
}

func (g *ShardedGenerator) VersionKey(kind filelib.Kind, id uuid.UUID, version filelib.Version) string {
	shard, rest := g.split(id)
	return fmt.Sprintf("versions/%s/%s/%s/%s", kind, shard, rest, version)
}

func (g *ShardedGenerator) split(id uuid.UUID) (string, string) {
	s := strings.ReplaceAll(id.String(), "-", "")
	n := g.ShardLength
	if n <= 0 {
		n = 2
	}
	if n > len(s) {
		n = len(s)
	}
	return s[:n], s[n:]
}

// PrefixedGenerator prepends a fixed path to every key of the wrapped
// generator. Useful to share one bucket between deployments.
type PrefixedGenerator struct {
	Prefix string
	Base   Generator
}

func NewPrefixedGenerator(prefix string, base Generator) *PrefixedGenerator {
	return &PrefixedGenerator{Prefix: strings.Trim(prefix, "/"), Base: base}
}

func (g *PrefixedGenerator) ResourceKey(id uuid.UUID) string {
	return g.join(g.Base.ResourceKey(id))
}

func (g *PrefixedGenerator) VersionKey(kind filelib.Kind, id uuid.UUID, version filelib.Version) string {
	return g.join(g.Base.VersionKey(kind, id, version))
}

func (g *PrefixedGenerator) join(key string) string {
	if g.Prefix == "" {
		return key
	}
	return g.Prefix + "/" + key
}
