package objectkey

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/tendant/simple-filelib/pkg/filelib"
)

func TestFlatGenerator(t *testing.T) {
	g := NewFlatGenerator()
	id := uuid.MustParse("12345678-1234-1234-1234-123456789abc")

	if got, want := g.ResourceKey(id), "resources/12345678-1234-1234-1234-123456789abc"; got != want {
		t.Errorf("ResourceKey = %q, want %q", got, want)
	}

	v := filelib.MustParseVersion("thumb_thumbnail")
	if got, want := g.VersionKey(filelib.KindFile, id, v), "versions/file/12345678-1234-1234-1234-123456789abc/thumb_thumbnail"; got != want {
		t.Errorf("VersionKey = %q, want %q", got, want)
	}
}

func TestShardedGenerator(t *testing.T) {
	id := uuid.MustParse("abcdef12-1234-1234-1234-123456789abc")

	tests := []struct {
		name     string
		shardLen int
		resource string
		version  string
	}{
		{
			name:     "default shard length",
			shardLen: 2,
			resource: "resources/ab/cdef12123412341234123456789abc",
			version:  "versions/resource/ab/cdef12123412341234123456789abc/thumb",
		},
		{
			name:     "longer shard",
			shardLen: 4,
			resource: "resources/abcd/ef12123412341234123456789abc",
			version:  "versions/resource/abcd/ef12123412341234123456789abc/thumb",
		},
		{
			name:     "zero falls back to two",
			shardLen: 0,
			resource: "resources/ab/cdef12123412341234123456789abc",
			version:  "versions/resource/ab/cdef12123412341234123456789abc/thumb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &ShardedGenerator{ShardLength: tt.shardLen}
			if got := g.ResourceKey(id); got != tt.resource {
				t.Errorf("ResourceKey = %q, want %q", got, tt.resource)
			}
			if got := g.VersionKey(filelib.KindResource, id, filelib.MustParseVersion("thumb")); got != tt.version {
				t.Errorf("VersionKey = %q, want %q", got, tt.version)
			}
		})
	}
}

func TestPrefixedGenerator(t *testing.T) {
	id := uuid.New()
	g := NewPrefixedGenerator("/tenant-a/", NewFlatGenerator())

	if got := g.ResourceKey(id); !strings.HasPrefix(got, "tenant-a/resources/") {
		t.Errorf("ResourceKey = %q, want tenant-a/resources/ prefix", got)
	}

	empty := NewPrefixedGenerator("", NewFlatGenerator())
	if got := empty.ResourceKey(id); got != NewFlatGenerator().ResourceKey(id) {
		t.Errorf("empty prefix changed key: %q", got)
	}
}

func TestKeysDoNotCollideAcrossKinds(t *testing.T) {
	id := uuid.New()
	v := filelib.MustParseVersion("thumb")
	for _, g := range []Generator{NewFlatGenerator(), NewShardedGenerator()} {
		fileKey := g.VersionKey(filelib.KindFile, id, v)
		resourceKey := g.VersionKey(filelib.KindResource, id, v)
		if fileKey == resourceKey {
			t.Errorf("%T: file and resource version keys collide: %q", g, fileKey)
		}
		if g.ResourceKey(id) == resourceKey {
			t.Errorf("%T: original and version keys collide", g)
		}
	}
}
