package filelib

import (
	"fmt"
	"regexp"
	"strings"
)

var versionPattern = regexp.MustCompile(`^([a-zA-Z0-9]+)(?:_([a-zA-Z0-9]+))?$`)

// Version identifies a derived artifact of a file. Its textual form is
// either "base" or "base_suffix", for example "thumb" or "thumb_thumbnail".
type Version struct {
	base   string
	suffix string
}

// ParseVersion parses a version token. Only the syntax is checked here;
// whether the base and suffix are known is up to the version provider.
func ParseVersion(token string) (Version, error) {
	m := versionPattern.FindStringSubmatch(token)
	if m == nil {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, token)
	}
	return Version{base: m[1], suffix: m[2]}, nil
}

// MustParseVersion is like ParseVersion but panics on error.
func MustParseVersion(token string) Version {
	v, err := ParseVersion(token)
	if err != nil {
		panic(err)
	}
	return v
}

// NewVersion builds a version from its parts. An empty suffix yields a plain
// base version.
func NewVersion(base, suffix string) (Version, error) {
	if suffix == "" {
		return ParseVersion(base)
	}
	return ParseVersion(base + "_" + suffix)
}

// Base returns the part before the separator.
func (v Version) Base() string { return v.base }

// Suffix returns the part after the separator, empty for a plain version.
func (v Version) Suffix() string { return v.suffix }

// HasSuffix reports whether the version carries a suffix.
func (v Version) HasSuffix() bool { return v.suffix != "" }

// IsZero reports whether v is the zero Version.
func (v Version) IsZero() bool { return v.base == "" }

// WithoutSuffix returns the base version.
func (v Version) WithoutSuffix() Version {
	return Version{base: v.base}
}

// String returns the textual token.
func (v Version) String() string {
	if v.suffix == "" {
		return v.base
	}
	return v.base + "_" + v.suffix
}

func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *Version) UnmarshalText(text []byte) error {
	parsed, err := ParseVersion(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseVersions parses a list of tokens, failing on the first invalid one.
func ParseVersions(tokens []string) ([]Version, error) {
	versions := make([]Version, 0, len(tokens))
	for _, token := range tokens {
		v, err := ParseVersion(strings.TrimSpace(token))
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, nil
}

// VersionStrings renders versions back to their tokens.
func VersionStrings(versions []Version) []string {
	out := make([]string, len(versions))
	for i, v := range versions {
		out[i] = v.String()
	}
	return out
}
