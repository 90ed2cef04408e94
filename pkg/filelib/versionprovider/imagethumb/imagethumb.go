// Package imagethumb produces resized image versions with nfnt/resize.
package imagethumb

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"sort"

	"github.com/nfnt/resize"
	"github.com/tendant/simple-filelib/pkg/filelib"
	"github.com/tendant/simple-filelib/pkg/filelib/versionprovider"
)

// Box is the bounding box of a version. The aspect ratio is kept.
type Box struct {
	Width  uint
	Height uint
}

// Format forces the output encoding.
type Format string

const (
	FormatSource Format = ""
	FormatJPEG   Format = "jpeg"
	FormatPNG    Format = "png"
)

var applicableTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
}

// Producer creates one resized image per declared version.
type Producer struct {
	boxes   map[string]Box
	names   []string
	format  Format
	quality int
	tempDir string
}

// Option configures a Producer
type Option func(*Producer)

// WithFormat forces the output format. By default JPEG sources stay JPEG
// and everything else becomes PNG.
func WithFormat(format Format) Option {
	return func(p *Producer) { p.format = format }
}

// WithQuality sets the JPEG quality, 1 to 100.
func WithQuality(quality int) Option {
	return func(p *Producer) { p.quality = quality }
}

// WithTempDir sets where artifacts are written. Empty means os.TempDir.
func WithTempDir(dir string) Option {
	return func(p *Producer) { p.tempDir = dir }
}

// New creates a producer declaring one version per entry of boxes. Each
// name must be a plain version token without a suffix.
func New(boxes map[string]Box, opts ...Option) (*Producer, error) {
	p := &Producer{
		boxes:   make(map[string]Box, len(boxes)),
		quality: 80,
	}
	for name, box := range boxes {
		v, err := filelib.ParseVersion(name)
		if err != nil || v.HasSuffix() {
			return nil, fmt.Errorf("%w: thumbnail name %q is not a plain version", filelib.ErrInvalidArgument, name)
		}
		p.boxes[name] = box
		p.names = append(p.names, name)
	}
	sort.Strings(p.names)
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// MustNew is like New but panics on error.
func MustNew(boxes map[string]Box, opts ...Option) *Producer {
	p, err := New(boxes, opts...)
	if err != nil {
		panic(err)
	}
	return p
}

// Versions returns the declared version names, sorted.
func (p *Producer) Versions() []string {
	return append([]string(nil), p.names...)
}

// IsApplicableTo accepts JPEG, PNG and GIF resources.
func (p *Producer) IsApplicableTo(file *filelib.File) bool {
	return file.Resource != nil && applicableTypes[file.Resource.MimeType]
}

// MimeType is known only when the output format is forced.
func (p *Producer) MimeType(file *filelib.File, v filelib.Version) (string, bool) {
	switch p.format {
	case FormatJPEG:
		return "image/jpeg", true
	case FormatPNG:
		return "image/png", true
	}
	return "", false
}

// Produce creates every declared version.
func (p *Producer) Produce(ctx context.Context, file *filelib.File, source string) ([]versionprovider.Artifact, error) {
	img, format, err := decode(source)
	if err != nil {
		return nil, err
	}

	artifacts := make([]versionprovider.Artifact, 0, len(p.names))
	for _, name := range p.names {
		if err := ctx.Err(); err != nil {
			return artifacts, err
		}
		v, err := filelib.ParseVersion(name)
		if err != nil {
			return artifacts, err
		}
		path, err := p.write(img, format, p.boxes[name])
		if err != nil {
			return artifacts, err
		}
		artifacts = append(artifacts, versionprovider.Artifact{Version: v, Path: path})
	}
	return artifacts, nil
}

// ProduceVersion creates a single version. The suffix does not change the
// output.
func (p *Producer) ProduceVersion(ctx context.Context, file *filelib.File, source string, v filelib.Version) (string, error) {
	box, ok := p.boxes[v.Base()]
	if !ok {
		return "", fmt.Errorf("%w: %q", filelib.ErrInvalidVersion, v)
	}
	img, format, err := decode(source)
	if err != nil {
		return "", err
	}
	return p.write(img, format, box)
}

func (p *Producer) write(img image.Image, sourceFormat string, box Box) (string, error) {
	thumb := resize.Thumbnail(box.Width, box.Height, img, resize.Lanczos3)

	out, err := os.CreateTemp(p.tempDir, "filelib-version-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	if p.outputFormat(sourceFormat) == FormatJPEG {
		err = jpeg.Encode(out, thumb, &jpeg.Options{Quality: p.quality})
	} else {
		err = png.Encode(out, thumb)
	}
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(out.Name())
		return "", fmt.Errorf("encode thumbnail: %w", err)
	}
	return out.Name(), nil
}

func (p *Producer) outputFormat(sourceFormat string) Format {
	if p.format != FormatSource {
		return p.format
	}
	if sourceFormat == "jpeg" {
		return FormatJPEG
	}
	return FormatPNG
}

func decode(path string) (image.Image, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, format, nil
}

var (
	_ versionprovider.SingleProducer = (*Producer)(nil)
	_ versionprovider.Applicator     = (*Producer)(nil)
	_ versionprovider.MimeTyper      = (*Producer)(nil)
)
