// Package processor wraps a single image in a fluent, immutable-style API.
// Every chained operation returns a new ImageProcessor holding a new pixel
// buffer; the receiver is never mutated, so intermediate results stay valid.
package processor

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/placekitten/placekitten/internal/utils"
	"github.com/placekitten/placekitten/pkg/cropper"
	"github.com/placekitten/placekitten/pkg/filters"
)

// Encoder quality per named level
const (
	qualityHigh   = 95
	qualityMedium = 85
	qualityLow    = 70
)

var defaultEngine = cropper.New()

// ImageProcessor holds one image and the services used to transform it
type ImageProcessor struct {
	img        *image.NRGBA
	sourcePath string
	engine     *cropper.Engine
	registry   *filters.Registry
}

// Option customizes a new ImageProcessor
type Option func(*ImageProcessor)

// WithEngine sets the smart-crop engine used by SmartCrop
func WithEngine(engine *cropper.Engine) Option {
	return func(p *ImageProcessor) { p.engine = engine }
}

// WithRegistry sets the filter registry used by ApplyFilter
func WithRegistry(registry *filters.Registry) Option {
	return func(p *ImageProcessor) { p.registry = registry }
}

// New constructs an ImageProcessor from exactly one of a file path or an
// in-memory image. Providing neither or both is an error.
func New(path string, img image.Image, opts ...Option) (*ImageProcessor, error) {
	if (path == "") == (img == nil) {
		return nil, fmt.Errorf("exactly one of path or image must be provided")
	}

	p := &ImageProcessor{
		engine:   defaultEngine,
		registry: filters.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if path != "" {
		loaded, err := loadImage(path)
		if err != nil {
			return nil, err
		}
		p.img = imaging.Clone(loaded)
		p.sourcePath = path
	} else {
		p.img = imaging.Clone(img)
	}

	return p, nil
}

// Load constructs an ImageProcessor from an image file
func Load(path string, opts ...Option) (*ImageProcessor, error) {
	return New(path, nil, opts...)
}

// FromImage constructs an ImageProcessor from an in-memory image
func FromImage(img image.Image, opts ...Option) (*ImageProcessor, error) {
	return New("", img, opts...)
}

// loadImage opens an image file with WebP support
func loadImage(path string) (image.Image, error) {
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image file: %w", err)
	}
	defer f.Close()

	if img, err := webp.Decode(f); err == nil {
		return img, nil
	}
	if _, err := f.Seek(0, 0); err == nil {
		if img, _, err := image.Decode(f); err == nil {
			return img, nil
		}
	}
	return nil, fmt.Errorf("image: unknown format for %s", path)
}

// derive produces the next processor in a chain, carrying services forward
func (p *ImageProcessor) derive(img *image.NRGBA) *ImageProcessor {
	return &ImageProcessor{
		img:        img,
		sourcePath: p.sourcePath,
		engine:     p.engine,
		registry:   p.registry,
	}
}

// Resize scales the image to the given dimensions with Lanczos resampling.
// When height is 0 it is computed from the current image's aspect ratio.
func (p *ImageProcessor) Resize(width, height int) *ImageProcessor {
	return p.derive(imaging.Resize(p.img, width, height, imaging.Lanczos))
}

// ApplyFilter applies a named filter from the registry to a copy of the
// image
func (p *ImageProcessor) ApplyFilter(name string, params filters.Params) (*ImageProcessor, error) {
	out, err := p.registry.Apply(imaging.Clone(p.img), name, params)
	if err != nil {
		return nil, err
	}
	return p.derive(imaging.Clone(out)), nil
}

// SmartCrop crops to the target dimensions using the default face-priority
// strategy. When height is 0 a 16:9 frame is assumed.
func (p *ImageProcessor) SmartCrop(width, height int) (*ImageProcessor, error) {
	next, _, err := p.SmartCropWithOptions(width, height, cropper.Options{})
	return next, err
}

// SmartCropWithOptions crops to the target dimensions with explicit engine
// options and returns the crop diagnostics alongside the new processor.
func (p *ImageProcessor) SmartCropWithOptions(width, height int, opts cropper.Options) (*ImageProcessor, cropper.CropInfo, error) {
	if height == 0 {
		height = width * 9 / 16
	}
	out, info, err := p.engine.SmartCrop(p.img, width, height, opts)
	if err != nil {
		return nil, cropper.CropInfo{}, err
	}
	return p.derive(imaging.Clone(out)), info, nil
}

// Save writes the image to path. The codec follows the file extension
// (jpg/jpeg, png, webp); any other extension is coerced to .jpg. Parent
// directories are created as needed. The final path is returned.
func (p *ImageProcessor) Save(path, quality string) (string, error) {
	q := encoderQuality(quality)

	ext := utils.GetFileExtension(path)
	switch ext {
	case "jpg", "jpeg", "png", "webp":
	default:
		if ext != "" {
			path = strings.TrimSuffix(path, "."+ext)
		}
		path += ".jpg"
		ext = "jpg"
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := utils.EnsureDir(dir); err != nil {
			return "", fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	switch ext {
	case "png":
		if err := imaging.Save(p.img, path); err != nil {
			return "", fmt.Errorf("failed to save image: %w", err)
		}
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return "", fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		if err := webp.Encode(f, p.img, &webp.Options{Quality: float32(q)}); err != nil {
			return "", fmt.Errorf("failed to save image: %w", err)
		}
	default:
		if err := imaging.Save(p.img, path, imaging.JPEGQuality(q)); err != nil {
			return "", fmt.Errorf("failed to save image: %w", err)
		}
	}

	return path, nil
}

func encoderQuality(quality string) int {
	switch quality {
	case "medium":
		return qualityMedium
	case "low":
		return qualityLow
	default:
		return qualityHigh
	}
}

// Image returns the current pixel buffer
func (p *ImageProcessor) Image() image.Image {
	return p.img
}

// Size returns the current width and height
func (p *ImageProcessor) Size() (int, int) {
	b := p.img.Bounds()
	return b.Dx(), b.Dy()
}

// Info describes the current image
type Info struct {
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Mode       string `json:"mode"`
	SourcePath string `json:"source_path,omitempty"`
}

// Info returns basic metadata about the current image
func (p *ImageProcessor) Info() Info {
	w, h := p.Size()
	return Info{
		Width:      w,
		Height:     h,
		Mode:       "NRGBA",
		SourcePath: p.sourcePath,
	}
}
