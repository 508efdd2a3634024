// Package placekitten generates placeholder images from a bundled source
// folder, with content-aware smart cropping and a set of named filters.
//
// Basic usage:
//
//	package main
//
//	import (
//		"fmt"
//		"log"
//
//		"github.com/placekitten/placekitten"
//	)
//
//	func main() {
//		pk := placekitten.New(placekitten.WithSourceDir("./images"))
//
//		// Generate a 800x450 smart-cropped image from source image 3
//		proc, err := pk.Generate(placekitten.GenerateOptions{
//			Width:   800,
//			Height:  450,
//			ImageID: 3,
//		})
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		path, err := proc.Save("out/kitten.jpg", "high")
//		if err != nil {
//			log.Fatal(err)
//		}
//		fmt.Println("saved", path)
//	}
//
// The package consists of four main components:
//
// 1. Processor (pkg/processor): fluent, immutable image operation chaining
// 2. Cropper (pkg/cropper): the smart-crop pipeline and subject detection
// 3. Filters (pkg/filters): named filter registry (grayscale, sepia, ...)
// 4. Fallback (pkg/fallback): cache-stable business fallback images
//
// Dimension handling follows three policies: with both width and height the
// source is smart-cropped to exactly those dimensions; with only one the
// source is scaled preserving its aspect ratio; with neither the source is
// returned untouched.
package placekitten

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"time"

	"github.com/placekitten/placekitten/internal/utils"
	"github.com/placekitten/placekitten/pkg/cropper"
	"github.com/placekitten/placekitten/pkg/filters"
	"github.com/placekitten/placekitten/pkg/processor"
)

// Version of the placekitten library
const Version = "1.0.0"

// GetVersion returns the library version
func GetVersion() string {
	return Version
}

// PlaceKitten selects source images and produces ImageProcessors for them
type PlaceKitten struct {
	sourceDir string
	engine    *cropper.Engine
	registry  *filters.Registry
	rng       *rand.Rand

	mu        sync.Mutex
	images    []string
	nextIndex int
}

// Option customizes a PlaceKitten
type Option func(*PlaceKitten)

// WithSourceDir sets the folder scanned for source images
func WithSourceDir(dir string) Option {
	return func(p *PlaceKitten) { p.sourceDir = dir }
}

// WithEngine sets the smart-crop engine used for exact-dimension requests
func WithEngine(engine *cropper.Engine) Option {
	return func(p *PlaceKitten) { p.engine = engine }
}

// WithRegistry sets the filter registry
func WithRegistry(registry *filters.Registry) Option {
	return func(p *PlaceKitten) { p.registry = registry }
}

// WithRandSource seeds the random image selection, for reproducible runs
func WithRandSource(seed int64) Option {
	return func(p *PlaceKitten) { p.rng = rand.New(rand.NewSource(seed)) }
}

// New creates a PlaceKitten over the default "./images" source folder
func New(opts ...Option) *PlaceKitten {
	p := &PlaceKitten{
		sourceDir: "./images",
		engine:    cropper.New(),
		registry:  filters.Default(),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GenerateOptions control a single Generate call
type GenerateOptions struct {
	// Width and Height select the dimension policy: both set means smart
	// crop to exact size, one set means aspect-preserving scale, neither
	// means the source is returned unmodified.
	Width  int
	Height int
	// Filter is applied last, after dimension handling
	Filter       string
	FilterParams filters.Params
	// ImageID picks a specific source image (1-based). Out-of-range or
	// zero ids fall back to a random pick.
	ImageID int
	// RandomSelection forces a uniform random pick
	RandomSelection bool
	// Sequential cycles through the source folder in order
	Sequential bool
	// Strategy overrides the smart-crop subject detection strategy
	Strategy cropper.Strategy
}

// Generate selects a source image and applies the requested dimension
// policy and filter, returning the resulting processor for further chaining
// or saving.
func (p *PlaceKitten) Generate(opts GenerateOptions) (*processor.ImageProcessor, error) {
	if opts.Width < 0 || opts.Height < 0 {
		return nil, fmt.Errorf("width and height must be positive")
	}

	images, err := p.availableImages()
	if err != nil {
		return nil, fmt.Errorf("failed to list source images: %w", err)
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("no source images found in %s", p.sourceDir)
	}

	path := p.selectImage(opts, images)

	proc, err := processor.Load(path,
		processor.WithEngine(p.engine),
		processor.WithRegistry(p.registry))
	if err != nil {
		return nil, fmt.Errorf("failed to load source image: %w", err)
	}

	switch {
	case opts.Width > 0 && opts.Height > 0:
		proc, _, err = proc.SmartCropWithOptions(opts.Width, opts.Height, cropper.Options{
			Strategy: opts.Strategy,
		})
		if err != nil {
			return nil, fmt.Errorf("smart crop failed: %w", err)
		}
	case opts.Width > 0 || opts.Height > 0:
		// Scale, not crop: the missing dimension follows the source's
		// native aspect ratio.
		proc = proc.Resize(opts.Width, opts.Height)
	}

	if opts.Filter != "" {
		proc, err = proc.ApplyFilter(opts.Filter, opts.FilterParams)
		if err != nil {
			return nil, err
		}
	}

	return proc, nil
}

// selectImage implements the selection policy. An explicitly bad id falls
// back to random rather than erroring; callers relying on stable output
// should pass a valid id.
func (p *PlaceKitten) selectImage(opts GenerateOptions, images []string) string {
	switch {
	case opts.RandomSelection:
		return images[p.rng.Intn(len(images))]
	case opts.Sequential:
		p.mu.Lock()
		idx := p.nextIndex % len(images)
		p.nextIndex++
		p.mu.Unlock()
		return images[idx]
	case opts.ImageID >= 1 && opts.ImageID <= len(images):
		return images[opts.ImageID-1]
	default:
		return images[p.rng.Intn(len(images))]
	}
}

// availableImages enumerates the source folder, cached after the first read
func (p *PlaceKitten) availableImages() ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.images != nil {
		return p.images, nil
	}

	files, err := utils.ListSourceImages(p.sourceDir)
	if err != nil {
		return nil, err
	}
	p.images = files
	return files, nil
}

// ListAvailableImages returns the sorted source image paths
func (p *PlaceKitten) ListAvailableImages() ([]string, error) {
	return p.availableImages()
}

// ImageCount returns the number of available source images
func (p *PlaceKitten) ImageCount() (int, error) {
	images, err := p.availableImages()
	if err != nil {
		return 0, err
	}
	return len(images), nil
}

// BatchProcess runs Generate for each config and saves the results into
// outputFolder as placekitten_{width}x{height}_{index}.jpg (1-based index).
// Processing is sequential; the returned paths preserve config order.
func (p *PlaceKitten) BatchProcess(configs []GenerateOptions, outputFolder string) ([]string, error) {
	if err := utils.EnsureDir(outputFolder); err != nil {
		return nil, fmt.Errorf("failed to create output folder: %w", err)
	}

	var saved []string
	for i, cfg := range configs {
		proc, err := p.Generate(cfg)
		if err != nil {
			return nil, fmt.Errorf("batch config %d failed: %w", i+1, err)
		}

		name := fmt.Sprintf("placekitten_%dx%d_%d.jpg", cfg.Width, cfg.Height, i+1)
		path, err := proc.Save(filepath.Join(outputFolder, name), "high")
		if err != nil {
			return nil, fmt.Errorf("batch config %d save failed: %w", i+1, err)
		}
		saved = append(saved, path)
	}

	return saved, nil
}
