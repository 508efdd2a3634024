// Package filters maps named filter identifiers to image transformations.
//
// Numeric filters (brightness, contrast, saturation, sharpness) use a
// percentage convention: a value of 100 means "no change", 95 darkens or
// flattens by 5%, 105 boosts by 5%. Callers coming from enhancement-factor
// APIs must convert accordingly.
package filters

import (
	"image"
	"sort"
	"strings"

	"github.com/disintegration/gift"
	"github.com/disintegration/imaging"
)

// Params carries optional numeric parameters for a filter.
type Params map[string]float64

func (p Params) get(key string, def float64) float64 {
	if p == nil {
		return def
	}
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

// Func is a pure image transformation. Implementations never modify the
// source image.
type Func func(img image.Image, params Params) (image.Image, error)

// UnknownFilterError is returned when a filter name is not registered.
type UnknownFilterError struct {
	Name  string
	Valid []string
}

func (e *UnknownFilterError) Error() string {
	return "unknown filter '" + e.Name + "': valid filters are " + strings.Join(e.Valid, ", ")
}

// Registry maps filter names to transformation functions.
type Registry struct {
	filters map[string]Func
}

// New creates a Registry populated with the built-in filters.
func New() *Registry {
	r := &Registry{filters: make(map[string]Func)}

	r.Register("grayscale", grayscaleFilter)
	r.Register("greyscale", grayscaleFilter)
	r.Register("blur", blurFilter)
	r.Register("sepia", sepiaFilter)
	r.Register("invert", invertFilter)
	r.Register("brightness", brightnessFilter)
	r.Register("contrast", contrastFilter)
	r.Register("saturation", saturationFilter)
	r.Register("sharpness", sharpnessFilter)
	r.Register("pixelate", pixelateFilter)
	r.Register("edge_detection", edgeDetectionFilter)
	r.Register("emboss", embossFilter)
	r.Register("smooth", smoothFilter)

	return r
}

// Register adds or replaces a filter. Last registration wins.
func (r *Registry) Register(name string, fn Func) {
	r.filters[name] = fn
}

// Apply looks up a filter by name and applies it to img.
func (r *Registry) Apply(img image.Image, name string, params Params) (image.Image, error) {
	fn, ok := r.filters[name]
	if !ok {
		return nil, &UnknownFilterError{Name: name, Valid: r.Names()}
	}
	return fn(img, params)
}

// Names returns the registered filter names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.filters))
	for name := range r.filters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var defaultRegistry = New()

// Default returns the shared process-wide registry. It holds no mutable
// state after construction beyond explicit Register calls.
func Default() *Registry {
	return defaultRegistry
}

// applyGift runs a gift filter chain into a fresh NRGBA buffer.
func applyGift(img image.Image, fs ...gift.Filter) image.Image {
	g := gift.New(fs...)
	dst := image.NewNRGBA(g.Bounds(img.Bounds()))
	g.Draw(dst, img)
	return dst
}

func grayscaleFilter(img image.Image, _ Params) (image.Image, error) {
	return imaging.Grayscale(img), nil
}

func blurFilter(img image.Image, params Params) (image.Image, error) {
	radius := params.get("radius", 2.0)
	if radius <= 0 {
		radius = 0.1
	}
	return imaging.Blur(img, radius), nil
}

func sepiaFilter(img image.Image, _ Params) (image.Image, error) {
	return applyGift(img, gift.Sepia(100)), nil
}

func invertFilter(img image.Image, _ Params) (image.Image, error) {
	return imaging.Invert(img), nil
}

func brightnessFilter(img image.Image, params Params) (image.Image, error) {
	value := params.get("value", 100)
	return imaging.AdjustBrightness(img, value-100), nil
}

func contrastFilter(img image.Image, params Params) (image.Image, error) {
	value := params.get("value", 100)
	return imaging.AdjustContrast(img, value-100), nil
}

func saturationFilter(img image.Image, params Params) (image.Image, error) {
	value := params.get("value", 100)
	return imaging.AdjustSaturation(img, value-100), nil
}

func sharpnessFilter(img image.Image, params Params) (image.Image, error) {
	factor := params.get("value", 100) / 100.0
	switch {
	case factor > 1:
		return imaging.Sharpen(img, factor-1), nil
	case factor < 1 && factor >= 0:
		return imaging.Blur(img, (1-factor)*2), nil
	default:
		return imaging.Clone(img), nil
	}
}

func pixelateFilter(img image.Image, params Params) (image.Image, error) {
	size := int(params.get("pixel_size", 10))
	if size < 1 {
		size = 1
	}
	return applyGift(img, gift.Pixelate(size)), nil
}

func edgeDetectionFilter(img image.Image, _ Params) (image.Image, error) {
	return applyGift(img, gift.Sobel()), nil
}

func embossFilter(img image.Image, _ Params) (image.Image, error) {
	kernel := []float32{
		-2, -1, 0,
		-1, 1, 1,
		0, 1, 2,
	}
	return applyGift(img, gift.Convolution(kernel, false, false, false, 0)), nil
}

func smoothFilter(img image.Image, _ Params) (image.Image, error) {
	return applyGift(img, gift.Mean(3, true)), nil
}
