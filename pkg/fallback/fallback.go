// Package fallback produces business-appropriate placeholder images for
// missing presentation assets. Image selection is hash-based rather than
// random so repeated builds of the same deck stay visually stable, and
// results are cached on disk keyed by dimensions, image id, styling, and
// context.
//
// This is the one layer that swallows errors: a missing fallback image is
// cosmetic, so every generation failure is logged and reported as "no
// fallback available" instead of propagating.
package fallback

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/placekitten/placekitten"
	"github.com/placekitten/placekitten/internal/utils"
	"github.com/placekitten/placekitten/pkg/filters"
)

// Professional styling constants. These define the house look of fallback
// images; changing them breaks visual consistency with existing decks.
const (
	styleContrast   = 95
	styleBrightness = 105
)

// timeBucketSeconds is the coarse bucket used when no context is available,
// so back-to-back builds still reuse the same image.
const timeBucketSeconds = 10

// Context identifies where in a presentation the fallback image will land.
// SlideIndex is 1-based; zero means unknown.
type Context struct {
	SlideIndex int
	Layout     string
	FieldName  string
}

// Integration generates and caches styled fallback images
type Integration struct {
	kitten   *placekitten.PlaceKitten
	cacheDir string
	logger   *slog.Logger
	now      func() time.Time
}

// Option customizes an Integration
type Option func(*Integration)

// WithLogger sets the logger used for degradation warnings
func WithLogger(logger *slog.Logger) Option {
	return func(g *Integration) { g.logger = logger }
}

// WithClock overrides the time source used for the no-context bucket
func WithClock(now func() time.Time) Option {
	return func(g *Integration) { g.now = now }
}

// New creates an Integration writing cached images into cacheDir
func New(kitten *placekitten.PlaceKitten, cacheDir string, opts ...Option) *Integration {
	g := &Integration{
		kitten:   kitten,
		cacheDir: cacheDir,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// FallbackImage returns the path of a styled fallback image for the given
// dimensions and context, or "" when no fallback could be produced. It
// never returns an error; failures are logged and degraded.
func (g *Integration) FallbackImage(width, height int, ctx *Context) string {
	path, err := g.generate(width, height, ctx)
	if err != nil {
		g.logger.Warn("fallback image generation failed",
			"width", width, "height", height, "error", err)
		return ""
	}
	return path
}

func (g *Integration) generate(width, height int, ctx *Context) (string, error) {
	if width <= 0 || height <= 0 {
		return "", fmt.Errorf("invalid fallback dimensions %dx%d", width, height)
	}

	count, err := g.kitten.ImageCount()
	if err != nil {
		return "", fmt.Errorf("failed to count source images: %w", err)
	}
	if count == 0 {
		return "", fmt.Errorf("no source images available")
	}

	id := g.selectImageID(ctx, count)

	key := g.CacheKey(width, height, id, ctx)
	cachePath := filepath.Join(g.cacheDir, key+".jpg")
	if utils.FileExists(cachePath) {
		return cachePath, nil
	}

	proc, err := g.kitten.Generate(placekitten.GenerateOptions{
		Width:   width,
		Height:  height,
		ImageID: id,
	})
	if err != nil {
		return "", err
	}

	// House styling: grayscale, then slightly flattened contrast and a
	// small brightness lift.
	proc, err = proc.ApplyFilter("grayscale", nil)
	if err != nil {
		return "", err
	}
	proc, err = proc.ApplyFilter("contrast", filters.Params{"value": styleContrast})
	if err != nil {
		return "", err
	}
	proc, err = proc.ApplyFilter("brightness", filters.Params{"value": styleBrightness})
	if err != nil {
		return "", err
	}

	if err := utils.EnsureDir(g.cacheDir); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}

	// Write-then-rename so a crashed write never leaves a partial file
	// that later existence checks would serve as a cache hit.
	tmpPath := cachePath + ".partial.jpg"
	saved, err := proc.Save(tmpPath, "high")
	if err != nil {
		return "", err
	}
	if err := os.Rename(saved, cachePath); err != nil {
		os.Remove(saved)
		return "", fmt.Errorf("failed to finalize cache file: %w", err)
	}

	return cachePath, nil
}

// selectImageID maps the request context onto a stable 1-based image id
func (g *Integration) selectImageID(ctx *Context, count int) int {
	s := contextString(ctx, g.now())
	h := fnv.New32a()
	h.Write([]byte(s))
	return int(h.Sum32()%uint32(count)) + 1
}

// contextString builds the hash input from the available context fields in
// priority order, or a coarse time bucket when none are present.
func contextString(ctx *Context, now time.Time) string {
	var parts []string
	if ctx != nil {
		if ctx.SlideIndex > 0 {
			parts = append(parts, fmt.Sprintf("slide_%d", ctx.SlideIndex))
		}
		if ctx.Layout != "" {
			parts = append(parts, "layout_"+ctx.Layout)
		}
		if ctx.FieldName != "" {
			parts = append(parts, "field_"+ctx.FieldName)
		}
	}
	if len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("bucket_%d", now.Unix()/timeBucketSeconds))
	}
	return strings.Join(parts, "_")
}

// CacheKey builds the sanitized cache key for a fallback request. Two
// requests with identical dimensions and context always share a key.
func (g *Integration) CacheKey(width, height, imageID int, ctx *Context) string {
	parts := []string{
		"fallback",
		fmt.Sprintf("%dx%d", width, height),
		fmt.Sprintf("id%d", imageID),
		"grayscale",
		fmt.Sprintf("c%d", styleContrast),
		fmt.Sprintf("b%d", styleBrightness),
	}
	if ctx != nil {
		if ctx.SlideIndex > 0 {
			parts = append(parts, fmt.Sprintf("slide%d", ctx.SlideIndex))
		}
		if ctx.Layout != "" {
			parts = append(parts, ctx.Layout)
		}
		if ctx.FieldName != "" {
			parts = append(parts, ctx.FieldName)
		}
	}
	return utils.SanitizeFilename(strings.Join(parts, "_"))
}

// CleanupCache removes cached fallback images and returns how many were
// deleted. Cache entries are never invalidated automatically; this is the
// manual escape hatch.
func (g *Integration) CleanupCache() (int, error) {
	entries, err := os.ReadDir(g.cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, "fallback_") || !strings.HasSuffix(name, ".jpg") {
			continue
		}
		if err := os.Remove(filepath.Join(g.cacheDir, name)); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
