package fallback

import (
	"image"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"github.com/placekitten/placekitten"
	"github.com/placekitten/placekitten/pkg/cropper"
)

func createSourceDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for i, name := range []string{"cat_one.jpg", "cat_two.jpg", "cat_three.jpg"} {
		img := image.NewNRGBA(image.Rect(0, 0, 400, 300))
		for y := 0; y < 300; y++ {
			for x := 0; x < 400; x++ {
				img.Set(x, y, color.NRGBA{uint8((x + i*40) % 256), uint8(y % 256), 90, 255})
			}
		}
		if err := imaging.Save(img, filepath.Join(dir, name)); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func newIntegration(t *testing.T, opts ...Option) (*Integration, string) {
	t.Helper()
	cacheDir := t.TempDir()
	pk := placekitten.New(placekitten.WithSourceDir(createSourceDir(t)))
	opts = append([]Option{WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	return New(pk, cacheDir, opts...), cacheDir
}

func TestCacheKeyStable(t *testing.T) {
	g, _ := newIntegration(t)
	ctx := &Context{SlideIndex: 3, Layout: "Title Slide", FieldName: "hero"}

	a := g.CacheKey(800, 600, 2, ctx)
	b := g.CacheKey(800, 600, 2, ctx)
	if a != b {
		t.Errorf("same request produced different keys: %q vs %q", a, b)
	}
	if !strings.HasPrefix(a, "fallback_800x600_id2_grayscale_c95_b105") {
		t.Errorf("unexpected key shape: %q", a)
	}
	if strings.Contains(a, " ") {
		t.Errorf("key not sanitized: %q", a)
	}
}

func TestCacheKeyVariesWithRequest(t *testing.T) {
	g, _ := newIntegration(t)
	base := g.CacheKey(800, 600, 1, nil)

	if g.CacheKey(400, 600, 1, nil) == base {
		t.Error("key ignores width")
	}
	if g.CacheKey(800, 600, 2, nil) == base {
		t.Error("key ignores image id")
	}
	if g.CacheKey(800, 600, 1, &Context{SlideIndex: 7}) == base {
		t.Error("key ignores context")
	}
}

func TestContextStringPriority(t *testing.T) {
	now := time.Unix(1_000_000, 0)

	full := contextString(&Context{SlideIndex: 2, Layout: "Body", FieldName: "img"}, now)
	if full != "slide_2_layout_Body_field_img" {
		t.Errorf("context string = %q", full)
	}

	empty := contextString(nil, now)
	if !strings.HasPrefix(empty, "bucket_") {
		t.Errorf("empty context should fall back to a time bucket, got %q", empty)
	}
}

func TestSelectImageIDStable(t *testing.T) {
	g, _ := newIntegration(t, WithClock(func() time.Time { return time.Unix(500, 0) }))
	ctx := &Context{SlideIndex: 4, Layout: "Closing"}

	a := g.selectImageID(ctx, 3)
	b := g.selectImageID(ctx, 3)
	if a != b {
		t.Errorf("same context mapped to different ids: %d vs %d", a, b)
	}
	if a < 1 || a > 3 {
		t.Errorf("id %d out of 1-based range", a)
	}
}

func TestSelectImageIDTimeBucket(t *testing.T) {
	clock := time.Unix(1000, 0)
	g, _ := newIntegration(t, WithClock(func() time.Time { return clock }))

	a := g.selectImageID(nil, 100)
	clock = clock.Add(3 * time.Second) // same 10s bucket
	b := g.selectImageID(nil, 100)
	if a != b {
		t.Errorf("ids differ within one time bucket: %d vs %d", a, b)
	}
}

func TestFallbackImageCacheHit(t *testing.T) {
	clock := time.Unix(2000, 0)
	g, cacheDir := newIntegration(t, WithClock(func() time.Time { return clock }))
	ctx := &Context{SlideIndex: 1, Layout: "Title", FieldName: "main"}

	// Pre-seed the cache entry the request would produce. The existence
	// check must short-circuit before any generation happens.
	count := 3
	id := g.selectImageID(ctx, count)
	key := g.CacheKey(640, 480, id, ctx)
	seeded := filepath.Join(cacheDir, key+".jpg")
	if err := os.WriteFile(seeded, []byte("cached"), 0o644); err != nil {
		t.Fatal(err)
	}

	got := g.FallbackImage(640, 480, ctx)
	if got != seeded {
		t.Errorf("FallbackImage = %q, want cached path %q", got, seeded)
	}
}

func TestFallbackImageGenerates(t *testing.T) {
	if _, err := os.Stat(cropper.DefaultCascadePath); err != nil {
		t.Skipf("cascade file %s not available", cropper.DefaultCascadePath)
	}

	g, cacheDir := newIntegration(t)
	ctx := &Context{SlideIndex: 5, Layout: "Body", FieldName: "photo"}

	path := g.FallbackImage(320, 240, ctx)
	if path == "" {
		t.Fatal("expected a generated fallback path")
	}
	if filepath.Dir(path) != cacheDir {
		t.Errorf("fallback written outside cache dir: %s", path)
	}

	img, err := imaging.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 320 || img.Bounds().Dy() != 240 {
		t.Errorf("fallback is %v, want 320x240", img.Bounds())
	}
	c := color.NRGBAModel.Convert(img.At(50, 50)).(color.NRGBA)
	if c.R != c.G || c.G != c.B {
		t.Errorf("fallback styling is not grayscale: %+v", c)
	}

	// Second call must serve the same cached file.
	if again := g.FallbackImage(320, 240, ctx); again != path {
		t.Errorf("repeat request produced %q, want cached %q", again, path)
	}
}

func TestFallbackImageDegradesToEmpty(t *testing.T) {
	pk := placekitten.New(placekitten.WithSourceDir(filepath.Join(t.TempDir(), "missing")))
	g := New(pk, t.TempDir(), WithLogger(slog.New(slog.DiscardHandler)))

	if got := g.FallbackImage(640, 480, nil); got != "" {
		t.Errorf("expected empty path when sources are missing, got %q", got)
	}

	if got := g.FallbackImage(0, 480, nil); got != "" {
		t.Errorf("expected empty path for invalid dimensions, got %q", got)
	}
}

func TestCleanupCache(t *testing.T) {
	g, cacheDir := newIntegration(t)

	for _, name := range []string{
		"fallback_800x600_id1_grayscale_c95_b105.jpg",
		"fallback_400x300_id2_grayscale_c95_b105.jpg",
	} {
		if err := os.WriteFile(filepath.Join(cacheDir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	keep := filepath.Join(cacheDir, "unrelated.txt")
	if err := os.WriteFile(keep, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	removed, err := g.CleanupCache()
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Errorf("removed %d files, want 2", removed)
	}
	if _, err := os.Stat(keep); err != nil {
		t.Error("cleanup removed an unrelated file")
	}

	// Cleaning an empty or missing cache dir is not an error.
	g2 := New(placekitten.New(), filepath.Join(t.TempDir(), "missing"),
		WithLogger(slog.New(slog.DiscardHandler)))
	if n, err := g2.CleanupCache(); err != nil || n != 0 {
		t.Errorf("missing dir cleanup = (%d, %v), want (0, nil)", n, err)
	}
}
