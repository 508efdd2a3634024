// Package cropper selects the most visually relevant region of an image for
// a caller-specified aspect ratio and crops/resizes to it.
//
// The pipeline is fixed: grayscale conversion, Gaussian noise reduction,
// Canny edge detection, subject detection (Haar-cascade faces with a
// largest-contour fallback, or a vision model when configured), rule-of-thirds
// crop placement, and a final Lanczos resize. Given the same source image,
// target dimensions, and strategy, the face and contour strategies produce
// identical output every time.
package cropper

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"

	"github.com/placekitten/placekitten/pkg/vision"
)

// Pipeline constants. These are empirically chosen and deliberately not
// configurable; changing them changes every crop ever produced.
const (
	blurKernelSize   = 5
	cannyThresholdLo = 50
	cannyThresholdHi = 150
	faceScaleFactor  = 1.1
	faceMinNeighbors = 5
)

// subjectAnchor places the detected subject's center at 2/3 of the crop
// height, a fixed rule-of-thirds composition.
const subjectAnchor = 2.0 / 3.0

// Strategy selects the subject-detection backend.
type Strategy string

const (
	// StrategyFace runs a frontal-face Haar cascade and falls back to the
	// largest contour when no face is found.
	StrategyFace Strategy = "haar-face"
	// StrategyContour selects the bounding box of the largest external
	// contour on the edge map.
	StrategyContour Strategy = "contour"
	// StrategyVision asks a configured vision model for the subject box,
	// falling back to contours when the model reports nothing.
	StrategyVision Strategy = "vision"
)

// CropBox is a rectangle in source-image pixel coordinates. It is always
// fully contained within the source bounds and aspect-locked to the
// requested target dimensions.
type CropBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Width returns the box width in pixels
func (b CropBox) Width() int { return b.X2 - b.X1 }

// Height returns the box height in pixels
func (b CropBox) Height() int { return b.Y2 - b.Y1 }

// Rect converts the box to an image.Rectangle
func (b CropBox) Rect() image.Rectangle { return image.Rect(b.X1, b.Y1, b.X2, b.Y2) }

// SubjectBox identifies a detected face or contour within the source image
type SubjectBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"w"`
	Height int `json:"h"`
}

// Center returns the center point of the subject box
func (s SubjectBox) Center() (int, int) {
	return s.X + s.Width/2, s.Y + s.Height/2
}

// Area returns the subject box area in pixels
func (s SubjectBox) Area() int { return s.Width * s.Height }

// CropInfo describes how a crop was computed
type CropInfo struct {
	OriginalWidth  int         `json:"original_width"`
	OriginalHeight int         `json:"original_height"`
	TargetWidth    int         `json:"target_width"`
	TargetHeight   int         `json:"target_height"`
	CropBox        CropBox     `json:"crop_box"`
	Subject        *SubjectBox `json:"subject,omitempty"`
	SubjectArea    float64     `json:"subject_area"`
	Strategy       Strategy    `json:"strategy"`
	DebugSteps     int         `json:"debug_steps"`
}

// Config holds engine configuration
type Config struct {
	// CascadePath is the Haar cascade classifier file for face detection
	CascadePath string
	// Vision enables the vision-model strategy when non-nil
	Vision *vision.Detector
}

// Engine runs the smart-crop pipeline. An Engine is stateless per call;
// the cascade classifier is loaded lazily and guarded by a mutex because
// OpenCV classifiers are not safe for concurrent detection.
type Engine struct {
	config  Config
	mu      sync.Mutex
	cascade *gocv.CascadeClassifier
}

// DefaultCascadePath is where the frontal-face classifier is looked up when
// no path is configured.
const DefaultCascadePath = "haarcascade_frontalface_default.xml"

// New creates an Engine with default configuration
func New() *Engine {
	return NewWithConfig(Config{CascadePath: DefaultCascadePath})
}

// NewWithConfig creates an Engine with custom configuration
func NewWithConfig(config Config) *Engine {
	if config.CascadePath == "" {
		config.CascadePath = DefaultCascadePath
	}
	return &Engine{config: config}
}

// Close releases the cascade classifier, if one was loaded
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cascade != nil {
		e.cascade.Close()
		e.cascade = nil
	}
}

// Options control a single SmartCrop call
type Options struct {
	// SaveSteps writes the nine intermediate pipeline snapshots to disk
	SaveSteps bool
	// OutputPrefix names the debug snapshot files (default "smart_crop")
	OutputPrefix string
	// OutputFolder receives the debug snapshots (default current directory)
	OutputFolder string
	// Strategy selects subject detection (default StrategyFace)
	Strategy Strategy
}

func (o *Options) fill() {
	if o.OutputPrefix == "" {
		o.OutputPrefix = "smart_crop"
	}
	if o.OutputFolder == "" {
		o.OutputFolder = "."
	}
	if o.Strategy == "" {
		o.Strategy = StrategyFace
	}
}

// SmartCrop crops img to the target dimensions, keeping the detected
// subject in frame. See SmartCropContext for the vision strategy.
func (e *Engine) SmartCrop(img image.Image, targetWidth, targetHeight int, opts Options) (image.Image, CropInfo, error) {
	return e.SmartCropContext(context.Background(), img, targetWidth, targetHeight, opts)
}

// SmartCropContext is SmartCrop with a caller-supplied context, used by the
// vision strategy for its model round-trip.
func (e *Engine) SmartCropContext(ctx context.Context, img image.Image, targetWidth, targetHeight int, opts Options) (image.Image, CropInfo, error) {
	if img == nil {
		return nil, CropInfo{}, fmt.Errorf("nil source image")
	}
	if targetWidth <= 0 || targetHeight <= 0 {
		return nil, CropInfo{}, fmt.Errorf("invalid target dimensions %dx%d", targetWidth, targetHeight)
	}
	opts.fill()

	src := imaging.Clone(img)
	bounds := src.Bounds()
	origW, origH := bounds.Dx(), bounds.Dy()
	if origW == 0 || origH == 0 {
		return nil, CropInfo{}, fmt.Errorf("empty source image")
	}

	rec := newStepRecorder(opts.SaveSteps, opts.OutputPrefix, opts.OutputFolder)
	rec.record("original", src)

	stages, err := runEdgeStages(src)
	if err != nil {
		return nil, CropInfo{}, err
	}
	defer stages.close()

	rec.recordMat("grayscale", stages.gray)
	rec.recordMat("blurred", stages.blurred)
	rec.record("edges", highlightEdges(src, stages.edges))

	subject, area, err := e.detectSubject(ctx, src, stages, opts.Strategy)
	if err != nil {
		return nil, CropInfo{}, err
	}

	rec.record("subject", drawSubjectOutline(src, subject))
	rec.record("bounding-box", drawSubjectFill(src, subject))

	box := calculateOptimalCrop(origW, origH, targetWidth, targetHeight, subject)

	rec.record("thirds-grid", drawThirdsGrid(src, box))
	rec.record("crop-box", drawCropOutline(src, box))

	cropped := imaging.Crop(src, box.Rect())
	final := imaging.Resize(cropped, targetWidth, targetHeight, imaging.Lanczos)

	rec.record("final", final)
	if err := rec.err(); err != nil {
		return nil, CropInfo{}, fmt.Errorf("failed to save debug step: %w", err)
	}

	info := CropInfo{
		OriginalWidth:  origW,
		OriginalHeight: origH,
		TargetWidth:    targetWidth,
		TargetHeight:   targetHeight,
		CropBox:        box,
		Subject:        subject,
		SubjectArea:    area,
		Strategy:       opts.Strategy,
		DebugSteps:     rec.count,
	}
	return final, info, nil
}

// calculateOptimalCrop computes the largest rectangle of the target aspect
// ratio that fits inside the original image. The crop is centered unless a
// subject box exists, in which case the subject's center is placed at
// horizontal center and at 2/3 of the crop height, clamped to the image.
func calculateOptimalCrop(origW, origH, targetW, targetH int, subject *SubjectBox) CropBox {
	targetRatio := float64(targetW) / float64(targetH)
	origRatio := float64(origW) / float64(origH)

	var cropW, cropH int
	if origRatio > targetRatio {
		// Source is wider than target: keep full height, trim width.
		cropH = origH
		cropW = int(float64(origH)*targetRatio + 0.5)
		if cropW > origW {
			cropW = origW
		}
	} else {
		cropW = origW
		cropH = int(float64(origW)/targetRatio + 0.5)
		if cropH > origH {
			cropH = origH
		}
	}

	x := (origW - cropW) / 2
	y := (origH - cropH) / 2

	if subject != nil {
		cx, cy := subject.Center()
		x = cx - cropW/2
		y = cy - int(float64(cropH)*subjectAnchor)
		x = clampInt(x, 0, origW-cropW)
		y = clampInt(y, 0, origH-cropH)
	}

	return CropBox{X1: x, Y1: y, X2: x + cropW, Y2: y + cropH}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
