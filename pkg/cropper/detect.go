package cropper

import (
	"context"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// edgeStages holds the intermediate mats of the fixed pipeline. The caller
// owns them and must call close.
type edgeStages struct {
	rgb     gocv.Mat
	gray    gocv.Mat
	blurred gocv.Mat
	edges   gocv.Mat
}

func (s *edgeStages) close() {
	s.rgb.Close()
	s.gray.Close()
	s.blurred.Close()
	s.edges.Close()
}

// runEdgeStages converts the source to a mat and runs grayscale, Gaussian
// blur, and Canny edge detection in order.
func runEdgeStages(src image.Image) (*edgeStages, error) {
	rgb, err := gocv.ImageToMatRGB(src)
	if err != nil {
		return nil, fmt.Errorf("failed to convert image: %w", err)
	}

	gray := gocv.NewMat()
	gocv.CvtColor(rgb, &gray, gocv.ColorRGBToGray)

	blurred := gocv.NewMat()
	gocv.GaussianBlur(gray, &blurred, image.Pt(blurKernelSize, blurKernelSize), 0, 0, gocv.BorderDefault)

	edges := gocv.NewMat()
	gocv.Canny(blurred, &edges, cannyThresholdLo, cannyThresholdHi)

	return &edgeStages{rgb: rgb, gray: gray, blurred: blurred, edges: edges}, nil
}

// detectSubject runs the configured detection strategy. A nil subject with
// a nil error means nothing was detected and the crop should center.
func (e *Engine) detectSubject(ctx context.Context, src image.Image, stages *edgeStages, strategy Strategy) (*SubjectBox, float64, error) {
	switch strategy {
	case StrategyFace:
		subject, area, err := e.detectLargestFace(stages.gray)
		if err != nil {
			return nil, 0, err
		}
		if subject != nil {
			return subject, area, nil
		}
		return detectLargestContour(stages.edges)

	case StrategyVision:
		if e.config.Vision == nil {
			return nil, 0, fmt.Errorf("vision strategy requires a configured detector")
		}
		rect, ok, err := e.config.Vision.DetectSubject(ctx, src)
		if err != nil {
			return nil, 0, fmt.Errorf("vision detection failed: %w", err)
		}
		if ok {
			subject := &SubjectBox{X: rect.Min.X, Y: rect.Min.Y, Width: rect.Dx(), Height: rect.Dy()}
			return subject, float64(subject.Area()), nil
		}
		return detectLargestContour(stages.edges)

	default:
		return detectLargestContour(stages.edges)
	}
}

// loadCascade lazily loads the Haar cascade. Load failure is an error, not
// an empty detection: a silently missing classifier would be
// indistinguishable from "zero faces found".
func (e *Engine) loadCascade() (*gocv.CascadeClassifier, error) {
	if e.cascade != nil {
		return e.cascade, nil
	}
	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(e.config.CascadePath) {
		classifier.Close()
		return nil, fmt.Errorf("failed to load face cascade from %q", e.config.CascadePath)
	}
	e.cascade = &classifier
	return e.cascade, nil
}

// detectLargestFace runs the frontal-face cascade on the grayscale mat and
// returns the largest face by area, or nil when no face is found.
func (e *Engine) detectLargestFace(gray gocv.Mat) (*SubjectBox, float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	classifier, err := e.loadCascade()
	if err != nil {
		return nil, 0, err
	}

	rects := classifier.DetectMultiScaleWithParams(
		gray, faceScaleFactor, faceMinNeighbors, 0, image.Pt(0, 0), image.Pt(0, 0))
	if len(rects) == 0 {
		return nil, 0, nil
	}

	best := rects[0]
	bestArea := best.Dx() * best.Dy()
	for _, r := range rects[1:] {
		if a := r.Dx() * r.Dy(); a > bestArea {
			best = r
			bestArea = a
		}
	}

	subject := &SubjectBox{X: best.Min.X, Y: best.Min.Y, Width: best.Dx(), Height: best.Dy()}
	return subject, float64(bestArea), nil
}

// detectLargestContour finds external contours on the edge map and returns
// the bounding rectangle of the one with the largest enclosed area.
func detectLargestContour(edges gocv.Mat) (*SubjectBox, float64, error) {
	contours := gocv.FindContours(edges, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	if contours.Size() == 0 {
		return nil, 0, nil
	}

	bestIdx := 0
	bestArea := gocv.ContourArea(contours.At(0))
	for i := 1; i < contours.Size(); i++ {
		if a := gocv.ContourArea(contours.At(i)); a > bestArea {
			bestIdx = i
			bestArea = a
		}
	}

	rect := gocv.BoundingRect(contours.At(bestIdx))
	subject := &SubjectBox{X: rect.Min.X, Y: rect.Min.Y, Width: rect.Dx(), Height: rect.Dy()}
	return subject, bestArea, nil
}
