// Package vision detects the primary subject of an image using a hosted
// vision model. It is an optional detection backend for the smart-crop
// engine; the classical face/contour pipeline never touches it.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/disintegration/imaging"
)

// Box is a normalized bounding box with coordinates in [0,1] range
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Subject is the primary subject reported by the vision model
type Subject struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// Result contains the complete analysis result from the vision model
type Result struct {
	Primary     Subject  `json:"primary"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// Client is a vision-model backend
type Client interface {
	AnalyzeImage(ctx context.Context, model, prompt, imgB64 string) (*Result, error)
}

// DefaultPrompt asks the model for a tight subject box as strict JSON.
const DefaultPrompt = `You are an image subject locator.

Return JSON only:
{
  "primary": {
    "label": "string",
    "confidence": 0.0,
    "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0}
  },
  "description": "short neutral sentence",
  "tags": ["tag1", "tag2", "tag3"]
}

HARD RULES
- All coordinates are normalized to [0,1] (NOT pixels).
- The box should tightly include the visually dominant subject (prefer
  people/animals/vehicles; else the most central salient object).
- If no subject is found, return label "none" with confidence 0.0.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// maxUploadDim caps the long side of the image sent to the model.
const maxUploadDim = 1024

// Detector turns vision-model responses into pixel subject boxes
type Detector struct {
	client Client
	model  string
}

// NewDetector creates a detector backed by the given client and model
func NewDetector(client Client, model string) *Detector {
	return &Detector{client: client, model: model}
}

// DetectSubject analyzes an image and returns the primary subject box in
// source-image pixel coordinates. ok is false when the model reports no
// subject.
func (d *Detector) DetectSubject(ctx context.Context, img image.Image) (rect image.Rectangle, ok bool, err error) {
	imgB64, err := encodeForModel(img)
	if err != nil {
		return image.Rectangle{}, false, fmt.Errorf("failed to encode image for model: %w", err)
	}

	result, err := d.client.AnalyzeImage(ctx, d.model, DefaultPrompt, imgB64)
	if err != nil {
		return image.Rectangle{}, false, err
	}

	if result.Primary.Label == "none" || result.Primary.Confidence <= 0 {
		return image.Rectangle{}, false, nil
	}

	bounds := img.Bounds()
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	box := result.Primary.Box

	x0 := int(clamp(box.X, 0, 1)*w + 0.5)
	y0 := int(clamp(box.Y, 0, 1)*h + 0.5)
	x1 := int(clamp(box.X+box.W, 0, 1)*w + 0.5)
	y1 := int(clamp(box.Y+box.H, 0, 1)*h + 0.5)

	r := image.Rect(x0, y0, x1, y1)
	if r.Empty() {
		return image.Rectangle{}, false, nil
	}
	return r, true, nil
}

// encodeForModel downscales the image and returns it as base64 JPEG
func encodeForModel(img image.Image) (string, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w > maxUploadDim || h > maxUploadDim {
		if w >= h {
			img = imaging.Resize(img, maxUploadDim, 0, imaging.Lanczos)
		} else {
			img = imaging.Resize(img, 0, maxUploadDim, imaging.Lanczos)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
