package vision

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"
)

type fakeClient struct {
	result *Result
	err    error
}

func (f *fakeClient) AnalyzeImage(_ context.Context, _, _, _ string) (*Result, error) {
	return f.result, f.err
}

func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{128, 128, 128, 255})
		}
	}
	return img
}

func TestDetectSubjectMapsToPixels(t *testing.T) {
	client := &fakeClient{result: &Result{
		Primary: Subject{
			Label:      "cat",
			Confidence: 0.9,
			Box:        Box{X: 0.25, Y: 0.5, W: 0.5, H: 0.25},
		},
	}}
	d := NewDetector(client, "test-model")

	rect, ok, err := d.DetectSubject(context.Background(), createTestImage(400, 200))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected a subject")
	}
	want := image.Rect(100, 100, 300, 150)
	if rect != want {
		t.Errorf("rect = %v, want %v", rect, want)
	}
}

func TestDetectSubjectClampsOverflow(t *testing.T) {
	client := &fakeClient{result: &Result{
		Primary: Subject{
			Label:      "dog",
			Confidence: 0.8,
			Box:        Box{X: 0.8, Y: 0.8, W: 0.5, H: 0.5},
		},
	}}
	d := NewDetector(client, "test-model")

	rect, ok, err := d.DetectSubject(context.Background(), createTestImage(100, 100))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected a subject")
	}
	if rect.Max.X > 100 || rect.Max.Y > 100 {
		t.Errorf("rect %v exceeds image bounds", rect)
	}
}

func TestDetectSubjectNone(t *testing.T) {
	client := &fakeClient{result: noSubject("nothing here")}
	d := NewDetector(client, "test-model")

	_, ok, err := d.DetectSubject(context.Background(), createTestImage(100, 100))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected ok=false for label none")
	}
}

func TestDetectSubjectZeroConfidence(t *testing.T) {
	client := &fakeClient{result: &Result{
		Primary: Subject{Label: "maybe", Confidence: 0, Box: Box{X: 0.1, Y: 0.1, W: 0.5, H: 0.5}},
	}}
	d := NewDetector(client, "test-model")

	_, ok, err := d.DetectSubject(context.Background(), createTestImage(100, 100))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected ok=false for zero confidence")
	}
}

func TestDetectSubjectClientError(t *testing.T) {
	client := &fakeClient{err: errors.New("connection refused")}
	d := NewDetector(client, "test-model")

	_, _, err := d.DetectSubject(context.Background(), createTestImage(100, 100))
	if err == nil {
		t.Error("expected client error to propagate")
	}
}

func TestParseResultCleanJSON(t *testing.T) {
	raw := `{"primary":{"label":"cat","confidence":0.95,"box":{"x":0.1,"y":0.2,"w":0.3,"h":0.4}},"description":"a cat","tags":["cat"]}`
	result, err := parseResult(raw)
	if err != nil {
		t.Fatal(err)
	}
	if result.Primary.Label != "cat" || result.Primary.Confidence != 0.95 {
		t.Errorf("unexpected primary: %+v", result.Primary)
	}
	if result.Primary.Box.W != 0.3 {
		t.Errorf("box width = %v, want 0.3", result.Primary.Box.W)
	}
}

func TestParseResultCodeFences(t *testing.T) {
	raw := "```json\n{\"primary\":{\"label\":\"dog\",\"confidence\":0.7,\"box\":{\"x\":0,\"y\":0,\"w\":1,\"h\":1}}}\n```"
	result, err := parseResult(raw)
	if err != nil {
		t.Fatal(err)
	}
	if result.Primary.Label != "dog" {
		t.Errorf("label = %q, want dog", result.Primary.Label)
	}
}

func TestParseResultTrailingCommasAndComments(t *testing.T) {
	raw := `{
  "primary": {
    "label": "bird", // the subject
    "confidence": 0.6,
    "box": {"x": 0.1, "y": 0.1, "w": 0.2, "h": 0.2,},
  },
}`
	result, err := parseResult(raw)
	if err != nil {
		t.Fatal(err)
	}
	if result.Primary.Label != "bird" {
		t.Errorf("label = %q, want bird", result.Primary.Label)
	}
}

func TestParseResultGarbage(t *testing.T) {
	result, err := parseResult("I could not find anything interesting in this image.")
	if err != nil {
		t.Fatal(err)
	}
	if result.Primary.Label != "none" || result.Primary.Confidence != 0 {
		t.Errorf("garbage input should degrade to no subject, got %+v", result.Primary)
	}
}

func TestParseResultSurroundingProse(t *testing.T) {
	raw := `Here is the analysis: {"primary":{"label":"fox","confidence":0.8,"box":{"x":0.2,"y":0.2,"w":0.4,"h":0.4}}} hope that helps`
	result, err := parseResult(raw)
	if err != nil {
		t.Fatal(err)
	}
	if result.Primary.Label != "fox" {
		t.Errorf("label = %q, want fox", result.Primary.Label)
	}
}
