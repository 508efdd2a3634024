package cropper

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
)

// Marker colors for the debug overlays
var (
	edgeColor    = color.NRGBA{0, 255, 0, 255}
	subjectColor = color.NRGBA{0, 255, 0, 255}
	fillColor    = color.NRGBA{255, 204, 0, 255}
	gridColor    = color.NRGBA{0, 170, 255, 255}
	cropColor    = color.NRGBA{255, 0, 0, 255}
)

// stepRecorder writes the ordered pipeline snapshots to disk. Each recorded
// step becomes {prefix}_{n}-{label}.jpg; tooling inspecting crop quality
// depends on that naming.
type stepRecorder struct {
	enabled bool
	prefix  string
	folder  string
	count   int
	saveErr error
}

func newStepRecorder(enabled bool, prefix, folder string) *stepRecorder {
	return &stepRecorder{enabled: enabled, prefix: prefix, folder: folder}
}

func (r *stepRecorder) record(label string, img image.Image) {
	if !r.enabled || r.saveErr != nil || img == nil {
		return
	}
	if err := os.MkdirAll(r.folder, 0755); err != nil {
		r.saveErr = err
		return
	}
	r.count++
	path := filepath.Join(r.folder, fmt.Sprintf("%s_%d-%s.jpg", r.prefix, r.count, label))
	if err := imaging.Save(img, path, imaging.JPEGQuality(92)); err != nil {
		r.saveErr = err
	}
}

func (r *stepRecorder) recordMat(label string, mat gocv.Mat) {
	if !r.enabled || r.saveErr != nil {
		return
	}
	img, err := mat.ToImage()
	if err != nil {
		r.saveErr = err
		return
	}
	r.record(label, img)
}

func (r *stepRecorder) err() error {
	return r.saveErr
}

func strokeFor(img *image.NRGBA) int {
	minDim := img.Bounds().Dx()
	if h := img.Bounds().Dy(); h < minDim {
		minDim = h
	}
	return int(math.Max(2, 0.004*float64(minDim)))
}

// highlightEdges paints detected edge pixels onto a copy of the source in
// the marker color.
func highlightEdges(src image.Image, edges gocv.Mat) image.Image {
	out := imaging.Clone(src)
	edgeImg, err := edges.ToImage()
	if err != nil {
		return out
	}
	gray, ok := edgeImg.(*image.Gray)
	if !ok {
		return out
	}

	b := gray.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if gray.GrayAt(x, y).Y > 0 {
				out.SetNRGBA(x-b.Min.X, y-b.Min.Y, edgeColor)
			}
		}
	}
	return out
}

func drawSubjectOutline(src image.Image, subject *SubjectBox) image.Image {
	out := imaging.Clone(src)
	if subject == nil {
		return out
	}
	rect := image.Rect(subject.X, subject.Y, subject.X+subject.Width, subject.Y+subject.Height)
	drawRectOutline(out, rect, subjectColor, strokeFor(out))
	return out
}

func drawSubjectFill(src image.Image, subject *SubjectBox) image.Image {
	out := imaging.Clone(src)
	if subject == nil {
		return out
	}
	rect := image.Rect(subject.X, subject.Y, subject.X+subject.Width, subject.Y+subject.Height)
	fillRectBlend(out, rect, fillColor)
	return out
}

func drawThirdsGrid(src image.Image, box CropBox) image.Image {
	out := imaging.Clone(src)
	stroke := strokeFor(out)
	rect := box.Rect()
	drawRectOutline(out, rect, gridColor, stroke)

	w, h := box.Width(), box.Height()
	for i := 1; i <= 2; i++ {
		x := box.X1 + i*w/3
		y := box.Y1 + i*h/3
		for s := 0; s < stroke; s++ {
			drawVLine(out, x+s, box.Y1, box.Y2, gridColor)
			drawHLine(out, y+s, box.X1, box.X2, gridColor)
		}
	}
	return out
}

func drawCropOutline(src image.Image, box CropBox) image.Image {
	out := imaging.Clone(src)
	drawRectOutline(out, box.Rect(), cropColor, strokeFor(out))
	return out
}

func drawRectOutline(img *image.NRGBA, rect image.Rectangle, c color.NRGBA, stroke int) {
	for s := 0; s < stroke; s++ {
		drawHLine(img, rect.Min.Y+s, rect.Min.X, rect.Max.X, c)
		drawHLine(img, rect.Max.Y-1-s, rect.Min.X, rect.Max.X, c)
		drawVLine(img, rect.Min.X+s, rect.Min.Y, rect.Max.Y, c)
		drawVLine(img, rect.Max.X-1-s, rect.Min.Y, rect.Max.Y, c)
	}
}

// fillRectBlend blends the fill color over the rectangle at half opacity so
// the underlying pixels stay visible.
func fillRectBlend(img *image.NRGBA, rect image.Rectangle, c color.NRGBA) {
	rect = rect.Intersect(image.Rect(0, 0, img.Bounds().Dx(), img.Bounds().Dy()))
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		i := y*img.Stride + rect.Min.X*4
		for x := rect.Min.X; x < rect.Max.X; x++ {
			img.Pix[i+0] = uint8((uint16(img.Pix[i+0]) + uint16(c.R)) / 2)
			img.Pix[i+1] = uint8((uint16(img.Pix[i+1]) + uint16(c.G)) / 2)
			img.Pix[i+2] = uint8((uint16(img.Pix[i+2]) + uint16(c.B)) / 2)
			i += 4
		}
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x1 <= 0 || x0 >= img.Bounds().Dx() {
		return
	}
	if x0 < 0 {
		x0 = 0
	}
	if x1 > img.Bounds().Dx() {
		x1 = img.Bounds().Dx()
	}
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	if y1 <= 0 || y0 >= img.Bounds().Dy() {
		return
	}
	if y0 < 0 {
		y0 = 0
	}
	if y1 > img.Bounds().Dy() {
		y1 = img.Bounds().Dy()
	}
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}
