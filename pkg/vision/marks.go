package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/webpilot-ai/webpilot/pkg/models"
)

// markPalette colors the numbered badges. A mark's color is keyed by its
// id modulo the palette size, so colors repeat after eight elements.
var markPalette = []color.RGBA{
	{R: 0xE6, G: 0x3B, B: 0x2E, A: 0xFF}, // red
	{R: 0x2E, G: 0x7D, B: 0x32, A: 0xFF}, // green
	{R: 0x15, G: 0x65, B: 0xC0, A: 0xFF}, // blue
	{R: 0xF5, G: 0x7F, B: 0x17, A: 0xFF}, // orange
	{R: 0x6A, G: 0x1B, B: 0x9A, A: 0xFF}, // purple
	{R: 0x00, G: 0x83, B: 0x8F, A: 0xFF}, // teal
	{R: 0xC2, G: 0x18, B: 0x5B, A: 0xFF}, // pink
	{R: 0x4E, G: 0x34, B: 0x2E, A: 0xFF}, // brown
}

const markRadius = 12 // 24px diameter badge

// Annotate draws a set of marks over the screenshot: each detection gets
// a colored bounding box and a numbered badge at its top-left corner.
// Mark ids are dense and 1-indexed in detection order. Returns the
// annotated PNG and the mark table.
func Annotate(screenshot []byte, detections []Detection) ([]byte, []models.MarkedElement, error) {
	src, _, err := image.Decode(bytes.NewReader(screenshot))
	if err != nil {
		return nil, nil, fmt.Errorf("vision: decode screenshot: %w", err)
	}

	canvas := image.NewRGBA(src.Bounds())
	draw.Draw(canvas, canvas.Bounds(), src, src.Bounds().Min, draw.Src)

	marks := make([]models.MarkedElement, 0, len(detections))
	for i, det := range detections {
		markID := i + 1
		c := markPalette[markID%len(markPalette)]

		box := image.Rect(int(det.X), int(det.Y), int(det.X+det.Width), int(det.Y+det.Height))
		drawRectOutline(canvas, box, c, 2)
		drawBadge(canvas, box.Min.X, box.Min.Y, markID, c)

		marks = append(marks, models.MarkedElement{
			MarkID:      markID,
			ElementType: det.Class,
			BoundingBox: models.BoundingBox{X: det.X, Y: det.Y, Width: det.Width, Height: det.Height},
			Center:      models.Point{X: det.X + det.Width/2, Y: det.Y + det.Height/2},
			Text:        det.Text,
			Confidence:  det.Confidence,
		})
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, nil, fmt.Errorf("vision: encode annotated image: %w", err)
	}
	return buf.Bytes(), marks, nil
}

func drawRectOutline(img *image.RGBA, r image.Rectangle, c color.RGBA, thickness int) {
	r = r.Intersect(img.Bounds())
	for t := 0; t < thickness; t++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			setPixel(img, x, r.Min.Y+t, c)
			setPixel(img, x, r.Max.Y-1-t, c)
		}
		for y := r.Min.Y; y < r.Max.Y; y++ {
			setPixel(img, r.Min.X+t, y, c)
			setPixel(img, r.Max.X-1-t, y, c)
		}
	}
}

// drawBadge paints a filled circle centered on (cx, cy) with the mark
// number in white.
func drawBadge(img *image.RGBA, cx, cy, markID int, c color.RGBA) {
	for dy := -markRadius; dy <= markRadius; dy++ {
		for dx := -markRadius; dx <= markRadius; dx++ {
			if dx*dx+dy*dy <= markRadius*markRadius {
				setPixel(img, cx+dx, cy+dy, c)
			}
		}
	}

	label := fmt.Sprintf("%d", markID)
	face := basicfont.Face7x13
	width := font.MeasureString(face, label).Ceil()
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: face,
		Dot: fixed.P(
			cx-width/2,
			cy+face.Metrics().Ascent.Ceil()/2-1,
		),
	}
	d.DrawString(label)
}

func setPixel(img *image.RGBA, x, y int, c color.RGBA) {
	if image.Pt(x, y).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}
