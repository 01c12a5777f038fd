// Package vision grounds agent clicks in pixels: a detector finds
// interactive elements in a screenshot, the annotator draws numbered
// set-of-marks over them, and the service resolves mark ids back to
// click coordinates.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"time"
)

// Detection is one candidate element found in a screenshot.
type Detection struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Text       string  `json:"text"`
}

// Detector finds interactive elements in a PNG screenshot.
type Detector interface {
	Detect(ctx context.Context, png []byte) ([]Detection, error)
}

const (
	minConfidence = 0.5
	minWidth      = 30
	minHeight     = 15
	maxElements   = 20
)

// interactiveClasses are the element classes worth marking. Anything
// else the detector reports is decoration.
var interactiveClasses = map[string]bool{
	"button":     true,
	"input":      true,
	"link":       true,
	"checkbox":   true,
	"radio":      true,
	"dropdown":   true,
	"slider":     true,
	"tab":        true,
	"menu":       true,
	"navigation": true,
}

// filterDetections keeps interactive, confident, visibly sized elements,
// capped at maxElements.
func filterDetections(dets []Detection) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if !interactiveClasses[d.Class] {
			continue
		}
		if d.Confidence < minConfidence {
			continue
		}
		if d.Width < minWidth || d.Height < minHeight {
			continue
		}
		out = append(out, d)
		if len(out) == maxElements {
			break
		}
	}
	return out
}

// RemoteDetector calls a detection sidecar over HTTP. The sidecar accepts
// {"image": "<base64 png>"} and answers {"detections": [...]}.
type RemoteDetector struct {
	url    string
	client *http.Client
}

// NewRemoteDetector creates a detector for the sidecar at url.
func NewRemoteDetector(url string) *RemoteDetector {
	return &RemoteDetector{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (r *RemoteDetector) Detect(ctx context.Context, png []byte) ([]Detection, error) {
	body, err := json.Marshal(map[string]string{
		"image": base64.StdEncoding.EncodeToString(png),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vision: detector request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vision: detector returned %d", resp.StatusCode)
	}

	var out struct {
		Detections []Detection `json:"detections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("vision: decode detections: %w", err)
	}
	return filterDetections(out.Detections), nil
}

// HeuristicDetector finds rectangular UI regions by edge density. It is
// the fallback when no detection sidecar is configured and errs toward
// fewer, larger candidates.
type HeuristicDetector struct{}

func (HeuristicDetector) Detect(_ context.Context, png []byte) ([]Detection, error) {
	img, _, err := image.Decode(bytes.NewReader(png))
	if err != nil {
		return nil, fmt.Errorf("vision: decode screenshot: %w", err)
	}
	regions := findEdgeRegions(img)

	dets := make([]Detection, 0, len(regions))
	for _, r := range regions {
		dets = append(dets, Detection{
			Class:      "button",
			Confidence: 0.6,
			X:          float64(r.Min.X),
			Y:          float64(r.Min.Y),
			Width:      float64(r.Dx()),
			Height:     float64(r.Dy()),
		})
	}
	return filterDetections(dets), nil
}

// findEdgeRegions scans the luminance image on a coarse grid, marks cells
// with strong horizontal or vertical gradients, and merges adjacent
// marked cells into rectangles.
func findEdgeRegions(img image.Image) []image.Rectangle {
	bounds := img.Bounds()
	const cell = 16
	cols := bounds.Dx() / cell
	rows := bounds.Dy() / cell
	if cols < 2 || rows < 2 {
		return nil
	}

	lum := func(x, y int) int {
		r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
		return int((299*r + 587*g + 114*b) / 1000 >> 8)
	}

	// A cell is "edgy" when its sampled gradient magnitude passes a
	// fixed threshold.
	edgy := make([][]bool, rows)
	for cy := 0; cy < rows; cy++ {
		edgy[cy] = make([]bool, cols)
		for cx := 0; cx < cols; cx++ {
			total := 0
			for dy := 0; dy < cell; dy += 4 {
				for dx := 0; dx < cell; dx += 4 {
					x, y := cx*cell+dx, cy*cell+dy
					if x+1 >= bounds.Dx() || y+1 >= bounds.Dy() {
						continue
					}
					gx := lum(x+1, y) - lum(x, y)
					gy := lum(x, y+1) - lum(x, y)
					if gx < 0 {
						gx = -gx
					}
					if gy < 0 {
						gy = -gy
					}
					total += gx + gy
				}
			}
			edgy[cy][cx] = total > 400
		}
	}

	// Flood-fill connected edgy cells into bounding rectangles.
	seen := make([][]bool, rows)
	for i := range seen {
		seen[i] = make([]bool, cols)
	}
	var regions []image.Rectangle
	for cy := 0; cy < rows; cy++ {
		for cx := 0; cx < cols; cx++ {
			if !edgy[cy][cx] || seen[cy][cx] {
				continue
			}
			minX, minY, maxX, maxY := cx, cy, cx, cy
			stack := [][2]int{{cx, cy}}
			seen[cy][cx] = true
			for len(stack) > 0 {
				c := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if c[0] < minX {
					minX = c[0]
				}
				if c[0] > maxX {
					maxX = c[0]
				}
				if c[1] < minY {
					minY = c[1]
				}
				if c[1] > maxY {
					maxY = c[1]
				}
				for _, d := range [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
					nx, ny := c[0]+d[0], c[1]+d[1]
					if nx < 0 || ny < 0 || nx >= cols || ny >= rows {
						continue
					}
					if edgy[ny][nx] && !seen[ny][nx] {
						seen[ny][nx] = true
						stack = append(stack, [2]int{nx, ny})
					}
				}
			}
			rect := image.Rect(
				bounds.Min.X+minX*cell, bounds.Min.Y+minY*cell,
				bounds.Min.X+(maxX+1)*cell, bounds.Min.Y+(maxY+1)*cell,
			)
			regions = append(regions, rect)
		}
	}
	return regions
}
