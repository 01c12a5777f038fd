package models

// BoundingBox is an element's pixel rectangle within a screenshot.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Point is a pixel coordinate within a screenshot. Coordinates are kept
// fractional; bounding rects and viewport positions rarely land on whole
// pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// MarkedElement is one numbered overlay produced by the vision stage.
// Mark ids are 1-indexed and dense within a single screenshot; they are not
// comparable across screenshots.
type MarkedElement struct {
	MarkID      int         `json:"mark_id"`
	ElementType string      `json:"element_type"`
	BoundingBox BoundingBox `json:"bounding_box"`
	Center      Point       `json:"center"`
	Text        string      `json:"text,omitempty"`
	Confidence  float64     `json:"confidence"`
}
