package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/webpilot-ai/webpilot/pkg/models"
)

var (
	// ErrUnavailable means no screenshot has been analyzed yet, so no
	// marks exist to resolve.
	ErrUnavailable = errors.New("vision: no analysis available")
	// ErrMarkNotFound means the mark id is outside the current mark table.
	ErrMarkNotFound = errors.New("vision: mark not found")
)

// Analysis is the result of one screenshot pass.
type Analysis struct {
	AnnotatedBase64 string
	Marks           []models.MarkedElement
	Description     string
}

// Service runs detection over screenshots and keeps the latest mark table
// for click resolution. Marks from one analysis stay valid until the next
// analysis replaces them.
type Service struct {
	detector Detector

	mu    sync.RWMutex
	marks []models.MarkedElement
}

// NewService creates a vision service over the given detector.
func NewService(detector Detector) *Service {
	return &Service{detector: detector}
}

// AnalyzeScreenshot detects interactive elements, annotates the
// screenshot with numbered marks, and replaces the current mark table.
func (s *Service) AnalyzeScreenshot(ctx context.Context, screenshot []byte) (*Analysis, error) {
	detections, err := s.detector.Detect(ctx, screenshot)
	if err != nil {
		return nil, err
	}

	annotated, marks, err := Annotate(screenshot, detections)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.marks = marks
	s.mu.Unlock()

	slog.Info("Screenshot analyzed", "elements", len(marks))
	return &Analysis{
		AnnotatedBase64: base64.StdEncoding.EncodeToString(annotated),
		Marks:           marks,
		Description:     describeMarks(marks),
	}, nil
}

// ClickCoordinates resolves a mark id from the latest analysis to the
// element's center point.
func (s *Service) ClickCoordinates(markID int) (models.Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.marks == nil {
		return models.Point{}, ErrUnavailable
	}
	if markID < 1 || markID > len(s.marks) {
		return models.Point{}, fmt.Errorf("%w: mark %d of %d", ErrMarkNotFound, markID, len(s.marks))
	}
	return s.marks[markID-1].Center, nil
}

// Marks returns the current mark table.
func (s *Service) Marks() []models.MarkedElement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.MarkedElement(nil), s.marks...)
}

// describeMarks renders the mark table as one line per element for the
// planner prompt.
func describeMarks(marks []models.MarkedElement) string {
	if len(marks) == 0 {
		return "No interactive elements detected."
	}
	var b strings.Builder
	for _, m := range marks {
		fmt.Fprintf(&b, "[%d] %s", m.MarkID, m.ElementType)
		if m.Text != "" {
			text := m.Text
			if len(text) > 60 {
				text = text[:60] + "..."
			}
			fmt.Fprintf(&b, " %q", text)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
