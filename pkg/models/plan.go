package models

import (
	"fmt"
	"time"
)

// CachedActionType discriminates the closed set of replayable actions.
type CachedActionType string

const (
	CachedClick    CachedActionType = "click"
	CachedTypeText CachedActionType = "type_text"
	CachedKeyPress CachedActionType = "key_press"
)

// CachedAction is one low-level replayable action. The union is closed:
// exactly one of the three variants, discriminated by Type. X/Y are only
// meaningful for click, Text for type_text, Key for key_press.
type CachedAction struct {
	Type   CachedActionType `json:"type"`
	X      float64          `json:"x,omitempty"`
	Y      float64          `json:"y,omitempty"`
	Text   string           `json:"text,omitempty"`
	Key    string           `json:"key,omitempty"`
	WaitMs int              `json:"wait_ms,omitempty"`
}

// ClickAction builds a click variant at page coordinates.
func ClickAction(x, y float64, waitMs int) CachedAction {
	return CachedAction{Type: CachedClick, X: x, Y: y, WaitMs: waitMs}
}

// TypeTextAction builds a type_text variant.
func TypeTextAction(text string, waitMs int) CachedAction {
	return CachedAction{Type: CachedTypeText, Text: text, WaitMs: waitMs}
}

// KeyPressAction builds a key_press variant.
func KeyPressAction(key string, waitMs int) CachedAction {
	return CachedAction{Type: CachedKeyPress, Key: key, WaitMs: waitMs}
}

// Validate rejects actions outside the closed union. Plans loaded from the
// store pass through this before replay.
func (a CachedAction) Validate() error {
	switch a.Type {
	case CachedClick:
		return nil
	case CachedTypeText:
		if a.Text == "" {
			return fmt.Errorf("type_text action requires text")
		}
		return nil
	case CachedKeyPress:
		if a.Key == "" {
			return fmt.Errorf("key_press action requires key")
		}
		return nil
	default:
		return fmt.Errorf("unknown cached action type %q", a.Type)
	}
}

// CachedPlan is a memoized successful action sequence for a (goal, url) pair.
type CachedPlan struct {
	CacheKey      string         `json:"cache_key"`
	Goal          string         `json:"goal"`
	URL           string         `json:"url"`
	Actions       []CachedAction `json:"actions"`
	AvgDurationMs int64          `json:"avg_duration_ms"`
	SuccessCount  int            `json:"success_count"`
	LastUsedAt    time.Time      `json:"last_used_at"`
	CreatedAt     time.Time      `json:"created_at"`
}
