package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCachedActionValidate(t *testing.T) {
	tests := []struct {
		name    string
		action  CachedAction
		wantErr bool
	}{
		{"click", ClickAction(10, 20, 1000), false},
		{"click at origin", ClickAction(0, 0, 0), false},
		{"type text", TypeTextAction("hello", 500), false},
		{"type text empty", CachedAction{Type: CachedTypeText}, true},
		{"key press", KeyPressAction("Enter", 300), false},
		{"key press empty", CachedAction{Type: CachedKeyPress}, true},
		{"unknown type", CachedAction{Type: "scroll"}, true},
		{"zero value", CachedAction{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.action.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
