package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/webpilot-ai/webpilot/pkg/browser"
)

// strategyTimeout caps each individual capture attempt.
const strategyTimeout = 3 * time.Second

// captureStepScreenshot takes the post-step screenshot, escalating
// through recovery strategies when the page is mid-navigation:
//
//  1. capture immediately
//  2. settle 300ms, re-discover the active page, capture
//  3. wait for network idle, capture
//  4. wait for load plus 500ms, capture
//
// Returns the PNG as base64.
func captureStepScreenshot(ctx context.Context, surface *browser.Surface) (string, error) {
	strategies := []func(context.Context) ([]byte, error){
		func(sc context.Context) ([]byte, error) {
			return surface.Screenshot(sc)
		},
		func(sc context.Context) ([]byte, error) {
			select {
			case <-sc.Done():
				return nil, sc.Err()
			case <-time.After(300 * time.Millisecond):
			}
			if err := surface.Browser().Refresh(sc); err != nil {
				return nil, err
			}
			return surface.Screenshot(sc)
		},
		func(sc context.Context) ([]byte, error) {
			if err := surface.WaitForLoadState(sc, "networkidle", strategyTimeout); err != nil {
				return nil, err
			}
			return surface.Screenshot(sc)
		},
		func(sc context.Context) ([]byte, error) {
			if err := surface.WaitForLoadState(sc, "load", strategyTimeout); err != nil {
				return nil, err
			}
			select {
			case <-sc.Done():
				return nil, sc.Err()
			case <-time.After(500 * time.Millisecond):
			}
			return surface.Screenshot(sc)
		},
	}

	var lastErr error
	for _, strategy := range strategies {
		sc, cancel := context.WithTimeout(ctx, strategyTimeout)
		data, err := strategy(sc)
		cancel()
		if err == nil && len(data) > 0 {
			return base64.StdEncoding.EncodeToString(data), nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("all screenshot strategies failed: %w", lastErr)
}
