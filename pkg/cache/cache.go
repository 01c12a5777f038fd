// Package cache stores successful action sequences keyed by (goal, url)
// and replays them deterministically, skipping the planner entirely on a
// hit.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/webpilot-ai/webpilot/pkg/models"
	"github.com/webpilot-ai/webpilot/pkg/store"
)

// Key derives the cache key for a goal on a starting URL. Goals are
// case-insensitive; both inputs are trimmed so formatting differences do
// not fragment the cache.
func Key(goal, url string) string {
	normalized := strings.ToLower(strings.TrimSpace(goal)) + "|" + strings.TrimSpace(url)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Cache wraps plan storage with key derivation and hit bookkeeping.
type Cache struct {
	plans store.PlanStore
}

// New creates a cache over the given plan store.
func New(plans store.PlanStore) *Cache {
	return &Cache{plans: plans}
}

// Get looks up a cached plan for the goal and URL. A miss returns
// (nil, nil). A hit bumps the plan's success count and last-used time.
func (c *Cache) Get(ctx context.Context, goal, url string) (*models.CachedPlan, error) {
	key := Key(goal, url)
	plan, err := c.plans.GetPlan(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := c.plans.TouchPlan(ctx, key, time.Now().UTC()); err != nil {
		slog.Warn("Failed to record cache hit", "cache_key", key, "error", err)
	}
	slog.Info("Action cache hit", "cache_key", key, "actions", len(plan.Actions))
	return plan, nil
}

// Put records a successful action sequence for the goal and URL. An
// empty sequence is not cacheable and is silently dropped.
func (c *Cache) Put(ctx context.Context, goal, url string, actions []models.CachedAction, avgDurationMs int64) error {
	if len(actions) == 0 {
		return nil
	}
	for _, a := range actions {
		if err := a.Validate(); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	plan := &models.CachedPlan{
		CacheKey:      Key(goal, url),
		Goal:          goal,
		URL:           url,
		Actions:       actions,
		AvgDurationMs: avgDurationMs,
		LastUsedAt:    now,
		CreatedAt:     now,
	}
	if err := c.plans.UpsertPlan(ctx, plan); err != nil {
		return err
	}
	slog.Info("Action sequence cached", "cache_key", plan.CacheKey, "actions", len(actions))
	return nil
}
