// Package collection stores the user's favorite and safe foods.
package collection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/noot-app/allergen-scanner/internal/kv"
	"github.com/noot-app/allergen-scanner/internal/types"
)

// Persistence keys of the two collections
const (
	FavoritesKey = "allergen_scanner_favorites"
	SafeFoodsKey = "allergen_scanner_safe_foods"
)

// ToggleResult reports the outcome of a toggle.
// Present is the membership the caller should show; Persisted is false when the
// write did not happen, in which case stored state still reflects the old value.
type ToggleResult struct {
	Present   bool `json:"present"`
	Persisted bool `json:"persisted"`
}

// Collection is an insertion-ordered set of foods keyed by food ID
type Collection struct {
	name   string
	key    string
	kv     kv.Store
	locker kv.Locker
	log    *slog.Logger
}

// Option configures a Collection
type Option func(*Collection)

// WithLocker serializes toggles on the collection key
func WithLocker(l kv.Locker) Option {
	return func(c *Collection) {
		c.locker = l
	}
}

// New creates a collection persisted under key
func New(name, key string, store kv.Store, logger *slog.Logger, opts ...Option) *Collection {
	c := &Collection{
		name:   name,
		key:    key,
		kv:     store,
		locker: kv.NoopLocker{},
		log:    logger.With("collection", name),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFavorites creates the favorites collection
func NewFavorites(store kv.Store, logger *slog.Logger, opts ...Option) *Collection {
	return New("favorites", FavoritesKey, store, logger, opts...)
}

// NewSafeFoods creates the safe-foods collection
func NewSafeFoods(store kv.Store, logger *slog.Logger, opts ...Option) *Collection {
	return New("safe", SafeFoodsKey, store, logger, opts...)
}

// Name returns the collection's name
func (c *Collection) Name() string {
	return c.name
}

// List returns the stored foods in insertion order. Read failures are logged and
// yield an empty list.
func (c *Collection) List(ctx context.Context) []types.Food {
	foods, err := c.read(ctx)
	if err != nil {
		c.log.Error("Error loading collection", "error", err)
		return []types.Food{}
	}
	return foods
}

// Contains reports whether a food with id is stored
func (c *Collection) Contains(ctx context.Context, id string) bool {
	_, ok := c.Find(ctx, id)
	return ok
}

// Find returns the stored food with id
func (c *Collection) Find(ctx context.Context, id string) (types.Food, bool) {
	for _, f := range c.List(ctx) {
		if f.ID == id {
			return f, true
		}
	}
	return types.Food{}, false
}

// Toggle removes the food if an entry with its ID exists, otherwise appends it.
// It returns whether the food is now present, even when the write failed.
func (c *Collection) Toggle(ctx context.Context, food types.Food) bool {
	return c.ToggleWithResult(ctx, food).Present
}

// ToggleWithResult is Toggle that also reports whether the change was persisted
func (c *Collection) ToggleWithResult(ctx context.Context, food types.Food) ToggleResult {
	unlock := c.locker.Lock(c.key)
	defer unlock()

	foods, err := c.read(ctx)
	if err != nil {
		// An unreadable blob is left untouched rather than overwritten
		c.log.Error("Error toggling food", "food_id", food.ID, "error", err)
		return ToggleResult{}
	}

	next := make([]types.Food, 0, len(foods)+1)
	removed := false
	for _, f := range foods {
		if f.ID == food.ID {
			removed = true
			continue
		}
		next = append(next, f)
	}
	if !removed {
		next = append(next, food)
	}

	result := ToggleResult{Present: !removed}
	if err := c.write(ctx, next); err != nil {
		c.log.Error("Error toggling food", "food_id", food.ID, "present", result.Present, "error", err)
		return result
	}
	result.Persisted = true

	c.log.Info("Collection toggled", "food_id", food.ID, "present", result.Present, "size", len(next))
	return result
}

func (c *Collection) read(ctx context.Context) ([]types.Food, error) {
	raw, ok, err := c.kv.Get(ctx, c.key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", c.name, err)
	}
	if !ok || raw == "" {
		return []types.Food{}, nil
	}

	var foods []types.Food
	if err := json.Unmarshal([]byte(raw), &foods); err != nil {
		return nil, fmt.Errorf("decode %s: %w", c.name, err)
	}
	if foods == nil {
		foods = []types.Food{}
	}
	return foods, nil
}

func (c *Collection) write(ctx context.Context, foods []types.Food) error {
	data, err := json.Marshal(foods)
	if err != nil {
		return fmt.Errorf("encode %s: %w", c.name, err)
	}
	if err := c.kv.Set(ctx, c.key, string(data)); err != nil {
		return fmt.Errorf("save %s: %w", c.name, err)
	}
	return nil
}
