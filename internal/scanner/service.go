// Package scanner is the application service behind every surface: it looks
// foods up, normalizes them, applies allergen preferences and manages the
// personal collections.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/noot-app/allergen-scanner/internal/allergen"
	"github.com/noot-app/allergen-scanner/internal/collection"
	"github.com/noot-app/allergen-scanner/internal/kv"
	"github.com/noot-app/allergen-scanner/internal/normalize"
	"github.com/noot-app/allergen-scanner/internal/preferences"
	"github.com/noot-app/allergen-scanner/internal/provider"
	"github.com/noot-app/allergen-scanner/internal/types"
)

// NotFoundMessage is shown for every failed or empty barcode scan
const NotFoundMessage = "Food not found. This barcode is not in our database. Try searching manually."

// MinQueryLength is the shortest trimmed query sent to the provider
const MinQueryLength = 3

const defaultLookupTimeout = 10 * time.Second

var (
	// ErrFoodNotFound is returned by barcode toggles when the food cannot be resolved
	ErrFoodNotFound = errors.New("food not found")
	// ErrUnknownAllergen is returned for names outside the canonical list
	ErrUnknownAllergen = errors.New("unknown allergen")
)

// View is everything a food card needs to render
type View struct {
	Food       types.Food          `json:"food"`
	Assessment allergen.Assessment `json:"assessment"`
	Summary    string              `json:"summary"`
	Favorite   bool                `json:"favorite"`
	Safe       bool                `json:"safe"`
}

type options struct {
	lookupTimeout time.Duration
	locker        kv.Locker
}

// Option configures a Service
type Option func(*options)

// WithLookupTimeout bounds each provider call
func WithLookupTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.lookupTimeout = d
		}
	}
}

// WithLocker sets the per-key write serializer shared by all stores
func WithLocker(l kv.Locker) Option {
	return func(o *options) {
		if l != nil {
			o.locker = l
		}
	}
}

// Service coordinates lookups, preferences and collections
type Service struct {
	provider      provider.Provider
	store         kv.Store
	prefs         *preferences.Store
	favorites     *collection.Collection
	safe          *collection.Collection
	events        *Hub
	lookupTimeout time.Duration
	log           *slog.Logger
}

// NewService wires a service over a provider and a key-value store
func NewService(p provider.Provider, store kv.Store, logger *slog.Logger, opts ...Option) *Service {
	o := options{
		lookupTimeout: defaultLookupTimeout,
		locker:        kv.NewKeyedMutex(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Service{
		provider:      p,
		store:         store,
		prefs:         preferences.NewStore(store, logger, preferences.WithLocker(o.locker)),
		favorites:     collection.NewFavorites(store, logger, collection.WithLocker(o.locker)),
		safe:          collection.NewSafeFoods(store, logger, collection.WithLocker(o.locker)),
		events:        NewHub(logger),
		lookupTimeout: o.lookupTimeout,
		log:           logger,
	}
}

// Lookup fetches and normalizes a food, reporting which kind of outcome occurred
func (s *Service) Lookup(ctx context.Context, barcode string) (types.Food, provider.Outcome) {
	start := time.Now()
	barcode = strings.TrimSpace(barcode)
	s.log.Debug("Lookup starting", "barcode", barcode)

	ctx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()

	resp, err := s.provider.FetchByBarcode(ctx, barcode)
	if err == nil && !resp.Found() {
		err = provider.ErrNotFound
	}

	outcome := provider.Classify(err)
	switch outcome {
	case provider.OutcomeNotFound:
		s.log.Info("Barcode not found", "barcode", barcode, "outcome", outcome, "duration", time.Since(start))
		return types.Food{}, outcome
	case provider.OutcomeFailed:
		s.log.Warn("Barcode lookup failed", "barcode", barcode, "outcome", outcome, "error", err, "duration", time.Since(start))
		return types.Food{}, outcome
	}

	food := normalize.Normalize(resp)
	s.log.Info("Lookup completed", "barcode", barcode, "food_id", food.ID, "duration", time.Since(start))
	return food, outcome
}

// ScanBarcode returns the food for a barcode. Absence and failure both report false.
func (s *Service) ScanBarcode(ctx context.Context, barcode string) (types.Food, bool) {
	food, outcome := s.Lookup(ctx, barcode)
	return food, outcome == provider.OutcomeFound
}

// Search returns normalized matches for a name query, de-duplicated by id.
// Queries shorter than MinQueryLength return nothing without a provider call.
func (s *Service) Search(ctx context.Context, query string) []types.Food {
	start := time.Now()
	query = strings.TrimSpace(query)
	foods := []types.Food{}

	if utf8.RuneCountInString(query) < MinQueryLength {
		s.log.Debug("Search skipped, query too short", "query", query)
		return foods
	}
	s.log.Debug("Search starting", "query", query)

	ctx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()

	results, err := s.provider.SearchByName(ctx, query)
	if err != nil {
		s.log.Warn("Search failed", "query", query, "outcome", provider.Classify(err), "error", err, "duration", time.Since(start))
		return foods
	}

	seen := make(map[string]bool, len(results))
	for i := range results {
		if !results[i].Found() {
			continue
		}
		food := normalize.Normalize(&results[i])
		if seen[food.ID] {
			continue
		}
		seen[food.ID] = true
		foods = append(foods, food)
	}

	s.log.Info("Search completed", "query", query, "count", len(foods), "duration", time.Since(start))
	return foods
}

// Inspect combines a food with the current preferences and collection membership
func (s *Service) Inspect(ctx context.Context, food types.Food) View {
	assessment := allergen.Assess(food, s.prefs.Load(ctx))
	return View{
		Food:       food,
		Assessment: assessment,
		Summary:    assessment.Summary(),
		Favorite:   s.favorites.Contains(ctx, food.ID),
		Safe:       s.safe.Contains(ctx, food.ID),
	}
}

// ToggleFavorite adds or removes food from favorites
func (s *Service) ToggleFavorite(ctx context.Context, food types.Food) collection.ToggleResult {
	return s.toggle(ctx, s.favorites, EventFavorites, food)
}

// ToggleSafe adds or removes food from the safe-foods list
func (s *Service) ToggleSafe(ctx context.Context, food types.Food) collection.ToggleResult {
	return s.toggle(ctx, s.safe, EventSafeFoods, food)
}

// ToggleFavoriteByBarcode toggles a favorite by barcode, looking the food up only
// when it is not already stored
func (s *Service) ToggleFavoriteByBarcode(ctx context.Context, barcode string) (types.Food, collection.ToggleResult, error) {
	return s.toggleByBarcode(ctx, s.favorites, EventFavorites, barcode)
}

// ToggleSafeByBarcode is ToggleFavoriteByBarcode for the safe-foods list
func (s *Service) ToggleSafeByBarcode(ctx context.Context, barcode string) (types.Food, collection.ToggleResult, error) {
	return s.toggleByBarcode(ctx, s.safe, EventSafeFoods, barcode)
}

// Favorites lists favorite foods in insertion order
func (s *Service) Favorites(ctx context.Context) []types.Food {
	return s.favorites.List(ctx)
}

// SafeFoods lists safe foods in insertion order
func (s *Service) SafeFoods(ctx context.Context) []types.Food {
	return s.safe.List(ctx)
}

// Preferences returns all seven monitoring flags
func (s *Service) Preferences(ctx context.Context) allergen.Preferences {
	return s.prefs.Load(ctx)
}

// ToggleAllergen flips monitoring for a canonical allergen name, matched ignoring
// case, and returns the canonical name with its new state
func (s *Service) ToggleAllergen(ctx context.Context, name string) (string, preferences.ToggleResult, error) {
	canonical, ok := allergen.Resolve(name)
	if !ok {
		return "", preferences.ToggleResult{}, fmt.Errorf("%w: %q", ErrUnknownAllergen, name)
	}

	result := s.prefs.ToggleWithResult(ctx, canonical)
	if result.Persisted {
		action := ActionDisabled
		if result.Enabled {
			action = ActionEnabled
		}
		s.events.Publish(Event{Type: EventPreferences, Action: action, Allergen: canonical})
	}
	return canonical, result, nil
}

// Subscribe streams change events until cancel is called
func (s *Service) Subscribe() (<-chan Event, func()) {
	return s.events.Subscribe()
}

// HealthCheck pings the store and the provider when they support it
func (s *Service) HealthCheck(ctx context.Context) error {
	if hc, ok := s.store.(kv.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("store unhealthy: %w", err)
		}
	}
	if hc, ok := s.provider.(provider.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("provider unhealthy: %w", err)
		}
	}
	return nil
}

func (s *Service) toggle(ctx context.Context, c *collection.Collection, kind EventType, food types.Food) collection.ToggleResult {
	result := c.ToggleWithResult(ctx, food)
	if result.Persisted {
		action := ActionRemoved
		if result.Present {
			action = ActionAdded
		}
		s.events.Publish(Event{Type: kind, Action: action, FoodID: food.ID})
	}
	return result
}

func (s *Service) toggleByBarcode(ctx context.Context, c *collection.Collection, kind EventType, barcode string) (types.Food, collection.ToggleResult, error) {
	barcode = strings.TrimSpace(barcode)
	if stored, ok := c.Find(ctx, barcode); ok {
		return stored, s.toggle(ctx, c, kind, stored), nil
	}

	food, found := s.ScanBarcode(ctx, barcode)
	if !found {
		return types.Food{}, collection.ToggleResult{}, fmt.Errorf("%w: %s", ErrFoodNotFound, barcode)
	}
	return food, s.toggle(ctx, c, kind, food), nil
}
