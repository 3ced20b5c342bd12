// Package preferences persists which allergens the user wants flagged.
package preferences

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/noot-app/allergen-scanner/internal/allergen"
	"github.com/noot-app/allergen-scanner/internal/kv"
)

// Key is the persistence key of the preference map
const Key = "allergen_scanner_settings"

// Store loads and saves allergen monitoring flags
type Store struct {
	kv     kv.Store
	locker kv.Locker
	log    *slog.Logger
}

// Option configures a Store
type Option func(*Store)

// WithLocker serializes Toggle per key
func WithLocker(l kv.Locker) Option {
	return func(s *Store) {
		s.locker = l
	}
}

// NewStore creates a preference store on top of a key-value store
func NewStore(store kv.Store, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		kv:     store,
		locker: kv.NoopLocker{},
		log:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the defaults merged with persisted overrides.
// Read or decode failures are logged and yield the defaults.
func (s *Store) Load(ctx context.Context) allergen.Preferences {
	prefs, err := s.load(ctx)
	if err != nil {
		s.log.Error("Error loading allergen settings", "error", err)
		return allergen.DefaultPreferences()
	}
	return prefs
}

func (s *Store) load(ctx context.Context) (allergen.Preferences, error) {
	raw, ok, err := s.kv.Get(ctx, Key)
	if err != nil {
		return nil, fmt.Errorf("read preferences: %w", err)
	}
	if !ok || raw == "" {
		return allergen.DefaultPreferences(), nil
	}

	var overrides map[string]bool
	if err := json.Unmarshal([]byte(raw), &overrides); err != nil {
		return nil, fmt.Errorf("decode preferences: %w", err)
	}
	return allergen.Merge(overrides), nil
}

// Save persists the whole map. Failures are logged and returned; callers treat
// saving as best effort.
func (s *Store) Save(ctx context.Context, prefs allergen.Preferences) error {
	data, err := json.Marshal(prefs)
	if err != nil {
		s.log.Error("Error encoding allergen settings", "error", err)
		return fmt.Errorf("encode preferences: %w", err)
	}
	if err := s.kv.Set(ctx, Key, string(data)); err != nil {
		s.log.Error("Error saving allergen settings", "error", err)
		return fmt.Errorf("save preferences: %w", err)
	}
	s.log.Debug("Allergen settings saved", "entries", len(prefs))
	return nil
}

// ToggleResult reports the flag after a toggle and whether it reached the store
type ToggleResult struct {
	Enabled   bool
	Persisted bool
}

// Toggle flips the flag for name and persists the full map. It returns the new
// value; an unset flag counts as enabled and becomes disabled.
func (s *Store) Toggle(ctx context.Context, name string) bool {
	return s.ToggleWithResult(ctx, name).Enabled
}

// ToggleWithResult is Toggle that also reports whether the write succeeded.
// An unreadable map is left untouched and the flag reports its default.
func (s *Store) ToggleWithResult(ctx context.Context, name string) ToggleResult {
	unlock := s.locker.Lock(Key)
	defer unlock()

	prefs, err := s.load(ctx)
	if err != nil {
		s.log.Error("Error loading allergen settings, toggle skipped", "allergen", name, "error", err)
		return ToggleResult{Enabled: allergen.DefaultPreferences().Monitored(name)}
	}

	enabled := !prefs.Monitored(name)
	prefs[name] = enabled

	result := ToggleResult{Enabled: enabled}
	if err := s.Save(ctx, prefs); err == nil {
		result.Persisted = true
	}

	s.log.Info("Allergen monitoring toggled", "allergen", name, "enabled", enabled, "persisted", result.Persisted)
	return result
}

// Enabled reports whether a single allergen is monitored
func (s *Store) Enabled(ctx context.Context, name string) bool {
	return s.Load(ctx).Monitored(name)
}
