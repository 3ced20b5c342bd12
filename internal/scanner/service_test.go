package scanner

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/noot-app/allergen-scanner/internal/allergen"
	"github.com/noot-app/allergen-scanner/internal/collection"
	"github.com/noot-app/allergen-scanner/internal/config"
	"github.com/noot-app/allergen-scanner/internal/kv"
	"github.com/noot-app/allergen-scanner/internal/preferences"
	"github.com/noot-app/allergen-scanner/internal/provider"
	"github.com/noot-app/allergen-scanner/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	breadBarcode   = "5000169005057"
	yogurtBarcode  = "5391520654321"
	bananasBarcode = "5391531111111"
)

func newTestService(t *testing.T, opts ...Option) (*Service, *provider.MockProvider, *kv.MemoryStore) {
	t.Helper()
	logger := config.NewTestLogger(io.Discard, "debug")
	mock := provider.NewMockProvider(logger)
	store := kv.NewMemoryStore()
	return NewService(mock, store, logger, opts...), mock, store
}

func TestService_ScanBarcode(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	food, ok := svc.ScanBarcode(ctx, breadBarcode)
	require.True(t, ok)
	assert.Equal(t, breadBarcode, food.ID)
	assert.Equal(t, breadBarcode, food.Barcode)
	assert.Equal(t, "Whole Wheat Bread", food.Name)
	assert.Equal(t, "Brennans", food.Brand)
	assert.Len(t, food.Allergens, 7)
	assert.Equal(t, []types.Allergen{{Name: allergen.CerealsContainingGluten, Present: true}}, food.PresentAllergens())

	_, ok = svc.ScanBarcode(ctx, "0000000000000")
	assert.False(t, ok)
}

func TestService_LookupDistinguishesOutcomes(t *testing.T) {
	svc, mock, _ := newTestService(t)
	ctx := context.Background()

	_, outcome := svc.Lookup(ctx, breadBarcode)
	assert.Equal(t, provider.OutcomeFound, outcome)

	_, outcome = svc.Lookup(ctx, "0000000000000")
	assert.Equal(t, provider.OutcomeNotFound, outcome)

	mock.SetError(errors.New("network down"))
	food, outcome := svc.Lookup(ctx, breadBarcode)
	assert.Equal(t, provider.OutcomeFailed, outcome)
	assert.Equal(t, types.Food{}, food)

	// Both collapse to "not found" at the public boundary
	_, ok := svc.ScanBarcode(ctx, breadBarcode)
	assert.False(t, ok)
}

type slowProvider struct {
	provider.Provider
}

func (slowProvider) FetchByBarcode(ctx context.Context, barcode string) (*types.ProductResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type notFoundEnvelopeProvider struct {
	provider.Provider
}

func (notFoundEnvelopeProvider) FetchByBarcode(ctx context.Context, barcode string) (*types.ProductResponse, error) {
	return &types.ProductResponse{Code: barcode, Status: 0}, nil
}

func TestService_LookupTimeoutIsFailure(t *testing.T) {
	logger := config.NewTestLogger(io.Discard, "debug")
	svc := NewService(slowProvider{}, kv.NewMemoryStore(), logger, WithLookupTimeout(20*time.Millisecond))

	start := time.Now()
	_, outcome := svc.Lookup(context.Background(), breadBarcode)
	assert.Equal(t, provider.OutcomeFailed, outcome)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestService_LookupUnconfirmedEnvelopeIsNotFound(t *testing.T) {
	logger := config.NewTestLogger(io.Discard, "debug")
	svc := NewService(notFoundEnvelopeProvider{}, kv.NewMemoryStore(), logger)

	_, outcome := svc.Lookup(context.Background(), breadBarcode)
	assert.Equal(t, provider.OutcomeNotFound, outcome)
}

func TestService_Search(t *testing.T) {
	svc, mock, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		query    string
		expected []string
	}{
		{"too short", "mi", []string{}},
		{"too short after trim", "  so  ", []string{}},
		{"name match", "milk", []string{"5411188123789"}},
		{"brand match", "glenisk", []string{yogurtBarcode}},
		{"no match", "chocolate", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids := []string{}
			for _, f := range svc.Search(ctx, tt.query) {
				ids = append(ids, f.ID)
			}
			assert.Equal(t, tt.expected, ids)
		})
	}

	_, searches := mock.Calls()
	assert.Equal(t, 3, searches, "short queries never reach the provider")
}

func TestService_SearchDeduplicatesAndSurvivesFailure(t *testing.T) {
	svc, mock, _ := newTestService(t)
	ctx := context.Background()

	mock.SetProducts([]types.Product{
		{Code: "1", ProductName: "Oat Bar"},
		{Code: "2", ProductName: "Oat Bar Honey"},
		{Code: "1", ProductName: "Oat Bar (duplicate)"},
	})

	foods := svc.Search(ctx, "oat bar")
	require.Len(t, foods, 2)
	assert.Equal(t, "Oat Bar", foods[0].Name)
	assert.Equal(t, "2", foods[1].ID)

	mock.SetError(errors.New("network down"))
	foods = svc.Search(ctx, "oat bar")
	assert.NotNil(t, foods)
	assert.Empty(t, foods)
}

func TestService_InspectAppliesPreferences(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	yogurt, ok := svc.ScanBarcode(ctx, yogurtBarcode)
	require.True(t, ok)

	view := svc.Inspect(ctx, yogurt)
	assert.True(t, view.Assessment.HasWarning)
	assert.Equal(t, 1, view.Assessment.Count)
	assert.Equal(t, "Contains 1 allergen", view.Summary)
	assert.False(t, view.Favorite)
	assert.False(t, view.Safe)

	name, toggled, err := svc.ToggleAllergen(ctx, "milk")
	require.NoError(t, err)
	assert.Equal(t, allergen.Milk, name)
	assert.False(t, toggled.Enabled)

	view = svc.Inspect(ctx, yogurt)
	assert.False(t, view.Assessment.HasWarning)
	assert.Equal(t, "No allergens detected", view.Summary)

	bananas, ok := svc.ScanBarcode(ctx, bananasBarcode)
	require.True(t, ok)
	assert.Equal(t, "No allergens detected", svc.Inspect(ctx, bananas).Summary)
}

func TestService_ToggleAllergen(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.ToggleAllergen(ctx, "Sesame")
	assert.ErrorIs(t, err, ErrUnknownAllergen)

	name, toggled, err := svc.ToggleAllergen(ctx, "  CRUSTACEANS ")
	require.NoError(t, err)
	assert.Equal(t, allergen.Crustaceans, name)
	assert.Equal(t, preferences.ToggleResult{Enabled: false, Persisted: true}, toggled)

	prefs := svc.Preferences(ctx)
	assert.Len(t, prefs, 7)
	assert.False(t, prefs[allergen.Crustaceans])
	assert.True(t, prefs[allergen.Fish])

	_, toggled, err = svc.ToggleAllergen(ctx, allergen.Crustaceans)
	require.NoError(t, err)
	assert.True(t, toggled.Enabled)
}

func TestService_ToggleAllergenWriteFailure(t *testing.T) {
	svc, _, store := newTestService(t)
	ctx := context.Background()

	events, cancel := svc.Subscribe()
	defer cancel()

	store.SetSetError(errors.New("disk full"))
	name, toggled, err := svc.ToggleAllergen(ctx, allergen.Milk)
	require.NoError(t, err)
	assert.Equal(t, allergen.Milk, name)
	assert.Equal(t, preferences.ToggleResult{Enabled: false, Persisted: false}, toggled)
	assert.True(t, svc.Preferences(ctx)[allergen.Milk])

	select {
	case e := <-events:
		t.Fatalf("unexpected event for an unsaved toggle: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestService_ToggleAllergenReadFailureKeepsOverrides(t *testing.T) {
	svc, _, store := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.ToggleAllergen(ctx, allergen.Milk)
	require.NoError(t, err)
	_, _, err = svc.ToggleAllergen(ctx, allergen.Eggs)
	require.NoError(t, err)

	store.SetGetError(errors.New("transient read"))
	_, toggled, err := svc.ToggleAllergen(ctx, allergen.Fish)
	require.NoError(t, err)
	assert.False(t, toggled.Persisted)

	store.SetGetError(nil)
	prefs := svc.Preferences(ctx)
	assert.False(t, prefs[allergen.Milk])
	assert.False(t, prefs[allergen.Eggs])
	assert.True(t, prefs[allergen.Fish])
}

func TestService_ToggleCollections(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	bread, ok := svc.ScanBarcode(ctx, breadBarcode)
	require.True(t, ok)

	assert.Equal(t, collection.ToggleResult{Present: true, Persisted: true}, svc.ToggleFavorite(ctx, bread))
	assert.True(t, svc.Inspect(ctx, bread).Favorite)
	assert.False(t, svc.Inspect(ctx, bread).Safe)
	assert.Len(t, svc.Favorites(ctx), 1)
	assert.Empty(t, svc.SafeFoods(ctx))

	assert.True(t, svc.ToggleSafe(ctx, bread).Present)
	assert.Len(t, svc.SafeFoods(ctx), 1)

	assert.False(t, svc.ToggleFavorite(ctx, bread).Present)
	assert.Empty(t, svc.Favorites(ctx))
	assert.Len(t, svc.SafeFoods(ctx), 1, "collections are independent")
}

func TestService_ToggleByBarcode(t *testing.T) {
	svc, mock, _ := newTestService(t)
	ctx := context.Background()

	food, result, err := svc.ToggleFavoriteByBarcode(ctx, breadBarcode)
	require.NoError(t, err)
	assert.Equal(t, "Whole Wheat Bread", food.Name)
	assert.True(t, result.Present)

	// Removal uses the stored record, so it works even when the provider is down
	mock.SetError(errors.New("network down"))
	food, result, err = svc.ToggleFavoriteByBarcode(ctx, breadBarcode)
	require.NoError(t, err)
	assert.Equal(t, "Whole Wheat Bread", food.Name)
	assert.False(t, result.Present)

	_, _, err = svc.ToggleSafeByBarcode(ctx, breadBarcode)
	assert.ErrorIs(t, err, ErrFoodNotFound)

	mock.SetError(nil)
	_, _, err = svc.ToggleSafeByBarcode(ctx, "0000000000000")
	assert.ErrorIs(t, err, ErrFoodNotFound)
	assert.Empty(t, svc.SafeFoods(ctx))
}

func TestService_Events(t *testing.T) {
	svc, _, store := newTestService(t)
	ctx := context.Background()

	events, cancel := svc.Subscribe()
	defer cancel()

	bread, _ := svc.ScanBarcode(ctx, breadBarcode)
	svc.ToggleFavorite(ctx, bread)
	svc.ToggleFavorite(ctx, bread)
	svc.ToggleSafe(ctx, bread)
	_, _, err := svc.ToggleAllergen(ctx, "eggs")
	require.NoError(t, err)

	expected := []Event{
		{Type: EventFavorites, Action: ActionAdded, FoodID: breadBarcode},
		{Type: EventFavorites, Action: ActionRemoved, FoodID: breadBarcode},
		{Type: EventSafeFoods, Action: ActionAdded, FoodID: breadBarcode},
		{Type: EventPreferences, Action: ActionDisabled, Allergen: allergen.Eggs},
	}
	for _, want := range expected {
		select {
		case got := <-events:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %+v", want)
		}
	}

	// Unpersisted toggles publish nothing
	store.SetSetError(errors.New("disk full"))
	svc.ToggleFavorite(ctx, bread)
	select {
	case got := <-events:
		t.Fatalf("unexpected event %+v", got)
	default:
	}
}

func TestService_HealthCheck(t *testing.T) {
	svc, mock, store := newTestService(t)
	ctx := context.Background()

	assert.NoError(t, svc.HealthCheck(ctx))

	mock.SetError(errors.New("offline"))
	assert.ErrorContains(t, svc.HealthCheck(ctx), "provider unhealthy")
	mock.SetError(nil)

	store.SetGetError(errors.New("locked"))
	assert.ErrorContains(t, svc.HealthCheck(ctx), "store unhealthy")
}

// Raw payload through normalize, default preferences and filtering
func TestService_EndToEndBread(t *testing.T) {
	svc, mock, store := newTestService(t)
	ctx := context.Background()

	mock.SetProducts([]types.Product{{
		Code:          "5000",
		ProductName:   "Bread",
		AllergensTags: []string{"en:gluten"},
	}})

	food, ok := svc.ScanBarcode(ctx, "5000")
	require.True(t, ok)
	assert.Equal(t, "5000", food.ID)
	assert.Equal(t, "Bread", food.Name)
	require.Len(t, food.Allergens, 7)
	assert.Equal(t, types.Allergen{Name: allergen.CerealsContainingGluten, Present: true}, food.Allergens[0])
	for _, a := range food.Allergens[1:] {
		assert.False(t, a.Present, a.Name)
	}

	view := svc.Inspect(ctx, food)
	require.Len(t, view.Assessment.Allergens, 1)
	assert.Equal(t, allergen.CerealsContainingGluten, view.Assessment.Allergens[0].Name)

	// Nothing was persisted by reading
	_, found, err := store.Get(ctx, "allergen_scanner_settings")
	require.NoError(t, err)
	assert.False(t, found)
}
