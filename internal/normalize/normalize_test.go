package normalize

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/noot-app/allergen-scanner/internal/allergen"
	"github.com/noot-app/allergen-scanner/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func presentNames(food types.Food) []string {
	var out []string
	for _, a := range food.PresentAllergens() {
		out = append(out, a.Name)
	}
	return out
}

func TestNormalize_Bread(t *testing.T) {
	raw := `{"code":"5000","status":1,"product":{"product_name":"Bread","allergens_tags":["en:gluten"]}}`

	var resp types.ProductResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &resp))

	food := Normalize(&resp)

	assert.Equal(t, "5000", food.ID)
	assert.Equal(t, "5000", food.Barcode)
	assert.Equal(t, "Bread", food.Name)
	assert.Equal(t, UnknownBrand, food.Brand)
	assert.Empty(t, food.Ingredients)
	require.Len(t, food.Allergens, 7)
	assert.Equal(t, types.Allergen{Name: allergen.CerealsContainingGluten, Present: true}, food.Allergens[0])
	for _, a := range food.Allergens[1:] {
		assert.False(t, a.Present, a.Name)
	}
}

func TestNormalize_Fallbacks(t *testing.T) {
	tests := []struct {
		name          string
		resp          *types.ProductResponse
		expectedID    string
		expectedName  string
		expectedBrand string
	}{
		{
			name:          "nil response",
			resp:          nil,
			expectedName:  UnknownProduct,
			expectedBrand: UnknownBrand,
		},
		{
			name:          "nil product",
			resp:          &types.ProductResponse{Code: "42", Status: 1},
			expectedID:    "42",
			expectedName:  UnknownProduct,
			expectedBrand: UnknownBrand,
		},
		{
			name:          "empty strings",
			resp:          &types.ProductResponse{Code: "42", Product: &types.Product{ProductName: "", Brands: "  "}},
			expectedID:    "42",
			expectedName:  UnknownProduct,
			expectedBrand: UnknownBrand,
		},
		{
			name:          "values copied verbatim",
			resp:          &types.ProductResponse{Code: "0042", Product: &types.Product{ProductName: "Greek Yogurt", Brands: "Glenisk,Organic"}},
			expectedID:    "0042",
			expectedName:  "Greek Yogurt",
			expectedBrand: "Glenisk,Organic",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			food := Normalize(tt.resp)
			assert.Equal(t, tt.expectedID, food.ID)
			assert.Equal(t, tt.expectedID, food.Barcode)
			assert.Equal(t, tt.expectedName, food.Name)
			assert.Equal(t, tt.expectedBrand, food.Brand)
			assert.NotNil(t, food.Ingredients)
			assert.Len(t, food.Allergens, 7)
			assert.Empty(t, presentNames(food))
		})
	}
}

func TestNormalize_Ingredients(t *testing.T) {
	t.Run("structured list preferred over text", func(t *testing.T) {
		food := Normalize(&types.ProductResponse{Code: "1", Product: &types.Product{
			IngredientsText: "ignored, text",
			Ingredients: []types.Ingredient{
				{ID: "en:wheat-flour", Text: "Wheat flour"},
				{ID: "en:water", Text: "water"},
				{ID: "en:salt", Text: ""},
			},
		}})
		assert.Equal(t, []string{"Wheat flour", "water"}, food.Ingredients)
	})

	t.Run("text split on commas and trimmed", func(t *testing.T) {
		food := Normalize(&types.ProductResponse{Code: "1", Product: &types.Product{
			IngredientsText: " Sugar,  palm oil ,hazelnuts 13%, ,",
		}})
		assert.Equal(t, []string{"Sugar", "palm oil", "hazelnuts 13%"}, food.Ingredients)
	})

	t.Run("neither source", func(t *testing.T) {
		food := Normalize(&types.ProductResponse{Code: "1", Product: &types.Product{}})
		assert.Equal(t, []string{}, food.Ingredients)
	})

	t.Run("structured list capped at twenty", func(t *testing.T) {
		list := make([]types.Ingredient, 35)
		for i := range list {
			list[i] = types.Ingredient{ID: fmt.Sprintf("en:i%d", i), Text: fmt.Sprintf("ingredient %d", i)}
		}
		food := Normalize(&types.ProductResponse{Code: "1", Product: &types.Product{Ingredients: list}})

		require.Len(t, food.Ingredients, MaxIngredients)
		for i, text := range food.Ingredients {
			assert.Equal(t, fmt.Sprintf("ingredient %d", i), text)
		}
	})

	t.Run("text list capped at twenty", func(t *testing.T) {
		parts := ""
		for i := 0; i < 35; i++ {
			if i > 0 {
				parts += ", "
			}
			parts += fmt.Sprintf("item%d", i)
		}
		food := Normalize(&types.ProductResponse{Code: "1", Product: &types.Product{IngredientsText: parts}})

		require.Len(t, food.Ingredients, MaxIngredients)
		assert.Equal(t, "item0", food.Ingredients[0])
		assert.Equal(t, "item19", food.Ingredients[19])
	})
}

func TestNormalize_AllergenTags(t *testing.T) {
	tests := []struct {
		name     string
		tags     []string
		expected []string
	}{
		{"milk lactose substring", []string{"en:milk-lactose"}, []string{allergen.Milk}},
		{"fish oil substring", []string{"en:fish-oil"}, []string{allergen.Fish}},
		{"dairy synonym", []string{"en:dairy"}, []string{allergen.Milk}},
		{"no tags", nil, nil},
		{
			"canonical order regardless of tag order",
			[]string{"en:milk", "en:gluten", "en:peanuts"},
			[]string{allergen.CerealsContainingGluten, allergen.Peanuts, allergen.Milk},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			food := Normalize(&types.ProductResponse{Code: "1", Product: &types.Product{AllergensTags: tt.tags}})
			assert.Equal(t, tt.expected, presentNames(food))

			names := make([]string, 0, len(food.Allergens))
			for _, a := range food.Allergens {
				names = append(names, a.Name)
			}
			assert.Equal(t, allergen.Names(), names)
		})
	}
}

func TestNormalize_Deterministic(t *testing.T) {
	resp := &types.ProductResponse{
		Code: "5391520654321",
		Product: &types.Product{
			ProductName:     "Natural Greek Yogurt",
			Brands:          "Glenisk",
			IngredientsText: "milk, cultures",
			AllergensTags:   []string{"en:milk"},
		},
	}

	first := Normalize(resp)
	second := Normalize(resp)
	assert.Equal(t, first, second)

	// The payload is not modified
	assert.Equal(t, []string{"en:milk"}, resp.Product.AllergensTags)
}
