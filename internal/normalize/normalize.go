// Package normalize converts Open Food Facts payloads into Food records.
package normalize

import (
	"strings"

	"github.com/noot-app/allergen-scanner/internal/allergen"
	"github.com/noot-app/allergen-scanner/internal/types"
)

const (
	// MaxIngredients is a hard cap on the ingredient list of a Food
	MaxIngredients = 20

	UnknownProduct = "Unknown Product"
	UnknownBrand   = "Unknown Brand"
)

// Normalize converts a provider payload into a Food. It never fails: missing fields
// fall back to defaults. Only call it for payloads the provider reported as found.
func Normalize(resp *types.ProductResponse) types.Food {
	food := types.Food{
		Name:        UnknownProduct,
		Brand:       UnknownBrand,
		Ingredients: []string{},
		Allergens:   allergen.Detect(nil),
	}
	if resp == nil {
		return food
	}

	food.ID = resp.Code
	food.Barcode = resp.Code

	p := resp.Product
	if p == nil {
		return food
	}

	if name := strings.TrimSpace(p.ProductName); name != "" {
		food.Name = p.ProductName
	}
	if brand := strings.TrimSpace(p.Brands); brand != "" {
		food.Brand = p.Brands
	}

	food.Ingredients = ingredients(p)
	food.Allergens = allergen.Detect(p.AllergensTags)
	return food
}

// ingredients prefers the structured list and falls back to the free-text field
func ingredients(p *types.Product) []string {
	out := make([]string, 0, MaxIngredients)

	if len(p.Ingredients) > 0 {
		for _, ing := range p.Ingredients {
			if len(out) == MaxIngredients {
				break
			}
			if text := strings.TrimSpace(ing.Text); text != "" {
				out = append(out, text)
			}
		}
		return out
	}

	if p.IngredientsText == "" {
		return out
	}

	for _, part := range strings.Split(p.IngredientsText, ",") {
		if len(out) == MaxIngredients {
			break
		}
		if text := strings.TrimSpace(part); text != "" {
			out = append(out, text)
		}
	}
	return out
}
