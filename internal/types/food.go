package types

// Allergen records whether one of the canonical allergens is present in a food
type Allergen struct {
	Name    string `json:"name"`
	Present bool   `json:"present"`
}

// Food is the normalized record used throughout the application.
// ID is the provider's product code and is the uniqueness key in every collection.
type Food struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Brand       string     `json:"brand"`
	Barcode     string     `json:"barcode"`
	Ingredients []string   `json:"ingredients"`
	Allergens   []Allergen `json:"allergens"`
}

// PresentAllergens returns the allergens the food contains, regardless of preferences
func (f Food) PresentAllergens() []Allergen {
	present := make([]Allergen, 0, len(f.Allergens))
	for _, a := range f.Allergens {
		if a.Present {
			present = append(present, a)
		}
	}
	return present
}
