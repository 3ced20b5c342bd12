package types

// ProductResponse is the envelope returned by the Open Food Facts product endpoint.
// Search results are wrapped into the same shape so every lookup path hands the
// normalizer one type.
type ProductResponse struct {
	Code          string   `json:"code"`
	Product       *Product `json:"product,omitempty"`
	Status        int      `json:"status"`
	StatusVerbose string   `json:"status_verbose,omitempty"`
}

// Found reports whether the provider confirmed the lookup
func (r *ProductResponse) Found() bool {
	return r != nil && r.Status == 1 && r.Product != nil
}

// Product represents a product record from Open Food Facts
type Product struct {
	Code            string       `json:"code,omitempty"`
	ProductName     string       `json:"product_name,omitempty"`
	Brands          string       `json:"brands,omitempty"`
	IngredientsText string       `json:"ingredients_text,omitempty"`
	Allergens       string       `json:"allergens,omitempty"`
	AllergensTags   []string     `json:"allergens_tags,omitempty"`
	Ingredients     []Ingredient `json:"ingredients,omitempty"`
	ImageURL        string       `json:"image_url,omitempty"`
	NutritionGrades string       `json:"nutrition_grades,omitempty"`
}

// Ingredient represents one entry of a product's structured ingredient list
type Ingredient struct {
	ID              string   `json:"id"`
	Text            string   `json:"text"`
	PercentEstimate *float64 `json:"percent_estimate,omitempty"`
	Vegan           *string  `json:"vegan,omitempty"`
	Vegetarian      *string  `json:"vegetarian,omitempty"`
}

// NewProductResponse wraps a bare product (as returned by search) into a found envelope
func NewProductResponse(p Product) ProductResponse {
	product := p
	return ProductResponse{
		Code:          p.Code,
		Product:       &product,
		Status:        1,
		StatusVerbose: "product found",
	}
}
