package provider

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/noot-app/allergen-scanner/internal/types"
)

// MockProvider is an in-memory catalogue for tests and offline demos
type MockProvider struct {
	mu          sync.RWMutex
	products    []types.Product
	err         error
	pageSize    int
	fetchCalls  int
	searchCalls int
	log         *slog.Logger
}

// Ensure MockProvider implements Provider
var _ Provider = (*MockProvider)(nil)

// NewMockProvider creates a mock seeded with the sample Irish catalogue
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{
		log:      logger,
		pageSize: defaultPageSize,
		products: SampleProducts(),
	}
}

// SampleProducts returns the built-in catalogue of eight foods
func SampleProducts() []types.Product {
	return []types.Product{
		{
			Code:            "5000169005057",
			ProductName:     "Whole Wheat Bread",
			Brands:          "Brennans",
			IngredientsText: "Wholemeal wheat flour, water, yeast, salt, vegetable oil",
			AllergensTags:   []string{"en:gluten"},
		},
		{
			Code:            "5391531234567",
			ProductName:     "Fresh Salmon Fillet",
			Brands:          "SuperValu",
			IngredientsText: "Atlantic salmon (fish)",
			AllergensTags:   []string{"en:fish"},
		},
		{
			Code:            "5391520654321",
			ProductName:     "Natural Greek Yogurt",
			Brands:          "Glenisk",
			IngredientsText: "Whole milk, live cultures",
			AllergensTags:   []string{"en:milk"},
		},
		{
			Code:            "5391533987654",
			ProductName:     "Organic Free Range Eggs",
			Brands:          "Dunnes Stores",
			IngredientsText: "Free range eggs",
			AllergensTags:   []string{"en:eggs"},
		},
		{
			Code:            "5000169123456",
			ProductName:     "Peanut Butter",
			Brands:          "Whole Earth",
			IngredientsText: "Roasted peanuts, palm oil, sea salt",
			AllergensTags:   []string{"en:peanuts"},
		},
		{
			Code:            "5411188123789",
			ProductName:     "Soy Milk",
			Brands:          "Alpro",
			IngredientsText: "Water, hulled soya beans, calcium, sea salt, vitamins",
			AllergensTags:   []string{"en:soybeans"},
		},
		{
			Code:            "5000169999999",
			ProductName:     "Fresh Prawns",
			Brands:          "Tesco",
			IngredientsText: "Prawns (crustaceans), salt",
			AllergensTags:   []string{"en:crustaceans"},
		},
		{
			Code:            "5391531111111",
			ProductName:     "Organic Bananas",
			Brands:          "Fresh & Easy",
			IngredientsText: "Organic bananas",
			AllergensTags:   []string{},
		},
	}
}

// FetchByBarcode returns the catalogue entry with the exact barcode
func (m *MockProvider) FetchByBarcode(ctx context.Context, barcode string) (*types.ProductResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchCalls++

	if m.err != nil {
		return nil, m.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	barcode = strings.TrimSpace(barcode)
	for _, product := range m.products {
		if product.Code == barcode {
			resp := types.NewProductResponse(product)
			return &resp, nil
		}
	}

	m.log.Debug("Mock barcode not found", "barcode", barcode)
	return nil, ErrNotFound
}

// SearchByName matches the query against product name and brand, ignoring case
func (m *MockProvider) SearchByName(ctx context.Context, query string) ([]types.ProductResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchCalls++

	if m.err != nil {
		return nil, m.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := []types.ProductResponse{}
	query = strings.TrimSpace(query)
	if query == "" {
		return results, nil
	}

	for _, product := range m.products {
		if !contains(product.ProductName, query) && !contains(product.Brands, query) {
			continue
		}
		results = append(results, types.NewProductResponse(product))
		if len(results) >= m.pageSize {
			break
		}
	}
	return results, nil
}

// HealthCheck returns the injected error, if any
func (m *MockProvider) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}

// SetError sets an error to be returned by the mock
func (m *MockProvider) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetProducts sets the products to be returned by the mock
func (m *MockProvider) SetProducts(products []types.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products = products
}

// SetPageSize bounds search results
func (m *MockProvider) SetPageSize(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > 0 {
		m.pageSize = n
	}
}

// Calls reports how many fetches and searches reached the mock
func (m *MockProvider) Calls() (fetches, searches int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fetchCalls, m.searchCalls
}

// contains checks if a string contains a substring (case-insensitive)
func contains(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
