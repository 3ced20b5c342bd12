// Package provider looks foods up in an external food database.
package provider

import (
	"context"
	"errors"

	"github.com/noot-app/allergen-scanner/internal/types"
)

// ErrNotFound is returned when the database has no record for a barcode
var ErrNotFound = errors.New("food not found")

// Provider fetches product records by barcode and by free-text query
type Provider interface {
	// FetchByBarcode returns ErrNotFound when the barcode is unknown
	FetchByBarcode(ctx context.Context, barcode string) (*types.ProductResponse, error)
	// SearchByName returns at most one page of results; no match is an empty slice
	SearchByName(ctx context.Context, query string) ([]types.ProductResponse, error)
}

// HealthChecker is implemented by providers that can report backend reachability
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Outcome distinguishes the result kinds of a lookup
type Outcome int

const (
	OutcomeFound Outcome = iota
	OutcomeNotFound
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeNotFound:
		return "not_found"
	default:
		return "failed"
	}
}

// Classify maps a lookup error to its outcome
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeFound
	case errors.Is(err, ErrNotFound):
		return OutcomeNotFound
	default:
		return OutcomeFailed
	}
}
