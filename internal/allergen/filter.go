package allergen

import (
	"fmt"

	"github.com/noot-app/allergen-scanner/internal/types"
)

// Assessment is what the presentation layer shows for a food
type Assessment struct {
	Allergens  []types.Allergen `json:"allergens"`
	Count      int              `json:"count"`
	HasWarning bool             `json:"has_warning"`
}

// MonitoredPresent returns the allergens that are present in the food and monitored
func MonitoredPresent(food types.Food, prefs Preferences) []types.Allergen {
	out := make([]types.Allergen, 0, len(food.Allergens))
	for _, a := range food.Allergens {
		if a.Present && prefs.Monitored(a.Name) {
			out = append(out, a)
		}
	}
	return out
}

// Assess computes the warning state of a food under the given preferences
func Assess(food types.Food, prefs Preferences) Assessment {
	flagged := MonitoredPresent(food, prefs)
	return Assessment{
		Allergens:  flagged,
		Count:      len(flagged),
		HasWarning: len(flagged) > 0,
	}
}

// Summary renders the one-line status shown next to a food
func (a Assessment) Summary() string {
	if !a.HasWarning {
		return "No allergens detected"
	}
	if a.Count == 1 {
		return "Contains 1 allergen"
	}
	return fmt.Sprintf("Contains %d allergens", a.Count)
}
