// Package allergen holds the Irish top-7 allergen table, tag matching and
// preference-aware filtering.
package allergen

import (
	"strings"

	"github.com/noot-app/allergen-scanner/internal/types"
)

// Canonical allergen names
const (
	CerealsContainingGluten = "Cereals containing gluten"
	Crustaceans             = "Crustaceans"
	Eggs                    = "Eggs"
	Fish                    = "Fish"
	Peanuts                 = "Peanuts"
	Soybeans                = "Soybeans"
	Milk                    = "Milk"
)

// names is the canonical list in its significant order
var names = []string{
	CerealsContainingGluten,
	Crustaceans,
	Eggs,
	Fish,
	Peanuts,
	Soybeans,
	Milk,
}

// tagSynonyms maps each canonical name to the provider tag fragments that indicate it.
// Matching is case-sensitive substring containment.
var tagSynonyms = map[string][]string{
	CerealsContainingGluten: {"en:gluten", "gluten"},
	Crustaceans:             {"en:crustaceans", "crustaceans"},
	Eggs:                    {"en:eggs", "eggs"},
	Fish:                    {"en:fish", "fish"},
	Peanuts:                 {"en:peanuts", "peanuts"},
	Soybeans:                {"en:soybeans", "soybeans"},
	Milk:                    {"en:milk", "milk", "en:dairy", "dairy"},
}

// Names returns a copy of the canonical allergen list
func Names() []string {
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// Synonyms returns the tag fragments configured for a canonical name
func Synonyms(name string) []string {
	syn := tagSynonyms[name]
	out := make([]string, len(syn))
	copy(out, syn)
	return out
}

// IsCanonical reports whether name is exactly one of the seven canonical names
func IsCanonical(name string) bool {
	_, ok := tagSynonyms[name]
	return ok
}

// Resolve maps user input to a canonical name, ignoring case and surrounding space
func Resolve(input string) (string, bool) {
	input = strings.TrimSpace(input)
	for _, name := range names {
		if strings.EqualFold(name, input) {
			return name, true
		}
	}
	return "", false
}

// Detect builds the seven-entry allergen list, in canonical order, from provider tags
func Detect(tags []string) []types.Allergen {
	allergens := make([]types.Allergen, 0, len(names))
	for _, name := range names {
		allergens = append(allergens, types.Allergen{
			Name:    name,
			Present: matchesAny(tags, tagSynonyms[name]),
		})
	}
	return allergens
}

func matchesAny(tags, synonyms []string) bool {
	for _, tag := range tags {
		for _, syn := range synonyms {
			if strings.Contains(tag, syn) {
				return true
			}
		}
	}
	return false
}
