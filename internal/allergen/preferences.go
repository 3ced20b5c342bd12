package allergen

// Preferences maps a canonical allergen name to whether it is monitored.
// A name missing from the map is monitored.
type Preferences map[string]bool

// DefaultPreferences returns a map with every canonical allergen monitored
func DefaultPreferences() Preferences {
	prefs := make(Preferences, len(names))
	for _, name := range names {
		prefs[name] = true
	}
	return prefs
}

// Merge returns the defaults overlaid with overrides; overrides win per key
func Merge(overrides map[string]bool) Preferences {
	prefs := DefaultPreferences()
	for name, enabled := range overrides {
		prefs[name] = enabled
	}
	return prefs
}

// Monitored reports whether name should be flagged
func (p Preferences) Monitored(name string) bool {
	enabled, ok := p[name]
	return !ok || enabled
}

// Clone returns an independent copy
func (p Preferences) Clone() Preferences {
	out := make(Preferences, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
