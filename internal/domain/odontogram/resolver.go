package odontogram

import "fmt"

// DominantColor returns the color of the entry with the lowest priority
// number. Entries outside the catalog tiers rank after every tier. Ties go
// to the entry seen first. Reports false for no entries so the caller can
// render the healthy appearance.
func DominantColor(entries []Entry) (string, bool) {
	if len(entries) == 0 {
		return "", false
	}
	best := 0
	for i := 1; i < len(entries); i++ {
		if precedence(entries[i].Priority) < precedence(entries[best].Priority) {
			best = i
		}
	}
	return entries[best].Color, true
}

// precedence maps priorities with no catalog tier, such as entries whose
// procedure left the catalog, below the lowest tier.
func precedence(p int) int {
	if !Tier(p).Valid() {
		return TierInformativa.Priority() + 1
	}
	return p
}

// ResolveColor picks the color of a new entry. Restorations take the color
// of the selected material when it declares one, then the requested class,
// then the category class. Every other class is fixed by its category.
func ResolveColor(l Lookup, requested ColorClass, sel Selections) (string, error) {
	switch l.Color {
	case ColorRestoration:
		if hex, ok := materialColor(l.Definition, sel); ok {
			return hex, nil
		}
		if requested != ColorUnset {
			return requested.Hex()
		}
		return l.Color.Hex()
	case ColorPathology, ColorAbsence, ColorTreatment, ColorProsthesis, ColorObservation:
		return l.Color.Hex()
	case ColorUnset:
		return "", fmt.Errorf("category %s has no color class", l.CategoryID)
	default:
		return "", fmt.Errorf("category %s: unknown color class %q", l.CategoryID, string(l.Color))
	}
}

func materialColor(d Definition, sel Selections) (string, bool) {
	v, ok := sel[MaterialGroupID]
	if !ok || v.Option == "" {
		return "", false
	}
	for _, g := range d.Attributes {
		if g.ID != MaterialGroupID {
			continue
		}
		if o, ok := g.option(v.Option); ok && o.Color != "" {
			return o.Color, true
		}
	}
	return "", false
}
