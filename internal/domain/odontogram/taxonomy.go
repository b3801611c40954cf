package odontogram

import (
	"fmt"
	"sort"
	"strconv"
)

// RootType classifies a tooth by the set of root faces it is charted with.
type RootType string

const (
	RootTypeUpperMolar    RootType = "upper_molar"
	RootTypeLowerMolar    RootType = "lower_molar"
	RootTypeUpperPremolar RootType = "upper_premolar"
	RootTypeLowerPremolar RootType = "lower_premolar"
	RootTypeCanine        RootType = "canine"
	RootTypeIncisor       RootType = "incisor"
)

var rootFaces = map[RootType][]string{
	RootTypeUpperMolar:    {RootMesial, RootDistal, RootPalatina},
	RootTypeLowerMolar:    {RootMesial, RootDistal},
	RootTypeUpperPremolar: {RootVestibular, RootPalatina},
	RootTypeLowerPremolar: {RootUnica},
	RootTypeCanine:        {RootUnica},
	RootTypeIncisor:       {RootUnica},
}

// RootFaces returns the expected root-face ids of the root type. Unknown
// types have no root faces.
func (r RootType) RootFaces() []string {
	return append([]string(nil), rootFaces[r]...)
}

// Valid reports whether r is one of the six known root types.
func (r RootType) Valid() bool {
	_, ok := rootFaces[r]
	return ok
}

// Taxonomy maps tooth identifiers (FDI two-digit notation) to root types.
type Taxonomy struct {
	teeth map[string]RootType
}

// NewTaxonomy builds a taxonomy from an explicit table.
func NewTaxonomy(teeth map[string]RootType) (*Taxonomy, error) {
	t := &Taxonomy{teeth: make(map[string]RootType, len(teeth))}
	for id, rt := range teeth {
		if !rt.Valid() {
			return nil, fmt.Errorf("tooth %s: unknown root type %q", id, rt)
		}
		t.teeth[id] = rt
	}
	return t, nil
}

// DefaultTaxonomy returns the FDI permanent and deciduous dentition.
func DefaultTaxonomy() *Taxonomy {
	teeth := make(map[string]RootType, 52)
	for _, quadrant := range []int{1, 2, 3, 4} {
		upper := quadrant <= 2
		for pos := 1; pos <= 8; pos++ {
			teeth[toothID(quadrant, pos)] = permanentRootType(upper, pos)
		}
	}
	for _, quadrant := range []int{5, 6, 7, 8} {
		upper := quadrant <= 6
		for pos := 1; pos <= 5; pos++ {
			teeth[toothID(quadrant, pos)] = deciduousRootType(upper, pos)
		}
	}
	return &Taxonomy{teeth: teeth}
}

func toothID(quadrant, pos int) string {
	return strconv.Itoa(quadrant*10 + pos)
}

func permanentRootType(upper bool, pos int) RootType {
	switch {
	case pos <= 2:
		return RootTypeIncisor
	case pos == 3:
		return RootTypeCanine
	case pos <= 5 && upper:
		return RootTypeUpperPremolar
	case pos <= 5:
		return RootTypeLowerPremolar
	case upper:
		return RootTypeUpperMolar
	default:
		return RootTypeLowerMolar
	}
}

func deciduousRootType(upper bool, pos int) RootType {
	switch {
	case pos <= 2:
		return RootTypeIncisor
	case pos == 3:
		return RootTypeCanine
	case upper:
		return RootTypeUpperMolar
	default:
		return RootTypeLowerMolar
	}
}

// RootType returns the root type of a tooth.
func (t *Taxonomy) RootType(toothID string) (RootType, bool) {
	rt, ok := t.teeth[toothID]
	return rt, ok
}

// Teeth returns all known tooth ids in ascending numeric order.
func (t *Taxonomy) Teeth() []string {
	ids := make([]string, 0, len(t.teeth))
	for id := range t.teeth {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, _ := strconv.Atoi(ids[i])
		b, _ := strconv.Atoi(ids[j])
		return a < b
	})
	return ids
}

// Surfaces returns the valid canonical surface ids of a tooth:
// the crown faces, the root faces of its root type, then general.
func (t *Taxonomy) Surfaces(toothID string) []string {
	rt, ok := t.teeth[toothID]
	if !ok {
		return nil
	}
	out := append([]string(nil), CrownSurfaces...)
	out = append(out, rootFaces[rt]...)
	return append(out, SurfaceGeneral)
}

// ValidSurface reports whether the canonical id is valid for the tooth.
func (t *Taxonomy) ValidSurface(toothID, surfaceID string) bool {
	for _, s := range t.Surfaces(toothID) {
		if s == surfaceID {
			return true
		}
	}
	return false
}

// surfaceRank orders surfaces for display: crown faces, root faces, general.
func surfaceRank(id string) int {
	for i, s := range CrownSurfaces {
		if s == id {
			return i
		}
	}
	for i, s := range []string{RootMesial, RootDistal, RootPalatina, RootVestibular, RootUnica} {
		if s == id {
			return len(CrownSurfaces) + i
		}
	}
	if id == SurfaceGeneral {
		return 100
	}
	return 200
}

func sortSurfaces(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		ri, rj := surfaceRank(ids[i]), surfaceRank(ids[j])
		if ri != rj {
			return ri < rj
		}
		return ids[i] < ids[j]
	})
}
