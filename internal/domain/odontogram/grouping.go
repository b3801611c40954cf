package odontogram

// GroupKind distinguishes collapsed anatomical groups from single surfaces.
type GroupKind string

const (
	GroupKindGroup  GroupKind = "group"
	GroupKindSingle GroupKind = "single"
)

const (
	LabelFullCrown = "full crown"
	LabelFullRoot  = "full root"
)

// SurfaceGroup is one display item of a selection. Group items carry
// Surfaces; single items carry Surface.
type SurfaceGroup struct {
	Type     GroupKind `json:"type"`
	Label    string    `json:"label"`
	Surfaces []string  `json:"surfaces,omitempty"`
	Surface  string    `json:"surface,omitempty"`
}

// GroupSurfaces collapses a selection into a full crown and/or full root
// group when every expected face is present, and lists the faces singly
// otherwise. Crown items come before root items.
func GroupSurfaces(selection []string, root RootType) []SurfaceGroup {
	var crown, roots []string
	for _, id := range NormalizeSurfaceIDs(selection) {
		switch {
		case IsCrownSurface(id):
			crown = append(crown, id)
		case IsRootSurface(id):
			roots = append(roots, id)
		}
	}
	sortSurfaces(crown)
	sortSurfaces(roots)

	var out []SurfaceGroup
	if isFullCrown(crown) {
		out = append(out, SurfaceGroup{Type: GroupKindGroup, Label: LabelFullCrown, Surfaces: crown})
	} else {
		out = appendSingles(out, crown)
	}
	if isFullRoot(roots, root) {
		out = append(out, SurfaceGroup{Type: GroupKindGroup, Label: LabelFullRoot, Surfaces: roots})
	} else {
		out = appendSingles(out, roots)
	}
	return out
}

func appendSingles(out []SurfaceGroup, ids []string) []SurfaceGroup {
	for _, id := range ids {
		out = append(out, SurfaceGroup{Type: GroupKindSingle, Label: SurfaceLabel(id), Surface: id})
	}
	return out
}

// sameSet compares two sets of canonical ids, order independent.
func sameSet(got, want []string) bool {
	if len(got) != len(want) || len(want) == 0 {
		return false
	}
	index := make(map[string]bool, len(want))
	for _, id := range want {
		index[id] = true
	}
	seen := make(map[string]bool, len(got))
	for _, id := range got {
		if !index[id] || seen[id] {
			return false
		}
		seen[id] = true
	}
	return true
}

func isFullCrown(ids []string) bool {
	return sameSet(ids, CrownSurfaces)
}

func isFullRoot(ids []string, root RootType) bool {
	return sameSet(ids, root.RootFaces())
}
