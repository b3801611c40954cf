package odontogram

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// EntryRef points at one underlying entry of a grouped diagnostic.
type EntryRef struct {
	EntryID   string `json:"entry_id"`
	SurfaceID string `json:"surface_id"`
}

// GroupedDiagnostic merges clinically identical entries filed on different
// surfaces of one tooth.
type GroupedDiagnostic struct {
	Key          string     `json:"key"`
	ProcedureID  string     `json:"procedure_id"`
	Name         string     `json:"name,omitempty"`
	Abbreviation string     `json:"abbreviation,omitempty"`
	Color        string     `json:"color"`
	Priority     int        `json:"priority"`
	Note         string     `json:"note,omitempty"`
	Areas        []Area     `json:"areas"`
	Attributes   Selections `json:"attributes,omitempty"`
	Surfaces     []string   `json:"surfaces"`
	Refs         []EntryRef `json:"refs"`
	FullCrown    bool       `json:"full_crown"`
	FullRoot     bool       `json:"full_root"`
	Label        string     `json:"label"`
}

// aggregationKey identifies entries that only differ by surface.
func aggregationKey(e Entry) string {
	areas, _ := json.Marshal(e.Areas)
	attrs, _ := json.Marshal(e.Attributes)
	return strings.Join([]string{e.ProcedureID, e.Color, e.Note, string(areas), string(attrs)}, "\x1f")
}

func groupKey(raw string) string {
	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:8])
}

// GroupDiagnostics merges the tooth's entries by procedure, color, note,
// areas and attributes. Groups appear in the order their first entry is met
// walking surfaces in canonical order.
func GroupDiagnostics(tooth Surfaces, root RootType) []GroupedDiagnostic {
	var out []GroupedDiagnostic
	index := make(map[string]int)
	for _, sid := range tooth.IDs() {
		for _, e := range tooth[sid] {
			raw := aggregationKey(e)
			i, ok := index[raw]
			if !ok {
				i = len(out)
				index[raw] = i
				out = append(out, GroupedDiagnostic{
					Key:          groupKey(raw),
					ProcedureID:  e.ProcedureID,
					Name:         e.Name,
					Abbreviation: e.Abbreviation,
					Color:        e.Color,
					Priority:     e.Priority,
					Note:         e.Note,
					Areas:        append([]Area(nil), e.Areas...),
					Attributes:   e.Attributes.clone(),
				})
			}
			g := &out[i]
			g.Refs = append(g.Refs, EntryRef{EntryID: e.ID, SurfaceID: sid})
			if !containsString(g.Surfaces, sid) {
				g.Surfaces = append(g.Surfaces, sid)
			}
		}
	}
	for i := range out {
		g := &out[i]
		g.FullCrown = isFullCrown(g.Surfaces)
		g.FullRoot = isFullRoot(g.Surfaces, root)
		g.Label = groupLabel(g.Surfaces, root)
	}
	return out
}

func groupLabel(surfaces []string, root RootType) string {
	var crown, roots, other []string
	for _, id := range surfaces {
		switch {
		case IsCrownSurface(id):
			crown = append(crown, id)
		case IsRootSurface(id):
			roots = append(roots, id)
		default:
			other = append(other, id)
		}
	}
	var parts []string
	if isFullCrown(crown) {
		parts = append(parts, LabelFullCrown)
	} else {
		parts = appendLabels(parts, crown)
	}
	if isFullRoot(roots, root) {
		parts = append(parts, LabelFullRoot)
	} else {
		parts = appendLabels(parts, roots)
	}
	parts = appendLabels(parts, other)
	return strings.Join(parts, ", ")
}

func appendLabels(parts, ids []string) []string {
	for _, id := range ids {
		parts = append(parts, SurfaceLabel(id))
	}
	return parts
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
