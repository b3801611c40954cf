package odontogram

import (
	"encoding/json"
	"time"
)

// Entry is one applied finding filed under one tooth surface.
type Entry struct {
	ID           string     `json:"id"`
	ProcedureID  string     `json:"procedure_id"`
	Name         string     `json:"name,omitempty"`
	Abbreviation string     `json:"abbreviation,omitempty"`
	Color        string     `json:"color"`
	Priority     int        `json:"priority"`
	Areas        []Area     `json:"areas"`
	Attributes   Selections `json:"attributes,omitempty"`
	Note         string     `json:"note,omitempty"`
	SurfaceID    string     `json:"surface_id"`
	CreatedAt    time.Time  `json:"created_at"`
}

func (e Entry) clone() Entry {
	cp := e
	cp.Areas = append([]Area(nil), e.Areas...)
	cp.Attributes = e.Attributes.clone()
	return cp
}

// Surfaces holds the entries of one tooth keyed by canonical surface id.
type Surfaces map[string][]Entry

// IDs returns the surface ids that hold entries, in canonical display order.
func (s Surfaces) IDs() []string {
	ids := make([]string, 0, len(s))
	for id, entries := range s {
		if len(entries) > 0 {
			ids = append(ids, id)
		}
	}
	sortSurfaces(ids)
	return ids
}

// All flattens the entries across surfaces in canonical surface order, and
// in insertion order within a surface. This is the order first-seen
// tie-breaking relies on.
func (s Surfaces) All() []Entry {
	var out []Entry
	for _, id := range s.IDs() {
		out = append(out, s[id]...)
	}
	return out
}

func (s Surfaces) clone() Surfaces {
	out := make(Surfaces, len(s))
	for id, entries := range s {
		cp := make([]Entry, len(entries))
		for i, e := range entries {
			cp[i] = e.clone()
		}
		out[id] = cp
	}
	return out
}

// State is the full diagnostic chart of one patient: tooth → surface → entries.
type State map[string]Surfaces

// Clone returns a deep copy; snapshots handed out of a session never alias it.
func (s State) Clone() State {
	out := make(State, len(s))
	for tooth, surfaces := range s {
		out[tooth] = surfaces.clone()
	}
	return out
}

// Count returns the total number of entries.
func (s State) Count() int {
	n := 0
	for _, surfaces := range s {
		for _, entries := range surfaces {
			n += len(entries)
		}
	}
	return n
}

// Raw encodes the state into the persisted record shape.
func (s State) Raw() (RawState, error) {
	raw := make(RawState, len(s))
	for tooth, surfaces := range s {
		rs := make(map[string]json.RawMessage, len(surfaces))
		for id, entries := range surfaces {
			if len(entries) == 0 {
				continue
			}
			b, err := json.Marshal(entries)
			if err != nil {
				return nil, err
			}
			rs[id] = b
		}
		if len(rs) > 0 {
			raw[tooth] = rs
		}
	}
	return raw, nil
}

// RawState is the persisted record shape: tooth → surface → JSON value that
// should be a list of entries but is not trusted to be one.
type RawState map[string]map[string]json.RawMessage
