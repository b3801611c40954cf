package odontogram

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Hydrator completes records coming from storage with the fields derived
// from the catalog and reshapes them into a consistent State.
type Hydrator struct {
	catalog  *Catalog
	taxonomy *Taxonomy
	logger   zerolog.Logger
	newID    func() string
}

func NewHydrator(catalog *Catalog, taxonomy *Taxonomy, logger zerolog.Logger) *Hydrator {
	return &Hydrator{catalog: catalog, taxonomy: taxonomy, logger: logger, newID: uuid.NewString}
}

// Entry fills missing name, abbreviation, priority, color, areas and
// attribute kinds. Fields already present are kept, so hydrating twice is a
// no-op. Entries whose procedure is unknown pass through unchanged.
func (h *Hydrator) Entry(e Entry) Entry {
	if e.Areas == nil {
		switch {
		case e.SurfaceID == SurfaceGeneral:
			e.Areas = []Area{AreaWholeTooth}
		case IsCrownSurface(e.SurfaceID):
			e.Areas = []Area{AreaCrown}
		case IsRootSurface(e.SurfaceID):
			e.Areas = []Area{AreaRoot}
		}
	}
	lookup, ok := h.catalog.Find(e.ProcedureID)
	if !ok {
		return e
	}
	if e.Name == "" {
		e.Name = lookup.Definition.Name
	}
	if e.Abbreviation == "" {
		e.Abbreviation = lookup.Definition.Abbreviation
	}
	if e.Priority == 0 {
		e.Priority = lookup.Priority()
	}
	e.Attributes = settleKinds(lookup.Definition.Attributes, e.Attributes)
	if e.Color == "" {
		if c, err := ResolveColor(lookup, ColorUnset, e.Attributes); err == nil {
			e.Color = c
		}
	}
	return e
}

// DecodeRawState parses a stored document into RawState. Teeth whose value
// is not an object are skipped.
func DecodeRawState(b []byte) (RawState, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(b, &top); err != nil {
		return nil, fmt.Errorf("decode odontogram document: %w", err)
	}
	raw := make(RawState, len(top))
	for tooth, v := range top {
		var surfaces map[string]json.RawMessage
		if err := json.Unmarshal(v, &surfaces); err != nil || surfaces == nil {
			continue
		}
		raw[tooth] = surfaces
	}
	return raw, nil
}

// State hydrates a stored chart. Malformed pieces are dropped rather than
// failing the load: non-list surface values become empty, undecodable
// entries are skipped, unknown teeth and surfaces are discarded, and a tooth
// holding whole-tooth entries keeps only those.
func (h *Hydrator) State(raw RawState) State {
	state := make(State, len(raw))
	seenIDs := make(map[string]bool)
	for tooth, rawSurfaces := range raw {
		if _, ok := h.taxonomy.RootType(tooth); !ok {
			h.logger.Warn().Str("tooth_id", tooth).Msg("dropping unknown tooth from stored chart")
			continue
		}
		surfaces := Surfaces{}
		for key, value := range rawSurfaces {
			sid := NormalizeSurfaceID(key)
			if !h.taxonomy.ValidSurface(tooth, sid) {
				h.logger.Warn().Str("tooth_id", tooth).Str("surface_id", key).Msg("dropping invalid surface from stored chart")
				continue
			}
			for _, e := range h.decodeEntries(tooth, key, value) {
				e.SurfaceID = sid
				if e.ID == "" || seenIDs[e.ID] {
					e.ID = h.newID()
				}
				seenIDs[e.ID] = true
				surfaces[sid] = append(surfaces[sid], h.Entry(e))
			}
		}
		if len(surfaces[SurfaceGeneral]) > 0 && len(surfaces) > 1 {
			h.logger.Warn().Str("tooth_id", tooth).Msg("stored chart mixes whole-tooth and surface entries; keeping whole-tooth entries")
			surfaces = Surfaces{SurfaceGeneral: surfaces[SurfaceGeneral]}
		}
		if len(surfaces) > 0 {
			state[tooth] = surfaces
		}
	}
	return state
}

func (h *Hydrator) decodeEntries(tooth, surface string, value json.RawMessage) []Entry {
	var items []json.RawMessage
	if err := json.Unmarshal(value, &items); err != nil {
		h.logger.Debug().Str("tooth_id", tooth).Str("surface_id", surface).Msg("stored surface is not a list; treating as empty")
		return nil
	}
	out := make([]Entry, 0, len(items))
	for _, item := range items {
		var e Entry
		if err := json.Unmarshal(item, &e); err != nil || e.ProcedureID == "" {
			h.logger.Debug().Str("tooth_id", tooth).Str("surface_id", surface).Msg("skipping undecodable stored entry")
			continue
		}
		out = append(out, e)
	}
	return out
}
