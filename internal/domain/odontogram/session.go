package odontogram

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ApplyRequest describes one diagnosis to chart.
type ApplyRequest struct {
	ToothID     string     `json:"tooth_id"`
	SurfaceIDs  []string   `json:"surface_ids"`
	ProcedureID string     `json:"procedure_id"`
	Color       ColorClass `json:"color,omitempty"`
	Attributes  Selections `json:"attributes,omitempty"`
	Note        string     `json:"note,omitempty"`
	Areas       []Area     `json:"areas"`
}

// Batch lists the entries created by one apply.
type Batch struct {
	ToothID  string   `json:"tooth_id"`
	EntryIDs []string `json:"entry_ids"`
	Cleared  int      `json:"cleared,omitempty"`
}

// Session owns the chart of one patient while it is being edited. It is
// not safe for concurrent use.
type Session struct {
	catalog  *Catalog
	taxonomy *Taxonomy
	blocking *BlockingEvaluator
	logger   zerolog.Logger
	newID    func() string
	now      func() time.Time

	state    State
	blocked  map[string]bool
	revision int
}

// SessionOption configures a Session.
type SessionOption func(*Session)

func WithIDGenerator(fn func() string) SessionOption {
	return func(s *Session) { s.newID = fn }
}

func WithClock(fn func() time.Time) SessionOption {
	return func(s *Session) { s.now = fn }
}

func WithBlockingEvaluator(b *BlockingEvaluator) SessionOption {
	return func(s *Session) { s.blocking = b }
}

// NewSession creates an empty chart bound to the catalog and taxonomy.
func NewSession(catalog *Catalog, taxonomy *Taxonomy, logger zerolog.Logger, opts ...SessionOption) *Session {
	s := &Session{
		catalog:  catalog,
		taxonomy: taxonomy,
		blocking: DefaultBlockingEvaluator(),
		logger:   logger,
		newID:    uuid.NewString,
		now:      func() time.Time { return time.Now().UTC() },
		state:    State{},
		blocked:  map[string]bool{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the chart with state, typically the hydrated canonical
// version returned by storage.
func (s *Session) Load(state State) {
	s.state = state.Clone()
	s.blocked = map[string]bool{}
	for tooth := range s.state {
		s.refreshBlocked(tooth)
	}
	s.revision = 0
}

// Revision counts mutations since the last Load.
func (s *Session) Revision() int { return s.revision }

// Snapshot returns a deep copy of the chart.
func (s *Session) Snapshot() State { return s.state.Clone() }

// Tooth returns a copy of one tooth's surfaces.
func (s *Session) Tooth(toothID string) Surfaces {
	return s.state[toothID].clone()
}

// Apply charts a diagnosis. Rejected requests leave the chart untouched.
func (s *Session) Apply(req ApplyRequest) (Batch, error) {
	if req.ToothID == "" {
		return Batch{}, reject(ErrToothRequired, "")
	}
	surfaces := NormalizeSurfaceIDs(req.SurfaceIDs)
	if len(surfaces) == 0 {
		return Batch{}, reject(ErrSurfacesRequired, "")
	}
	lookup, ok := s.catalog.Find(req.ProcedureID)
	if !ok {
		return Batch{}, reject(ErrUnknownProcedure, "%s", req.ProcedureID)
	}
	if len(req.Areas) == 0 {
		return Batch{}, reject(ErrAreasRequired, "")
	}
	if _, ok := s.taxonomy.RootType(req.ToothID); !ok {
		return Batch{}, reject(ErrUnknownTooth, "%s", req.ToothID)
	}
	for _, a := range req.Areas {
		if !lookup.Definition.HasArea(a) {
			return Batch{}, reject(ErrAreaNotAllowed, "%s on %s", a, lookup.Definition.ID)
		}
	}
	sel := settleKinds(lookup.Definition.Attributes, req.Attributes)
	if err := validateSelections(lookup.Definition.Attributes, sel); err != nil {
		return Batch{}, reject(ErrInvalidAttributes, "%s", err.Error())
	}
	color, err := ResolveColor(lookup, req.Color, sel)
	if err != nil {
		return Batch{}, reject(ErrInvalidAttributes, "%s", err.Error())
	}

	base := Entry{
		ProcedureID:  lookup.Definition.ID,
		Name:         lookup.Definition.Name,
		Abbreviation: lookup.Definition.Abbreviation,
		Color:        color,
		Priority:     lookup.Priority(),
		Areas:        append([]Area(nil), req.Areas...),
		Attributes:   sel,
		Note:         req.Note,
		CreatedAt:    s.now(),
	}

	if hasArea(req.Areas, AreaWholeTooth) {
		return s.applyWholeTooth(req.ToothID, base), nil
	}

	for _, sid := range surfaces {
		if sid == SurfaceGeneral || !s.taxonomy.ValidSurface(req.ToothID, sid) {
			return Batch{}, reject(ErrInvalidSurface, "%s on tooth %s", sid, req.ToothID)
		}
		if IsCrownSurface(sid) && !hasArea(req.Areas, AreaCrown) {
			return Batch{}, reject(ErrAreaMismatch, "select a root surface first")
		}
		if IsRootSurface(sid) && !hasArea(req.Areas, AreaRoot) {
			return Batch{}, reject(ErrAreaMismatch, "select a crown surface first")
		}
	}
	if s.blocked[req.ToothID] {
		return Batch{}, reject(ErrToothBlocked, "%s", req.ToothID)
	}

	tooth := s.state[req.ToothID]
	if tooth == nil {
		tooth = Surfaces{}
		s.state[req.ToothID] = tooth
	}
	batch := Batch{ToothID: req.ToothID}
	if general := len(tooth[SurfaceGeneral]); general > 0 {
		s.logger.Warn().
			Str("tooth_id", req.ToothID).
			Int("discarded", general).
			Msg("surface diagnosis replaces whole-tooth entries")
		delete(tooth, SurfaceGeneral)
		batch.Cleared = general
	}
	for _, sid := range surfaces {
		e := base.clone()
		e.ID = s.newID()
		e.SurfaceID = sid
		tooth[sid] = append(tooth[sid], e)
		batch.EntryIDs = append(batch.EntryIDs, e.ID)
	}
	s.refreshBlocked(req.ToothID)
	s.revision++
	return batch, nil
}

// applyWholeTooth discards every entry of the tooth and files one entry
// under general. The discarded entries are not archived.
func (s *Session) applyWholeTooth(toothID string, base Entry) Batch {
	cleared := 0
	for _, entries := range s.state[toothID] {
		cleared += len(entries)
	}
	if cleared > 0 {
		s.logger.Warn().
			Str("tooth_id", toothID).
			Str("procedure_id", base.ProcedureID).
			Int("discarded", cleared).
			Msg("whole-tooth diagnosis cleared existing entries")
	}
	e := base
	e.ID = s.newID()
	e.SurfaceID = SurfaceGeneral
	s.state[toothID] = Surfaces{SurfaceGeneral: {e}}
	s.refreshBlocked(toothID)
	s.revision++
	return Batch{ToothID: toothID, EntryIDs: []string{e.ID}, Cleared: cleared}
}

// Remove deletes one entry. A tooth whose last blocking entry is removed is
// unblocked.
func (s *Session) Remove(toothID, surfaceID, entryID string) error {
	sid := NormalizeSurfaceID(surfaceID)
	tooth := s.state[toothID]
	entries := tooth[sid]
	for i, e := range entries {
		if e.ID != entryID {
			continue
		}
		rest := append(entries[:i:i], entries[i+1:]...)
		if len(rest) == 0 {
			delete(tooth, sid)
		} else {
			tooth[sid] = rest
		}
		if len(tooth) == 0 {
			delete(s.state, toothID)
		}
		s.refreshBlocked(toothID)
		s.revision++
		return nil
	}
	return reject(ErrEntryNotFound, "%s on %s/%s", entryID, toothID, sid)
}

// RemoveGroup deletes every entry behind a grouped diagnostic and returns
// how many were removed.
func (s *Session) RemoveGroup(toothID, key string) (int, error) {
	for _, g := range s.GroupedDiagnostics(toothID) {
		if g.Key != key {
			continue
		}
		for _, ref := range g.Refs {
			if err := s.Remove(toothID, ref.SurfaceID, ref.EntryID); err != nil {
				return 0, err
			}
		}
		return len(g.Refs), nil
	}
	return 0, reject(ErrGroupNotFound, "%s on tooth %s", key, toothID)
}

func (s *Session) refreshBlocked(toothID string) {
	if s.blocking.IsBlocked(s.state[toothID].All()) {
		s.blocked[toothID] = true
		return
	}
	delete(s.blocked, toothID)
}

// IsBlocked reports whether surface-specific editing of the tooth is disabled.
func (s *Session) IsBlocked(toothID string) bool { return s.blocked[toothID] }

// BlockedTeeth lists blocked teeth.
func (s *Session) BlockedTeeth() []string {
	out := make([]string, 0, len(s.blocked))
	for t := range s.blocked {
		out = append(out, t)
	}
	return out
}

// ToothColor is the dominant color across every surface of the tooth.
func (s *Session) ToothColor(toothID string) (string, bool) {
	return DominantColor(s.state[toothID].All())
}

// SurfaceColor is the color a surface is painted with: its own dominant
// color, or the whole-tooth color when the surface holds nothing itself.
func (s *Session) SurfaceColor(toothID, surfaceID string) (string, bool) {
	if c, ok := s.PermanentColorForSurface(toothID, surfaceID); ok {
		return c, true
	}
	return DominantColor(s.state[toothID][SurfaceGeneral])
}

// PermanentColorForSurface is the dominant committed color of one surface.
func (s *Session) PermanentColorForSurface(toothID, surfaceID string) (string, bool) {
	return DominantColor(s.state[toothID][NormalizeSurfaceID(surfaceID)])
}

// PreviewColor is the fill shown while a diagnosis is being composed for a
// surface: the pending color, unless a committed entry of equal or higher
// precedence already owns the surface.
func (s *Session) PreviewColor(toothID, surfaceID, procedureID string, requested ColorClass, sel Selections) (string, bool) {
	lookup, ok := s.catalog.Find(procedureID)
	if !ok {
		return s.PermanentColorForSurface(toothID, surfaceID)
	}
	pending, err := ResolveColor(lookup, requested, settleKinds(lookup.Definition.Attributes, sel))
	if err != nil {
		return s.PermanentColorForSurface(toothID, surfaceID)
	}
	committed := s.state[toothID][NormalizeSurfaceID(surfaceID)]
	if len(committed) == 0 {
		return pending, true
	}
	return DominantColor(append(committed[:len(committed):len(committed)], Entry{Color: pending, Priority: lookup.Priority()}))
}

// GroupedDiagnostics merges the tooth's identical entries for display.
func (s *Session) GroupedDiagnostics(toothID string) []GroupedDiagnostic {
	rt, _ := s.taxonomy.RootType(toothID)
	return GroupDiagnostics(s.state[toothID], rt)
}

// GroupedSurfaces groups a live selection on the tooth.
func (s *Session) GroupedSurfaces(toothID string, selection []string) []SurfaceGroup {
	rt, _ := s.taxonomy.RootType(toothID)
	return GroupSurfaces(selection, rt)
}
