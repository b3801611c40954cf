package dentalchart

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/odontogram/internal/domain/odontogram"
	"github.com/ehr/odontogram/internal/platform/db"
)

var ErrSnapshotNotFound = errors.New("snapshot not found")

// DefaultSessionIdleTTL is how long an untouched editing session stays in
// memory. Unsaved edits of an evicted session are dropped.
const DefaultSessionIdleTTL = 30 * time.Minute

// Recorder receives service events for metrics. The telemetry package
// provides the Prometheus implementation.
type Recorder interface {
	ApplyAccepted(procedureID string)
	ApplyRejected(code string)
	ChartSaved(entries int, elapsed time.Duration)
	CacheHit()
	CacheMiss()
	SessionsOpen(n int)
}

type nopRecorder struct{}

func (nopRecorder) ApplyAccepted(string) {}
func (nopRecorder) ApplyRejected(string) {}
func (nopRecorder) ChartSaved(int, time.Duration) {}
func (nopRecorder) CacheHit() {}
func (nopRecorder) CacheMiss() {}
func (nopRecorder) SessionsOpen(int) {}

type sessionKey struct {
	tenant  string
	patient uuid.UUID
}

// liveSession is the editing session of one patient. mu serializes every
// request touching it; loaded is false until the chart is read from storage.
// lastUsed is guarded by Service.mu.
type liveSession struct {
	mu       sync.Mutex
	loaded   bool
	session  *odontogram.Session
	lastUsed time.Time
}

// Service keeps one editing session per tenant and patient on top of the
// pure engine and persists them through a ChartRepository.
type Service struct {
	repo        ChartRepository
	catalog     *odontogram.Catalog
	taxonomy    *odontogram.Taxonomy
	hydrator    *odontogram.Hydrator
	logger      zerolog.Logger
	metrics     Recorder
	sessionOpts []odontogram.SessionOption

	idleTTL time.Duration
	now     func() time.Time

	mu        sync.Mutex
	sessions  map[sessionKey]*liveSession
	lastSweep time.Time
}

type ServiceOption func(*Service)

func WithRecorder(r Recorder) ServiceOption {
	return func(s *Service) { s.metrics = r }
}

// WithSessionIdleTTL sets how long an untouched session is kept. Zero or
// less keeps sessions until they are discarded.
func WithSessionIdleTTL(d time.Duration) ServiceOption {
	return func(s *Service) { s.idleTTL = d }
}

// WithSessionOptions passes options to every session the service opens.
func WithSessionOptions(opts ...odontogram.SessionOption) ServiceOption {
	return func(s *Service) { s.sessionOpts = append(s.sessionOpts, opts...) }
}

func NewService(repo ChartRepository, catalog *odontogram.Catalog, taxonomy *odontogram.Taxonomy, logger zerolog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		repo:     repo,
		catalog:  catalog,
		taxonomy: taxonomy,
		hydrator: odontogram.NewHydrator(catalog, taxonomy, logger),
		logger:   logger,
		metrics:  nopRecorder{},
		idleTTL:  DefaultSessionIdleTTL,
		now:      time.Now,
		sessions: make(map[sessionKey]*liveSession),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Catalog(filter odontogram.AreaFilter) []odontogram.Category {
	return s.catalog.Categories(filter)
}

func (s *Service) Taxonomy() *odontogram.Taxonomy { return s.taxonomy }

// acquire returns the patient's session locked. Callers must unlock it.
func (s *Service) acquire(ctx context.Context, patientID uuid.UUID) (*liveSession, error) {
	if patientID == uuid.Nil {
		return nil, fmt.Errorf("patient_id is required")
	}
	key := sessionKey{tenant: db.TenantFromContext(ctx), patient: patientID}

	for {
		s.mu.Lock()
		now := s.now()
		s.evictIdle(now)
		ls, ok := s.sessions[key]
		if !ok {
			ls = &liveSession{session: odontogram.NewSession(s.catalog, s.taxonomy, s.logger, s.sessionOpts...)}
			s.sessions[key] = ls
			s.metrics.SessionsOpen(len(s.sessions))
		}
		ls.lastUsed = now
		s.mu.Unlock()

		ls.mu.Lock()
		// A Discard or eviction may have replaced the session while we waited.
		s.mu.Lock()
		current := s.sessions[key] == ls
		s.mu.Unlock()
		if !current {
			ls.mu.Unlock()
			continue
		}

		if !ls.loaded {
			if err := s.reload(ctx, patientID, ls); err != nil {
				ls.mu.Unlock()
				return nil, err
			}
		}
		return ls, nil
	}
}

// evictIdle drops sessions untouched for idleTTL. Sessions held by a
// request are skipped. Called with s.mu held.
func (s *Service) evictIdle(now time.Time) {
	if s.idleTTL <= 0 || now.Sub(s.lastSweep) < s.idleTTL/2 {
		return
	}
	s.lastSweep = now
	evicted, dirty := 0, 0
	for key, ls := range s.sessions {
		if now.Sub(ls.lastUsed) < s.idleTTL || !ls.mu.TryLock() {
			continue
		}
		if ls.session.Revision() > 0 {
			dirty++
		}
		delete(s.sessions, key)
		ls.mu.Unlock()
		evicted++
	}
	if evicted == 0 {
		return
	}
	s.metrics.SessionsOpen(len(s.sessions))
	ev := s.logger.Info()
	if dirty > 0 {
		ev = s.logger.Warn()
	}
	ev.Int("evicted", evicted).Int("unsaved", dirty).Dur("idle_ttl", s.idleTTL).Msg("evicted idle chart sessions")
}

func (s *Service) reload(ctx context.Context, patientID uuid.UUID, ls *liveSession) error {
	raw, err := s.repo.Load(ctx, patientID)
	if err != nil {
		ls.loaded = false
		return fmt.Errorf("load chart: %w", err)
	}
	ls.session.Load(s.hydrator.State(raw))
	ls.loaded = true
	return nil
}

func (s *Service) knownTooth(toothID string) error {
	if _, ok := s.taxonomy.RootType(toothID); !ok {
		return &odontogram.Rejection{Code: "unknown_tooth", Detail: toothID, Err: odontogram.ErrUnknownTooth}
	}
	return nil
}

// Chart returns the live chart of a patient, listing the teeth that hold
// entries.
func (s *Service) Chart(ctx context.Context, patientID uuid.UUID) (*ChartView, error) {
	ls, err := s.acquire(ctx, patientID)
	if err != nil {
		return nil, err
	}
	defer ls.mu.Unlock()
	return s.chartView(patientID, ls.session), nil
}

func (s *Service) chartView(patientID uuid.UUID, sess *odontogram.Session) *ChartView {
	state := sess.Snapshot()
	blocked := sess.BlockedTeeth()
	sort.Strings(blocked)
	v := &ChartView{
		PatientID:    patientID,
		Revision:     sess.Revision(),
		Dirty:        sess.Revision() > 0,
		EntryCount:   state.Count(),
		BlockedTeeth: blocked,
		Teeth:        []ToothView{},
	}
	for _, tooth := range s.taxonomy.Teeth() {
		if len(state[tooth]) == 0 {
			continue
		}
		v.Teeth = append(v.Teeth, s.toothView(sess, tooth))
	}
	return v
}

func (s *Service) toothView(sess *odontogram.Session, toothID string) ToothView {
	rt, _ := s.taxonomy.RootType(toothID)
	v := ToothView{
		ToothID:     toothID,
		RootType:    rt,
		Blocked:     sess.IsBlocked(toothID),
		Diagnostics: sess.GroupedDiagnostics(toothID),
	}
	if v.Diagnostics == nil {
		v.Diagnostics = []odontogram.GroupedDiagnostic{}
	}
	v.Color, _ = sess.ToothColor(toothID)
	tooth := sess.Tooth(toothID)
	for _, sid := range s.taxonomy.Surfaces(toothID) {
		sv := SurfaceView{SurfaceID: sid, Label: odontogram.SurfaceLabel(sid), Entries: tooth[sid]}
		if sv.Entries == nil {
			sv.Entries = []odontogram.Entry{}
		}
		sv.Color, _ = sess.SurfaceColor(toothID, sid)
		sv.PermanentColor, _ = sess.PermanentColorForSurface(toothID, sid)
		v.Surfaces = append(v.Surfaces, sv)
	}
	return v
}

func (s *Service) Tooth(ctx context.Context, patientID uuid.UUID, toothID string) (*ToothView, error) {
	if err := s.knownTooth(toothID); err != nil {
		return nil, err
	}
	ls, err := s.acquire(ctx, patientID)
	if err != nil {
		return nil, err
	}
	defer ls.mu.Unlock()
	v := s.toothView(ls.session, toothID)
	return &v, nil
}

// Apply charts a diagnosis in the live session. Nothing is persisted until
// Save.
func (s *Service) Apply(ctx context.Context, patientID uuid.UUID, req odontogram.ApplyRequest) (*ApplyResult, error) {
	ls, err := s.acquire(ctx, patientID)
	if err != nil {
		return nil, err
	}
	defer ls.mu.Unlock()

	batch, err := ls.session.Apply(req)
	if err != nil {
		if r, ok := odontogram.AsRejection(err); ok {
			s.metrics.ApplyRejected(r.Code)
		}
		return nil, err
	}
	s.metrics.ApplyAccepted(req.ProcedureID)
	return &ApplyResult{Batch: batch, Tooth: s.toothView(ls.session, batch.ToothID)}, nil
}

func (s *Service) Remove(ctx context.Context, patientID uuid.UUID, toothID, surfaceID, entryID string) (*ToothView, error) {
	ls, err := s.acquire(ctx, patientID)
	if err != nil {
		return nil, err
	}
	defer ls.mu.Unlock()

	if err := ls.session.Remove(toothID, surfaceID, entryID); err != nil {
		return nil, err
	}
	v := s.toothView(ls.session, toothID)
	return &v, nil
}

// RemoveGroup removes every entry behind one grouped diagnostic.
func (s *Service) RemoveGroup(ctx context.Context, patientID uuid.UUID, toothID, key string) (int, *ToothView, error) {
	ls, err := s.acquire(ctx, patientID)
	if err != nil {
		return 0, nil, err
	}
	defer ls.mu.Unlock()

	n, err := ls.session.RemoveGroup(toothID, key)
	if err != nil {
		return 0, nil, err
	}
	v := s.toothView(ls.session, toothID)
	return n, &v, nil
}

// GroupSelection describes a live selection: its display groups, the
// catalog entries that fit it and, when a procedure is given, the preview
// color of every selected surface.
func (s *Service) GroupSelection(ctx context.Context, patientID uuid.UUID, req SelectionRequest) (*SelectionView, error) {
	if err := s.knownTooth(req.ToothID); err != nil {
		return nil, err
	}
	selection := odontogram.NormalizeSurfaceIDs(req.SurfaceIDs)
	rt, _ := s.taxonomy.RootType(req.ToothID)
	v := &SelectionView{
		ToothID:    req.ToothID,
		Groups:     odontogram.GroupSurfaces(selection, rt),
		Categories: s.catalog.Categories(odontogram.FilterForSelection(selection)),
	}
	if req.ProcedureID == "" {
		return v, nil
	}

	ls, err := s.acquire(ctx, patientID)
	if err != nil {
		return nil, err
	}
	defer ls.mu.Unlock()
	v.Preview = make(map[string]string, len(selection))
	for _, sid := range selection {
		if c, ok := ls.session.PreviewColor(req.ToothID, sid, req.ProcedureID, req.Color, req.Attributes); ok {
			v.Preview[sid] = c
		}
	}
	return v, nil
}

// Save persists the live chart, then reloads the canonical version so the
// session carries the ids assigned by storage.
func (s *Service) Save(ctx context.Context, patientID uuid.UUID) (*SnapshotRecord, error) {
	ls, err := s.acquire(ctx, patientID)
	if err != nil {
		return nil, err
	}
	defer ls.mu.Unlock()

	start := time.Now()
	state := ls.session.Snapshot()
	rec, err := s.repo.Replace(ctx, patientID, state)
	if err != nil {
		return nil, fmt.Errorf("save chart: %w", err)
	}
	s.metrics.ChartSaved(rec.EntryCount, time.Since(start))
	s.logger.Info().
		Str("patient_id", patientID.String()).
		Str("snapshot_id", rec.ID.String()).
		Int("entries", rec.EntryCount).
		Msg("chart saved")

	if err := s.reload(ctx, patientID, ls); err != nil {
		s.logger.Warn().Err(err).Str("patient_id", patientID.String()).Msg("reload after save failed; next access retries")
	}
	return rec, nil
}

// Discard drops unsaved edits. The next access reloads from storage.
func (s *Service) Discard(ctx context.Context, patientID uuid.UUID) {
	key := sessionKey{tenant: db.TenantFromContext(ctx), patient: patientID}
	s.mu.Lock()
	delete(s.sessions, key)
	s.metrics.SessionsOpen(len(s.sessions))
	s.mu.Unlock()
}

// HistoryQuery pages through snapshots and names the pair to inspect.
// Empty ids keep the defaults: the newest snapshot compared with the one
// before it.
type HistoryQuery struct {
	Limit    int
	Offset   int
	Selected string
	Compare  string
}

func (s *Service) History(ctx context.Context, patientID uuid.UUID, q HistoryQuery) (*HistoryView, error) {
	if patientID == uuid.Nil {
		return nil, fmt.Errorf("patient_id is required")
	}
	records, total, err := s.repo.ListSnapshots(ctx, patientID, q.Limit, q.Offset)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	snapshots := make([]odontogram.Snapshot, 0, len(records))
	for _, rec := range records {
		raw, err := rec.RawState()
		if err != nil {
			s.logger.Warn().Err(err).Str("snapshot_id", rec.ID.String()).Msg("skipping undecodable snapshot")
			continue
		}
		snapshots = append(snapshots, odontogram.Snapshot{ID: rec.ID.String(), TakenAt: rec.TakenAt, State: s.hydrator.State(raw)})
	}

	tl := odontogram.NewTimeline(snapshots)
	if q.Selected != "" && !tl.SelectByID(q.Selected) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, q.Selected)
	}
	if q.Compare != "" && !tl.SelectCompareByID(q.Compare) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, q.Compare)
	}

	if records == nil {
		records = []*SnapshotRecord{}
	}
	v := &HistoryView{Snapshots: records, Total: total, Limit: q.Limit, Offset: q.Offset}
	selected, ok := tl.Selected()
	if !ok {
		return v, nil
	}
	v.Selected = snapshotView(selected, records)
	if compare, ok := tl.Compare(); ok {
		v.Compare = snapshotView(compare, records)
		v.Diff = odontogram.Compare(compare.State, selected.State, s.taxonomy)
	}
	return v, nil
}

func snapshotView(snap odontogram.Snapshot, records []*SnapshotRecord) *SnapshotView {
	v := &SnapshotView{TakenAt: snap.TakenAt, State: snap.State, EntryCount: snap.State.Count()}
	for _, rec := range records {
		if rec.ID.String() == snap.ID {
			v.ID = rec.ID
			break
		}
	}
	return v
}

// Export renders the live chart as a spreadsheet.
func (s *Service) Export(ctx context.Context, patientID uuid.UUID) ([]byte, error) {
	chart, err := s.Chart(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return ExportWorkbook(chart)
}
