package dentalchart

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/odontogram/internal/domain/odontogram"
	"github.com/ehr/odontogram/internal/platform/db"
)

// =========== Mock Repository ===========

type mockChartRepo struct {
	mu        sync.Mutex
	charts    map[string]odontogram.RawState
	snapshots map[string][]*SnapshotRecord
	loads     int
	clock     time.Time
	loadErr   error
}

func newMockChartRepo() *mockChartRepo {
	return &mockChartRepo{
		charts:    make(map[string]odontogram.RawState),
		snapshots: make(map[string][]*SnapshotRecord),
		clock:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (m *mockChartRepo) Load(ctx context.Context, patientID uuid.UUID) (odontogram.RawState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	raw, ok := m.charts[chartKey(ctx, patientID)]
	if !ok {
		return odontogram.RawState{}, nil
	}
	return raw, nil
}

func (m *mockChartRepo) Replace(ctx context.Context, patientID uuid.UUID, state odontogram.State) (*SnapshotRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := reassignIDs(state)
	doc, err := encodeDocument(stored)
	if err != nil {
		return nil, err
	}
	raw, err := stored.Raw()
	if err != nil {
		return nil, err
	}
	key := chartKey(ctx, patientID)
	m.charts[key] = raw
	m.clock = m.clock.Add(time.Hour)
	rec := &SnapshotRecord{ID: uuid.New(), PatientID: patientID, TakenAt: m.clock, EntryCount: stored.Count(), Document: doc}
	m.snapshots[key] = append(m.snapshots[key], rec)
	return rec, nil
}

func (m *mockChartRepo) ListSnapshots(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*SnapshotRecord, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := append([]*SnapshotRecord(nil), m.snapshots[chartKey(ctx, patientID)]...)
	sort.Slice(all, func(i, j int) bool { return all[i].TakenAt.After(all[j].TakenAt) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

type countingRecorder struct {
	mu       sync.Mutex
	accepted map[string]int
	rejected map[string]int
	saves    int
	hits     int
	misses   int
	open     int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{accepted: map[string]int{}, rejected: map[string]int{}}
}

func (r *countingRecorder) ApplyAccepted(p string) { r.mu.Lock(); r.accepted[p]++; r.mu.Unlock() }
func (r *countingRecorder) ApplyRejected(c string) { r.mu.Lock(); r.rejected[c]++; r.mu.Unlock() }
func (r *countingRecorder) ChartSaved(int, time.Duration) {
	r.mu.Lock()
	r.saves++
	r.mu.Unlock()
}
func (r *countingRecorder) CacheHit()          { r.mu.Lock(); r.hits++; r.mu.Unlock() }
func (r *countingRecorder) CacheMiss()         { r.mu.Lock(); r.misses++; r.mu.Unlock() }
func (r *countingRecorder) SessionsOpen(n int) { r.mu.Lock(); r.open = n; r.mu.Unlock() }

func newTestCatalog(t *testing.T) *odontogram.Catalog {
	t.Helper()
	c, err := odontogram.LoadCatalog("", zerolog.Nop())
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return c
}

func newTestService(t *testing.T, repo ChartRepository, opts ...ServiceOption) *Service {
	t.Helper()
	return NewService(repo, newTestCatalog(t), odontogram.DefaultTaxonomy(), zerolog.Nop(), opts...)
}

func cariesOn(tooth string, surfaces ...string) odontogram.ApplyRequest {
	return odontogram.ApplyRequest{ToothID: tooth, SurfaceIDs: surfaces, ProcedureID: "caries_profunda", Areas: []odontogram.Area{odontogram.AreaCrown}}
}

func restorationOn(tooth string, surfaces ...string) odontogram.ApplyRequest {
	return odontogram.ApplyRequest{ToothID: tooth, SurfaceIDs: surfaces, ProcedureID: "restauracion_existente", Areas: []odontogram.Area{odontogram.AreaCrown}}
}

func extractionOf(tooth string) odontogram.ApplyRequest {
	return odontogram.ApplyRequest{ToothID: tooth, SurfaceIDs: []string{odontogram.SurfaceGeneral}, ProcedureID: "extraccion", Areas: []odontogram.Area{odontogram.AreaWholeTooth}}
}

// =========== Service Tests ===========

func TestService_ApplyAndChart(t *testing.T) {
	svc := newTestService(t, newMockChartRepo())
	ctx := context.Background()
	pid := uuid.New()

	if _, err := svc.Apply(ctx, pid, restorationOn("16", "cara_oclusal")); err != nil {
		t.Fatalf("apply restoration: %v", err)
	}
	res, err := svc.Apply(ctx, pid, cariesOn("16", "oclusal", "distal"))
	if err != nil {
		t.Fatalf("apply caries: %v", err)
	}
	if len(res.Batch.EntryIDs) != 2 {
		t.Errorf("expected 2 entries, got %d", len(res.Batch.EntryIDs))
	}
	if res.Tooth.Color != "#E53935" {
		t.Errorf("expected caries to dominate the tooth, got %s", res.Tooth.Color)
	}

	chart, err := svc.Chart(ctx, pid)
	if err != nil {
		t.Fatalf("chart: %v", err)
	}
	if !chart.Dirty || chart.Revision != 2 || chart.EntryCount != 3 {
		t.Errorf("unexpected chart summary %+v", chart)
	}
	if len(chart.Teeth) != 1 || chart.Teeth[0].ToothID != "16" {
		t.Fatalf("expected only tooth 16, got %+v", chart.Teeth)
	}
	var oclusal SurfaceView
	for _, sv := range chart.Teeth[0].Surfaces {
		if sv.SurfaceID == odontogram.SurfaceOclusal {
			oclusal = sv
		}
	}
	if oclusal.Color != "#E53935" || len(oclusal.Entries) != 2 {
		t.Errorf("unexpected oclusal surface %+v", oclusal)
	}
}

func TestService_ApplyRejectionIsCounted(t *testing.T) {
	rec := newCountingRecorder()
	svc := newTestService(t, newMockChartRepo(), WithRecorder(rec))
	ctx := context.Background()
	pid := uuid.New()

	if _, err := svc.Apply(ctx, pid, extractionOf("26")); err != nil {
		t.Fatalf("apply extraction: %v", err)
	}
	_, err := svc.Apply(ctx, pid, cariesOn("26", "oclusal"))
	if !errors.Is(err, odontogram.ErrToothBlocked) {
		t.Fatalf("expected ErrToothBlocked, got %v", err)
	}
	if rec.accepted["extraccion"] != 1 || rec.rejected["tooth_blocked"] != 1 {
		t.Errorf("unexpected counters accepted=%v rejected=%v", rec.accepted, rec.rejected)
	}
	if rec.open != 1 {
		t.Errorf("expected one open session, got %d", rec.open)
	}
}

func TestService_SaveReassignsIDsAndReloads(t *testing.T) {
	repo := newMockChartRepo()
	svc := newTestService(t, repo)
	ctx := context.Background()
	pid := uuid.New()

	res, err := svc.Apply(ctx, pid, cariesOn("16", "oclusal"))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	localID := res.Batch.EntryIDs[0]

	snap, err := svc.Save(ctx, pid)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if snap.EntryCount != 1 {
		t.Errorf("expected 1 entry in snapshot, got %d", snap.EntryCount)
	}

	chart, _ := svc.Chart(ctx, pid)
	if chart.Dirty || chart.Revision != 0 {
		t.Errorf("expected a clean session after save, got %+v", chart)
	}
	got := chart.Teeth[0].Diagnostics[0].Refs[0].EntryID
	if got == localID || got == "" {
		t.Errorf("expected storage-assigned id, got %q (local %q)", got, localID)
	}
	if repo.loads != 2 {
		t.Errorf("expected initial load plus reload after save, got %d loads", repo.loads)
	}
}

func TestService_DiscardDropsUnsavedEdits(t *testing.T) {
	svc := newTestService(t, newMockChartRepo())
	ctx := context.Background()
	pid := uuid.New()

	svc.Apply(ctx, pid, cariesOn("16", "oclusal"))
	svc.Save(ctx, pid)
	svc.Apply(ctx, pid, extractionOf("26"))

	svc.Discard(ctx, pid)
	chart, err := svc.Chart(ctx, pid)
	if err != nil {
		t.Fatalf("chart: %v", err)
	}
	if chart.EntryCount != 1 || len(chart.BlockedTeeth) != 0 {
		t.Errorf("expected only the saved caries, got %+v", chart)
	}
}

func TestService_TenantsAreIsolated(t *testing.T) {
	svc := newTestService(t, newMockChartRepo())
	pid := uuid.New()
	north := db.WithTenant(context.Background(), "norte")
	south := db.WithTenant(context.Background(), "sur")

	svc.Apply(north, pid, cariesOn("16", "oclusal"))
	svc.Save(north, pid)

	chart, _ := svc.Chart(south, pid)
	if chart.EntryCount != 0 {
		t.Errorf("expected empty chart in other tenant, got %d entries", chart.EntryCount)
	}
}

func TestService_RemoveAndRemoveGroup(t *testing.T) {
	svc := newTestService(t, newMockChartRepo())
	ctx := context.Background()
	pid := uuid.New()

	res, _ := svc.Apply(ctx, pid, cariesOn("16", "oclusal", "distal", "mesial"))
	tooth, err := svc.Remove(ctx, pid, "16", "distal", res.Batch.EntryIDs[1])
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(tooth.Diagnostics) != 1 || len(tooth.Diagnostics[0].Surfaces) != 2 {
		t.Fatalf("expected one group on two surfaces, got %+v", tooth.Diagnostics)
	}
	if _, err := svc.Remove(ctx, pid, "16", "distal", "missing"); !errors.Is(err, odontogram.ErrEntryNotFound) {
		t.Errorf("expected ErrEntryNotFound, got %v", err)
	}

	n, tooth, err := svc.RemoveGroup(ctx, pid, "16", tooth.Diagnostics[0].Key)
	if err != nil {
		t.Fatalf("remove group: %v", err)
	}
	if n != 2 || len(tooth.Diagnostics) != 0 {
		t.Errorf("expected 2 removed and no diagnostics left, got %d %+v", n, tooth.Diagnostics)
	}
}

func TestService_Tooth(t *testing.T) {
	svc := newTestService(t, newMockChartRepo())
	ctx := context.Background()
	pid := uuid.New()

	v, err := svc.Tooth(ctx, pid, "16")
	if err != nil {
		t.Fatalf("tooth: %v", err)
	}
	if v.RootType != odontogram.RootTypeUpperMolar || len(v.Surfaces) != 9 {
		t.Errorf("unexpected tooth view %+v", v)
	}
	if _, err := svc.Tooth(ctx, pid, "99"); !errors.Is(err, odontogram.ErrUnknownTooth) {
		t.Errorf("expected ErrUnknownTooth, got %v", err)
	}
}

func TestService_GroupSelection(t *testing.T) {
	svc := newTestService(t, newMockChartRepo())
	ctx := context.Background()
	pid := uuid.New()
	svc.Apply(ctx, pid, cariesOn("16", "oclusal"))

	v, err := svc.GroupSelection(ctx, pid, SelectionRequest{
		ToothID:     "16",
		SurfaceIDs:  []string{"oclusal", "vestibular", "distal", "mesial", "lingual"},
		ProcedureID: "restauracion_existente",
	})
	if err != nil {
		t.Fatalf("group selection: %v", err)
	}
	if len(v.Groups) != 1 || v.Groups[0].Label != odontogram.LabelFullCrown {
		t.Errorf("expected a full crown group, got %+v", v.Groups)
	}
	for _, cat := range v.Categories {
		for _, d := range cat.Definitions {
			if !d.HasArea(odontogram.AreaCrown) {
				t.Errorf("definition %s does not apply to the crown", d.ID)
			}
		}
	}
	if v.Preview[odontogram.SurfaceOclusal] != "#E53935" {
		t.Errorf("committed caries must win the preview, got %s", v.Preview[odontogram.SurfaceOclusal])
	}
	if v.Preview[odontogram.SurfaceDistal] != "#1E88E5" {
		t.Errorf("expected pending restoration color on empty surface, got %s", v.Preview[odontogram.SurfaceDistal])
	}

	if _, err := svc.GroupSelection(ctx, pid, SelectionRequest{ToothID: "99"}); !errors.Is(err, odontogram.ErrUnknownTooth) {
		t.Errorf("expected ErrUnknownTooth, got %v", err)
	}
}

func TestService_History(t *testing.T) {
	svc := newTestService(t, newMockChartRepo())
	ctx := context.Background()
	pid := uuid.New()

	svc.Apply(ctx, pid, cariesOn("16", "oclusal"))
	first, _ := svc.Save(ctx, pid)
	svc.Apply(ctx, pid, extractionOf("26"))
	second, _ := svc.Save(ctx, pid)

	v, err := svc.History(ctx, pid, HistoryQuery{Limit: 20})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if v.Total != 2 || v.Selected.ID != second.ID || v.Compare.ID != first.ID {
		t.Fatalf("unexpected history %+v", v)
	}
	if len(v.Diff) != 1 || v.Diff[0].ToothID != "26" || len(v.Diff[0].Added) != 1 {
		t.Errorf("expected extraction on 26 added, got %+v", v.Diff)
	}

	v, err = svc.History(ctx, pid, HistoryQuery{Limit: 20, Selected: first.ID.String(), Compare: second.ID.String()})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(v.Diff) != 1 || len(v.Diff[0].Removed) != 1 {
		t.Errorf("expected extraction reported as removed when comparing backwards, got %+v", v.Diff)
	}

	if _, err := svc.History(ctx, pid, HistoryQuery{Limit: 20, Selected: uuid.NewString()}); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("expected ErrSnapshotNotFound, got %v", err)
	}
}

func TestService_HistoryEmpty(t *testing.T) {
	svc := newTestService(t, newMockChartRepo())
	v, err := svc.History(context.Background(), uuid.New(), HistoryQuery{Limit: 20})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if v.Total != 0 || v.Selected != nil || v.Compare != nil || len(v.Snapshots) != 0 {
		t.Errorf("expected empty history, got %+v", v)
	}
}

func TestService_LoadError(t *testing.T) {
	repo := newMockChartRepo()
	repo.loadErr = fmt.Errorf("connection refused")
	svc := newTestService(t, repo)
	ctx := context.Background()
	pid := uuid.New()

	if _, err := svc.Chart(ctx, pid); err == nil {
		t.Fatal("expected load error")
	}
	repo.loadErr = nil
	if _, err := svc.Chart(ctx, pid); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if _, err := svc.Chart(ctx, uuid.Nil); err == nil {
		t.Error("expected error for nil patient")
	}
}

func TestService_ConcurrentAppliesSerialize(t *testing.T) {
	svc := newTestService(t, newMockChartRepo())
	ctx := context.Background()
	pid := uuid.New()
	teeth := []string{"11", "12", "13", "14", "15", "21", "22", "23", "24", "25"}

	var wg sync.WaitGroup
	for _, tooth := range teeth {
		wg.Add(1)
		go func(tooth string) {
			defer wg.Done()
			if _, err := svc.Apply(ctx, pid, cariesOn(tooth, "oclusal")); err != nil {
				t.Errorf("apply on %s: %v", tooth, err)
			}
		}(tooth)
	}
	wg.Wait()

	chart, _ := svc.Chart(ctx, pid)
	if chart.EntryCount != len(teeth) || chart.Revision != len(teeth) {
		t.Errorf("expected %d entries and revisions, got %+v", len(teeth), chart)
	}
}

func TestService_IdleSessionsEvicted(t *testing.T) {
	rec := newCountingRecorder()
	svc := newTestService(t, newMockChartRepo(), WithSessionIdleTTL(time.Minute), WithRecorder(rec))
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }
	ctx := context.Background()
	idle, active := uuid.New(), uuid.New()

	if _, err := svc.Apply(ctx, idle, cariesOn("16", "oclusal")); err != nil {
		t.Fatalf("apply: %v", err)
	}
	clock = clock.Add(2 * time.Minute)
	if _, err := svc.Chart(ctx, active); err != nil {
		t.Fatalf("chart: %v", err)
	}

	svc.mu.Lock()
	_, kept := svc.sessions[sessionKey{tenant: db.TenantFromContext(ctx), patient: idle}]
	open := len(svc.sessions)
	svc.mu.Unlock()
	if kept || open != 1 {
		t.Fatalf("expected only the active session to remain, got %d (idle kept: %v)", open, kept)
	}
	if rec.open != 1 {
		t.Errorf("expected open sessions gauge at 1, got %d", rec.open)
	}

	chart, err := svc.Chart(ctx, idle)
	if err != nil {
		t.Fatalf("chart: %v", err)
	}
	if chart.EntryCount != 0 {
		t.Errorf("expected unsaved edits of the evicted session dropped, got %d entries", chart.EntryCount)
	}
}

func TestService_NoEvictionWithoutTTL(t *testing.T) {
	svc := newTestService(t, newMockChartRepo(), WithSessionIdleTTL(0))
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }
	ctx := context.Background()
	pid := uuid.New()

	svc.Apply(ctx, pid, cariesOn("16", "oclusal"))
	clock = clock.Add(24 * time.Hour)
	chart, _ := svc.Chart(ctx, pid)
	if chart.EntryCount != 1 {
		t.Errorf("expected the session kept, got %d entries", chart.EntryCount)
	}
}

func TestService_ApplyAfterDiscardUsesLiveSession(t *testing.T) {
	svc := newTestService(t, newMockChartRepo())
	ctx := context.Background()
	pid := uuid.New()

	held, err := svc.acquire(ctx, pid)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	done := make(chan error, 1)
	go func() {
		_, err := svc.Apply(ctx, pid, cariesOn("16", "oclusal"))
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	svc.Discard(ctx, pid)
	held.mu.Unlock()

	if err := <-done; err != nil {
		t.Fatalf("apply: %v", err)
	}
	chart, err := svc.Chart(ctx, pid)
	if err != nil {
		t.Fatalf("chart: %v", err)
	}
	if chart.EntryCount != 1 {
		t.Errorf("expected the apply to land in the live session, got %d entries", chart.EntryCount)
	}
}
