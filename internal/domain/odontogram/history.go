package odontogram

import (
	"sort"
	"strconv"
	"time"
)

// Snapshot is an immutable, timestamped copy of a patient's chart.
type Snapshot struct {
	ID      string    `json:"id"`
	TakenAt time.Time `json:"taken_at"`
	State   State     `json:"state"`
}

// Timeline orders snapshots chronologically and tracks which two are being
// inspected side by side. Moving the pointers never touches a snapshot.
type Timeline struct {
	snapshots []Snapshot
	selected  int
	compare   int
}

// NewTimeline sorts snapshots oldest first and selects the newest one,
// comparing it against the one before. With a single snapshot there is
// nothing to compare against and Compare reports false.
func NewTimeline(snapshots []Snapshot) *Timeline {
	sorted := append([]Snapshot(nil), snapshots...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].TakenAt.Before(sorted[j].TakenAt) })
	t := &Timeline{snapshots: sorted, selected: -1, compare: -1}
	if n := len(sorted); n > 0 {
		t.selected = n - 1
		if n > 1 {
			t.compare = n - 2
		}
	}
	return t
}

func (t *Timeline) Len() int { return len(t.snapshots) }

// Snapshots returns the ordered snapshots.
func (t *Timeline) Snapshots() []Snapshot {
	return append([]Snapshot(nil), t.snapshots...)
}

// Select moves the selected pointer. Out-of-range indexes are ignored.
func (t *Timeline) Select(i int) bool {
	if i < 0 || i >= len(t.snapshots) {
		return false
	}
	t.selected = i
	return true
}

// SelectCompare moves the comparison pointer.
func (t *Timeline) SelectCompare(i int) bool {
	if i < 0 || i >= len(t.snapshots) {
		return false
	}
	t.compare = i
	return true
}

// SelectByID moves the selected pointer to the snapshot with id.
func (t *Timeline) SelectByID(id string) bool {
	return t.Select(t.indexOf(id))
}

// SelectCompareByID moves the comparison pointer to the snapshot with id.
func (t *Timeline) SelectCompareByID(id string) bool {
	return t.SelectCompare(t.indexOf(id))
}

func (t *Timeline) indexOf(id string) int {
	for i, s := range t.snapshots {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func (t *Timeline) SelectedIndex() int { return t.selected }
func (t *Timeline) CompareIndex() int  { return t.compare }

// Selected returns the selected snapshot.
func (t *Timeline) Selected() (Snapshot, bool) {
	if t.selected < 0 {
		return Snapshot{}, false
	}
	return t.snapshots[t.selected], true
}

// Compare returns the snapshot the selection is compared against.
func (t *Timeline) Compare() (Snapshot, bool) {
	if t.compare < 0 {
		return Snapshot{}, false
	}
	return t.snapshots[t.compare], true
}

// ToothDiff lists the grouped diagnostics present in only one of two snapshots.
type ToothDiff struct {
	ToothID string              `json:"tooth_id"`
	Added   []GroupedDiagnostic `json:"added,omitempty"`
	Removed []GroupedDiagnostic `json:"removed,omitempty"`
}

// Compare reports, tooth by tooth, what changed from before to after.
// Diagnostics are matched by their aggregation key and surface set, so a
// finding extended to a new surface shows as removed and re-added.
func Compare(before, after State, taxonomy *Taxonomy) []ToothDiff {
	teeth := make(map[string]bool)
	for t := range before {
		teeth[t] = true
	}
	for t := range after {
		teeth[t] = true
	}
	ids := make([]string, 0, len(teeth))
	for t := range teeth {
		ids = append(ids, t)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, _ := strconv.Atoi(ids[i])
		b, _ := strconv.Atoi(ids[j])
		return a < b
	})

	var out []ToothDiff
	for _, tooth := range ids {
		rt, _ := taxonomy.RootType(tooth)
		old := GroupDiagnostics(before[tooth], rt)
		cur := GroupDiagnostics(after[tooth], rt)
		d := ToothDiff{
			ToothID: tooth,
			Added:   missingFrom(cur, old),
			Removed: missingFrom(old, cur),
		}
		if len(d.Added) > 0 || len(d.Removed) > 0 {
			out = append(out, d)
		}
	}
	return out
}

func diffKey(g GroupedDiagnostic) string {
	k := g.Key
	for _, s := range g.Surfaces {
		k += "|" + s
	}
	return k
}

// missingFrom returns the groups of a not present in b.
func missingFrom(a, b []GroupedDiagnostic) []GroupedDiagnostic {
	present := make(map[string]bool, len(b))
	for _, g := range b {
		present[diffKey(g)] = true
	}
	var out []GroupedDiagnostic
	for _, g := range a {
		if !present[diffKey(g)] {
			out = append(out, g)
		}
	}
	return out
}
