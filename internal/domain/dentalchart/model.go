package dentalchart

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/odontogram/internal/domain/odontogram"
	"github.com/ehr/odontogram/pkg/pagination"
)

// SnapshotRecord is one saved version of a patient's chart. Document holds
// the chart in its persisted JSON shape and is decoded on demand.
type SnapshotRecord struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	PatientID  uuid.UUID       `db:"patient_id" json:"patient_id"`
	TakenAt    time.Time       `db:"taken_at" json:"taken_at"`
	EntryCount int             `db:"entry_count" json:"entry_count"`
	Document   json.RawMessage `db:"document" json:"-"`
}

// RawState decodes the stored document.
func (r *SnapshotRecord) RawState() (odontogram.RawState, error) {
	return odontogram.DecodeRawState(r.Document)
}

// SurfaceView is one surface of a tooth as the chart paints it.
type SurfaceView struct {
	SurfaceID      string             `json:"surface_id"`
	Label          string             `json:"label"`
	Color          string             `json:"color,omitempty"`
	PermanentColor string             `json:"permanent_color,omitempty"`
	Entries        []odontogram.Entry `json:"entries"`
}

// ToothView bundles everything the chart needs to draw one tooth.
type ToothView struct {
	ToothID     string                         `json:"tooth_id"`
	RootType    odontogram.RootType            `json:"root_type"`
	Blocked     bool                           `json:"blocked"`
	Color       string                         `json:"color,omitempty"`
	Surfaces    []SurfaceView                  `json:"surfaces"`
	Diagnostics []odontogram.GroupedDiagnostic `json:"diagnostics"`
}

// ChartView is the live session of a patient.
type ChartView struct {
	PatientID    uuid.UUID   `json:"patient_id"`
	Revision     int         `json:"revision"`
	Dirty        bool        `json:"dirty"`
	EntryCount   int         `json:"entry_count"`
	BlockedTeeth []string    `json:"blocked_teeth"`
	Teeth        []ToothView `json:"teeth"`
}

// ApplyResult answers an apply with the created entries and the tooth as
// it looks afterwards.
type ApplyResult struct {
	Batch odontogram.Batch `json:"batch"`
	Tooth ToothView        `json:"tooth"`
}

// SelectionRequest asks how a live surface selection is displayed and which
// catalog entries apply to it. ProcedureID, Color and Attributes describe
// the diagnosis being composed, if any.
type SelectionRequest struct {
	ToothID     string                `json:"tooth_id"`
	SurfaceIDs  []string              `json:"surface_ids"`
	ProcedureID string                `json:"procedure_id,omitempty"`
	Color       odontogram.ColorClass `json:"color,omitempty"`
	Attributes  odontogram.Selections `json:"attributes,omitempty"`
}

type SelectionView struct {
	ToothID    string                    `json:"tooth_id"`
	Groups     []odontogram.SurfaceGroup `json:"groups"`
	Categories []odontogram.Category     `json:"categories"`
	Preview    map[string]string         `json:"preview,omitempty"`
}

// SnapshotView is a snapshot with its hydrated chart.
type SnapshotView struct {
	ID         uuid.UUID        `json:"id"`
	TakenAt    time.Time        `json:"taken_at"`
	EntryCount int              `json:"entry_count"`
	State      odontogram.State `json:"state"`
}

// HistoryView is a page of snapshots with the selected pair and their diff.
type HistoryView struct {
	Snapshots []*SnapshotRecord      `json:"snapshots"`
	Total     int                    `json:"total"`
	Limit     int                    `json:"limit"`
	Offset    int                    `json:"offset"`
	Selected  *SnapshotView          `json:"selected,omitempty"`
	Compare   *SnapshotView          `json:"compare,omitempty"`
	Diff      []odontogram.ToothDiff `json:"diff,omitempty"`
	Links     []pagination.Link      `json:"links,omitempty"`
}
