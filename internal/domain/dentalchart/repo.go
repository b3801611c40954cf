package dentalchart

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ehr/odontogram/internal/domain/odontogram"
)

// ChartRepository persists the canonical chart of each patient. Replace is a
// full replace: entry ids are assigned by the store and every call appends
// a snapshot.
type ChartRepository interface {
	Load(ctx context.Context, patientID uuid.UUID) (odontogram.RawState, error)
	Replace(ctx context.Context, patientID uuid.UUID, state odontogram.State) (*SnapshotRecord, error)
	ListSnapshots(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*SnapshotRecord, int, error)
}

// reassignIDs returns a copy of state whose entries carry fresh ids.
func reassignIDs(state odontogram.State) odontogram.State {
	out := state.Clone()
	for _, surfaces := range out {
		for _, entries := range surfaces {
			for i := range entries {
				entries[i].ID = uuid.NewString()
			}
		}
	}
	return out
}

// encodeDocument renders state in the persisted record shape.
func encodeDocument(state odontogram.State) ([]byte, error) {
	raw, err := state.Raw()
	if err != nil {
		return nil, fmt.Errorf("encode chart: %w", err)
	}
	return json.Marshal(raw)
}
