package dentalchart

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/odontogram/internal/domain/odontogram"
	"github.com/ehr/odontogram/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

type chartRepoPG struct{ pool *pgxpool.Pool }

func NewChartRepoPG(pool *pgxpool.Pool) ChartRepository {
	return &chartRepoPG{pool: pool}
}

func (r *chartRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const entryCols = `id, tooth_id, surface_id, procedure_id, COALESCE(name, ''), COALESCE(abbreviation, ''),
	color, priority, areas, attributes, COALESCE(note, ''), created_at`

const snapshotCols = `id, patient_id, taken_at, entry_count, document`

func (r *chartRepoPG) Load(ctx context.Context, patientID uuid.UUID) (odontogram.RawState, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+entryCols+` FROM odontogram_entry
		WHERE patient_id = $1 ORDER BY tooth_id, surface_id, position`, patientID)
	if err != nil {
		return nil, fmt.Errorf("query chart entries: %w", err)
	}
	defer rows.Close()

	grouped := map[string]map[string][]odontogram.Entry{}
	for rows.Next() {
		var (
			e            odontogram.Entry
			id, toothID  string
			areas, attrs []byte
		)
		if err := rows.Scan(&id, &toothID, &e.SurfaceID, &e.ProcedureID, &e.Name, &e.Abbreviation,
			&e.Color, &e.Priority, &areas, &attrs, &e.Note, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chart entry: %w", err)
		}
		e.ID = id
		if len(areas) > 0 {
			if err := json.Unmarshal(areas, &e.Areas); err != nil {
				return nil, fmt.Errorf("decode areas of %s: %w", id, err)
			}
		}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &e.Attributes); err != nil {
				return nil, fmt.Errorf("decode attributes of %s: %w", id, err)
			}
		}
		if grouped[toothID] == nil {
			grouped[toothID] = map[string][]odontogram.Entry{}
		}
		grouped[toothID][e.SurfaceID] = append(grouped[toothID][e.SurfaceID], e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	raw := make(odontogram.RawState, len(grouped))
	for tooth, surfaces := range grouped {
		raw[tooth] = make(map[string]json.RawMessage, len(surfaces))
		for sid, entries := range surfaces {
			b, err := json.Marshal(entries)
			if err != nil {
				return nil, err
			}
			raw[tooth][sid] = b
		}
	}
	return raw, nil
}

func (r *chartRepoPG) Replace(ctx context.Context, patientID uuid.UUID, state odontogram.State) (rec *SnapshotRecord, retErr error) {
	stored := reassignIDs(state)
	doc, err := encodeDocument(stored)
	if err != nil {
		return nil, err
	}

	tx, err := r.conn(ctx).Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin replace: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM odontogram_entry WHERE patient_id = $1`, patientID); err != nil {
		return nil, fmt.Errorf("clear chart: %w", err)
	}

	for tooth, surfaces := range stored {
		for sid, entries := range surfaces {
			for pos, e := range entries {
				areas, err := json.Marshal(e.Areas)
				if err != nil {
					return nil, err
				}
				var attrs []byte
				if len(e.Attributes) > 0 {
					if attrs, err = json.Marshal(e.Attributes); err != nil {
						return nil, err
					}
				}
				_, err = tx.Exec(ctx, `
					INSERT INTO odontogram_entry (id, patient_id, tooth_id, surface_id, procedure_id,
						name, abbreviation, color, priority, areas, attributes, note, position, created_at)
					VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
					e.ID, patientID, tooth, sid, e.ProcedureID,
					e.Name, e.Abbreviation, e.Color, e.Priority, areas, attrs, e.Note, pos, e.CreatedAt)
				if err != nil {
					return nil, fmt.Errorf("insert entry on %s/%s: %w", tooth, sid, err)
				}
			}
		}
	}

	rec = &SnapshotRecord{
		ID:         uuid.New(),
		PatientID:  patientID,
		TakenAt:    time.Now().UTC(),
		EntryCount: stored.Count(),
		Document:   doc,
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO odontogram_snapshot (id, patient_id, taken_at, entry_count, document)
		VALUES ($1,$2,$3,$4,$5)`,
		rec.ID, rec.PatientID, rec.TakenAt, rec.EntryCount, doc)
	if err != nil {
		return nil, fmt.Errorf("insert snapshot: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit replace: %w", err)
	}
	return rec, nil
}

func (r *chartRepoPG) ListSnapshots(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*SnapshotRecord, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM odontogram_snapshot WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+snapshotCols+` FROM odontogram_snapshot
		WHERE patient_id = $1 ORDER BY taken_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*SnapshotRecord
	for rows.Next() {
		var s SnapshotRecord
		if err := rows.Scan(&s.ID, &s.PatientID, &s.TakenAt, &s.EntryCount, &s.Document); err != nil {
			return nil, 0, err
		}
		items = append(items, &s)
	}
	return items, total, rows.Err()
}
