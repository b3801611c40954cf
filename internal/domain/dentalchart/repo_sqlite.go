package dentalchart

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/ehr/odontogram/internal/domain/odontogram"
	"github.com/ehr/odontogram/internal/platform/db"
)

var sqliteSchema = []string{`CREATE TABLE IF NOT EXISTS odontogram_chart (
	tenant_id  TEXT NOT NULL,
	patient_id TEXT NOT NULL,
	document   BLOB NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (tenant_id, patient_id)
)`,
	`CREATE TABLE IF NOT EXISTS odontogram_snapshot (
	id          TEXT PRIMARY KEY,
	tenant_id   TEXT NOT NULL,
	patient_id  TEXT NOT NULL,
	taken_at    TEXT NOT NULL,
	entry_count INTEGER NOT NULL,
	document    BLOB NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshot_patient ON odontogram_snapshot (tenant_id, patient_id, taken_at)`,
}

// sqliteTime keeps stored timestamps fixed-width so they sort as text.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore keeps each chart as one JSON document per tenant and
// patient, plus an append-only snapshot table.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the chart database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		path = "odontogram.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; keeps replace transactions from tripping SQLITE_BUSY
	conn.SetMaxOpenConns(1)
	for _, stmt := range sqliteSchema {
		if _, err := conn.Exec(stmt); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("create chart tables: %w", err)
		}
	}
	return &SQLiteStore{db: conn, path: path}, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Close() error { return s.db.Close() }

// Path returns the configured database path.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) Load(ctx context.Context, patientID uuid.UUID) (odontogram.RawState, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM odontogram_chart WHERE tenant_id = ? AND patient_id = ?`,
		db.TenantFromContext(ctx), patientID.String()).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return odontogram.RawState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select chart: %w", err)
	}
	return odontogram.DecodeRawState(doc)
}

func (s *SQLiteStore) Replace(ctx context.Context, patientID uuid.UUID, state odontogram.State) (rec *SnapshotRecord, retErr error) {
	stored := reassignIDs(state)
	doc, err := encodeDocument(stored)
	if err != nil {
		return nil, err
	}
	tenant := db.TenantFromContext(ctx)
	rec = &SnapshotRecord{
		ID:         uuid.New(),
		PatientID:  patientID,
		TakenAt:    time.Now().UTC(),
		EntryCount: stored.Count(),
		Document:   doc,
	}
	takenAt := rec.TakenAt.Format(sqliteTime)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, `INSERT INTO odontogram_chart(tenant_id, patient_id, document, updated_at)
		VALUES(?,?,?,?) ON CONFLICT(tenant_id, patient_id) DO UPDATE SET document=excluded.document, updated_at=excluded.updated_at`,
		tenant, patientID.String(), doc, takenAt); err != nil {
		return nil, fmt.Errorf("upsert chart: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO odontogram_snapshot(id, tenant_id, patient_id, taken_at, entry_count, document)
		VALUES(?,?,?,?,?,?)`,
		rec.ID.String(), tenant, patientID.String(), takenAt, rec.EntryCount, doc); err != nil {
		return nil, fmt.Errorf("insert snapshot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*SnapshotRecord, int, error) {
	tenant := db.TenantFromContext(ctx)
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM odontogram_snapshot WHERE tenant_id = ? AND patient_id = ?`,
		tenant, patientID.String()).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count snapshots: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, taken_at, entry_count, document FROM odontogram_snapshot
		WHERE tenant_id = ? AND patient_id = ? ORDER BY taken_at DESC LIMIT ? OFFSET ?`,
		tenant, patientID.String(), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("select snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []*SnapshotRecord
	for rows.Next() {
		var (
			id, takenAt string
			rec         = &SnapshotRecord{PatientID: patientID}
		)
		if err := rows.Scan(&id, &takenAt, &rec.EntryCount, &rec.Document); err != nil {
			return nil, 0, fmt.Errorf("scan snapshot: %w", err)
		}
		if rec.ID, err = uuid.Parse(id); err != nil {
			return nil, 0, fmt.Errorf("snapshot id %q: %w", id, err)
		}
		if rec.TakenAt, err = time.Parse(sqliteTime, takenAt); err != nil {
			return nil, 0, fmt.Errorf("snapshot time %q: %w", takenAt, err)
		}
		items = append(items, rec)
	}
	return items, total, rows.Err()
}
