// internal/store/sqlite.go
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"loadout/internal/catalog"
	"loadout/internal/ledger"
	"loadout/internal/manifest"
	"loadout/internal/projection"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS items (
    uid            TEXT PRIMARY KEY,
    name           TEXT NOT NULL,
    classification TEXT NOT NULL,
    quantity_total INTEGER NOT NULL CHECK (quantity_total >= 0),
    status         TEXT NOT NULL DEFAULT 'available',
    assigned_to    TEXT NOT NULL DEFAULT '',
    updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS vans (
    id          TEXT PRIMARY KEY,
    label       TEXT NOT NULL,
    current_job TEXT
);

CREATE TABLE IF NOT EXISTS manifests (
    id         TEXT PRIMARY KEY,
    van_id     TEXT REFERENCES vans(id),
    job_id     TEXT,
    status     TEXT NOT NULL DEFAULT 'pending'
               CHECK (status IN ('pending', 'staged', 'active', 'closed')),
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS manifest_lines (
    manifest_id  TEXT NOT NULL REFERENCES manifests(id),
    item_uid     TEXT NOT NULL,
    qty_required INTEGER NOT NULL CHECK (qty_required > 0),
    PRIMARY KEY (manifest_id, item_uid)
);

CREATE TABLE IF NOT EXISTS movements (
    id          INTEGER PRIMARY KEY,
    action      TEXT NOT NULL CHECK (action IN ('checkout', 'checkin')),
    manifest_id TEXT NOT NULL REFERENCES manifests(id),
    item_uid    TEXT NOT NULL,
    qty         INTEGER NOT NULL CHECK (qty > 0),
    from_ref    TEXT NOT NULL,
    to_ref      TEXT NOT NULL,
    created_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_movements_manifest ON movements(manifest_id);
CREATE INDEX IF NOT EXISTS idx_movements_item ON movements(item_uid);

CREATE TABLE IF NOT EXISTS manifest_summaries (
    manifest_id     TEXT NOT NULL,
    item_uid        TEXT NOT NULL,
    qty_required    INTEGER NOT NULL,
    qty_checked_out INTEGER NOT NULL,
    qty_checked_in  INTEGER NOT NULL,
    updated_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (manifest_id, item_uid)
);
`

// SQLite backs the engine with a single-file database for single-node
// installs and in-process tests.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and creates if needed) a SQLite database at path
// and applies the schema. Use ":memory:" for an ephemeral database.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error { return s.db.Close() }

// --- catalog.Store ---

func (s *SQLite) CreateItem(ctx context.Context, item catalog.Item) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (uid, name, classification, quantity_total, status, assigned_to)
		VALUES (?, ?, ?, ?, ?, ?)
	`, item.UID, item.Name, string(item.Classification), item.QuantityTotal, item.Status, item.AssignedTo)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func (s *SQLite) GetItem(ctx context.Context, uid string) (*catalog.Item, error) {
	item := &catalog.Item{}
	err := s.db.QueryRowContext(ctx, `
		SELECT uid, name, classification, quantity_total, status, assigned_to, updated_at
		FROM items WHERE uid = ?
	`, uid).Scan(&item.UID, &item.Name, &item.Classification, &item.QuantityTotal,
		&item.Status, &item.AssignedTo, &item.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select item: %w", err)
	}
	return item, nil
}

func (s *SQLite) GetItems(ctx context.Context, uids []string) (map[string]catalog.Item, error) {
	out := make(map[string]catalog.Item, len(uids))
	if len(uids) == 0 {
		return out, nil
	}

	args := make([]any, len(uids))
	for i, uid := range uids {
		args[i] = uid
	}
	query := `
		SELECT uid, name, classification, quantity_total, status, assigned_to, updated_at
		FROM items WHERE uid IN (` + placeholders(len(uids)) + `)`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item catalog.Item
		if err := rows.Scan(&item.UID, &item.Name, &item.Classification, &item.QuantityTotal,
			&item.Status, &item.AssignedTo, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		out[item.UID] = item
	}
	return out, rows.Err()
}

func (s *SQLite) UpdateMirror(ctx context.Context, updates []catalog.MirrorUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, u := range updates {
		if _, err := tx.ExecContext(ctx, `
			UPDATE items SET status = ?, assigned_to = ?, updated_at = ? WHERE uid = ?
		`, u.Status, u.AssignedTo, time.Now().UTC(), u.ItemUID); err != nil {
			return fmt.Errorf("update mirror for %s: %w", u.ItemUID, err)
		}
	}
	return tx.Commit()
}

// --- manifest.Store ---

func (s *SQLite) CreateManifest(ctx context.Context, mf manifest.Manifest) error {
	status := mf.Status
	if status == "" {
		status = manifest.StatusPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO manifests (id, van_id, job_id, status) VALUES (?, ?, ?, ?)
	`, mf.ID.String(), uuidText(mf.VanID), uuidText(mf.JobID), string(status))
	if err != nil {
		return fmt.Errorf("insert manifest: %w", err)
	}
	return nil
}

func (s *SQLite) AddManifestLine(ctx context.Context, line manifest.Line) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO manifest_lines (manifest_id, item_uid, qty_required) VALUES (?, ?, ?)
	`, line.ManifestID.String(), line.ItemUID, line.QtyRequired)
	if err != nil {
		return fmt.Errorf("insert manifest line: %w", err)
	}
	return nil
}

func (s *SQLite) CreateVan(ctx context.Context, v manifest.Van) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vans (id, label, current_job) VALUES (?, ?, ?)
	`, v.ID.String(), v.Label, uuidText(v.CurrentJob))
	if err != nil {
		return fmt.Errorf("insert van: %w", err)
	}
	return nil
}

func (s *SQLite) GetVan(ctx context.Context, id uuid.UUID) (*manifest.Van, error) {
	v := &manifest.Van{}
	var job sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, label, current_job FROM vans WHERE id = ?`, id.String(),
	).Scan(&v.ID, &v.Label, &job)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select van: %w", err)
	}
	v.CurrentJob, err = uuidFromText(job)
	if err != nil {
		return nil, fmt.Errorf("parse van job: %w", err)
	}
	return v, nil
}

func (s *SQLite) GetManifest(ctx context.Context, id uuid.UUID) (*manifest.Manifest, error) {
	mf := &manifest.Manifest{}
	var van, job sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, van_id, job_id, status, created_at, updated_at
		FROM manifests WHERE id = ?
	`, id.String()).Scan(&mf.ID, &van, &job, &mf.Status, &mf.CreatedAt, &mf.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select manifest: %w", err)
	}
	if mf.VanID, err = uuidFromText(van); err != nil {
		return nil, fmt.Errorf("parse van id: %w", err)
	}
	if mf.JobID, err = uuidFromText(job); err != nil {
		return nil, fmt.Errorf("parse job id: %w", err)
	}
	return mf, nil
}

func (s *SQLite) ManifestLines(ctx context.Context, id uuid.UUID) ([]manifest.Line, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT manifest_id, item_uid, qty_required
		FROM manifest_lines WHERE manifest_id = ? ORDER BY item_uid
	`, id.String())
	if err != nil {
		return nil, fmt.Errorf("select manifest lines: %w", err)
	}
	defer rows.Close()

	var lines []manifest.Line
	for rows.Next() {
		var l manifest.Line
		if err := rows.Scan(&l.ManifestID, &l.ItemUID, &l.QtyRequired); err != nil {
			return nil, fmt.Errorf("scan manifest line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (s *SQLite) RequiredQuantities(ctx context.Context, id uuid.UUID) (map[string]int, error) {
	lines, err := s.ManifestLines(ctx, id)
	if err != nil {
		return nil, err
	}
	required := make(map[string]int, len(lines))
	for _, l := range lines {
		required[l.ItemUID] = l.QtyRequired
	}
	return required, nil
}

func (s *SQLite) SetManifestStatus(ctx context.Context, id uuid.UUID, status manifest.Status) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE manifests SET status = ?, updated_at = ? WHERE id = ?
	`, string(status), time.Now().UTC(), id.String())
	if err != nil {
		return fmt.Errorf("update manifest status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errNoManifest(id)
	}
	return nil
}

func (s *SQLite) ActivateManifest(ctx context.Context, id, vanID uuid.UUID, jobID *uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE manifests SET status = 'active', updated_at = ? WHERE id = ?
	`, time.Now().UTC(), id.String())
	if err != nil {
		return fmt.Errorf("update manifest: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errNoManifest(id)
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE vans SET current_job = ? WHERE id = ?
	`, uuidText(jobID), vanID.String())
	if err != nil {
		return fmt.Errorf("update van: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errNoVan(vanID)
	}

	return tx.Commit()
}

// --- manifest.Ledger ---

func (s *SQLite) AppendMovements(ctx context.Context, movements []ledger.Movement) ([]ledger.Movement, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	out := make([]ledger.Movement, 0, len(movements))
	for i, mv := range movements {
		mv.CreatedAt = now
		res, err := tx.ExecContext(ctx, `
			INSERT INTO movements (action, manifest_id, item_uid, qty, from_ref, to_ref, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, string(mv.Action), mv.ManifestID.String(), mv.ItemUID, mv.Qty, mv.FromRef, mv.ToRef, mv.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert movement %d: %w", i, err)
		}
		mv.ID, _ = res.LastInsertId()
		out = append(out, mv)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return out, nil
}

func (s *SQLite) AppendMovementGuarded(ctx context.Context, mv ledger.Movement, statuses []string) (*ledger.Movement, error) {
	mv.CreatedAt = time.Now().UTC()

	args := []any{
		string(mv.Action), mv.ManifestID.String(), mv.ItemUID, mv.Qty,
		mv.FromRef, mv.ToRef, mv.CreatedAt,
		mv.ItemUID, mv.ManifestID.String(),
	}
	for _, st := range statuses {
		args = append(args, st)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO movements (action, manifest_id, item_uid, qty, from_ref, to_ref, created_at)
		SELECT ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1
			FROM movements v
			JOIN manifests m ON m.id = v.manifest_id
			WHERE v.item_uid = ?
			  AND v.manifest_id <> ?
			  AND m.status IN (`+placeholders(len(statuses))+`)
			GROUP BY v.manifest_id
			HAVING SUM(CASE WHEN v.action = 'checkout' THEN v.qty ELSE -v.qty END) > 0
		)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("guarded insert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ledger.ErrAllocationConflict
	}
	mv.ID, _ = res.LastInsertId()
	return &mv, nil
}

func (s *SQLite) MovementsByManifest(ctx context.Context, manifestID uuid.UUID) ([]ledger.Movement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, manifest_id, item_uid, qty, from_ref, to_ref, created_at
		FROM movements WHERE manifest_id = ? ORDER BY id
	`, manifestID.String())
	if err != nil {
		return nil, fmt.Errorf("select movements: %w", err)
	}
	defer rows.Close()
	return scanMovements(rows)
}

func (s *SQLite) ActiveAllocations(ctx context.Context, itemUID string, exclude uuid.UUID, statuses []string) ([]ledger.Allocation, error) {
	args := []any{itemUID, exclude.String()}
	for _, st := range statuses {
		args = append(args, st)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT v.manifest_id, m.van_id, m.job_id,
		       SUM(CASE WHEN v.action = 'checkout' THEN v.qty ELSE -v.qty END) AS qty
		FROM movements v
		JOIN manifests m ON m.id = v.manifest_id
		WHERE v.item_uid = ? AND v.manifest_id <> ? AND m.status IN (`+placeholders(len(statuses))+`)
		GROUP BY v.manifest_id, m.van_id, m.job_id
		HAVING SUM(CASE WHEN v.action = 'checkout' THEN v.qty ELSE -v.qty END) > 0
		ORDER BY v.manifest_id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("select active allocations: %w", err)
	}
	defer rows.Close()

	var out []ledger.Allocation
	for rows.Next() {
		a := ledger.Allocation{ItemUID: itemUID}
		var van, job sql.NullString
		if err := rows.Scan(&a.ManifestID, &van, &job, &a.Qty); err != nil {
			return nil, fmt.Errorf("scan allocation: %w", err)
		}
		if a.VanID, err = uuidFromText(van); err != nil {
			return nil, fmt.Errorf("parse van id: %w", err)
		}
		if a.JobID, err = uuidFromText(job); err != nil {
			return nil, fmt.Errorf("parse job id: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLite) FulfillmentTotals(ctx context.Context, manifestID uuid.UUID) (map[string]ledger.LineTotal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_uid,
		       COALESCE(SUM(CASE WHEN action = 'checkout' THEN qty ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN action = 'checkin' THEN qty ELSE 0 END), 0)
		FROM movements WHERE manifest_id = ? GROUP BY item_uid
	`, manifestID.String())
	if err != nil {
		return nil, fmt.Errorf("select fulfillment totals: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]ledger.LineTotal)
	for rows.Next() {
		var t ledger.LineTotal
		if err := rows.Scan(&t.ItemUID, &t.QtyCheckedOut, &t.QtyCheckedIn); err != nil {
			return nil, fmt.Errorf("scan fulfillment total: %w", err)
		}
		totals[t.ItemUID] = t
	}
	return totals, rows.Err()
}

// --- projection.Summaries ---

func (s *SQLite) ReplaceManifestSummaries(ctx context.Context, manifestID uuid.UUID, summaries []projection.LineSummary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM manifest_summaries WHERE manifest_id = ?`, manifestID.String()); err != nil {
		return fmt.Errorf("clear summaries: %w", err)
	}

	for _, sum := range summaries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO manifest_summaries (manifest_id, item_uid, qty_required, qty_checked_out, qty_checked_in)
			VALUES (?, ?, ?, ?, ?)
		`, manifestID.String(), sum.ItemUID, sum.QtyRequired, sum.QtyCheckedOut, sum.QtyCheckedIn); err != nil {
			return fmt.Errorf("insert summary for %s: %w", sum.ItemUID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) ManifestSummaries(ctx context.Context, manifestID uuid.UUID) ([]projection.LineSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_uid, qty_required, qty_checked_out, qty_checked_in
		FROM manifest_summaries WHERE manifest_id = ? ORDER BY item_uid
	`, manifestID.String())
	if err != nil {
		return nil, fmt.Errorf("select summaries: %w", err)
	}
	defer rows.Close()

	var out []projection.LineSummary
	for rows.Next() {
		var sum projection.LineSummary
		if err := rows.Scan(&sum.ItemUID, &sum.QtyRequired, &sum.QtyCheckedOut, &sum.QtyCheckedIn); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// --- helpers ---

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func uuidText(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func uuidFromText(s sql.NullString) (*uuid.UUID, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s.String)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
