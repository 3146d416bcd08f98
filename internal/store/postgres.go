// internal/store/postgres.go
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"loadout/internal/catalog"
	"loadout/internal/ledger"
	"loadout/internal/manifest"
	"loadout/internal/projection"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS items (
    uid            TEXT PRIMARY KEY,
    name           TEXT NOT NULL,
    classification TEXT NOT NULL,
    quantity_total INT NOT NULL CHECK (quantity_total >= 0),
    status         TEXT NOT NULL DEFAULT 'available',
    assigned_to    TEXT NOT NULL DEFAULT '',
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS vans (
    id          UUID PRIMARY KEY,
    label       TEXT NOT NULL,
    current_job UUID
);

CREATE TABLE IF NOT EXISTS manifests (
    id         UUID PRIMARY KEY,
    van_id     UUID REFERENCES vans(id),
    job_id     UUID,
    status     TEXT NOT NULL DEFAULT 'pending'
               CHECK (status IN ('pending', 'staged', 'active', 'closed')),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS manifest_lines (
    manifest_id  UUID NOT NULL REFERENCES manifests(id),
    item_uid     TEXT NOT NULL,
    qty_required INT NOT NULL CHECK (qty_required > 0),
    PRIMARY KEY (manifest_id, item_uid)
);

CREATE TABLE IF NOT EXISTS movements (
    id          BIGSERIAL PRIMARY KEY,
    action      TEXT NOT NULL CHECK (action IN ('checkout', 'checkin')),
    manifest_id UUID NOT NULL REFERENCES manifests(id),
    item_uid    TEXT NOT NULL,
    qty         INT NOT NULL CHECK (qty > 0),
    from_ref    TEXT NOT NULL,
    to_ref      TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_movements_manifest ON movements(manifest_id);
CREATE INDEX IF NOT EXISTS idx_movements_item ON movements(item_uid);

CREATE TABLE IF NOT EXISTS manifest_summaries (
    manifest_id     UUID NOT NULL,
    item_uid        TEXT NOT NULL,
    qty_required    INT NOT NULL,
    qty_checked_out INT NOT NULL,
    qty_checked_in  INT NOT NULL,
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (manifest_id, item_uid)
);
`

// Postgres backs the engine with a shared PostgreSQL database.
type Postgres struct {
	db     *sql.DB
	tracer trace.Tracer
}

// NewPostgres creates a Postgres-backed store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{
		db:     db,
		tracer: otel.Tracer("loadout/store"),
	}
}

// EnsureSchema creates all tables and indexes if they don't already exist.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// --- catalog.Store ---

func (s *Postgres) CreateItem(ctx context.Context, item catalog.Item) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (uid, name, classification, quantity_total, status, assigned_to)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.UID, item.Name, item.Classification, item.QuantityTotal, item.Status, item.AssignedTo)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func (s *Postgres) GetItem(ctx context.Context, uid string) (*catalog.Item, error) {
	item := &catalog.Item{}
	err := s.db.QueryRowContext(ctx, `
		SELECT uid, name, classification, quantity_total, status, assigned_to, updated_at
		FROM items WHERE uid = $1
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

func (s *Postgres) GetItems(ctx context.Context, uids []string) (map[string]catalog.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT uid, name, classification, quantity_total, status, assigned_to, updated_at
		FROM items WHERE uid = ANY($1)
	`, pq.Array(uids))
	if err != nil {
		return nil, fmt.Errorf("select items: %w", err)
	}
	defer rows.Close()

	out := make(map[string]catalog.Item, len(uids))
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

func (s *Postgres) UpdateMirror(ctx context.Context, updates []catalog.MirrorUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE items SET status = $1, assigned_to = $2, updated_at = NOW() WHERE uid = $3
	`)
	if err != nil {
		return fmt.Errorf("prepare mirror update: %w", err)
	}
	defer stmt.Close()

	for _, u := range updates {
		if _, err := stmt.ExecContext(ctx, u.Status, u.AssignedTo, u.ItemUID); err != nil {
			return fmt.Errorf("update mirror for %s: %w", u.ItemUID, err)
		}
	}
	return tx.Commit()
}

// --- manifest.Store ---

func (s *Postgres) CreateManifest(ctx context.Context, mf manifest.Manifest) error {
	status := mf.Status
	if status == "" {
		status = manifest.StatusPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO manifests (id, van_id, job_id, status) VALUES ($1, $2, $3, $4)
	`, mf.ID, nullUUID(mf.VanID), nullUUID(mf.JobID), status)
	if err != nil {
		return fmt.Errorf("insert manifest: %w", err)
	}
	return nil
}

func (s *Postgres) AddManifestLine(ctx context.Context, line manifest.Line) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO manifest_lines (manifest_id, item_uid, qty_required) VALUES ($1, $2, $3)
	`, line.ManifestID, line.ItemUID, line.QtyRequired)
	if err != nil {
		return fmt.Errorf("insert manifest line: %w", err)
	}
	return nil
}

func (s *Postgres) CreateVan(ctx context.Context, v manifest.Van) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vans (id, label, current_job) VALUES ($1, $2, $3)
	`, v.ID, v.Label, nullUUID(v.CurrentJob))
	if err != nil {
		return fmt.Errorf("insert van: %w", err)
	}
	return nil
}

func (s *Postgres) GetVan(ctx context.Context, id uuid.UUID) (*manifest.Van, error) {
	v := &manifest.Van{}
	var job uuid.NullUUID
	err := s.db.QueryRowContext(ctx,
		`SELECT id, label, current_job FROM vans WHERE id = $1`, id,
	).Scan(&v.ID, &v.Label, &job)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select van: %w", err)
	}
	v.CurrentJob = fromNullUUID(job)
	return v, nil
}

func (s *Postgres) GetManifest(ctx context.Context, id uuid.UUID) (*manifest.Manifest, error) {
	mf := &manifest.Manifest{}
	var van, job uuid.NullUUID
	err := s.db.QueryRowContext(ctx, `
		SELECT id, van_id, job_id, status, created_at, updated_at
		FROM manifests WHERE id = $1
	`, id).Scan(&mf.ID, &van, &job, &mf.Status, &mf.CreatedAt, &mf.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select manifest: %w", err)
	}
	mf.VanID = fromNullUUID(van)
	mf.JobID = fromNullUUID(job)
	return mf, nil
}

func (s *Postgres) ManifestLines(ctx context.Context, id uuid.UUID) ([]manifest.Line, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT manifest_id, item_uid, qty_required
		FROM manifest_lines WHERE manifest_id = $1 ORDER BY item_uid
	`, id)
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

func (s *Postgres) RequiredQuantities(ctx context.Context, id uuid.UUID) (map[string]int, error) {
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

func (s *Postgres) SetManifestStatus(ctx context.Context, id uuid.UUID, status manifest.Status) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE manifests SET status = $1, updated_at = NOW() WHERE id = $2
	`, status, id)
	if err != nil {
		return fmt.Errorf("update manifest status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errNoManifest(id)
	}
	return nil
}

// ActivateManifest flips the manifest to active and points the van's
// current job at the manifest's job in one transaction; if either write
// fails, neither applies.
func (s *Postgres) ActivateManifest(ctx context.Context, id, vanID uuid.UUID, jobID *uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE manifests SET status = 'active', updated_at = NOW() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("update manifest: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errNoManifest(id)
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE vans SET current_job = $1 WHERE id = $2
	`, nullUUID(jobID), vanID)
	if err != nil {
		return fmt.Errorf("update van: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errNoVan(vanID)
	}

	return tx.Commit()
}

// --- manifest.Ledger ---

// AppendMovements appends ledger rows in one transaction. Rows are
// immutable once written; there is no update or delete path.
func (s *Postgres) AppendMovements(ctx context.Context, movements []ledger.Movement) ([]ledger.Movement, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.append",
		trace.WithAttributes(attribute.Int("movement.count", len(movements))),
	)
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO movements (action, manifest_id, item_uid, qty, from_ref, to_ref)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	out := make([]ledger.Movement, 0, len(movements))
	for i, mv := range movements {
		err := stmt.QueryRowContext(ctx, mv.Action, mv.ManifestID, mv.ItemUID,
			mv.Qty, mv.FromRef, mv.ToRef).Scan(&mv.ID, &mv.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert movement %d: %w", i, err)
		}
		span.AddEvent("movement.appended", trace.WithAttributes(
			attribute.Int64("movement.id", mv.ID),
			attribute.String("movement.item", mv.ItemUID),
		))
		out = append(out, mv)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return out, nil
}

// AppendMovementGuarded inserts a singleton checkout only if no other
// manifest in the given statuses currently holds the item, as a single
// conditional write. This closes the read-then-act window between two
// processes sharing the database.
func (s *Postgres) AppendMovementGuarded(ctx context.Context, mv ledger.Movement, statuses []string) (*ledger.Movement, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.append_guarded",
		trace.WithAttributes(
			attribute.String("movement.item", mv.ItemUID),
			attribute.String("manifest.id", mv.ManifestID.String()),
		),
	)
	defer span.End()

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO movements (action, manifest_id, item_uid, qty, from_ref, to_ref)
		SELECT $1, $2, $3, $4, $5, $6
		WHERE NOT EXISTS (
			SELECT 1
			FROM movements v
			JOIN manifests m ON m.id = v.manifest_id
			WHERE v.item_uid = $3
			  AND v.manifest_id <> $2
			  AND m.status = ANY($7)
			GROUP BY v.manifest_id
			HAVING SUM(CASE WHEN v.action = 'checkout' THEN v.qty ELSE -v.qty END) > 0
		)
		RETURNING id, created_at
	`, mv.Action, mv.ManifestID, mv.ItemUID, mv.Qty, mv.FromRef, mv.ToRef,
		pq.Array(statuses)).Scan(&mv.ID, &mv.CreatedAt)
	if err == sql.ErrNoRows {
		span.SetAttributes(attribute.Bool("conflict.detected", true))
		return nil, ledger.ErrAllocationConflict
	}
	if err != nil {
		return nil, fmt.Errorf("guarded insert: %w", err)
	}
	return &mv, nil
}

func (s *Postgres) MovementsByManifest(ctx context.Context, manifestID uuid.UUID) ([]ledger.Movement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, manifest_id, item_uid, qty, from_ref, to_ref, created_at
		FROM movements WHERE manifest_id = $1 ORDER BY id
	`, manifestID)
	if err != nil {
		return nil, fmt.Errorf("select movements: %w", err)
	}
	defer rows.Close()
	return scanMovements(rows)
}

func (s *Postgres) ActiveAllocations(ctx context.Context, itemUID string, exclude uuid.UUID, statuses []string) ([]ledger.Allocation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.manifest_id, m.van_id, m.job_id,
		       SUM(CASE WHEN v.action = 'checkout' THEN v.qty ELSE -v.qty END) AS qty
		FROM movements v
		JOIN manifests m ON m.id = v.manifest_id
		WHERE v.item_uid = $1 AND v.manifest_id <> $2 AND m.status = ANY($3)
		GROUP BY v.manifest_id, m.van_id, m.job_id
		HAVING SUM(CASE WHEN v.action = 'checkout' THEN v.qty ELSE -v.qty END) > 0
		ORDER BY v.manifest_id
	`, itemUID, exclude, pq.Array(statuses))
	if err != nil {
		return nil, fmt.Errorf("select active allocations: %w", err)
	}
	defer rows.Close()

	var out []ledger.Allocation
	for rows.Next() {
		a := ledger.Allocation{ItemUID: itemUID}
		var van, job uuid.NullUUID
		if err := rows.Scan(&a.ManifestID, &van, &job, &a.Qty); err != nil {
			return nil, fmt.Errorf("scan allocation: %w", err)
		}
		a.VanID = fromNullUUID(van)
		a.JobID = fromNullUUID(job)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Postgres) FulfillmentTotals(ctx context.Context, manifestID uuid.UUID) (map[string]ledger.LineTotal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_uid,
		       COALESCE(SUM(CASE WHEN action = 'checkout' THEN qty ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN action = 'checkin' THEN qty ELSE 0 END), 0)
		FROM movements WHERE manifest_id = $1 GROUP BY item_uid
	`, manifestID)
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

func (s *Postgres) ReplaceManifestSummaries(ctx context.Context, manifestID uuid.UUID, summaries []projection.LineSummary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM manifest_summaries WHERE manifest_id = $1`, manifestID); err != nil {
		return fmt.Errorf("clear summaries: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO manifest_summaries (manifest_id, item_uid, qty_required, qty_checked_out, qty_checked_in)
		VALUES ($1, $2, $3, $4, $5)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, sum := range summaries {
		if _, err := stmt.ExecContext(ctx, manifestID, sum.ItemUID,
			sum.QtyRequired, sum.QtyCheckedOut, sum.QtyCheckedIn); err != nil {
			return fmt.Errorf("insert summary for %s: %w", sum.ItemUID, err)
		}
	}
	return tx.Commit()
}

func (s *Postgres) ManifestSummaries(ctx context.Context, manifestID uuid.UUID) ([]projection.LineSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_uid, qty_required, qty_checked_out, qty_checked_in
		FROM manifest_summaries WHERE manifest_id = $1 ORDER BY item_uid
	`, manifestID)
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

func scanMovements(rows *sql.Rows) ([]ledger.Movement, error) {
	var out []ledger.Movement
	for rows.Next() {
		var mv ledger.Movement
		if err := rows.Scan(&mv.ID, &mv.Action, &mv.ManifestID, &mv.ItemUID,
			&mv.Qty, &mv.FromRef, &mv.ToRef, &mv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan movement: %w", err)
		}
		out = append(out, mv)
	}
	return out, rows.Err()
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func fromNullUUID(n uuid.NullUUID) *uuid.UUID {
	if !n.Valid {
		return nil
	}
	id := n.UUID
	return &id
}
