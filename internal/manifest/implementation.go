// internal/manifest/implementation.go
package manifest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"loadout/internal/catalog"
	"loadout/internal/ledger"
	"loadout/internal/projection"
)

// service implements the Service interface. Each transaction is a
// sequence of independent store calls, not one atomic unit: the ledger
// append is the authoritative step, everything after it is best-effort
// bookkeeping that must never roll a written ledger row back.
type service struct {
	store    Store
	ledger   Ledger
	catalog  Catalog
	resync   Resyncer
	resolver resolver
	locks    *itemLocks
	log      *slog.Logger
}

// NewService creates a new allocation engine instance.
func NewService(store Store, l Ledger, c Catalog, r Resyncer, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	return &service{
		store:    store,
		ledger:   l,
		catalog:  c,
		resync:   r,
		resolver: resolver{ledger: l},
		locks:    newItemLocks(),
		log:      log,
	}
}

// Checkout runs the checkout transaction: validate, resolve conflicts,
// clamp each line to its remaining requirement, append ledger rows, then
// fire the best-effort mirror and resync steps.
func (s *service) Checkout(ctx context.Context, req CheckoutRequest) (*Receipt, error) {
	start := time.Now()

	lines, reasons := normalizeLines(req.ManifestID, req.Lines)
	reasons = append(reasons, validateDestination(req.To, false)...)
	if len(reasons) > 0 {
		return nil, &ValidationError{Reasons: reasons}
	}

	m, items, err := s.loadManifestAndItems(ctx, req.ManifestID, lines)
	if err != nil {
		return nil, err
	}
	if m.Status == StatusClosed {
		return nil, &ValidationError{Reasons: []string{"manifest is closed"}}
	}

	// Serialize allocation decisions for singleton items so two
	// concurrent checkouts cannot both pass the availability check.
	if singles := singletonUIDs(lines, items); len(singles) > 0 {
		release := s.locks.acquire(singles)
		defer release()
	}

	confErr, err := s.resolver.check(ctx, m.ID, lines, items, checkoutStatuses)
	if err != nil {
		return nil, err
	}
	if confErr != nil {
		return nil, confErr
	}

	required, err := s.requiredQuantities(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	totals, err := s.ledger.FulfillmentTotals(ctx, m.ID)
	if err != nil {
		return nil, fmt.Errorf("read fulfillment totals: %w", err)
	}

	destRef := refForDestination(req.To)
	applied := make([]AppliedLine, 0, len(lines))
	var recorded []ledger.Movement
	var batch []ledger.Movement

	for _, line := range lines {
		remaining := required[line.ItemUID] - totals[line.ItemUID].QtyCheckedOut
		if remaining < 0 {
			remaining = 0
		}
		moved := min(remaining, line.Qty)
		if moved <= 0 {
			// Already fulfilled (or not on the manifest): resubmitting is
			// not an error, the line just contributes nothing.
			applied = append(applied, AppliedLine{ItemUID: line.ItemUID, Requested: line.Qty})
			continue
		}

		mv := ledger.Movement{
			Action:     ledger.ActionCheckout,
			ManifestID: m.ID,
			ItemUID:    line.ItemUID,
			Qty:        moved,
			FromRef:    ledger.SourceWarehouse,
			ToRef:      destRef,
		}

		if items[line.ItemUID].Singleton() {
			got, err := s.ledger.AppendMovementGuarded(ctx, mv, checkoutStatuses)
			if errors.Is(err, ledger.ErrAllocationConflict) {
				// Lost a cross-process race after the advisory check. Rows
				// already appended for this batch stay; the ledger is never
				// rolled back.
				if len(recorded) > 0 {
					s.log.Error("checkout batch aborted after partial append",
						"manifest", m.ID, "item", line.ItemUID, "recorded", len(recorded))
					s.finishTransaction(ctx, m, recorded)
				}
				return nil, s.conflictFor(ctx, m.ID, line.ItemUID)
			}
			if err != nil {
				return nil, fmt.Errorf("append guarded movement for %s: %w", line.ItemUID, err)
			}
			recorded = append(recorded, *got)
		} else {
			batch = append(batch, mv)
		}
		applied = append(applied, AppliedLine{ItemUID: line.ItemUID, Requested: line.Qty, Moved: moved})
	}

	if len(batch) > 0 {
		got, err := s.ledger.AppendMovements(ctx, batch)
		if err != nil {
			if len(recorded) > 0 {
				s.log.Error("checkout batch failed after partial append",
					"manifest", m.ID, "recorded", len(recorded), "err", err)
				s.finishTransaction(ctx, m, recorded)
			}
			return nil, fmt.Errorf("append movements: %w", err)
		}
		recorded = append(recorded, got...)
	}

	if len(recorded) > 0 {
		s.finishTransaction(ctx, m, recorded)
	}

	return &Receipt{
		Processed: len(recorded),
		Applied:   applied,
		Elapsed:   time.Since(start),
	}, nil
}

// Checkin runs the checkin transaction. Equipment always lands back in a
// staging bay; returning an item can never create an over-allocation, so
// no conflict resolution step is needed.
func (s *service) Checkin(ctx context.Context, req CheckinRequest) (*Receipt, error) {
	start := time.Now()

	lines, reasons := normalizeLines(req.ManifestID, req.Lines)
	reasons = append(reasons, validateDestination(req.To, true)...)
	if len(reasons) > 0 {
		return nil, &ValidationError{Reasons: reasons}
	}

	m, _, err := s.loadManifestAndItems(ctx, req.ManifestID, lines)
	if err != nil {
		return nil, err
	}
	if m.Status == StatusClosed {
		return nil, &ValidationError{Reasons: []string{"manifest is closed"}}
	}

	totals, err := s.ledger.FulfillmentTotals(ctx, m.ID)
	if err != nil {
		return nil, fmt.Errorf("read fulfillment totals: %w", err)
	}

	fromRef := s.returnOrigin(m)
	destRef := refForDestination(req.To)
	applied := make([]AppliedLine, 0, len(lines))
	var batch []ledger.Movement

	for _, line := range lines {
		onLoan := totals[line.ItemUID].OnLoan()
		moved := min(onLoan, line.Qty)
		if moved <= 0 {
			applied = append(applied, AppliedLine{ItemUID: line.ItemUID, Requested: line.Qty})
			continue
		}
		batch = append(batch, ledger.Movement{
			Action:     ledger.ActionCheckin,
			ManifestID: m.ID,
			ItemUID:    line.ItemUID,
			Qty:        moved,
			FromRef:    fromRef,
			ToRef:      destRef,
		})
		applied = append(applied, AppliedLine{ItemUID: line.ItemUID, Requested: line.Qty, Moved: moved})
	}

	var recorded []ledger.Movement
	if len(batch) > 0 {
		recorded, err = s.ledger.AppendMovements(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("append movements: %w", err)
		}
		s.updateMirror(ctx, recorded)
		s.triggerResync(ctx, m.ID)
	}

	return &Receipt{
		Processed: len(recorded),
		Applied:   applied,
		Elapsed:   time.Since(start),
	}, nil
}

// Stage marks a manifest staged with nothing further to pack. It is also
// the implicit side effect of a successful checkout.
func (s *service) Stage(ctx context.Context, manifestID uuid.UUID) error {
	m, err := s.getManifest(ctx, manifestID)
	if err != nil {
		return err
	}
	switch m.Status {
	case StatusPending:
		if err := s.store.SetManifestStatus(ctx, m.ID, StatusStaged); err != nil {
			return fmt.Errorf("set manifest staged: %w", err)
		}
		return nil
	case StatusStaged:
		return nil
	default:
		return &ValidationError{Reasons: []string{fmt.Sprintf("cannot stage a %s manifest", m.Status)}}
	}
}

// Activate moves a staged manifest into the field. The status change and
// the van's current-job reference are written as an atomic pair.
func (s *service) Activate(ctx context.Context, manifestID uuid.UUID) error {
	m, err := s.getManifest(ctx, manifestID)
	if err != nil {
		return err
	}
	if m.VanID == nil {
		return &ValidationError{Reasons: []string{"manifest has no van linked"}}
	}
	if m.Status != StatusStaged {
		return &ValidationError{Reasons: []string{fmt.Sprintf("cannot activate a %s manifest", m.Status)}}
	}

	lines, err := s.store.ManifestLines(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("read manifest lines: %w", err)
	}

	reqs := make([]LineRequest, 0, len(lines))
	uids := make([]string, 0, len(lines))
	for _, l := range lines {
		reqs = append(reqs, LineRequest{ItemUID: l.ItemUID, Qty: l.QtyRequired})
		uids = append(uids, l.ItemUID)
	}
	items, err := s.catalog.Items(ctx, uids)
	if err != nil {
		return fmt.Errorf("read items: %w", err)
	}

	// Activation only guards singleton exclusivity; multi-quantity
	// over-commits were already bounded at checkout time.
	singles := make([]LineRequest, 0, len(reqs))
	for _, r := range reqs {
		if it, ok := items[r.ItemUID]; ok && it.Singleton() {
			singles = append(singles, r)
		}
	}
	if len(singles) > 0 {
		release := s.locks.acquire(singletonUIDs(singles, items))
		defer release()

		confErr, err := s.resolver.check(ctx, m.ID, singles, items, activationStatuses)
		if err != nil {
			return err
		}
		if confErr != nil {
			return confErr
		}
	}

	if err := s.store.ActivateManifest(ctx, m.ID, *m.VanID, m.JobID); err != nil {
		return fmt.Errorf("activate manifest: %w", err)
	}
	return nil
}

// Close permanently closes a manifest. An active manifest represents
// equipment in the field and cannot be closed out from under it.
func (s *service) Close(ctx context.Context, manifestID uuid.UUID) error {
	m, err := s.getManifest(ctx, manifestID)
	if err != nil {
		return err
	}
	switch m.Status {
	case StatusActive:
		return &ValidationError{Reasons: []string{"active manifest cannot be closed"}}
	case StatusClosed:
		return &ValidationError{Reasons: []string{"manifest already closed"}}
	}

	if err := s.store.SetManifestStatus(ctx, m.ID, StatusClosed); err != nil {
		return fmt.Errorf("close manifest: %w", err)
	}
	s.triggerResync(ctx, m.ID)
	return nil
}

// Summary returns the materialized fulfillment view for a manifest. The
// view may lag the ledger until the next resync.
func (s *service) Summary(ctx context.Context, manifestID uuid.UUID) ([]projection.LineSummary, error) {
	if _, err := s.getManifest(ctx, manifestID); err != nil {
		return nil, err
	}
	summaries, err := s.store.ManifestSummaries(ctx, manifestID)
	if err != nil {
		return nil, fmt.Errorf("read manifest summaries: %w", err)
	}
	return summaries, nil
}

// finishTransaction runs the post-append bookkeeping: implicit staging,
// mirror update, projection resync. All best-effort.
func (s *service) finishTransaction(ctx context.Context, m *Manifest, recorded []ledger.Movement) {
	if m.Status == StatusPending {
		if err := s.store.SetManifestStatus(ctx, m.ID, StatusStaged); err != nil {
			s.log.Error("set manifest staged after checkout", "manifest", m.ID, "err", err)
		}
	}
	s.updateMirror(ctx, recorded)
	s.triggerResync(ctx, m.ID)
}

// updateMirror pushes denormalized status rows to the catalog. The
// mirror is a display cache: a failure here is logged and swallowed, it
// must never roll back recorded movements.
func (s *service) updateMirror(ctx context.Context, recorded []ledger.Movement) {
	seen := make(map[string]bool, len(recorded))
	updates := make([]catalog.MirrorUpdate, 0, len(recorded))
	for _, mv := range recorded {
		if seen[mv.ItemUID] {
			continue
		}
		seen[mv.ItemUID] = true
		updates = append(updates, catalog.MirrorForRef(mv.ItemUID, mv.ToRef))
	}
	if err := s.catalog.ApplyMirror(ctx, updates); err != nil {
		s.log.Error("item mirror update failed; ledger remains authoritative", "err", err)
	}
}

// triggerResync recomputes the manifest's projections. Failure leaves a
// stale but eventually-correct read view; the next transaction on the
// manifest re-triggers it.
func (s *service) triggerResync(ctx context.Context, manifestID uuid.UUID) {
	if err := s.resync.Resync(ctx, manifestID); err != nil {
		s.log.Error("projection resync failed; read views stale until next transaction",
			"manifest", manifestID, "err", err)
	}
}

func (s *service) getManifest(ctx context.Context, id uuid.UUID) (*Manifest, error) {
	if id == uuid.Nil {
		return nil, &ValidationError{Reasons: []string{"manifestId is required"}}
	}
	m, err := s.store.GetManifest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get manifest: %w", err)
	}
	if m == nil {
		return nil, &NotFoundError{Kind: "manifest", Ref: id.String()}
	}
	return m, nil
}

func (s *service) loadManifestAndItems(ctx context.Context, id uuid.UUID, lines []LineRequest) (*Manifest, map[string]catalog.Item, error) {
	m, err := s.getManifest(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	uids := make([]string, 0, len(lines))
	for _, l := range lines {
		uids = append(uids, l.ItemUID)
	}
	items, err := s.catalog.Items(ctx, uids)
	if err != nil {
		return nil, nil, fmt.Errorf("read items: %w", err)
	}
	for _, l := range lines {
		if _, ok := items[l.ItemUID]; !ok {
			return nil, nil, &NotFoundError{Kind: "item", Ref: l.ItemUID}
		}
	}
	return m, items, nil
}

func (s *service) requiredQuantities(ctx context.Context, manifestID uuid.UUID) (map[string]int, error) {
	lines, err := s.store.ManifestLines(ctx, manifestID)
	if err != nil {
		return nil, fmt.Errorf("read manifest lines: %w", err)
	}
	required := make(map[string]int, len(lines))
	for _, l := range lines {
		required[l.ItemUID] = l.QtyRequired
	}
	return required, nil
}

// conflictFor rebuilds the structured conflict detail after a guarded
// append lost a cross-process race.
func (s *service) conflictFor(ctx context.Context, manifestID uuid.UUID, itemUID string) error {
	allocations, err := s.ledger.ActiveAllocations(ctx, itemUID, manifestID, checkoutStatuses)
	if err != nil {
		s.log.Error("read allocations for conflict detail", "item", itemUID, "err", err)
		return &ConflictError{Conflicts: []SingletonConflict{{ItemUID: itemUID}}}
	}
	conflict := &ConflictError{}
	for _, a := range allocations {
		conflict.Conflicts = append(conflict.Conflicts, SingletonConflict{
			ItemUID:    a.ItemUID,
			ManifestID: a.ManifestID,
			VanID:      a.VanID,
			JobID:      a.JobID,
			Qty:        a.Qty,
		})
	}
	return conflict
}

// returnOrigin is the from_ref for checkins: wherever the manifest's
// equipment currently sits.
func (s *service) returnOrigin(m *Manifest) string {
	switch {
	case m.VanID != nil:
		return ledger.VanRef(*m.VanID)
	case m.JobID != nil:
		return ledger.JobRef(*m.JobID)
	default:
		return ledger.SourceWarehouse
	}
}

// normalizeLines filters out non-positive quantities and merges
// duplicate UIDs by summing their requested quantities.
func normalizeLines(manifestID uuid.UUID, lines []LineRequest) ([]LineRequest, []string) {
	var reasons []string
	if manifestID == uuid.Nil {
		reasons = append(reasons, "manifestId is required")
	}

	merged := make(map[string]int, len(lines))
	var order []string
	for _, l := range lines {
		if l.ItemUID == "" || l.Qty <= 0 {
			continue
		}
		if _, seen := merged[l.ItemUID]; !seen {
			order = append(order, l.ItemUID)
		}
		merged[l.ItemUID] += l.Qty
	}

	out := make([]LineRequest, 0, len(order))
	for _, uid := range order {
		out = append(out, LineRequest{ItemUID: uid, Qty: merged[uid]})
	}
	if len(out) == 0 {
		reasons = append(reasons, "lines must contain at least one entry with qty greater than zero")
	}
	return out, reasons
}

// validateDestination checks the destination reference. Checkins may
// only land in staging.
func validateDestination(d Destination, checkin bool) []string {
	var reasons []string
	switch d.Type {
	case DestStaging:
		if d.Label == "" {
			reasons = append(reasons, "staging destination requires a label")
		}
	case DestVan, DestJob:
		if checkin {
			reasons = append(reasons, "checkin destination must be a staging location")
		} else if d.ID == uuid.Nil {
			reasons = append(reasons, fmt.Sprintf("%s destination requires an id", d.Type))
		}
	default:
		reasons = append(reasons, fmt.Sprintf("unknown destination type %q", d.Type))
	}
	return reasons
}

func refForDestination(d Destination) string {
	switch d.Type {
	case DestVan:
		return ledger.VanRef(d.ID)
	case DestJob:
		return ledger.JobRef(d.ID)
	default:
		return ledger.StagingRef(d.Label)
	}
}

// singletonUIDs extracts the UIDs of singleton items in the batch.
func singletonUIDs(lines []LineRequest, items map[string]catalog.Item) []string {
	var uids []string
	for _, l := range lines {
		if it, ok := items[l.ItemUID]; ok && it.Singleton() {
			uids = append(uids, l.ItemUID)
		}
	}
	return uids
}
