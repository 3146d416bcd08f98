// internal/store/memory.go

// Package store provides the persistence backends for the allocation
// engine: Postgres for the shared fleet deployment, SQLite for
// single-node installs, and an in-memory store for tests.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"loadout/internal/catalog"
	"loadout/internal/ledger"
	"loadout/internal/manifest"
	"loadout/internal/projection"
)

// Memory is an in-memory store implementing every persistence interface
// the engine consumes. Guarded appends hold the store lock across the
// availability check and the insert, so the conditional-write contract
// matches the SQL backends.
type Memory struct {
	mu         sync.RWMutex
	items      map[string]catalog.Item
	manifests  map[uuid.UUID]manifest.Manifest
	lines      map[uuid.UUID][]manifest.Line
	vans       map[uuid.UUID]manifest.Van
	movements  []ledger.Movement
	summaries  map[uuid.UUID][]projection.LineSummary
	nextMoveID int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		items:     make(map[string]catalog.Item),
		manifests: make(map[uuid.UUID]manifest.Manifest),
		lines:     make(map[uuid.UUID][]manifest.Line),
		vans:      make(map[uuid.UUID]manifest.Van),
		summaries: make(map[uuid.UUID][]projection.LineSummary),
	}
}

// --- catalog.Store ---

func (m *Memory) CreateItem(_ context.Context, item catalog.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item.UpdatedAt = time.Now().UTC()
	m.items[item.UID] = item
	return nil
}

func (m *Memory) GetItem(_ context.Context, uid string) (*catalog.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[uid]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (m *Memory) GetItems(_ context.Context, uids []string) (map[string]catalog.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]catalog.Item, len(uids))
	for _, uid := range uids {
		if item, ok := m.items[uid]; ok {
			out[uid] = item
		}
	}
	return out, nil
}

func (m *Memory) UpdateMirror(_ context.Context, updates []catalog.MirrorUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for _, u := range updates {
		item, ok := m.items[u.ItemUID]
		if !ok {
			continue
		}
		item.Status = u.Status
		item.AssignedTo = u.AssignedTo
		item.UpdatedAt = now
		m.items[u.ItemUID] = item
	}
	return nil
}

// --- manifest.Store ---

func (m *Memory) CreateManifest(_ context.Context, mf manifest.Manifest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if mf.Status == "" {
		mf.Status = manifest.StatusPending
	}
	mf.CreatedAt = now
	mf.UpdatedAt = now
	m.manifests[mf.ID] = mf
	return nil
}

func (m *Memory) AddManifestLine(_ context.Context, line manifest.Line) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines[line.ManifestID] = append(m.lines[line.ManifestID], line)
	return nil
}

func (m *Memory) CreateVan(_ context.Context, v manifest.Van) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vans[v.ID] = v
	return nil
}

func (m *Memory) GetVan(_ context.Context, id uuid.UUID) (*manifest.Van, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vans[id]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (m *Memory) GetManifest(_ context.Context, id uuid.UUID) (*manifest.Manifest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mf, ok := m.manifests[id]
	if !ok {
		return nil, nil
	}
	return &mf, nil
}

func (m *Memory) ManifestLines(_ context.Context, id uuid.UUID) ([]manifest.Line, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lines := make([]manifest.Line, len(m.lines[id]))
	copy(lines, m.lines[id])
	return lines, nil
}

func (m *Memory) SetManifestStatus(_ context.Context, id uuid.UUID, status manifest.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mf, ok := m.manifests[id]
	if !ok {
		return errNoManifest(id)
	}
	mf.Status = status
	mf.UpdatedAt = time.Now().UTC()
	m.manifests[id] = mf
	return nil
}

func (m *Memory) ActivateManifest(_ context.Context, id, vanID uuid.UUID, jobID *uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mf, ok := m.manifests[id]
	if !ok {
		return errNoManifest(id)
	}
	van, ok := m.vans[vanID]
	if !ok {
		return errNoVan(vanID)
	}

	mf.Status = manifest.StatusActive
	mf.UpdatedAt = time.Now().UTC()
	van.CurrentJob = jobID
	m.manifests[id] = mf
	m.vans[vanID] = van
	return nil
}

// --- manifest.Ledger / projection interfaces ---

func (m *Memory) AppendMovements(_ context.Context, movements []ledger.Movement) ([]ledger.Movement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(movements), nil
}

func (m *Memory) AppendMovementGuarded(_ context.Context, mv ledger.Movement, statuses []string) (*ledger.Movement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.allocationsLocked(mv.ItemUID, mv.ManifestID, statuses)) > 0 {
		return nil, ledger.ErrAllocationConflict
	}
	out := m.appendLocked([]ledger.Movement{mv})
	return &out[0], nil
}

func (m *Memory) appendLocked(movements []ledger.Movement) []ledger.Movement {
	now := time.Now().UTC()
	out := make([]ledger.Movement, 0, len(movements))
	for _, mv := range movements {
		m.nextMoveID++
		mv.ID = m.nextMoveID
		mv.CreatedAt = now
		m.movements = append(m.movements, mv)
		out = append(out, mv)
	}
	return out
}

func (m *Memory) MovementsByManifest(_ context.Context, manifestID uuid.UUID) ([]ledger.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Movement
	for _, mv := range m.movements {
		if mv.ManifestID == manifestID {
			out = append(out, mv)
		}
	}
	return out, nil
}

func (m *Memory) ActiveAllocations(_ context.Context, itemUID string, exclude uuid.UUID, statuses []string) ([]ledger.Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.allocationsLocked(itemUID, exclude, statuses), nil
}

func (m *Memory) allocationsLocked(itemUID string, exclude uuid.UUID, statuses []string) []ledger.Allocation {
	net := make(map[uuid.UUID]int)
	for _, mv := range m.movements {
		if mv.ItemUID != itemUID {
			continue
		}
		switch mv.Action {
		case ledger.ActionCheckout:
			net[mv.ManifestID] += mv.Qty
		case ledger.ActionCheckin:
			net[mv.ManifestID] -= mv.Qty
		}
	}

	allowed := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		allowed[s] = true
	}

	var out []ledger.Allocation
	for id, qty := range net {
		if qty <= 0 || id == exclude {
			continue
		}
		mf, ok := m.manifests[id]
		if !ok || !allowed[string(mf.Status)] {
			continue
		}
		out = append(out, ledger.Allocation{
			ManifestID: id,
			VanID:      mf.VanID,
			JobID:      mf.JobID,
			ItemUID:    itemUID,
			Qty:        qty,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ManifestID.String() < out[j].ManifestID.String()
	})
	return out
}

func (m *Memory) FulfillmentTotals(_ context.Context, manifestID uuid.UUID) (map[string]ledger.LineTotal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	totals := make(map[string]ledger.LineTotal)
	for _, mv := range m.movements {
		if mv.ManifestID != manifestID {
			continue
		}
		t := totals[mv.ItemUID]
		t.ItemUID = mv.ItemUID
		switch mv.Action {
		case ledger.ActionCheckout:
			t.QtyCheckedOut += mv.Qty
		case ledger.ActionCheckin:
			t.QtyCheckedIn += mv.Qty
		}
		totals[mv.ItemUID] = t
	}
	return totals, nil
}

func (m *Memory) RequiredQuantities(_ context.Context, manifestID uuid.UUID) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	required := make(map[string]int)
	for _, l := range m.lines[manifestID] {
		required[l.ItemUID] = l.QtyRequired
	}
	return required, nil
}

func (m *Memory) ReplaceManifestSummaries(_ context.Context, manifestID uuid.UUID, summaries []projection.LineSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]projection.LineSummary, len(summaries))
	copy(cp, summaries)
	m.summaries[manifestID] = cp
	return nil
}

func (m *Memory) ManifestSummaries(_ context.Context, manifestID uuid.UUID) ([]projection.LineSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp := make([]projection.LineSummary, len(m.summaries[manifestID]))
	copy(cp, m.summaries[manifestID])
	return cp, nil
}

// AllMovements returns the full ledger in append order.
func (m *Memory) AllMovements(_ context.Context) ([]ledger.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp := make([]ledger.Movement, len(m.movements))
	copy(cp, m.movements)
	return cp, nil
}
