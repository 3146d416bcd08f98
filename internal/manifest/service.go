// internal/manifest/service.go
package manifest

import (
	"context"

	"github.com/google/uuid"

	"loadout/internal/catalog"
	"loadout/internal/ledger"
	"loadout/internal/projection"
)

// Service defines the interface for the allocation engine.
type Service interface {
	Checkout(ctx context.Context, req CheckoutRequest) (*Receipt, error)
	Checkin(ctx context.Context, req CheckinRequest) (*Receipt, error)
	Stage(ctx context.Context, manifestID uuid.UUID) error
	Activate(ctx context.Context, manifestID uuid.UUID) error
	Close(ctx context.Context, manifestID uuid.UUID) error
	Summary(ctx context.Context, manifestID uuid.UUID) ([]projection.LineSummary, error)
}

// Store is the manifest persistence the engine needs.
type Store interface {
	GetManifest(ctx context.Context, id uuid.UUID) (*Manifest, error)
	ManifestLines(ctx context.Context, id uuid.UUID) ([]Line, error)
	ManifestSummaries(ctx context.Context, id uuid.UUID) ([]projection.LineSummary, error)
	SetManifestStatus(ctx context.Context, id uuid.UUID, status Status) error
	// ActivateManifest sets status=active and the van's current job as an
	// atomic pair: if either write fails, neither applies.
	ActivateManifest(ctx context.Context, id, vanID uuid.UUID, jobID *uuid.UUID) error
}

// Ledger is the slice of the movement ledger the engine needs.
type Ledger interface {
	AppendMovements(ctx context.Context, movements []ledger.Movement) ([]ledger.Movement, error)
	// AppendMovementGuarded appends a singleton checkout only if no other
	// manifest in the given statuses holds an active allocation of the
	// item, as one conditional write. Returns ledger.ErrAllocationConflict
	// when the guard fails.
	AppendMovementGuarded(ctx context.Context, mv ledger.Movement, statuses []string) (*ledger.Movement, error)
	ActiveAllocations(ctx context.Context, itemUID string, exclude uuid.UUID, statuses []string) ([]ledger.Allocation, error)
	FulfillmentTotals(ctx context.Context, manifestID uuid.UUID) (map[string]ledger.LineTotal, error)
}

// Catalog is the collaborator surface of the item catalog: read
// classification and totals, write the best-effort status mirror.
type Catalog interface {
	Items(ctx context.Context, uids []string) (map[string]catalog.Item, error)
	ApplyMirror(ctx context.Context, updates []catalog.MirrorUpdate) error
}

// Resyncer triggers a projection recomputation for one manifest.
type Resyncer interface {
	Resync(ctx context.Context, manifestID uuid.UUID) error
}
