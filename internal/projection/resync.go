// internal/projection/resync.go
package projection

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"loadout/internal/catalog"
	"loadout/internal/ledger"
)

// Ledger is the slice of the movement ledger the resyncer reads.
type Ledger interface {
	MovementsByManifest(ctx context.Context, manifestID uuid.UUID) ([]ledger.Movement, error)
}

// Requirements reads a manifest's required quantities per item.
type Requirements interface {
	RequiredQuantities(ctx context.Context, manifestID uuid.UUID) (map[string]int, error)
}

// Summaries is the materialized view the resyncer writes.
type Summaries interface {
	ReplaceManifestSummaries(ctx context.Context, manifestID uuid.UUID, summaries []LineSummary) error
}

// Mirror applies best-effort denormalized item status updates.
type Mirror interface {
	ApplyMirror(ctx context.Context, updates []catalog.MirrorUpdate) error
}

// Resyncer recomputes the derived read views for one manifest from its
// ledger rows. Resync is idempotent: it is safe to call redundantly and
// safe to skip on transient failure, because the next successful
// transaction on the manifest triggers it again. A manifest that has not
// resynced since its last mutation serves a stale but eventually-correct
// read view.
type Resyncer struct {
	ledger       Ledger
	requirements Requirements
	summaries    Summaries
	mirror       Mirror
}

// NewResyncer creates a resyncer over the given collaborators.
func NewResyncer(l Ledger, r Requirements, s Summaries, m Mirror) *Resyncer {
	return &Resyncer{ledger: l, requirements: r, summaries: s, mirror: m}
}

// Resync rebuilds the fulfillment summaries and refreshes the item
// status mirror for one manifest.
func (r *Resyncer) Resync(ctx context.Context, manifestID uuid.UUID) error {
	required, err := r.requirements.RequiredQuantities(ctx, manifestID)
	if err != nil {
		return fmt.Errorf("read requirements: %w", err)
	}
	movements, err := r.ledger.MovementsByManifest(ctx, manifestID)
	if err != nil {
		return fmt.Errorf("read movements: %w", err)
	}

	summaries := Fulfillment(required, movements)
	if err := r.summaries.ReplaceManifestSummaries(ctx, manifestID, summaries); err != nil {
		return fmt.Errorf("write summaries: %w", err)
	}

	if err := r.mirror.ApplyMirror(ctx, MirrorUpdates(movements)); err != nil {
		return fmt.Errorf("refresh mirror: %w", err)
	}
	return nil
}
