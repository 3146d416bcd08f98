// internal/manifest/resolver.go
package manifest

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"loadout/internal/catalog"
)

// Manifests counted against availability. Singleton exclusivity at
// checkout only competes with manifests already in the field;
// activation competes with any other manifest that is not yet closed
// and can hold an allocation.
var (
	checkoutStatuses   = []string{string(StatusActive)}
	activationStatuses = []string{string(StatusStaged), string(StatusActive)}

	// Quantity sufficiency always counts staged holders too: nothing
	// later re-checks counted items, so two staged manifests must not
	// jointly commit more than an item's total.
	sufficiencyStatuses = []string{string(StatusStaged), string(StatusActive)}
)

// resolver runs the availability and conflict checks against the
// derived allocation projection. The check is advisory-then-enforced:
// the singleton item locks and the guarded ledger append close the
// read-then-act window, the resolver itself does not.
type resolver struct {
	ledger Ledger
}

// check inspects every requested line and collects all offenders. It
// returns a non-nil *ConflictError only when at least one line cannot be
// satisfied; the whole batch is then rejected.
func (r *resolver) check(ctx context.Context, manifestID uuid.UUID, lines []LineRequest, items map[string]catalog.Item, statuses []string) (*ConflictError, error) {
	conflict := &ConflictError{}

	for _, line := range lines {
		item, ok := items[line.ItemUID]
		if !ok {
			continue // missing items are reported by the caller
		}

		holderStatuses := statuses
		if !item.Singleton() {
			holderStatuses = sufficiencyStatuses
		}
		allocations, err := r.ledger.ActiveAllocations(ctx, line.ItemUID, manifestID, holderStatuses)
		if err != nil {
			return nil, fmt.Errorf("read active allocations for %s: %w", line.ItemUID, err)
		}

		if item.Singleton() {
			for _, a := range allocations {
				conflict.Conflicts = append(conflict.Conflicts, SingletonConflict{
					ItemUID:    a.ItemUID,
					ManifestID: a.ManifestID,
					VanID:      a.VanID,
					JobID:      a.JobID,
					Qty:        a.Qty,
				})
			}
			continue
		}

		elsewhere := 0
		for _, a := range allocations {
			elsewhere += a.Qty
		}
		if line.Qty+elsewhere > item.QuantityTotal {
			available := item.QuantityTotal - elsewhere
			if available < 0 {
				available = 0
			}
			conflict.Insufficient = append(conflict.Insufficient, InsufficientItem{
				ItemUID:            line.ItemUID,
				Total:              item.QuantityTotal,
				AllocatedElsewhere: elsewhere,
				Requested:          line.Qty,
				Available:          available,
			})
		}
	}

	if conflict.Empty() {
		return nil, nil
	}
	return conflict, nil
}
