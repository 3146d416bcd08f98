// internal/ledger/refs.go
package ledger

import (
	"strings"

	"github.com/google/uuid"
)

// SourceWarehouse is the generic from_ref marker for checkouts. The exact
// bay an item left from is not tracked; the ledger only needs to show it
// left the warehouse.
const SourceWarehouse = "warehouse:MAIN"

// Location reference kinds, encoded as the prefix of a ref string.
const (
	RefWarehouse = "warehouse"
	RefStaging   = "staging"
	RefVan       = "van"
	RefJob       = "job"
)

// WarehouseRef formats a warehouse location reference.
func WarehouseRef(label string) string { return RefWarehouse + ":" + label }

// StagingRef formats a staging bay reference.
func StagingRef(label string) string { return RefStaging + ":" + label }

// VanRef formats a van reference.
func VanRef(id uuid.UUID) string { return RefVan + ":" + id.String() }

// JobRef formats a job reference.
func JobRef(id uuid.UUID) string { return RefJob + ":" + id.String() }

// RefKind returns the prefix of a location reference ("van" for
// "van:<id>"), or the whole ref when it carries no prefix.
func RefKind(ref string) string {
	if i := strings.IndexByte(ref, ':'); i >= 0 {
		return ref[:i]
	}
	return ref
}
