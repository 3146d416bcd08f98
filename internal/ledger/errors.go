// internal/ledger/errors.go
package ledger

import "errors"

// ErrAllocationConflict is returned by guarded appends when another
// manifest already holds an active allocation of the item.
var ErrAllocationConflict = errors.New("allocation conflict: item already held by another manifest")
