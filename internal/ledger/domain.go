// internal/ledger/domain.go
package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Action is the kind of movement recorded in the ledger.
type Action string

const (
	ActionCheckout Action = "checkout"
	ActionCheckin  Action = "checkin"
)

// Movement is one append-only ledger row. Rows are never updated or
// deleted; every derived quantity in the system is computed from them.
type Movement struct {
	ID         int64     `json:"id"`
	Action     Action    `json:"action"`
	ManifestID uuid.UUID `json:"manifest_id"`
	ItemUID    string    `json:"item_uid"`
	Qty        int       `json:"qty"`
	FromRef    string    `json:"from_ref"`
	ToRef      string    `json:"to_ref"`
	CreatedAt  time.Time `json:"created_at"`
}

// Allocation is the derived quantity of an item currently held by one
// manifest: checkout qty minus checkin qty, when positive.
type Allocation struct {
	ManifestID uuid.UUID  `json:"manifest_id"`
	VanID      *uuid.UUID `json:"van_id,omitempty"`
	JobID      *uuid.UUID `json:"job_id,omitempty"`
	ItemUID    string     `json:"item_uid"`
	Qty        int        `json:"qty"`
}

// LineTotal is the derived per-(manifest, item) fulfillment pair.
type LineTotal struct {
	ItemUID       string `json:"item_uid"`
	QtyCheckedOut int    `json:"qty_checked_out"`
	QtyCheckedIn  int    `json:"qty_checked_in"`
}

// OnLoan returns the quantity currently out of the warehouse for the line.
func (t LineTotal) OnLoan() int {
	return t.QtyCheckedOut - t.QtyCheckedIn
}
