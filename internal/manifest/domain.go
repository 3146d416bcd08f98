// internal/manifest/domain.go
package manifest

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a manifest. Transitions are
// monotonic except the pending/staged oscillation driven by repeated
// partial checkouts; closed is terminal.
type Status string

const (
	StatusPending Status = "pending"
	StatusStaged  Status = "staged"
	StatusActive  Status = "active"
	StatusClosed  Status = "closed"
)

// Manifest is a loadout grouping the items required for a job.
type Manifest struct {
	ID        uuid.UUID  `json:"id"`
	VanID     *uuid.UUID `json:"van_id,omitempty"`
	JobID     *uuid.UUID `json:"job_id,omitempty"`
	Status    Status     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Line is one requirement on a manifest: qty_required units of an item.
type Line struct {
	ManifestID  uuid.UUID `json:"manifest_id"`
	ItemUID     string    `json:"item_uid"`
	QtyRequired int       `json:"qty_required"`
}

// Van is a fleet vehicle. Activation points its current job at the
// manifest's job.
type Van struct {
	ID         uuid.UUID  `json:"id"`
	Label      string     `json:"label"`
	CurrentJob *uuid.UUID `json:"current_job,omitempty"`
}

// DestinationType classifies where a movement lands.
type DestinationType string

const (
	DestStaging DestinationType = "staging"
	DestVan     DestinationType = "van"
	DestJob     DestinationType = "job"
)

// Destination is the target location of a checkout or checkin.
type Destination struct {
	Type  DestinationType
	ID    uuid.UUID // van or job reference
	Label string    // staging bay label
}

// LineRequest is one requested (item, quantity) pair in a transaction.
type LineRequest struct {
	ItemUID string
	Qty     int
}

// CheckoutRequest is the input to the checkout transaction.
type CheckoutRequest struct {
	ManifestID uuid.UUID
	Lines      []LineRequest
	To         Destination
}

// CheckinRequest is the input to the checkin transaction. Checked-in
// equipment always lands in a staging bay.
type CheckinRequest struct {
	ManifestID uuid.UUID
	Lines      []LineRequest
	To         Destination
}

// AppliedLine reports the quantity actually moved for one requested
// line, so callers can reconcile requested vs. applied after clamping.
type AppliedLine struct {
	ItemUID   string `json:"item_uid"`
	Requested int    `json:"requested"`
	Moved     int    `json:"moved"`
}

// Receipt is the result of a checkout or checkin transaction.
type Receipt struct {
	Processed int           `json:"processed"`
	Applied   []AppliedLine `json:"applied"`
	Elapsed   time.Duration `json:"-"`
}
