// internal/catalog/domain.go
package catalog

import (
	"time"

	"loadout/internal/ledger"
)

// Classification determines whether an item is a singleton (exactly one
// physical unit) or tracked by a total count.
type Classification string

const (
	ClassLightTool    Classification = "light-tool"
	ClassHeavyTool    Classification = "heavy-tool"
	ClassDevice       Classification = "device"
	ClassWorkshopTool Classification = "workshop-tool"
	ClassVehicle      Classification = "vehicle"
	ClassConsumable   Classification = "consumable"
	ClassPPE          Classification = "ppe"
	ClassSundry       Classification = "sundry"
	ClassAccessory    Classification = "accessory"
	ClassKit          Classification = "kit"
)

// Singleton reports whether the classification allows exactly one
// physical unit, which can never be split across two allocations.
func (c Classification) Singleton() bool {
	switch c {
	case ClassLightTool, ClassHeavyTool, ClassDevice, ClassWorkshopTool, ClassVehicle:
		return true
	}
	return false
}

// Valid reports whether the classification is one of the known values.
func (c Classification) Valid() bool {
	switch c {
	case ClassLightTool, ClassHeavyTool, ClassDevice, ClassWorkshopTool, ClassVehicle,
		ClassConsumable, ClassPPE, ClassSundry, ClassAccessory, ClassKit:
		return true
	}
	return false
}

// Mirror statuses for the denormalized status field. The mirror is a
// display cache derived from the ledger and is allowed to be briefly
// stale; it is never consulted for conflict checks.
const (
	StatusAvailable = "available"
	StatusInStaging = "in_staging"
	StatusOnVan     = "on_van"
	StatusOnJob     = "on_job"
)

// Item represents a physical or consumable item in the catalog.
type Item struct {
	UID            string         `json:"uid"`
	Name           string         `json:"name"`
	Classification Classification `json:"classification"`
	QuantityTotal  int            `json:"quantity_total"`
	Status         string         `json:"status"`
	AssignedTo     string         `json:"assigned_to,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Singleton reports whether the item represents exactly one physical unit.
func (i Item) Singleton() bool { return i.Classification.Singleton() }

// MirrorUpdate is one best-effort write to the denormalized status and
// assigned_to fields of an item.
type MirrorUpdate struct {
	ItemUID    string `json:"item_uid"`
	Status     string `json:"status"`
	AssignedTo string `json:"assigned_to"`
}

// MirrorForRef derives the mirror update for an item that last moved to
// the given location reference.
func MirrorForRef(itemUID, ref string) MirrorUpdate {
	u := MirrorUpdate{ItemUID: itemUID, AssignedTo: ref}
	switch ledger.RefKind(ref) {
	case ledger.RefStaging:
		u.Status = StatusInStaging
	case ledger.RefVan:
		u.Status = StatusOnVan
	case ledger.RefJob:
		u.Status = StatusOnJob
	default:
		u.Status = StatusAvailable
	}
	return u
}
