// internal/catalog/uid.go
package catalog

import (
	"strings"

	"github.com/google/uuid"
)

// newUID mints an item UID with a human-readable classification prefix,
// e.g. "HT-3F2A9C41" for a heavy tool.
func newUID(class Classification) string {
	var prefix string
	switch class {
	case ClassLightTool:
		prefix = "LT"
	case ClassHeavyTool:
		prefix = "HT"
	case ClassDevice:
		prefix = "DV"
	case ClassWorkshopTool:
		prefix = "WT"
	case ClassVehicle:
		prefix = "VH"
	case ClassConsumable:
		prefix = "CN"
	case ClassPPE:
		prefix = "PP"
	case ClassSundry:
		prefix = "SN"
	case ClassAccessory:
		prefix = "AC"
	case ClassKit:
		prefix = "KT"
	default:
		prefix = "IT"
	}
	return prefix + "-" + strings.ToUpper(uuid.NewString()[:8])
}
