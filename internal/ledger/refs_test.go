// internal/ledger/refs_test.go
package ledger

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestRefFormatting(t *testing.T) {
	id := uuid.MustParse("4f8d1c3a-0000-0000-0000-000000000000")

	assert.Equal(t, "warehouse:MAIN", WarehouseRef("MAIN"))
	assert.Equal(t, "staging:BAY-2", StagingRef("BAY-2"))
	assert.Equal(t, "van:"+id.String(), VanRef(id))
	assert.Equal(t, "job:"+id.String(), JobRef(id))
}

func TestRefKind(t *testing.T) {
	assert.Equal(t, RefStaging, RefKind("staging:BAY-2"))
	assert.Equal(t, RefVan, RefKind(VanRef(uuid.New())))
	assert.Equal(t, RefWarehouse, RefKind(SourceWarehouse))
	assert.Equal(t, "bare", RefKind("bare"))
}

func TestLineTotalOnLoan(t *testing.T) {
	assert.Equal(t, 4, LineTotal{QtyCheckedOut: 6, QtyCheckedIn: 2}.OnLoan())
	assert.Equal(t, 0, LineTotal{}.OnLoan())
}
