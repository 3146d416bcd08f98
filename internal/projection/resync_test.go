// internal/projection/resync_test.go
package projection

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loadout/internal/catalog"
	"loadout/internal/ledger"
)

type fakeViews struct {
	required  map[string]int
	movements []ledger.Movement

	written []LineSummary
	applied []catalog.MirrorUpdate

	summariesErr error
	mirrorErr    error
}

func (f *fakeViews) MovementsByManifest(context.Context, uuid.UUID) ([]ledger.Movement, error) {
	return f.movements, nil
}

func (f *fakeViews) RequiredQuantities(context.Context, uuid.UUID) (map[string]int, error) {
	return f.required, nil
}

func (f *fakeViews) ReplaceManifestSummaries(_ context.Context, _ uuid.UUID, summaries []LineSummary) error {
	if f.summariesErr != nil {
		return f.summariesErr
	}
	f.written = summaries
	return nil
}

func (f *fakeViews) ApplyMirror(_ context.Context, updates []catalog.MirrorUpdate) error {
	if f.mirrorErr != nil {
		return f.mirrorErr
	}
	f.applied = updates
	return nil
}

func TestResyncRebuildsSummariesAndMirror(t *testing.T) {
	manifestID := uuid.New()
	f := &fakeViews{
		required: map[string]int{"CN-AAAA": 5},
		movements: []ledger.Movement{
			{ID: 1, Action: ledger.ActionCheckout, ManifestID: manifestID, ItemUID: "CN-AAAA", Qty: 3, ToRef: "staging:BAY-1"},
		},
	}

	r := NewResyncer(f, f, f, f)
	require.NoError(t, r.Resync(context.Background(), manifestID))

	require.Len(t, f.written, 1)
	assert.Equal(t, LineSummary{ItemUID: "CN-AAAA", QtyRequired: 5, QtyCheckedOut: 3}, f.written[0])

	require.Len(t, f.applied, 1)
	assert.Equal(t, catalog.StatusInStaging, f.applied[0].Status)
}

func TestResyncReportsWriteFailures(t *testing.T) {
	f := &fakeViews{summariesErr: errors.New("disk full")}
	r := NewResyncer(f, f, f, f)

	err := r.Resync(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write summaries")
}

func TestResyncIsIdempotent(t *testing.T) {
	manifestID := uuid.New()
	f := &fakeViews{
		required: map[string]int{"HT-AAAA": 1},
		movements: []ledger.Movement{
			{ID: 1, Action: ledger.ActionCheckout, ManifestID: manifestID, ItemUID: "HT-AAAA", Qty: 1, ToRef: "staging:BAY-1"},
		},
	}
	r := NewResyncer(f, f, f, f)

	require.NoError(t, r.Resync(context.Background(), manifestID))
	first := f.written
	require.NoError(t, r.Resync(context.Background(), manifestID))
	assert.Equal(t, first, f.written)
}
