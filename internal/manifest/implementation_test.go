// internal/manifest/implementation_test.go
package manifest_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loadout/internal/catalog"
	"loadout/internal/ledger"
	"loadout/internal/manifest"
	"loadout/internal/projection"
	"loadout/internal/store"
)

type fixture struct {
	mem *store.Memory
	svc manifest.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	cat := catalog.NewService(mem)
	resyncer := projection.NewResyncer(mem, mem, mem, cat)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{
		mem: mem,
		svc: manifest.NewService(mem, mem, cat, resyncer, log),
	}
}

func (f *fixture) seedItem(t *testing.T, uid string, class catalog.Classification, total int) {
	t.Helper()
	require.NoError(t, f.mem.CreateItem(context.Background(), catalog.Item{
		UID:            uid,
		Name:           uid,
		Classification: class,
		QuantityTotal:  total,
		Status:         catalog.StatusAvailable,
	}))
}

func (f *fixture) seedManifest(t *testing.T, status manifest.Status, vanID *uuid.UUID, lines map[string]int) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, f.mem.CreateManifest(context.Background(), manifest.Manifest{
		ID: id, VanID: vanID, Status: status,
	}))
	for uid, qty := range lines {
		require.NoError(t, f.mem.AddManifestLine(context.Background(), manifest.Line{
			ManifestID: id, ItemUID: uid, QtyRequired: qty,
		}))
	}
	return id
}

func (f *fixture) seedVan(t *testing.T, label string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, f.mem.CreateVan(context.Background(), manifest.Van{ID: id, Label: label}))
	return id
}

func stagingDest(label string) manifest.Destination {
	return manifest.Destination{Type: manifest.DestStaging, Label: label}
}

func TestCheckoutMovesRequestedQuantities(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "CN-AAAA", catalog.ClassConsumable, 20)
	f.seedItem(t, "HT-BBBB", catalog.ClassHeavyTool, 1)
	id := f.seedManifest(t, manifest.StatusPending, nil, map[string]int{"CN-AAAA": 10, "HT-BBBB": 1})

	receipt, err := f.svc.Checkout(context.Background(), manifest.CheckoutRequest{
		ManifestID: id,
		Lines: []manifest.LineRequest{
			{ItemUID: "CN-AAAA", Qty: 6},
			{ItemUID: "HT-BBBB", Qty: 1},
		},
		To: stagingDest("BAY-2"),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, receipt.Processed)
	require.Len(t, receipt.Applied, 2)
	assert.Equal(t, manifest.AppliedLine{ItemUID: "CN-AAAA", Requested: 6, Moved: 6}, receipt.Applied[0])
	assert.Equal(t, manifest.AppliedLine{ItemUID: "HT-BBBB", Requested: 1, Moved: 1}, receipt.Applied[1])

	// Checkout from a pending manifest implicitly stages it.
	m, err := f.mem.GetManifest(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, manifest.StatusStaged, m.Status)

	movements, err := f.mem.MovementsByManifest(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, movements, 2)
	for _, mv := range movements {
		assert.Equal(t, ledger.SourceWarehouse, mv.FromRef)
		assert.Equal(t, "staging:BAY-2", mv.ToRef)
	}
}

func TestCheckoutClampsToRemainingRequirement(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "CN-AAAA", catalog.ClassConsumable, 50)
	id := f.seedManifest(t, manifest.StatusPending, nil, map[string]int{"CN-AAAA": 5})

	receipt, err := f.svc.Checkout(context.Background(), manifest.CheckoutRequest{
		ManifestID: id,
		Lines:      []manifest.LineRequest{{ItemUID: "CN-AAAA", Qty: 8}},
		To:         stagingDest("BAY-1"),
	})
	require.NoError(t, err)
	require.Len(t, receipt.Applied, 1)
	assert.Equal(t, 5, receipt.Applied[0].Moved, "moved quantity is capped by qty_required")
}

func TestCheckoutResubmissionIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "CN-AAAA", catalog.ClassConsumable, 50)
	id := f.seedManifest(t, manifest.StatusPending, nil, map[string]int{"CN-AAAA": 5})

	req := manifest.CheckoutRequest{
		ManifestID: id,
		Lines:      []manifest.LineRequest{{ItemUID: "CN-AAAA", Qty: 5}},
		To:         stagingDest("BAY-1"),
	}
	_, err := f.svc.Checkout(context.Background(), req)
	require.NoError(t, err)

	receipt, err := f.svc.Checkout(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, receipt.Processed)
	require.Len(t, receipt.Applied, 1)
	assert.Equal(t, 0, receipt.Applied[0].Moved, "fully fulfilled line contributes nothing")

	movements, err := f.mem.MovementsByManifest(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, movements, 1, "no duplicate ledger rows on resubmission")
}

func TestCheckoutMergesDuplicateLines(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "CN-AAAA", catalog.ClassConsumable, 50)
	id := f.seedManifest(t, manifest.StatusPending, nil, map[string]int{"CN-AAAA": 10})

	receipt, err := f.svc.Checkout(context.Background(), manifest.CheckoutRequest{
		ManifestID: id,
		Lines: []manifest.LineRequest{
			{ItemUID: "CN-AAAA", Qty: 3},
			{ItemUID: "CN-AAAA", Qty: 4},
		},
		To: stagingDest("BAY-1"),
	})
	require.NoError(t, err)
	require.Len(t, receipt.Applied, 1)
	assert.Equal(t, 7, receipt.Applied[0].Moved)
}

func TestCheckoutSingletonConflict(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "HT-0001", catalog.ClassHeavyTool, 1)

	van := f.seedVan(t, "VAN-4")
	holder := f.seedManifest(t, manifest.StatusActive, &van, map[string]int{"HT-0001": 1})
	_, err := f.svc.Checkout(context.Background(), manifest.CheckoutRequest{
		ManifestID: holder,
		Lines:      []manifest.LineRequest{{ItemUID: "HT-0001", Qty: 1}},
		To:         manifest.Destination{Type: manifest.DestVan, ID: van},
	})
	require.NoError(t, err)

	other := f.seedManifest(t, manifest.StatusPending, nil, map[string]int{"HT-0001": 1})
	_, err = f.svc.Checkout(context.Background(), manifest.CheckoutRequest{
		ManifestID: other,
		Lines:      []manifest.LineRequest{{ItemUID: "HT-0001", Qty: 1}},
		To:         stagingDest("BAY-1"),
	})

	var conflict *manifest.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Len(t, conflict.Conflicts, 1)
	assert.Equal(t, "HT-0001", conflict.Conflicts[0].ItemUID)
	assert.Equal(t, holder, conflict.Conflicts[0].ManifestID)
	require.NotNil(t, conflict.Conflicts[0].VanID)
	assert.Equal(t, van, *conflict.Conflicts[0].VanID)

	movements, err := f.mem.MovementsByManifest(context.Background(), other)
	require.NoError(t, err)
	assert.Empty(t, movements, "conflicting batch writes nothing")
}

func TestCheckoutInsufficientQuantity(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "CN-MAT7", catalog.ClassConsumable, 10)

	van := f.seedVan(t, "VAN-1")
	holder := f.seedManifest(t, manifest.StatusActive, &van, map[string]int{"CN-MAT7": 6})
	_, err := f.svc.Checkout(context.Background(), manifest.CheckoutRequest{
		ManifestID: holder,
		Lines:      []manifest.LineRequest{{ItemUID: "CN-MAT7", Qty: 6}},
		To:         manifest.Destination{Type: manifest.DestVan, ID: van},
	})
	require.NoError(t, err)

	other := f.seedManifest(t, manifest.StatusPending, nil, map[string]int{"CN-MAT7": 5})
	_, err = f.svc.Checkout(context.Background(), manifest.CheckoutRequest{
		ManifestID: other,
		Lines:      []manifest.LineRequest{{ItemUID: "CN-MAT7", Qty: 5}},
		To:         stagingDest("BAY-1"),
	})

	var conflict *manifest.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Len(t, conflict.Insufficient, 1)
	assert.Equal(t, manifest.InsufficientItem{
		ItemUID:            "CN-MAT7",
		Total:              10,
		AllocatedElsewhere: 6,
		Requested:          5,
		Available:          4,
	}, conflict.Insufficient[0])
}

func TestCheckoutCountsStagedHolders(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "CN-MAT7", catalog.ClassConsumable, 10)

	holder := f.seedManifest(t, manifest.StatusStaged, nil, map[string]int{"CN-MAT7": 8})
	_, err := f.svc.Checkout(context.Background(), manifest.CheckoutRequest{
		ManifestID: holder,
		Lines:      []manifest.LineRequest{{ItemUID: "CN-MAT7", Qty: 8}},
		To:         stagingDest("BAY-1"),
	})
	require.NoError(t, err)

	other := f.seedManifest(t, manifest.StatusPending, nil, map[string]int{"CN-MAT7": 8})
	_, err = f.svc.Checkout(context.Background(), manifest.CheckoutRequest{
		ManifestID: other,
		Lines:      []manifest.LineRequest{{ItemUID: "CN-MAT7", Qty: 8}},
		To:         stagingDest("BAY-2"),
	})

	var conflict *manifest.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Len(t, conflict.Insufficient, 1)
	assert.Equal(t, manifest.InsufficientItem{
		ItemUID:            "CN-MAT7",
		Total:              10,
		AllocatedElsewhere: 8,
		Requested:          8,
		Available:          2,
	}, conflict.Insufficient[0])

	// What the staged holder has not committed is still available.
	receipt, err := f.svc.Checkout(context.Background(), manifest.CheckoutRequest{
		ManifestID: other,
		Lines:      []manifest.LineRequest{{ItemUID: "CN-MAT7", Qty: 2}},
		To:         stagingDest("BAY-2"),
	})
	require.NoError(t, err)
	require.Len(t, receipt.Applied, 1)
	assert.Equal(t, 2, receipt.Applied[0].Moved)
}

func TestCheckoutBatchRejectedWithAllOffenders(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "HT-0001", catalog.ClassHeavyTool, 1)
	f.seedItem(t, "CN-MAT7", catalog.ClassConsumable, 4)

	van := f.seedVan(t, "VAN-9")
	holder := f.seedManifest(t, manifest.StatusActive, &van, map[string]int{"HT-0001": 1, "CN-MAT7": 4})
	_, err := f.svc.Checkout(context.Background(), manifest.CheckoutRequest{
		ManifestID: holder,
		Lines: []manifest.LineRequest{
			{ItemUID: "HT-0001", Qty: 1},
			{ItemUID: "CN-MAT7", Qty: 4},
		},
		To: manifest.Destination{Type: manifest.DestVan, ID: van},
	})
	require.NoError(t, err)

	other := f.seedManifest(t, manifest.StatusPending, nil, map[string]int{"HT-0001": 1, "CN-MAT7": 2})
	_, err = f.svc.Checkout(context.Background(), manifest.CheckoutRequest{
		ManifestID: other,
		Lines: []manifest.LineRequest{
			{ItemUID: "HT-0001", Qty: 1},
			{ItemUID: "CN-MAT7", Qty: 2},
		},
		To: stagingDest("BAY-1"),
	})

	var conflict *manifest.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Len(t, conflict.Conflicts, 1)
	assert.Len(t, conflict.Insufficient, 1)
}

func TestCheckoutValidation(t *testing.T) {
	f := newFixture(t)

	cases := map[string]manifest.CheckoutRequest{
		"missing manifest id": {
			Lines: []manifest.LineRequest{{ItemUID: "CN-AAAA", Qty: 1}},
			To:    stagingDest("BAY-1"),
		},
		"no positive lines": {
			ManifestID: uuid.New(),
			Lines:      []manifest.LineRequest{{ItemUID: "CN-AAAA", Qty: 0}, {ItemUID: "CN-BBBB", Qty: -3}},
			To:         stagingDest("BAY-1"),
		},
		"staging without label": {
			ManifestID: uuid.New(),
			Lines:      []manifest.LineRequest{{ItemUID: "CN-AAAA", Qty: 1}},
			To:         manifest.Destination{Type: manifest.DestStaging},
		},
		"van without id": {
			ManifestID: uuid.New(),
			Lines:      []manifest.LineRequest{{ItemUID: "CN-AAAA", Qty: 1}},
			To:         manifest.Destination{Type: manifest.DestVan},
		},
		"unknown destination": {
			ManifestID: uuid.New(),
			Lines:      []manifest.LineRequest{{ItemUID: "CN-AAAA", Qty: 1}},
			To:         manifest.Destination{Type: "teleporter"},
		},
	}

	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Checkout(context.Background(), req)
			var ve *manifest.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.NotEmpty(t, ve.Reasons)
		})
	}
}

func TestCheckoutUnknownReferences(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "CN-AAAA", catalog.ClassConsumable, 10)
	id := f.seedManifest(t, manifest.StatusPending, nil, map[string]int{"CN-AAAA": 5})

	var nf *manifest.NotFoundError

	_, err := f.svc.Checkout(context.Background(), manifest.CheckoutRequest{
		ManifestID: uuid.New(),
		Lines:      []manifest.LineRequest{{ItemUID: "CN-AAAA", Qty: 1}},
		To:         stagingDest("BAY-1"),
	})
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "manifest", nf.Kind)

	_, err = f.svc.Checkout(context.Background(), manifest.CheckoutRequest{
		ManifestID: id,
		Lines:      []manifest.LineRequest{{ItemUID: "XX-NOPE", Qty: 1}},
		To:         stagingDest("BAY-1"),
	})
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "item", nf.Kind)
}

func TestCheckoutOnClosedManifest(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "CN-AAAA", catalog.ClassConsumable, 10)
	id := f.seedManifest(t, manifest.StatusClosed, nil, map[string]int{"CN-AAAA": 5})

	_, err := f.svc.Checkout(context.Background(), manifest.CheckoutRequest{
		ManifestID: id,
		Lines:      []manifest.LineRequest{{ItemUID: "CN-AAAA", Qty: 1}},
		To:         stagingDest("BAY-1"),
	})
	var ve *manifest.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestCheckinClampsToOnLoan(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "CN-AAAA", catalog.ClassConsumable, 10)
	id := f.seedManifest(t, manifest.StatusPending, nil, map[string]int{"CN-AAAA": 5})

	_, err := f.svc.Checkout(context.Background(), manifest.CheckoutRequest{
		ManifestID: id,
		Lines:      []manifest.LineRequest{{ItemUID: "CN-AAAA", Qty: 2}},
		To:         stagingDest("BAY-1"),
	})
	require.NoError(t, err)

	receipt, err := f.svc.Checkin(context.Background(), manifest.CheckinRequest{
		ManifestID: id,
		Lines:      []manifest.LineRequest{{ItemUID: "CN-AAAA", Qty: 3}},
		To:         stagingDest("RETURNS"),
	})
	require.NoError(t, err)
	require.Len(t, receipt.Applied, 1)
	assert.Equal(t, manifest.AppliedLine{ItemUID: "CN-AAAA", Requested: 3, Moved: 2}, receipt.Applied[0])
}

func TestCheckinWithNothingOnLoan(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "CN-AAAA", catalog.ClassConsumable, 10)
	id := f.seedManifest(t, manifest.StatusPending, nil, map[string]int{"CN-AAAA": 5})

	receipt, err := f.svc.Checkin(context.Background(), manifest.CheckinRequest{
		ManifestID: id,
		Lines:      []manifest.LineRequest{{ItemUID: "CN-AAAA", Qty: 3}},
		To:         stagingDest("RETURNS"),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, receipt.Processed)

	movements, err := f.mem.MovementsByManifest(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, movements, "nothing to return writes nothing")
}

func TestCheckinRejectsNonStagingDestination(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Checkin(context.Background(), manifest.CheckinRequest{
		ManifestID: uuid.New(),
		Lines:      []manifest.LineRequest{{ItemUID: "CN-AAAA", Qty: 1}},
		To:         manifest.Destination{Type: manifest.DestVan, ID: uuid.New()},
	})
	var ve *manifest.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Reasons[0], "staging")
}

func TestCheckinOriginFollowsVan(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "CN-AAAA", catalog.ClassConsumable, 10)
	van := f.seedVan(t, "VAN-2")
	id := f.seedManifest(t, manifest.StatusActive, &van, map[string]int{"CN-AAAA": 5})

	_, err := f.svc.Checkout(context.Background(), manifest.CheckoutRequest{
		ManifestID: id,
		Lines:      []manifest.LineRequest{{ItemUID: "CN-AAAA", Qty: 5}},
		To:         manifest.Destination{Type: manifest.DestVan, ID: van},
	})
	require.NoError(t, err)

	_, err = f.svc.Checkin(context.Background(), manifest.CheckinRequest{
		ManifestID: id,
		Lines:      []manifest.LineRequest{{ItemUID: "CN-AAAA", Qty: 5}},
		To:         stagingDest("RETURNS"),
	})
	require.NoError(t, err)

	movements, err := f.mem.MovementsByManifest(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, movements, 2)
	assert.Equal(t, ledger.VanRef(van), movements[1].FromRef)
	assert.Equal(t, "staging:RETURNS", movements[1].ToRef)
}

// failingMirror wraps a working catalog but refuses mirror writes, the
// way a flaky catalog service would.
type failingMirror struct {
	catalog.Service
}

func (failingMirror) ApplyMirror(context.Context, []catalog.MirrorUpdate) error {
	return errors.New("catalog unavailable")
}

func TestMirrorFailureDoesNotFailCheckout(t *testing.T) {
	mem := store.NewMemory()
	cat := failingMirror{Service: catalog.NewService(mem)}
	resyncer := projection.NewResyncer(mem, mem, mem, cat)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := manifest.NewService(mem, mem, cat, resyncer, log)

	ctx := context.Background()
	require.NoError(t, mem.CreateItem(ctx, catalog.Item{
		UID: "CN-AAAA", Classification: catalog.ClassConsumable, QuantityTotal: 10,
		Status: catalog.StatusAvailable,
	}))
	id := uuid.New()
	require.NoError(t, mem.CreateManifest(ctx, manifest.Manifest{ID: id, Status: manifest.StatusPending}))
	require.NoError(t, mem.AddManifestLine(ctx, manifest.Line{ManifestID: id, ItemUID: "CN-AAAA", QtyRequired: 5}))

	receipt, err := svc.Checkout(ctx, manifest.CheckoutRequest{
		ManifestID: id,
		Lines:      []manifest.LineRequest{{ItemUID: "CN-AAAA", Qty: 5}},
		To:         stagingDest("BAY-1"),
	})
	require.NoError(t, err, "mirror failures must never fail the transaction")
	assert.Equal(t, 1, receipt.Processed)

	movements, err := mem.MovementsByManifest(ctx, id)
	require.NoError(t, err)
	assert.Len(t, movements, 1, "ledger row survives the failed mirror write")
}

func TestConcurrentSingletonCheckout(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "HT-0001", catalog.ClassHeavyTool, 1)

	vanA := f.seedVan(t, "VAN-A")
	vanB := f.seedVan(t, "VAN-B")
	a := f.seedManifest(t, manifest.StatusActive, &vanA, map[string]int{"HT-0001": 1})
	b := f.seedManifest(t, manifest.StatusActive, &vanB, map[string]int{"HT-0001": 1})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []uuid.UUID{a, b} {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			_, errs[i] = f.svc.Checkout(context.Background(), manifest.CheckoutRequest{
				ManifestID: id,
				Lines:      []manifest.LineRequest{{ItemUID: "HT-0001", Qty: 1}},
				To:         stagingDest("BAY-1"),
			})
		}(i, id)
	}
	wg.Wait()

	var conflicts, successes int
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		var ce *manifest.ConflictError
		require.ErrorAs(t, err, &ce)
		conflicts++
	}
	assert.Equal(t, 1, successes, "exactly one checkout wins the singleton")
	assert.Equal(t, 1, conflicts)

	all, err := f.mem.AllMovements(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1, "exactly one ledger row for the singleton")
}

func TestStageTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := f.seedManifest(t, manifest.StatusPending, nil, nil)
	require.NoError(t, f.svc.Stage(ctx, pending))
	m, err := f.mem.GetManifest(ctx, pending)
	require.NoError(t, err)
	assert.Equal(t, manifest.StatusStaged, m.Status)

	// Staging a staged manifest is a no-op.
	require.NoError(t, f.svc.Stage(ctx, pending))

	closed := f.seedManifest(t, manifest.StatusClosed, nil, nil)
	var ve *manifest.ValidationError
	require.ErrorAs(t, f.svc.Stage(ctx, closed), &ve)
}

func TestActivateRequiresStagedWithVan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	van := f.seedVan(t, "VAN-1")

	var ve *manifest.ValidationError

	noVan := f.seedManifest(t, manifest.StatusStaged, nil, nil)
	require.ErrorAs(t, f.svc.Activate(ctx, noVan), &ve)

	pending := f.seedManifest(t, manifest.StatusPending, &van, nil)
	require.ErrorAs(t, f.svc.Activate(ctx, pending), &ve)

	staged := f.seedManifest(t, manifest.StatusStaged, &van, nil)
	require.NoError(t, f.svc.Activate(ctx, staged))

	m, err := f.mem.GetManifest(ctx, staged)
	require.NoError(t, err)
	assert.Equal(t, manifest.StatusActive, m.Status)
}

func TestActivateLinksVanToJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	van := f.seedVan(t, "VAN-1")
	job := uuid.New()

	id := uuid.New()
	require.NoError(t, f.mem.CreateManifest(ctx, manifest.Manifest{
		ID: id, VanID: &van, JobID: &job, Status: manifest.StatusStaged,
	}))
	require.NoError(t, f.svc.Activate(ctx, id))

	v, err := f.mem.GetVan(ctx, van)
	require.NoError(t, err)
	require.NotNil(t, v.CurrentJob)
	assert.Equal(t, job, *v.CurrentJob)
}

func TestActivateGuardsSingletonExclusivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedItem(t, "HT-0001", catalog.ClassHeavyTool, 1)

	vanA := f.seedVan(t, "VAN-A")
	vanB := f.seedVan(t, "VAN-B")

	// Both manifests staged the same singleton: checkout only competes
	// with active manifests, so double-staging is possible. Activation
	// is where the second one must lose.
	a := f.seedManifest(t, manifest.StatusPending, &vanA, map[string]int{"HT-0001": 1})
	_, err := f.svc.Checkout(ctx, manifest.CheckoutRequest{
		ManifestID: a,
		Lines:      []manifest.LineRequest{{ItemUID: "HT-0001", Qty: 1}},
		To:         stagingDest("BAY-1"),
	})
	require.NoError(t, err)

	b := f.seedManifest(t, manifest.StatusPending, &vanB, map[string]int{"HT-0001": 1})
	_, err = f.svc.Checkout(ctx, manifest.CheckoutRequest{
		ManifestID: b,
		Lines:      []manifest.LineRequest{{ItemUID: "HT-0001", Qty: 1}},
		To:         stagingDest("BAY-2"),
	})
	require.NoError(t, err)

	err = f.svc.Activate(ctx, a)
	var ce *manifest.ConflictError
	require.ErrorAs(t, err, &ce)
	require.Len(t, ce.Conflicts, 1)
	assert.Equal(t, b, ce.Conflicts[0].ManifestID)

	// Returning the item from b releases the allocation; a can then go out.
	_, err = f.svc.Checkin(ctx, manifest.CheckinRequest{
		ManifestID: b,
		Lines:      []manifest.LineRequest{{ItemUID: "HT-0001", Qty: 1}},
		To:         stagingDest("RETURNS"),
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.Activate(ctx, a))
}

func TestCloseLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var ve *manifest.ValidationError

	van := f.seedVan(t, "VAN-1")
	active := f.seedManifest(t, manifest.StatusActive, &van, nil)
	require.ErrorAs(t, f.svc.Close(ctx, active), &ve, "active manifests cannot be closed")

	staged := f.seedManifest(t, manifest.StatusStaged, nil, nil)
	require.NoError(t, f.svc.Close(ctx, staged))
	require.ErrorAs(t, f.svc.Close(ctx, staged), &ve, "closed is terminal")

	m, err := f.mem.GetManifest(ctx, staged)
	require.NoError(t, err)
	assert.Equal(t, manifest.StatusClosed, m.Status)
}

func TestSummaryReflectsLedgerAfterResync(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedItem(t, "CN-AAAA", catalog.ClassConsumable, 20)
	id := f.seedManifest(t, manifest.StatusPending, nil, map[string]int{"CN-AAAA": 10})

	_, err := f.svc.Checkout(ctx, manifest.CheckoutRequest{
		ManifestID: id,
		Lines:      []manifest.LineRequest{{ItemUID: "CN-AAAA", Qty: 6}},
		To:         stagingDest("BAY-1"),
	})
	require.NoError(t, err)

	_, err = f.svc.Checkin(ctx, manifest.CheckinRequest{
		ManifestID: id,
		Lines:      []manifest.LineRequest{{ItemUID: "CN-AAAA", Qty: 2}},
		To:         stagingDest("RETURNS"),
	})
	require.NoError(t, err)

	summaries, err := f.svc.Summary(ctx, id)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, projection.LineSummary{
		ItemUID: "CN-AAAA", QtyRequired: 10, QtyCheckedOut: 6, QtyCheckedIn: 2,
	}, summaries[0])
	assert.Equal(t, 4, summaries[0].Outstanding())
}

func TestSummaryUnknownManifest(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Summary(context.Background(), uuid.New())
	var nf *manifest.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestCheckoutUpdatesItemMirror(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedItem(t, "HT-0001", catalog.ClassHeavyTool, 1)
	van := f.seedVan(t, "VAN-1")
	id := f.seedManifest(t, manifest.StatusActive, &van, map[string]int{"HT-0001": 1})

	_, err := f.svc.Checkout(ctx, manifest.CheckoutRequest{
		ManifestID: id,
		Lines:      []manifest.LineRequest{{ItemUID: "HT-0001", Qty: 1}},
		To:         manifest.Destination{Type: manifest.DestVan, ID: van},
	})
	require.NoError(t, err)

	item, err := f.mem.GetItem(ctx, "HT-0001")
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusOnVan, item.Status)
	assert.Equal(t, ledger.VanRef(van), item.AssignedTo)
}
