// internal/catalog/implementation_test.go
package catalog

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	items map[string]Item
}

func newMemStore() *memStore { return &memStore{items: make(map[string]Item)} }

func (s *memStore) CreateItem(_ context.Context, item Item) error {
	s.items[item.UID] = item
	return nil
}

func (s *memStore) GetItem(_ context.Context, uid string) (*Item, error) {
	item, ok := s.items[uid]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (s *memStore) GetItems(_ context.Context, uids []string) (map[string]Item, error) {
	out := make(map[string]Item)
	for _, uid := range uids {
		if item, ok := s.items[uid]; ok {
			out[uid] = item
		}
	}
	return out, nil
}

func (s *memStore) UpdateMirror(_ context.Context, updates []MirrorUpdate) error {
	for _, u := range updates {
		item := s.items[u.ItemUID]
		item.Status = u.Status
		item.AssignedTo = u.AssignedTo
		s.items[u.ItemUID] = item
	}
	return nil
}

func TestAddItemSingletonForcesQuantityOne(t *testing.T) {
	svc := NewService(newMemStore())

	item, err := svc.AddItem(context.Background(), "Demolition Breaker", ClassHeavyTool, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, item.QuantityTotal, "singleton classifications carry exactly one unit")
	assert.True(t, strings.HasPrefix(item.UID, "HT-"))
	assert.Equal(t, StatusAvailable, item.Status)
}

func TestAddItemMultiQuantityKeepsTotal(t *testing.T) {
	svc := NewService(newMemStore())

	item, err := svc.AddItem(context.Background(), "Wood Screws 4x40", ClassConsumable, 500)
	require.NoError(t, err)
	assert.Equal(t, 500, item.QuantityTotal)
	assert.True(t, strings.HasPrefix(item.UID, "CN-"))
	assert.False(t, item.Singleton())
}

func TestAddItemValidation(t *testing.T) {
	svc := NewService(newMemStore())
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "  ", ClassConsumable, 10)
	assert.Error(t, err)

	_, err = svc.AddItem(ctx, "Mystery Box", Classification("antique"), 1)
	assert.Error(t, err)

	_, err = svc.AddItem(ctx, "Screws", ClassConsumable, -1)
	assert.Error(t, err)
}

func TestGetItemNotFound(t *testing.T) {
	svc := NewService(newMemStore())
	_, err := svc.GetItem(context.Background(), "XX-NOPE")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestItemsSkipsUnknownUIDs(t *testing.T) {
	store := newMemStore()
	svc := NewService(store)
	ctx := context.Background()

	item, err := svc.AddItem(ctx, "Laser Level", ClassDevice, 1)
	require.NoError(t, err)

	items, err := svc.Items(ctx, []string{item.UID, "XX-NOPE"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Contains(t, items, item.UID)
}

func TestClassificationSingleton(t *testing.T) {
	singles := []Classification{ClassLightTool, ClassHeavyTool, ClassDevice, ClassWorkshopTool, ClassVehicle}
	for _, c := range singles {
		assert.True(t, c.Singleton(), string(c))
	}
	multis := []Classification{ClassConsumable, ClassPPE, ClassSundry, ClassAccessory, ClassKit}
	for _, c := range multis {
		assert.False(t, c.Singleton(), string(c))
	}
	assert.False(t, Classification("antique").Valid())
}

func TestMirrorForRef(t *testing.T) {
	cases := map[string]string{
		"staging:BAY-1": StatusInStaging,
		"van:4f8d":      StatusOnVan,
		"job:91aa":      StatusOnJob,
		"warehouse:MAIN": StatusAvailable,
	}
	for ref, want := range cases {
		u := MirrorForRef("HT-0001", ref)
		assert.Equal(t, want, u.Status, ref)
		assert.Equal(t, ref, u.AssignedTo)
	}
}
