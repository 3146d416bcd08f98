// internal/catalog/implementation.go
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when an item UID does not exist in the catalog.
var ErrNotFound = errors.New("item not found")

// service implements the Service interface.
type service struct {
	store Store
}

// NewService creates a new catalog service instance.
func NewService(store Store) Service {
	return &service{store: store}
}

// AddItem creates a new item in the catalog. Singleton classifications
// always carry a fixed quantity of one.
func (s *service) AddItem(ctx context.Context, name string, class Classification, quantityTotal int) (*Item, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("item name is required")
	}
	if !class.Valid() {
		return nil, fmt.Errorf("unknown classification %q", class)
	}
	if class.Singleton() {
		quantityTotal = 1
	} else if quantityTotal < 0 {
		return nil, fmt.Errorf("quantity_total must not be negative")
	}

	item := Item{
		UID:            newUID(class),
		Name:           name,
		Classification: class,
		QuantityTotal:  quantityTotal,
		Status:         StatusAvailable,
	}
	if err := s.store.CreateItem(ctx, item); err != nil {
		return nil, fmt.Errorf("create item: %w", err)
	}
	return &item, nil
}

// GetItem retrieves an item from the catalog by its UID.
func (s *service) GetItem(ctx context.Context, uid string) (*Item, error) {
	item, err := s.store.GetItem(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", uid, err)
	}
	if item == nil {
		return nil, ErrNotFound
	}
	return item, nil
}

// Items retrieves a batch of items by UID. Unknown UIDs are simply
// absent from the result; callers decide whether that is an error.
func (s *service) Items(ctx context.Context, uids []string) (map[string]Item, error) {
	items, err := s.store.GetItems(ctx, uids)
	if err != nil {
		return nil, fmt.Errorf("get items: %w", err)
	}
	return items, nil
}

// ApplyMirror writes a batch of denormalized status updates.
func (s *service) ApplyMirror(ctx context.Context, updates []MirrorUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	if err := s.store.UpdateMirror(ctx, updates); err != nil {
		return fmt.Errorf("update mirror: %w", err)
	}
	return nil
}
