// internal/catalog/service.go
package catalog

import (
	"context"
)

// Service defines the interface for the item catalog service.
type Service interface {
	AddItem(ctx context.Context, name string, class Classification, quantityTotal int) (*Item, error)
	GetItem(ctx context.Context, uid string) (*Item, error)
	Items(ctx context.Context, uids []string) (map[string]Item, error)
	ApplyMirror(ctx context.Context, updates []MirrorUpdate) error
}

// Store is the persistence the catalog service needs.
type Store interface {
	CreateItem(ctx context.Context, item Item) error
	GetItem(ctx context.Context, uid string) (*Item, error)
	GetItems(ctx context.Context, uids []string) (map[string]Item, error)
	UpdateMirror(ctx context.Context, updates []MirrorUpdate) error
}
