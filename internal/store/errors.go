// internal/store/errors.go
package store

import (
	"fmt"

	"github.com/google/uuid"
)

func errNoManifest(id uuid.UUID) error {
	return fmt.Errorf("manifest %s does not exist", id)
}

func errNoVan(id uuid.UUID) error {
	return fmt.Errorf("van %s does not exist", id)
}
