// internal/manifest/errors.go
package manifest

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ValidationError reports malformed input. Terminal: the caller must fix
// the request, retrying cannot help.
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + strings.Join(e.Reasons, "; ")
}

// NotFoundError reports a missing manifest or item reference.
type NotFoundError struct {
	Kind string // "manifest" or "item"
	Ref  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Ref)
}

// SingletonConflict is one conflicting allocation of a singleton item
// held by another manifest.
type SingletonConflict struct {
	ItemUID    string     `json:"item_uid"`
	ManifestID uuid.UUID  `json:"manifest_id"`
	VanID      *uuid.UUID `json:"van_id,omitempty"`
	JobID      *uuid.UUID `json:"job_id,omitempty"`
	Qty        int        `json:"qty"`
}

// InsufficientItem reports a multi-quantity line that cannot be covered
// by the remaining stock, with enough detail for the caller to offer a
// partial quantity.
type InsufficientItem struct {
	ItemUID            string `json:"item_uid"`
	Total              int    `json:"total"`
	AllocatedElsewhere int    `json:"allocatedElsewhere"`
	Requested          int    `json:"requested"`
	Available          int    `json:"available"`
}

// ConflictError aborts a whole batch: it carries every offending line,
// never just the first one found.
type ConflictError struct {
	Conflicts    []SingletonConflict `json:"conflicts,omitempty"`
	Insufficient []InsufficientItem  `json:"insufficient,omitempty"`
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("allocation conflict: %d singleton conflicts, %d insufficient lines",
		len(e.Conflicts), len(e.Insufficient))
}

// Empty reports whether the error carries no offending lines.
func (e *ConflictError) Empty() bool {
	return len(e.Conflicts) == 0 && len(e.Insufficient) == 0
}
