package resource

import (
	"time"

	"github.com/R3E-Network/realtime-resource-server/internal/filter"
)

// Adapter binds the generic engine to one resource kind, per spec.md §4.1's
// "polymorphic binding": a schema triple, a channel handle, and an output
// projection, supplied once at construction. No CRUD code is duplicated per
// kind; only these four responsibilities are.
type Adapter[Input any, Output any] interface {
	// Kind returns the stable name of this resource kind (also the
	// broadcast channel name and webhook event-family prefix).
	Kind() string

	// Schema returns the bootstrapped filter field table for this kind.
	Schema() *filter.Schema

	// ValidateCreate checks a create request body before it is persisted.
	ValidateCreate(input Input) error

	// ValidateUpdate checks a partial update body (field -> new value)
	// before it is merged into the stored attributes.
	ValidateUpdate(partial map[string]interface{}) error

	// ToAttributes converts a validated create input into the JSONB
	// attributes map persisted in the resources table.
	ToAttributes(input Input) (map[string]interface{}, error)

	// Project materializes the publicly visible Output shape from a
	// persisted row, never exposing the raw Stored/attributes map
	// structure directly.
	Project(row Row) Output
}

// Row is the persisted shape every kind shares: a stable id, kind-specific
// JSONB attributes, and lifecycle timestamps. The engine owns this shape
// exclusively; kinds never see it directly except through Adapter.Project.
type Row struct {
	ID         int64
	Kind       string
	Attributes map[string]interface{}
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
