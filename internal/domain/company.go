package domain

import (
	"encoding/json"
	"time"
)

// Company is the tenant scope for rule ownership and tag isolation. The
// same transaction can carry multiple, per-company tags.
type Company struct {
	ID   string `json:"id"`
	Code string `json:"code"` // globally unique short string
	Name string `json:"name"`

	// MetadataSchema, if non-empty, is a JSON Schema that incoming
	// ExternalMetadata is validated against (see schema.go).
	MetadataSchema json.RawMessage `json:"metadataSchema,omitempty"`

	// IsActive gates visibility to the engine: inactive companies are
	// invisible to tagging.
	IsActive bool `json:"isActive"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
