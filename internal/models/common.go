package models

import "time"

// Timestamps is embedded by every entity that carries created/modified
// instants. Composition, not inheritance, per the no-entity-hierarchy
// design note.
type Timestamps struct {
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
	ModifiedAt time.Time `json:"modifiedAt" db:"modified_at"`
}

// Info is the arbitrary per-entity metadata bag shared by units,
// applications, networks, devices and users.
type Info map[string]interface{}
