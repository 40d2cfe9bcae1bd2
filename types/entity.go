// Package types provides the value types shared by splitpay packages.
package types

import "time"

// Entity carries the bookkeeping timestamps of a persisted object.
type Entity struct {
	CreatedAt time.Time `json:"created_at" bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `json:"updated_at" bun:"updated_at,notnull,default:current_timestamp"`
}

// NewEntity creates a new Entity stamped with the current time.
func NewEntity() Entity {
	return NewEntityAt(time.Now())
}

// NewEntityAt creates a new Entity stamped with t (in UTC).
func NewEntityAt(t time.Time) Entity {
	t = t.UTC()
	return Entity{
		CreatedAt: t,
		UpdatedAt: t,
	}
}

// Touch updates UpdatedAt to t (in UTC).
func (e *Entity) Touch(t time.Time) {
	e.UpdatedAt = t.UTC()
}
