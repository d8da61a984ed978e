// Package graph defines where generated universes and entities are kept.
package graph

import (
	"context"
	"strings"
	"time"

	"github.com/kalambet/canon/internal/content"
	"github.com/kalambet/canon/internal/ids"
)

// ErrNotFound is returned for unknown universes and entities.
var ErrNotFound = content.ErrNotFound

// Store persists universes and the entities generated inside them.
// CreateEntity is idempotent on Entity.JobID: a second call for the same
// job returns the entity stored by the first.
type Store interface {
	CreateUniverse(ctx context.Context, u content.Universe) (content.Universe, error)
	ListUniverses(ctx context.Context) ([]content.Universe, error)
	GetUniverse(ctx context.Context, id string) (content.Universe, error)
	CreateEntity(ctx context.Context, e content.Entity) (content.Entity, error)
	GetEntity(ctx context.Context, id string) (content.Entity, error)
	ListEntities(ctx context.Context, universeID string, t content.Type) ([]content.Entity, error)
}

// NewUniverse returns a universe record with a fresh id. An empty
// description defaults to the one the category pages are introduced with.
func NewUniverse(name, description string, now time.Time) content.Universe {
	name = strings.TrimSpace(name)
	if description == "" {
		description = "A new universe ready to be explored"
	}
	return content.Universe{
		ID:          ids.Entity("u_", now),
		Name:        name,
		Description: description,
		CreatedAt:   now.UTC(),
	}
}
