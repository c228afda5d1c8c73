// Package store defines the Resource Store contract (spec §4.1): the
// read/list/subscribe surface the rest of the core depends on. The core
// never talks to a database directly; every concrete backend (an
// in-memory store for tests, a Kubernetes-watch-backed store, a real
// durable-storage adapter hosted outside this module) implements Store.
package store

import (
	"context"
	"errors"

	"github.com/flowplane/flowplane/pkg/model"
)

// ErrNotFound is returned by Get when the named resource does not exist
// in the given scope.
var ErrNotFound = errors.New("store: resource not found")

// Op is the kind of change a ChangeEvent reports.
type Op int

const (
	OpUpsert Op = iota
	OpDelete
)

func (o Op) String() string {
	if o == OpDelete {
		return "delete"
	}
	return "upsert"
}

// ChangeEvent is one at-least-once, possibly-coalesced notification from
// a store backend that a resource changed.
type ChangeEvent struct {
	Scope model.Scope
	Kind  model.Kind
	Name  string
	Op    Op
}

// Store is the contract the core consumes. Implementations MUST be
// linearizable per (scope, kind, name): two writes to the same resource
// are never observed out of order by List/Get/Subscribe.
type Store interface {
	// List returns every declarative resource of the given kind visible to
	// scope (its own resources plus any marked model.Shared).
	List(ctx context.Context, scope model.Scope, kind model.Kind) ([]model.Resource, error)

	// Get returns a single resource, or ErrNotFound.
	Get(ctx context.Context, scope model.Scope, kind model.Kind, name string) (model.Resource, error)

	// Subscribe returns a channel of change events for the given scope
	// (including events for resources made visible to it via Shared).
	// Delivery is at-least-once and may coalesce multiple rapid changes to
	// the same resource into one event; it never silently drops a
	// resource's *existence* — a coalesced delete is still delivered.
	// The channel is closed when ctx is done.
	Subscribe(ctx context.Context, scope model.Scope) (<-chan ChangeEvent, error)

	// Scopes returns every tenant scope currently holding at least one
	// resource, used by the bootstrap "replay then subscribe" pass.
	Scopes(ctx context.Context) ([]model.Scope, error)
}
