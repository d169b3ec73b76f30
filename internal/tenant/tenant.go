// Package tenant identifies the brands served by the back office. Each brand
// has its own database and gateway merchant account.
package tenant

import (
	"slices"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/edu-backoffice/internal/domain/payment"
)

// ID names a tenant.
type ID string

const (
	Cojooboo ID = "cojooboo"
	Ivy      ID = "ivy"
)

// All lists the known tenants in a stable order.
var All = []ID{Cojooboo, Ivy}

// Parse validates a tenant name, ignoring case.
func Parse(s string) (ID, error) {
	id := ID(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(All, id) {
		return "", payment.NotFound("tenant", s)
	}
	return id, nil
}

// Registry holds one value per configured tenant. It is built once at
// startup and read concurrently afterwards.
type Registry[T any] struct {
	ids    []ID
	values map[ID]T
}

// NewRegistry returns an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{values: map[ID]T{}}
}

// Add registers v for id. Adding a tenant twice is an error.
func (r *Registry[T]) Add(id ID, v T) error {
	if _, ok := r.values[id]; ok {
		return errors.Errorf("tenant %q registered twice", id)
	}
	r.ids = append(r.ids, id)
	r.values[id] = v
	return nil
}

// Get returns the value for id. Unknown or unconfigured tenants yield an
// error matching payment.ErrNotFound.
func (r *Registry[T]) Get(id ID) (T, error) {
	v, ok := r.values[id]
	if !ok {
		var zero T
		return zero, payment.NotFound("tenant", id)
	}
	return v, nil
}

// Lookup parses name and returns its value.
func (r *Registry[T]) Lookup(name string) (ID, T, error) {
	id, err := Parse(name)
	if err != nil {
		var zero T
		return "", zero, err
	}
	v, err := r.Get(id)
	return id, v, err
}

// IDs returns the registered tenants in registration order.
func (r *Registry[T]) IDs() []ID {
	return slices.Clone(r.ids)
}

// Len returns the number of registered tenants.
func (r *Registry[T]) Len() int { return len(r.ids) }
