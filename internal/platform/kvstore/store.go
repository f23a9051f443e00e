// Package kvstore persists named collections as whole values and applies
// guarded read-modify-write updates against the latest stored state.
package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
)

// Collection names used by the depot ledger.
const (
	CollectionRolls            = "rolls"
	CollectionTransactions     = "transactions"
	CollectionTransactionLines = "transaction-lines"
	CollectionCustomers        = "customers"
	CollectionPatterns         = "patterns"
)

// MutateFunc receives the current raw value of every requested collection
// (nil when absent) and returns the collections to write back. Collections
// missing from the result are left untouched. Returning an error aborts the
// update without writing anything.
type MutateFunc func(current map[string][]byte) (map[string][]byte, error)

// Store is a keyed store of whole collections.
type Store interface {
	// Get returns the raw collection value, or nil when it was never written.
	Get(ctx context.Context, collection string) ([]byte, error)
	// Update reads every named collection, applies fn and writes the result
	// atomically with respect to other Update calls on the same collections.
	Update(ctx context.Context, collections []string, fn MutateFunc) error
}

// Collection is a typed view over one JSON-array collection.
type Collection[T any] struct {
	store Store
	name  string
}

// NewCollection binds a typed view to a named collection.
func NewCollection[T any](store Store, name string) Collection[T] {
	return Collection[T]{store: store, name: name}
}

// Name returns the collection name.
func (c Collection[T]) Name() string { return c.name }

// Load reads the full collection.
func (c Collection[T]) Load(ctx context.Context) ([]T, error) {
	raw, err := c.store.Get(ctx, c.name)
	if err != nil {
		return nil, err
	}
	return decode[T](c.name, raw)
}

// Mutate runs fn over a fresh read of the collection and writes back the
// returned slice. fn must not retain the slice after returning.
func (c Collection[T]) Mutate(ctx context.Context, fn func(items []T) ([]T, error)) error {
	return c.store.Update(ctx, []string{c.name}, func(current map[string][]byte) (map[string][]byte, error) {
		items, err := decode[T](c.name, current[c.name])
		if err != nil {
			return nil, err
		}
		next, err := fn(items)
		if err != nil {
			return nil, err
		}
		raw, err := encode(c.name, next)
		if err != nil {
			return nil, err
		}
		return map[string][]byte{c.name: raw}, nil
	})
}

// MutatePair updates two collections in a single atomic write.
func MutatePair[A, B any](ctx context.Context, a Collection[A], b Collection[B], fn func(as []A, bs []B) ([]A, []B, error)) error {
	if a.store != b.store {
		return fmt.Errorf("kvstore: %s and %s live in different stores", a.name, b.name)
	}
	return a.store.Update(ctx, []string{a.name, b.name}, func(current map[string][]byte) (map[string][]byte, error) {
		as, err := decode[A](a.name, current[a.name])
		if err != nil {
			return nil, err
		}
		bs, err := decode[B](b.name, current[b.name])
		if err != nil {
			return nil, err
		}
		nextA, nextB, err := fn(as, bs)
		if err != nil {
			return nil, err
		}
		rawA, err := encode(a.name, nextA)
		if err != nil {
			return nil, err
		}
		rawB, err := encode(b.name, nextB)
		if err != nil {
			return nil, err
		}
		return map[string][]byte{a.name: rawA, b.name: rawB}, nil
	})
}

func decode[T any](name string, raw []byte) ([]T, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("kvstore: decode %s: %w", name, err)
	}
	return items, nil
}

func encode[T any](name string, items []T) ([]byte, error) {
	if items == nil {
		items = []T{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("kvstore: encode %s: %w", name, err)
	}
	return raw, nil
}
