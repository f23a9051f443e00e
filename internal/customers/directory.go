// Package customers keeps the name-normalised customer registry that
// transactions attach to.
package customers

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/fabric-depot/internal/platform/kvstore"
	"github.com/odyssey-erp/fabric-depot/internal/shared"
)

// Customer is a counterparty identity. It is immutable once created.
type Customer struct {
	ID             string    `json:"id"`
	NameOriginal   string    `json:"nameOriginal"`
	NameNormalized string    `json:"nameNormalized"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Directory resolves customers by normalised name.
type Directory struct {
	customers kvstore.Collection[Customer]
	locale    shared.Locale
	now       func() time.Time
	newID     func() string
}

// NewDirectory constructs a Directory over the shared collection store.
func NewDirectory(store kvstore.Store, locale shared.Locale) *Directory {
	return &Directory{
		customers: kvstore.NewCollection[Customer](store, kvstore.CollectionCustomers),
		locale:    locale,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// EnsureByName returns the customer whose normalised name matches name,
// creating it on first use. The lookup and insert share one store update so
// two callers racing on a new name end up with the same customer.
func (d *Directory) EnsureByName(ctx context.Context, name string) (Customer, error) {
	display, ok := shared.TrimOptional(name)
	if !ok {
		return Customer{}, shared.NewValidationError("customer", "is required")
	}
	key := d.locale.NormalizeKey(display)

	var out Customer
	err := d.customers.Mutate(ctx, func(items []Customer) ([]Customer, error) {
		for _, c := range items {
			if c.NameNormalized == key {
				out = c
				return items, nil
			}
		}
		out = Customer{
			ID:             d.newID(),
			NameOriginal:   display,
			NameNormalized: key,
			CreatedAt:      d.now().UTC(),
		}
		return append(items, out), nil
	})
	if err != nil {
		return Customer{}, fmt.Errorf("customers: ensure %q: %w", display, err)
	}
	return out, nil
}

// FindByName looks a customer up without creating it.
func (d *Directory) FindByName(ctx context.Context, name string) (Customer, bool, error) {
	key := d.locale.NormalizeKey(name)
	if key == "" {
		return Customer{}, false, nil
	}
	items, err := d.customers.Load(ctx)
	if err != nil {
		return Customer{}, false, fmt.Errorf("customers: load: %w", err)
	}
	for _, c := range items {
		if c.NameNormalized == key {
			return c, true, nil
		}
	}
	return Customer{}, false, nil
}

// Get returns a customer by id.
func (d *Directory) Get(ctx context.Context, id string) (Customer, error) {
	items, err := d.customers.Load(ctx)
	if err != nil {
		return Customer{}, fmt.Errorf("customers: load: %w", err)
	}
	for _, c := range items {
		if c.ID == id {
			return c, nil
		}
	}
	return Customer{}, shared.NewNotFoundError("customer", id)
}

// List returns every customer ordered by display name.
func (d *Directory) List(ctx context.Context) ([]Customer, error) {
	items, err := d.customers.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("customers: load: %w", err)
	}
	coll := d.locale.Collator()
	sort.SliceStable(items, func(i, j int) bool {
		return coll.CompareString(items[i].NameOriginal, items[j].NameOriginal) < 0
	})
	return items, nil
}
