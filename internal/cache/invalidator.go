package cache

import (
	"context"
	"errors"
	"fmt"
)

type keyWriter interface {
	Bump(ctx context.Context, key string) (int64, error)
	Delete(ctx context.Context, keys ...string) error
}

// Invalidator lets background jobs invalidate resources by path through the
// same templates the middleware uses.
type Invalidator struct {
	resolver *Resolver
	store    keyWriter
}

func NewInvalidator(resolver *Resolver, store keyWriter) *Invalidator {
	return &Invalidator{resolver: resolver, store: store}
}

// Touch bumps every key path resolves to and returns them.
func (i *Invalidator) Touch(ctx context.Context, path string) ([]string, error) {
	keys := i.resolver.Resolve(path)
	if len(keys) == 0 {
		return nil, fmt.Errorf("no cache template matches %q", path)
	}
	var errs []error
	for _, key := range keys {
		if _, err := i.store.Bump(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return keys, errors.Join(errs...)
}

// Drop deletes the primary key of path so the next read mints a new one.
func (i *Invalidator) Drop(ctx context.Context, path string) error {
	keys := i.resolver.Resolve(path)
	if len(keys) == 0 {
		return fmt.Errorf("no cache template matches %q", path)
	}
	return i.store.Delete(ctx, keys[0])
}
