package envdata

import (
	"context"
	"errors"
	"fmt"
)

// Tier is one attempt in a fallback chain.
type Tier[T any] struct {
	Name string
	Fn   func(ctx context.Context) (T, error)
}

// ErrExhausted is returned by ResolveWithFallback when every tier failed.
var ErrExhausted = errors.New("envdata: all tiers failed")

// ResolveWithFallback runs tiers in order and returns the first success along
// with the name of the tier that produced it. Failures of earlier tiers are
// joined into the returned error only when nothing succeeds.
func ResolveWithFallback[T any](ctx context.Context, tiers ...Tier[T]) (T, string, error) {
	var errs []error
	for _, t := range tiers {
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, "", err
		}
		v, err := t.Fn(ctx)
		if err == nil {
			return v, t.Name, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", t.Name, err))
	}
	var zero T
	return zero, "", errors.Join(append([]error{ErrExhausted}, errs...)...)
}
